package settlement

// The indexer owns its tables and creates them idempotently on startup.
var schemaDDL = []string{
	`CREATE TABLE IF NOT EXISTS fact_claims (
		round       UInt64,
		participant String,
		amount      UInt64,
		at          DateTime64(3, 'UTC')
	) ENGINE = MergeTree()
	ORDER BY (round, participant, at)`,

	`CREATE TABLE IF NOT EXISTS fact_deposits (
		round  UInt64,
		amount UInt64,
		at     DateTime64(3, 'UTC')
	) ENGINE = MergeTree()
	ORDER BY (round, at)`,

	`CREATE TABLE IF NOT EXISTS fact_score_shares (
		round       UInt64,
		participant String,
		score       UInt64,
		total_score UInt64,
		at          DateTime64(3, 'UTC')
	) ENGINE = MergeTree()
	ORDER BY (round, participant)`,

	`CREATE TABLE IF NOT EXISTS dim_rounds (
		round        UInt64,
		participants UInt32,
		total_score  UInt64,
		reward_pool  UInt64,
		scored_at    DateTime64(3, 'UTC')
	) ENGINE = ReplacingMergeTree(scored_at)
	ORDER BY round`,
}
