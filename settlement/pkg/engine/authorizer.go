package engine

import (
	"crypto/subtle"
	"fmt"
)

// Authorizer gates administrative operations. Implementations decide which
// actors may trigger phase transitions, score loading, deposits, and
// emergency withdrawals.
type Authorizer interface {
	Authorize(actor string) error
}

// SingleAdmin returns an Authorizer that accepts exactly one privileged
// principal, compared in constant time.
func SingleAdmin(admin string) Authorizer {
	return singleAdmin(admin)
}

type singleAdmin string

func (a singleAdmin) Authorize(actor string) error {
	if subtle.ConstantTimeCompare([]byte(a), []byte(actor)) != 1 {
		return fmt.Errorf("%w: actor is not the admin", ErrUnauthorized)
	}
	return nil
}
