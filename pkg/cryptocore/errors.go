package cryptocore

import "errors"

var (
	ErrAuthenticationFailed = errors.New("cryptocore: message authentication failed")
	ErrInvalidPublicKey     = errors.New("cryptocore: invalid public key")
	ErrInvalidIdentity      = errors.New("cryptocore: invalid identity state")
)
