package token

import "errors"

var (
	ErrIncompletePair = errors.New("token pair requires both an access and a refresh token")
	ErrUnknownKind    = errors.New("unknown token kind")
)
