package auth

import "errors"

var (
	NotAuthenticatedErr = errors.New("not authenticated")
	SessionClosedErr    = errors.New("session closed")
)
