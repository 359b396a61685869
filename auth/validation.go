package auth

import (
	autherrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/oauthmodel"
)

// Each validator runs before any network call and returns a ValidationError
// that still wraps the underlying cause.

func validateLogin(op string, params oauthmodel.LoginParameters) error {
	return validation(op, params.Validate())
}

func validateRegister(op string, profile oauthmodel.RegisterRequest) error {
	return validation(op, profile.Validate())
}

func validateForgotPassword(op string, in oauthmodel.ForgotPasswordRequest) error {
	return validation(op, in.Validate())
}

func validateResetPassword(op string, in oauthmodel.ResetPasswordRequest) error {
	return validation(op, in.Validate())
}

func validation(op string, err error) error {
	if err == nil {
		return nil
	}
	return autherrors.New(autherrors.KindValidation, op, err)
}
