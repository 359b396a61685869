package oauthmodel

import (
	"net/url"
	"strings"

	"github.com/jrsteele09/go-auth-client/users"
)

// LoginParameters are sent form-encoded, the content type the login endpoint expects.
type LoginParameters struct {
	Email    string
	Password string
}

func (p LoginParameters) Validate() error {
	if strings.TrimSpace(p.Email) == "" {
		return ErrEmailRequired
	}
	if p.Password == "" {
		return ErrPasswordRequired
	}
	return nil
}

// Form encodes the parameters using the username/password field names.
func (p LoginParameters) Form() url.Values {
	form := url.Values{}
	form.Set("username", strings.TrimSpace(p.Email))
	form.Set("password", p.Password)
	return form
}

// RegisterRequest is the JSON profile sent to the register endpoint.
type RegisterRequest struct {
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"-"`
	FirstName       string `json:"first_name,omitempty"`
	LastName        string `json:"last_name,omitempty"`
	DisplayName     string `json:"display_name,omitempty"`
	Organization    string `json:"organization,omitempty"`
}

// Validate catches malformed payloads before anything is sent.
func (r RegisterRequest) Validate() error {
	if err := users.ValidateEmail(r.Email); err != nil {
		return err
	}
	if r.ConfirmPassword != "" && r.ConfirmPassword != r.Password {
		return ErrPasswordsDontMatch
	}
	return users.ValidatePasswordStrength(r.Password)
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

func (r ForgotPasswordRequest) Validate() error {
	return users.ValidateEmail(r.Email)
}

type ResetPasswordRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"-"`
}

func (r ResetPasswordRequest) Validate() error {
	if strings.TrimSpace(r.Token) == "" {
		return ErrResetTokenRequired
	}
	if r.ConfirmPassword != "" && r.ConfirmPassword != r.NewPassword {
		return ErrPasswordsDontMatch
	}
	return users.ValidatePasswordStrength(r.NewPassword)
}
