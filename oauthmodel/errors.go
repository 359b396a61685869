package oauthmodel

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	ErrEmailRequired      = errors.New("email is required")
	ErrPasswordRequired   = errors.New("password is required")
	ErrPasswordsDontMatch = errors.New("passwords do not match")
	ErrResetTokenRequired = errors.New("reset token is required")
)

// ErrorResponse covers the error bodies the backend is known to send:
// {"detail": "..."}, {"detail": [{"msg": "..."}]}, {"error": "...", "error_description": "..."}
// and {"message": "..."}.
type ErrorResponse struct {
	Detail           json.RawMessage `json:"detail,omitempty"`
	Error            string          `json:"error,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
	Message          string          `json:"message,omitempty"`
}

type validationDetail struct {
	Msg string `json:"msg"`
}

// ParseErrorMessage extracts human readable text from an error body. It returns
// "" when the body carries nothing usable.
func ParseErrorMessage(body []byte) string {
	var resp ErrorResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if msg := resp.detailText(); msg != "" {
		return msg
	}
	if resp.ErrorDescription != "" {
		return resp.ErrorDescription
	}
	if resp.Message != "" {
		return resp.Message
	}
	return resp.Error
}

func (r ErrorResponse) detailText() string {
	if len(r.Detail) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Detail, &s); err == nil {
		return s
	}
	var details []validationDetail
	if err := json.Unmarshal(r.Detail, &details); err == nil {
		msgs := make([]string, 0, len(details))
		for _, d := range details {
			if d.Msg != "" {
				msgs = append(msgs, d.Msg)
			}
		}
		return strings.Join(msgs, "; ")
	}
	return ""
}
