package authapi

import (
	"time"

	"ssogate/cmd/identity"
)

// callbackRequest is what the frontend forwards from the provider redirect.
// Fields may arrive as JSON, form values or query parameters.
type callbackRequest struct {
	Code             string `json:"code"`
	State            string `json:"state"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type meResponse struct {
	Authenticated bool                `json:"authenticated"`
	User          *identity.Principal `json:"user"`
}

type logoutResponse struct {
	LogoutURL string `json:"logoutUrl"`
}

type clearLogsResponse struct {
	Cleared int `json:"cleared"`
}

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}
