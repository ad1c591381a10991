package models

import "encoding/json"

const (
	ConsentStatusApproved = "approved"
	ConsentStatusPending  = "pending"

	// DefaultTokenLifetime is assumed, in seconds, when a bank omits expires_in
	DefaultTokenLifetime = 86400
)

// TokenResponse is what a bank returns from its token endpoint
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	ClientID    string `json:"client_id"`
}

// UnmarshalJSON applies DefaultTokenLifetime only when expires_in is missing.
// An explicit zero or negative lifetime is kept as sent.
func (t *TokenResponse) UnmarshalJSON(data []byte) error {
	type plain TokenResponse
	aux := struct {
		*plain
		ExpiresIn *int `json:"expires_in"`
	}{plain: (*plain)(t)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	t.ExpiresIn = DefaultTokenLifetime
	if aux.ExpiresIn != nil {
		t.ExpiresIn = *aux.ExpiresIn
	}
	return nil
}

// ConsentRequest asks a bank to let us read a client's data
type ConsentRequest struct {
	ClientID           string   `json:"client_id"`
	Permissions        []string `json:"permissions"`
	Reason             string   `json:"reason"`
	RequestingBank     string   `json:"requesting_bank"`
	RequestingBankName string   `json:"requesting_bank_name"`
}

// ConsentResponse is either approved right away (ConsentID set) or pending
// (RequestID set).
type ConsentResponse struct {
	Status       string `json:"status"`
	ConsentID    string `json:"consent_id,omitempty"`
	RequestID    string `json:"request_id,omitempty"`
	AutoApproved bool   `json:"auto_approved"`
}

// Approved reports whether the consent can be used immediately
func (c ConsentResponse) Approved() bool {
	return c.ConsentID != "" && (c.Status == ConsentStatusApproved || c.AutoApproved)
}
