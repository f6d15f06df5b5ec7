package models

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Success   bool        `json:"success"`
	Error     ErrorDetail `json:"error"`
	Timestamp string      `json:"timestamp"`
}

// ErrorDetail.Message is safe to show to end users; TechnicalMessage is for
// operators.
type ErrorDetail struct {
	Code             string         `json:"code"`
	Message          string         `json:"message"`
	TechnicalMessage string         `json:"technical_message"`
	Details          map[string]any `json:"details"`
}

// HealthResponse is returned by /health and /ready.
type HealthResponse struct {
	Status      string `json:"status"`
	Environment string `json:"environment,omitempty"`
	Store       string `json:"store,omitempty"`
	Error       string `json:"error,omitempty"`
}

// QuoteView is the GET /quote/{id} projection of a stored quote.
type QuoteView struct {
	ID                  string   `json:"id"`
	ExternalReferenceID string   `json:"externalReferenceId"`
	Source              string   `json:"source"`
	Status              string   `json:"status"`
	Premium             *float64 `json:"premium"`
	Excess              *float64 `json:"excess"`
	QuoteID             string   `json:"quoteId,omitempty"`
	Vehicles            int      `json:"vehicles"`
	CreatedAt           string   `json:"createdAt"`
	UpdatedAt           string   `json:"updatedAt"`
}

// TransferView is the GET /transfer/{id} projection of a stored transfer.
// Customer identity and contact details are never exposed.
type TransferView struct {
	ID          string `json:"id"`
	UUID        string `json:"uuid"`
	RedirectURL string `json:"redirect_url"`
	QuoteID     string `json:"quote_id,omitempty"`
	BranchName  string `json:"branch_name"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}
