package domain

import (
	"time"
)

// QuoteStatus is the lifecycle of a stored quote. A record moves from
// PENDING to COMPLETED exactly once.
type QuoteStatus string

const (
	QuoteStatusPending   QuoteStatus = "PENDING"
	QuoteStatusCompleted QuoteStatus = "COMPLETED"
)

type Address struct {
	AddressLine string   `json:"addressLine" validate:"required"`
	PostalCode  int      `json:"postalCode" validate:"required"`
	Suburb      string   `json:"suburb" validate:"required"`
	Latitude    *float64 `json:"latitude,omitempty"`
	Longitude   *float64 `json:"longitude,omitempty"`
}

type RegularDriver struct {
	MaritalStatus          string `json:"maritalStatus" validate:"required"`
	CurrentlyInsured       bool   `json:"currentlyInsured"`
	YearsWithoutClaims     int    `json:"yearsWithoutClaims" validate:"gte=0"`
	RelationToPolicyHolder string `json:"relationToPolicyHolder" validate:"required"`
	EmailAddress           string `json:"emailAddress,omitempty" validate:"omitempty,email"`
	MobileNumber           string `json:"mobileNumber,omitempty"`
	IDNumber               string `json:"idNumber,omitempty"`
	PrvInsLosses           *int   `json:"prvInsLosses,omitempty" validate:"omitempty,gte=0"`
	LicenseIssueDate       string `json:"licenseIssueDate,omitempty"`
	DateOfBirth            string `json:"dateOfBirth,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type Vehicle struct {
	Year                      int      `json:"year" validate:"required,gt=1900"`
	Make                      string   `json:"make" validate:"required"`
	Model                     string   `json:"model" validate:"required"`
	MMCode                    string   `json:"mmCode,omitempty"`
	Modified                  string   `json:"modified,omitempty"`
	Category                  string   `json:"category,omitempty"`
	Colour                    string   `json:"colour,omitempty"`
	EngineSize                *float64 `json:"engineSize,omitempty"`
	Financed                  string   `json:"financed,omitempty"`
	Owner                     string   `json:"owner,omitempty"`
	Status                    string   `json:"status,omitempty"`
	PartyIsRegularDriver      string   `json:"partyIsRegularDriver,omitempty"`
	Accessories               string   `json:"accessories,omitempty"`
	AccessoriesAmount         *int     `json:"accessoriesAmount,omitempty"`
	RetailValue               *int     `json:"retailValue,omitempty"`
	MarketValue               *int     `json:"marketValue,omitempty"`
	InsuredValueType          string   `json:"insuredValueType,omitempty"`
	UseType                   string   `json:"useType,omitempty"`
	OvernightParkingSituation string   `json:"overnightParkingSituation,omitempty"`
	CoverCode                 string   `json:"coverCode,omitempty"`

	Address       Address       `json:"address" validate:"required"`
	RegularDriver RegularDriver `json:"regularDriver" validate:"required"`
}

// QuoteRequest is the inbound POST /quote payload.
// ExternalReferenceID is the caller's idempotency key.
type QuoteRequest struct {
	Source              string    `json:"source" validate:"required"`
	ExternalReferenceID string    `json:"externalReferenceId" validate:"required"`
	AgentEmail          string    `json:"agentEmail,omitempty" validate:"omitempty,email"`
	AgentBranch         string    `json:"agentBranch,omitempty"`
	Vehicles            []Vehicle `json:"vehicles" validate:"required,min=1,dive"`
}

// QuoteResponse is what the caller gets back once the insurer has priced the quote.
type QuoteResponse struct {
	Premium float64 `json:"premium"`
	Excess  float64 `json:"excess"`
	QuoteID string  `json:"quoteId,omitempty"`
}

// QuoteRecord is the stored form of a quote request and its outcome.
// Premium and Excess stay nil until the upstream has answered.
type QuoteRecord struct {
	ID                  string      `json:"id"`
	Source              string      `json:"source"`
	ExternalReferenceID string      `json:"externalReferenceId"`
	AgentEmail          string      `json:"agentEmail,omitempty"`
	AgentBranch         string      `json:"agentBranch,omitempty"`
	Vehicles            []Vehicle   `json:"vehicles"`
	Status              QuoteStatus `json:"status"`
	Premium             *float64    `json:"premium"`
	Excess              *float64    `json:"excess"`
	QuoteID             string      `json:"quoteId,omitempty"`
	CreatedAt           time.Time   `json:"createdAt"`
	UpdatedAt           time.Time   `json:"updatedAt"`
}

// Response projects a completed record back into the caller-facing shape.
func (q *QuoteRecord) Response() QuoteResponse {
	var resp QuoteResponse
	if q.Premium != nil {
		resp.Premium = *q.Premium
	}
	if q.Excess != nil {
		resp.Excess = *q.Excess
	}
	resp.QuoteID = q.QuoteID
	return resp
}

// QuoteOutcome is the single mutation applied to a pending quote.
// CompletedAt becomes the record's UpdatedAt.
type QuoteOutcome struct {
	Premium     float64
	Excess      float64
	QuoteID     string
	CompletedAt time.Time
}

type CustomerInfo struct {
	FirstName     string `json:"first_name" validate:"required"`
	LastName      string `json:"last_name" validate:"required"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	ContactNumber string `json:"contact_number" validate:"required"`
	IDNumber      string `json:"id_number,omitempty"`
	QuoteID       string `json:"quote_id,omitempty"`
}

type AgentInfo struct {
	AgentName  string `json:"agent_name,omitempty"`
	AgentEmail string `json:"agent_email,omitempty" validate:"omitempty,email"`
	BranchName string `json:"branch_name" validate:"required"`
}

// TransferRequest is the inbound POST /transfer payload.
type TransferRequest struct {
	CustomerInfo CustomerInfo `json:"customer_info" validate:"required"`
	AgentInfo    AgentInfo    `json:"agent_info" validate:"required"`
}

type TransferResponse struct {
	UUID        string `json:"uuid"`
	RedirectURL string `json:"redirect_url"`
}

// TransferRecord is a stored lead transfer. It is kept even when the upstream
// call fails, in which case UUID and RedirectURL stay empty.
type TransferRecord struct {
	ID            string    `json:"id"`
	FirstName     string    `json:"first_name"`
	LastName      string    `json:"last_name"`
	Email         string    `json:"email"`
	ContactNumber string    `json:"contact_number"`
	IDNumber      string    `json:"id_number"`
	QuoteID       string    `json:"quote_id"`
	AgentName     string    `json:"agent_name"`
	AgentEmail    string    `json:"agent_email"`
	BranchName    string    `json:"branch_name"`
	UUID          string    `json:"uuid"`
	RedirectURL   string    `json:"redirect_url"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
