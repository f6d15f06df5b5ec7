package notify

import (
	"fmt"

	"github.com/punchamoorthee/leadops/internal/domain"
)

// Notification is one email to send. Either HTML or Template is set; when
// Template is set the body is rendered from Context at send time.
type Notification struct {
	Subject     string
	To          []string
	CC          []string
	BCC         []string
	HTML        string
	Template    string
	Context     map[string]any
	Attachments []Attachment
}

// Attachment is a file on disk attached under Name.
type Attachment struct {
	Path string
	Name string
}

// Message is a fully rendered Notification, ready for a Sender.
type Message struct {
	Subject     string
	To          []string
	CC          []string
	BCC         []string
	HTML        string
	Text        string
	Attachments []Attachment
}

// QuoteNotification reports a priced quote. The agent, when known, is
// copied in.
func QuoteNotification(rec *domain.QuoteRecord, resp domain.QuoteResponse) Notification {
	n := Notification{
		Subject:  "New Quote Request Received",
		Template: QuoteTemplate,
		Context: map[string]any{
			"id":                    rec.ID,
			"source":                rec.Source,
			"external_reference_id": rec.ExternalReferenceID,
			"agent_email":           rec.AgentEmail,
			"agent_branch":          rec.AgentBranch,
			"vehicles":              rec.Vehicles,
			"premium":               resp.Premium,
			"excess":                resp.Excess,
			"quote_id":              resp.QuoteID,
		},
	}
	if rec.AgentEmail != "" {
		n.CC = []string{rec.AgentEmail}
	}
	return n
}

// TransferNotification reports the outcome of a lead transfer. errMsg is
// only used when success is false. The agent, when known, is copied in.
func TransferNotification(req domain.TransferRequest, res domain.TransferResponse, success bool, errMsg string) Notification {
	name := req.CustomerInfo.FirstName + " " + req.CustomerInfo.LastName

	subject := "Lead Transfer Success: " + name
	statusLine := "New Report"
	if !success {
		if errMsg == "" {
			errMsg = "Unknown error"
		}
		subject = "Lead Transfer Failed: " + name
		statusLine = fmt.Sprintf("Lead transfer failed: %s", errMsg)
	}

	n := Notification{
		Subject:  subject,
		Template: TransferTemplate,
		Context: map[string]any{
			"transfer":      req,
			"status_line":   statusLine,
			"success":       success,
			"error_message": errMsg,
			"uuid":          res.UUID,
			"redirect_url":  res.RedirectURL,
		},
	}
	if req.AgentInfo.AgentEmail != "" {
		n.CC = []string{req.AgentInfo.AgentEmail}
	}
	return n
}
