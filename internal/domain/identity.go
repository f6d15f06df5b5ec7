package domain

import "strings"

// Identity fields a transfer can be matched on, in lookup priority order.
const (
	MatchIDNumber      = "id_number"
	MatchContactNumber = "contact_number"
)

var identityStripper = strings.NewReplacer(" ", "", "-", "", "+", "")

// NormalizeIdentity strips spaces, hyphens and plus signs so that
// "940405-4800-086" and "9404054800086" compare equal. Country codes are not
// rewritten: "+27 82 123 4567" and "0821234567" stay different.
func NormalizeIdentity(s string) string {
	return identityStripper.Replace(strings.TrimSpace(s))
}

// NormalizedIDNumber and NormalizedContactNumber are what backends index on.
func (t *TransferRecord) NormalizedIDNumber() string {
	return NormalizeIdentity(t.IDNumber)
}

func (t *TransferRecord) NormalizedContactNumber() string {
	return NormalizeIdentity(t.ContactNumber)
}
