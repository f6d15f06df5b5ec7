package upstream

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FailureKind classifies why an upstream call produced no usable result.
type FailureKind string

const (
	// FailureUnreachable covers transport errors and timeouts.
	FailureUnreachable FailureKind = "unreachable"
	// FailureRejected means the insurer answered and refused the request.
	FailureRejected FailureKind = "rejected"
	// FailureMalformed means the insurer answered with something we cannot read.
	FailureMalformed FailureKind = "malformed"
)

const defaultRejectionMessage = "upstream rejected the request"

// Failure is the error half of every client call. Callers check it before
// touching any result.
type Failure struct {
	Kind       FailureKind
	Message    string
	StatusCode int
	Err        error
}

func (f *Failure) Error() string {
	if f.StatusCode != 0 {
		return fmt.Sprintf("upstream %s (status %d): %s", f.Kind, f.StatusCode, f.Message)
	}
	return fmt.Sprintf("upstream %s: %s", f.Kind, f.Message)
}

func (f *Failure) Unwrap() error { return f.Err }

// QuoteResult is a priced quote. The Missing flags report which values
// were absent (or negative) in the reply and defaulted to zero.
type QuoteResult struct {
	Premium        float64
	Excess         float64
	QuoteID        string
	MissingPremium bool
	MissingExcess  bool
}

type TransferResult struct {
	UUID        string
	RedirectURL string
}

// rejection reports whether a decoded reply is a refusal, and with which
// message. A missing success flag counts as success; a missing http_code
// counts as 200.
func rejection(body map[string]any, status int) (string, bool) {
	rejected := status >= 400
	if v, ok := body["success"].(bool); ok && !v {
		rejected = true
	}
	if code, ok := numberValue(body["http_code"]); ok && code != 200 {
		rejected = true
	}
	if !rejected {
		return "", false
	}
	return errorMessage(body), true
}

// errorMessage digs the human message out of the insurer's error shapes:
// "error": "x", "error": {"message": "x"} and
// "error": {"message": {"message": "x"}}.
func errorMessage(body map[string]any) string {
	if msg := unwrapMessage(body["error"], 0); msg != "" {
		return msg
	}
	if msg := unwrapMessage(body["message"], 1); msg != "" {
		return msg
	}
	return defaultRejectionMessage
}

func unwrapMessage(v any, depth int) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		if depth >= 2 {
			return ""
		}
		return unwrapMessage(t["message"], depth+1)
	}
	return ""
}

// amountStrategy looks for premium/excess in one place in the reply.
// found is false when the strategy does not apply to this reply shape.
type amountStrategy func(body map[string]any) (src map[string]any, found bool)

var amountStrategies = []amountStrategy{
	topLevelAmounts,
	dataObjectAmounts,
	dataArrayAmounts,
}

func topLevelAmounts(body map[string]any) (map[string]any, bool) {
	_, hasPremium := body["premium"]
	_, hasExcess := body["excess"]
	return body, hasPremium || hasExcess
}

func dataObjectAmounts(body map[string]any) (map[string]any, bool) {
	data, ok := body["data"].(map[string]any)
	return data, ok
}

func dataArrayAmounts(body map[string]any) (map[string]any, bool) {
	items, ok := body["data"].([]any)
	if !ok || len(items) == 0 {
		return nil, false
	}
	first, ok := items[0].(map[string]any)
	return first, ok
}

func extractQuote(body map[string]any) QuoteResult {
	var src map[string]any
	for _, strategy := range amountStrategies {
		if s, ok := strategy(body); ok {
			src = s
			break
		}
	}

	res := QuoteResult{MissingPremium: true, MissingExcess: true}
	if v, ok := amount(src["premium"]); ok {
		res.Premium, res.MissingPremium = v, false
	}
	if v, ok := amount(src["excess"]); ok {
		res.Excess, res.MissingExcess = v, false
	}
	res.QuoteID = identifier(body["id"])
	if res.QuoteID == "" {
		res.QuoteID = identifier(body["quoteId"])
	}
	return res
}

func extractTransfer(body map[string]any) (TransferResult, bool) {
	data, ok := body["data"].(map[string]any)
	if !ok {
		return TransferResult{}, false
	}
	uuid, _ := data["uuid"].(string)
	if uuid == "" {
		return TransferResult{}, false
	}
	redirect, _ := data["redirect_url"].(string)
	return TransferResult{UUID: uuid, RedirectURL: redirect}, true
}

// amount accepts finite non-negative numbers and numeric strings.
func amount(v any) (float64, bool) {
	f, ok := numberValue(v)
	if !ok || f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case interface{ Float64() (float64, error) }:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func identifier(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case interface{ String() string }:
		return t.String()
	}
	return ""
}
