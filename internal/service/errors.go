package service

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/punchamoorthee/leadops/internal/upstream"
)

// Kind is the stable machine-readable code of a failed submission.
type Kind string

const (
	KindValidation          Kind = "VALIDATION_ERROR"
	KindStorage             Kind = "STORAGE_FAILURE"
	KindUpstreamUnreachable Kind = "UPSTREAM_UNREACHABLE"
	KindUpstreamRejected    Kind = "UPSTREAM_REJECTED"
	KindDuplicate           Kind = "DUPLICATE_SUBMISSION"
	KindResponseParse       Kind = "RESPONSE_PARSE_ERROR"
)

// HTTPStatus maps a kind onto the status the API answers with.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindDuplicate:
		return http.StatusConflict
	case KindUpstreamUnreachable, KindUpstreamRejected, KindResponseParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is. Only the kind is compared.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrStorage             = &Error{Kind: KindStorage}
	ErrUpstreamUnreachable = &Error{Kind: KindUpstreamUnreachable}
	ErrUpstreamRejected    = &Error{Kind: KindUpstreamRejected}
	ErrDuplicate           = &Error{Kind: KindDuplicate}
	ErrResponseParse       = &Error{Kind: KindResponseParse}
)

// Error is a classified submission failure. Message is for logs and
// operators; UserMessage is safe to show to an end user.
type Error struct {
	Kind        Kind
	Message     string
	UserMessage string
	Details     map[string]any
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var userMessages = map[Kind]string{
	KindValidation:          "Some of the submitted information is missing or invalid. Please check and try again.",
	KindStorage:             "We could not save your request. Please try again shortly.",
	KindUpstreamUnreachable: "The insurer could not be reached. Please try again shortly.",
	KindUpstreamRejected:    "The insurer could not process this request.",
	KindDuplicate:           "This customer has already been submitted.",
	KindResponseParse:       "The insurer sent a response we could not read. Please try again.",
}

func newError(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, UserMessage: userMessages[kind], Err: cause}
}

func storageError(msg string, cause error) *Error {
	return newError(KindStorage, msg, cause)
}

// fromUpstream classifies a client error. Anything that is not a
// *upstream.Failure is returned unchanged.
func fromUpstream(err error) error {
	var f *upstream.Failure
	if !errors.As(err, &f) {
		return err
	}
	var e *Error
	switch f.Kind {
	case upstream.FailureUnreachable:
		e = newError(KindUpstreamUnreachable, f.Message, err)
	case upstream.FailureRejected:
		e = newError(KindUpstreamRejected, f.Message, err)
		e.UserMessage = "The insurer declined the request: " + f.Message
	default:
		e = newError(KindResponseParse, f.Message, err)
	}
	if f.StatusCode != 0 {
		e.Details = map[string]any{"upstream_status": f.StatusCode}
	}
	return e
}
