// Package apperr defines the error taxonomy shared by the sync core and the
// provider adaptors, and maps it onto scheduler error codes.
package apperr

import (
	"errors"
	"fmt"

	"github.com/njoerd114/socialsync/internal/model"
)

// Kind classifies an error for propagation decisions.
type Kind int

const (
	// KindConfig means static credentials or configuration are missing.
	// Fatal for the whole pass.
	KindConfig Kind = iota + 1
	// KindAuth means sign-in failed.
	KindAuth
	// KindNetwork covers transport, TLS, and timeout failures.
	KindNetwork
	// KindApplication is a well-formed error response from the provider.
	KindApplication
	// KindParse means the response body could not be decoded.
	KindParse
	// KindPartial means some items of an upsync batch failed.
	KindPartial
)

// String returns a short label for the kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindAuth:
		return "auth"
	case KindNetwork:
		return "network"
	case KindApplication:
		return "application"
	case KindParse:
		return "parse"
	case KindPartial:
		return "partial_failure"
	default:
		return "unknown"
	}
}

// Error is a classified error carrying the provider and account it
// belongs to.
type Error struct {
	Kind      Kind
	Provider  string
	AccountID model.AccountID

	// Code is the provider-specific error code for application errors, or
	// the HTTP status when no code was present.
	Code int

	// CredentialsExpired marks auth and application errors that require
	// the user to re-authenticate.
	CredentialsExpired bool

	Msg string
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := e.Kind.String()
	if e.CredentialsExpired {
		prefix += " (credentials expired)"
	}
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.AccountID != 0 {
		prefix += fmt.Sprintf(" [account %d]", e.AccountID)
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Msg, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Msg)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates an Error of the given kind around err.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err's chain contains an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// IsCredentialsExpired reports whether err requires re-authentication.
func IsCredentialsExpired(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.CredentialsExpired
}

// Code maps an error to the scheduler error code.
func Code(err error) model.ErrorCode {
	if err == nil {
		return model.NoError
	}
	switch KindOf(err) {
	case KindConfig:
		return model.ErrConfiguration
	case KindAuth:
		return model.ErrAuthentication
	case KindApplication:
		if IsCredentialsExpired(err) {
			return model.ErrAuthentication
		}
		return model.ErrConnection
	case KindNetwork:
		return model.ErrConnection
	default:
		return model.ErrInternal
	}
}

// ItemFailure records one failed item of a best-effort batch.
type ItemFailure struct {
	RemoteID string
	LocalID  string
	Err      error
}

// PartialFailure collects per-item upsync failures. It is returned as an
// error only when at least one item failed.
type PartialFailure struct {
	Provider  string
	AccountID model.AccountID
	Failures  []ItemFailure
	Attempted int
}

// Error implements the error interface.
func (p *PartialFailure) Error() string {
	return fmt.Sprintf("%s: partial_failure [account %d]: %d of %d items failed",
		p.Provider, p.AccountID, len(p.Failures), p.Attempted)
}

// Unwrap exposes the item errors to errors.Is / errors.As.
func (p *PartialFailure) Unwrap() []error {
	errs := make([]error, 0, len(p.Failures))
	for _, f := range p.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}
