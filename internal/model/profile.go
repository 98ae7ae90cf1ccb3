package model

import (
	"fmt"
	"strings"
	"time"
)

// Profile identifies a (provider, data type, account) sync configuration.
// AccountID zero marks a template profile that expands to one profile per
// account of the provider.
type Profile struct {
	Provider  string
	DataType  DataType
	AccountID AccountID
	Enabled   bool
}

// IsTemplate reports whether the profile covers all accounts.
func (p Profile) IsTemplate() bool {
	return p.AccountID == 0
}

// Name returns the scheduler-facing profile name:
// "<provider>-<datatype>" for templates, "<provider>-<datatype>-<id>" otherwise.
func (p Profile) Name() string {
	base := p.Provider + "-" + string(p.DataType)
	if p.IsTemplate() {
		return base
	}
	return base + "-" + p.AccountID.String()
}

// ForAccount returns the per-account profile derived from a template.
func (p Profile) ForAccount(id AccountID) Profile {
	return Profile{Provider: p.Provider, DataType: p.DataType, AccountID: id, Enabled: true}
}

// ParseProfileName is the inverse of [Profile.Name].
func ParseProfileName(name string) (Profile, error) {
	parts := strings.Split(name, "-")
	if len(parts) < 2 || len(parts) > 3 {
		return Profile{}, fmt.Errorf("profile name %q must be <provider>-<datatype>[-<account>]", name)
	}
	p := Profile{Provider: parts[0], DataType: DataType(parts[1]), Enabled: true}
	if p.Provider == "" {
		return Profile{}, fmt.Errorf("profile name %q has an empty provider", name)
	}
	if !p.DataType.Valid() {
		return Profile{}, fmt.Errorf("profile name %q has unknown data type %q", name, parts[1])
	}
	if len(parts) == 3 {
		id, err := ParseAccountID(parts[2])
		if err != nil {
			return Profile{}, fmt.Errorf("profile name %q: %w", name, err)
		}
		p.AccountID = id
	}
	return p, nil
}

// Status is the lifecycle state of an adaptor.
type Status int

const (
	StatusInactive Status = iota
	StatusBusy
	StatusError
)

// String returns a lowercase label for the status.
func (s Status) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusBusy:
		return "busy"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// SyncResult is the aggregate outcome reported to the scheduler.
type SyncResult int

const (
	ResultSuccess SyncResult = iota
	ResultFailed
)

// String returns a lowercase label for the result.
func (r SyncResult) String() string {
	if r == ResultSuccess {
		return "success"
	}
	return "failed"
}

// ErrorCode qualifies a failed [SyncResult].
type ErrorCode int

const (
	NoError ErrorCode = iota
	ErrAborted
	ErrConfiguration
	ErrAuthentication
	ErrConnection
	ErrInternal
)

// String returns a stable label for the error code.
func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "no_error"
	case ErrAborted:
		return "aborted"
	case ErrConfiguration:
		return "configuration_error"
	case ErrAuthentication:
		return "authentication_failure"
	case ErrConnection:
		return "connection_error"
	default:
		return "internal_error"
	}
}

// TriggerResult is the scheduler's view of a start request.
type TriggerResult int

const (
	Triggered TriggerResult = iota
	Busy
	TriggerError
)

// String returns a lowercase label for the trigger result.
func (t TriggerResult) String() string {
	switch t {
	case Triggered:
		return "triggered"
	case Busy:
		return "busy"
	default:
		return "error"
	}
}

// PassResult summarises a finished sync pass for one profile.
type PassResult struct {
	Profile    string
	Result     SyncResult
	Code       ErrorCode
	FinishedAt time.Time

	Purged   int
	Accounts int
	Added    int
	Modified int
	Removed  int
	Upsynced int
	Failures int
}
