// Package model defines shared types used across the sync orchestrator,
// provider adaptors, and the state store.
package model

import (
	"fmt"
	"strconv"
	"strings"
)

// AccountID identifies an account in the platform account store. Zero is
// reserved for template profiles ("all accounts of this provider").
type AccountID int64

// String returns the decimal form of the id.
func (id AccountID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseAccountID parses a decimal account id.
func ParseAccountID(s string) (AccountID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing account id %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("account id %d must not be negative", n)
	}
	return AccountID(n), nil
}

// CredentialState mirrors the platform account status.
type CredentialState int

const (
	// StateInitialized means the account is ready for sign-in.
	StateInitialized CredentialState = iota
	// StateSynced means the account metadata is up to date and ready.
	StateSynced
	// StateSigningIn means another client is using the account's sign-in
	// session; callers must wait until it returns to a ready state.
	StateSigningIn
	// StateCredentialsExpired means the user must re-authenticate.
	StateCredentialsExpired
)

// String returns the persisted name of the state.
func (s CredentialState) String() string {
	switch s {
	case StateInitialized:
		return "initialized"
	case StateSynced:
		return "synced"
	case StateSigningIn:
		return "signing_in"
	case StateCredentialsExpired:
		return "credentials_expired"
	default:
		return "unknown"
	}
}

// Ready reports whether sign-in may proceed in this state.
func (s CredentialState) Ready() bool {
	return s == StateInitialized || s == StateSynced
}

// ParseCredentialState is the inverse of [CredentialState.String].
func ParseCredentialState(s string) (CredentialState, error) {
	switch s {
	case "initialized", "":
		return StateInitialized, nil
	case "synced":
		return StateSynced, nil
	case "signing_in":
		return StateSigningIn, nil
	case "credentials_expired":
		return StateCredentialsExpired, nil
	}
	return StateInitialized, fmt.Errorf("unknown credential state %q", s)
}

// Configuration keys written to an account's service settings when the
// stored credentials can no longer be used.
const (
	KeyCredentialsNeedUpdate     = "CredentialsNeedUpdate"
	KeyCredentialsNeedUpdateFrom = "CredentialsNeedUpdateFrom"
)

// Account is the transient view of a platform account held for one sync pass.
type Account struct {
	ID       AccountID
	Provider string
	// Services lists the sync service names the account is enabled with,
	// e.g. "facebook-contacts".
	Services []string
	State    CredentialState
}

// EnabledWith reports whether the account is enabled for the given service.
func (a *Account) EnabledWith(service string) bool {
	for _, s := range a.Services {
		if s == service {
			return true
		}
	}
	return false
}

// Token is a short-lived credential obtained by sign-in. Secret is only
// populated for OAuth1 providers. Tokens never outlive a sync pass.
type Token struct {
	AccessToken string
	Secret      string
}

// Empty reports whether the token carries no access token.
func (t Token) Empty() bool {
	return t.AccessToken == ""
}
