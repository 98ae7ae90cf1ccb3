package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/njoerd114/socialsync/internal/model"
)

func TestKindOf_Wrapped(t *testing.T) {
	base := &Error{Kind: KindNetwork, Provider: "vk", AccountID: 3, Msg: "timeout"}
	err := fmt.Errorf("requesting notifications: %w", base)

	if got := KindOf(err); got != KindNetwork {
		t.Errorf("KindOf = %v, want %v", got, KindNetwork)
	}
	if !Is(err, KindNetwork) {
		t.Error("Is(network) = false, want true")
	}
	if Is(err, KindAuth) {
		t.Error("Is(auth) = true, want false")
	}
	if KindOf(errors.New("plain")) != 0 {
		t.Error("KindOf(plain error) should be zero")
	}
}

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want model.ErrorCode
	}{
		{"nil", nil, model.NoError},
		{"config", New(KindConfig, "no client id"), model.ErrConfiguration},
		{"auth", New(KindAuth, "sign-in failed"), model.ErrAuthentication},
		{"network", New(KindNetwork, "reset"), model.ErrConnection},
		{"application transient", &Error{Kind: KindApplication, Code: 4}, model.ErrConnection},
		{"application expired", &Error{Kind: KindApplication, Code: 190, CredentialsExpired: true}, model.ErrAuthentication},
		{"parse", New(KindParse, "bad json"), model.ErrInternal},
		{"plain", errors.New("boom"), model.ErrInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Errorf("Code = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestError_Message(t *testing.T) {
	err := &Error{Kind: KindApplication, Provider: "facebook", AccountID: 42, CredentialsExpired: true, Msg: "code 190"}
	want := "facebook: application (credentials expired) [account 42]: code 190"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestPartialFailure_Unwrap(t *testing.T) {
	sentinel := errors.New("http 500")
	pf := &PartialFailure{
		Provider:  "google",
		AccountID: 7,
		Attempted: 3,
		Failures:  []ItemFailure{{RemoteID: "e1", Err: sentinel}},
	}
	if !errors.Is(pf, sentinel) {
		t.Error("errors.Is(pf, sentinel) = false, want true")
	}
	if pf.Error() != "google: partial_failure [account 7]: 1 of 3 items failed" {
		t.Errorf("unexpected message %q", pf.Error())
	}
}
