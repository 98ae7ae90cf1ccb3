// Package provider implements the per-provider sync adaptors: Facebook
// sign-on refresh and contacts, Google calendars (two-way), Twitter
// mentions and VK notifications.
//
// Each variant embeds [sync.Base] and adds BeginSync. [Build] wires the
// enabled variants from configuration, each with its own request gateway.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/njoerd114/socialsync/internal/config"
	"github.com/njoerd114/socialsync/internal/gateway"
	"github.com/njoerd114/socialsync/internal/keystore"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/notify"
	"github.com/njoerd114/socialsync/internal/sync"
)

// Settings is the per-provider tuning passed to a variant.
type Settings struct {
	// BaseURL overrides the provider API root.
	BaseURL   string
	PageSize  int
	SinceDays int
}

func (s Settings) base(def string) string {
	if s.BaseURL != "" {
		return strings.TrimRight(s.BaseURL, "/")
	}
	return def
}

func (s Settings) pageSize(def int) int {
	if s.PageSize > 0 {
		return s.PageSize
	}
	return def
}

// Expirer marks an account's stored credentials as expired.
// Implemented by [state.Store].
type Expirer interface {
	SetState(ctx context.Context, id model.AccountID, st model.CredentialState) error
}

// Deps are the collaborators shared by the variants.
type Deps struct {
	Records   sync.RecordStore
	Expirer   Expirer
	Publisher notify.Publisher
	Logger    *slog.Logger
}

// Variant describes one provider/data-type adaptor.
type Variant struct {
	Provider string
	DataType model.DataType
	Errors   gateway.ErrorPaths
	New      func(Settings, Deps) sync.Adaptor

	// TokenSecret is set for OAuth1 providers whose sign-in token carries
	// a secret.
	TokenSecret bool
}

// Variants returns every adaptor this package implements.
func Variants() []Variant {
	return []Variant{
		{Provider: facebookProvider, DataType: model.DataTypeSignon, Errors: facebookErrors, New: newFacebookSignon},
		{Provider: facebookProvider, DataType: model.DataTypeContacts, Errors: facebookErrors, New: newFacebookContacts},
		{Provider: googleProvider, DataType: model.DataTypeCalendars, Errors: googleErrors, New: newGoogleCalendars},
		{Provider: twitterProvider, DataType: model.DataTypeNotifications, Errors: twitterErrors, New: newTwitterMentions, TokenSecret: true},
		{Provider: vkProvider, DataType: model.DataTypeNotifications, Errors: vkErrors, New: newVKNotifications},
	}
}

// Entry is a wired adaptor with the gateway it issues requests through.
type Entry struct {
	Adaptor sync.Adaptor
	Gateway *gateway.Gateway
}

// Build returns an Entry for every variant of every enabled provider,
// restricted to the provider's configured data types. httpClient may be
// nil.
func Build(cfg *config.Config, deps Deps, httpClient *http.Client) ([]Entry, error) {
	var out []Entry
	for _, v := range Variants() {
		pc, enabled := cfg.Provider(v.Provider)
		if !enabled {
			continue
		}
		if len(pc.DataTypes) > 0 && !slices.Contains(pc.DataTypes, string(v.DataType)) {
			continue
		}
		settings := Settings{BaseURL: pc.BaseURL, PageSize: pc.PageSize, SinceDays: pc.SinceDays}
		a := v.New(settings, deps)
		gw := gateway.New(gateway.Options{
			HTTPClient: httpClient,
			Timeout:    cfg.TimeoutFor(v.Provider),
			Errors:     v.Errors,
			Logger:     deps.Logger.With("provider", v.Provider),
		})
		out = append(out, Entry{Adaptor: a, Gateway: gw})
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no provider adaptors enabled")
	}
	return out, nil
}

var errInvalidJSON = errors.New("response is not valid JSON")

// keys names a provider's static app credentials in the keystore.
func keys(provider, service, id, secret string) keystore.KeyNames {
	return keystore.KeyNames{Provider: provider, Service: service, ID: id, Secret: secret}
}

// parseUnix converts a unix-seconds value to UTC.
func parseUnix(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}
