package setup

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/njoerd114/socialsync/internal/config"
	"github.com/njoerd114/socialsync/internal/keystore"
	"github.com/njoerd114/socialsync/internal/model"
	"github.com/njoerd114/socialsync/internal/notify"
	"github.com/njoerd114/socialsync/internal/provider"
)

// AccountStore persists registered accounts.
//
// Implemented by [state.Store].
type AccountStore interface {
	AddAccount(ctx context.Context, acct *model.Account, tok model.Token) error
}

// KeyWriter stores static app credentials.
//
// Implemented by [keystore.File].
type KeyWriter interface {
	SetKey(provider, service, key, value string) error
}

// Pinger checks a notification backend is reachable.
type Pinger func(ctx context.Context, haURL, token string) error

// Wizard drives the interactive setup flows.
type Wizard struct {
	prompt *Prompter
	log    *slog.Logger
	w      io.Writer

	// ping defaults to a Home Assistant publisher ping.
	ping Pinger
}

// NewWizard creates a Wizard wired to the given I/O and logger.
func NewWizard(r io.Reader, w io.Writer, logger *slog.Logger) *Wizard {
	return &Wizard{
		prompt: NewPrompter(r, w),
		log:    logger,
		w:      w,
		ping:   pingHomeAssistant,
	}
}

func pingHomeAssistant(ctx context.Context, haURL, token string) error {
	pub, err := notify.NewHomeAssistantPublisher(haURL, token, slog.New(slog.DiscardHandler))
	if err != nil {
		return err
	}
	return pub.Ping(ctx)
}

// Init writes a new config file at path. An existing file is kept unless
// the user agrees to overwrite it.
func (wiz *Wizard) Init(ctx context.Context, path string) error {
	fmt.Fprintf(wiz.w, "\nsocialsync setup\n\n")

	if _, err := os.Stat(path); err == nil {
		fmt.Fprintf(wiz.w, "  Existing config found at %s\n", path)
		if !wiz.prompt.Confirm("Overwrite existing configuration?", false) {
			fmt.Fprintf(wiz.w, "  Keeping existing config.\n")
			return nil
		}
	}

	fmt.Fprintf(wiz.w, "Step 1/4: Providers\n")
	idx, err := wiz.prompt.MultiSelect("Providers to sync", config.KnownProviders)
	if err != nil {
		return err
	}
	providers := make(map[string]config.ProviderConfig, len(idx))
	for _, i := range idx {
		providers[config.KnownProviders[i]] = config.ProviderConfig{Enabled: true}
	}

	fmt.Fprintf(wiz.w, "\nStep 2/4: Storage\n")
	dbDefault, err := config.DefaultStateDBPath()
	if err != nil {
		return err
	}
	stateDB := wiz.prompt.String("State database", dbDefault)
	keysPath := wiz.prompt.String("Keystore file", defaultKeystorePath(path))

	fmt.Fprintf(wiz.w, "\nStep 3/4: Notifications\n")
	notifications, err := wiz.notifications(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(wiz.w, "\nStep 4/4: Schedule\n")
	poll, err := time.ParseDuration(wiz.prompt.String("Poll interval (1m to 24h)", "30m"))
	if err != nil || poll < time.Minute || poll > 24*time.Hour {
		fmt.Fprintf(wiz.w, "  (invalid interval, using 30m)\n")
		poll = 30 * time.Minute
	}

	cfg := &config.Config{
		StateDB:       stateDB,
		KeystorePath:  keysPath,
		PollInterval:  poll,
		Providers:     providers,
		Notifications: notifications,
	}
	if err := cfg.Write(path); err != nil {
		return err
	}
	fmt.Fprintf(wiz.w, "\n  Config written to %s\n", path)
	fmt.Fprintf(wiz.w, "  Next: socialsync accounts add\n\n")
	return nil
}

func (wiz *Wizard) notifications(ctx context.Context) (config.NotificationsConfig, error) {
	backends := []string{config.BackendLog, config.BackendHomeAssistant}
	i, err := wiz.prompt.Select("Notification backend", backends)
	if err != nil {
		return config.NotificationsConfig{}, err
	}
	nc := config.NotificationsConfig{Backend: backends[i]}
	if nc.Backend != config.BackendHomeAssistant {
		return nc, nil
	}

	nc.HAURL = wiz.prompt.String("Home Assistant URL", "http://homeassistant.local:8123")
	if nc.HAToken, err = wiz.prompt.Secret("Home Assistant token"); err != nil {
		return config.NotificationsConfig{}, err
	}
	fmt.Fprintf(wiz.w, "  Connecting to Home Assistant...")
	if err := wiz.ping(ctx, nc.HAURL, nc.HAToken); err != nil {
		fmt.Fprintf(wiz.w, " failed\n")
		return config.NotificationsConfig{}, fmt.Errorf("cannot reach Home Assistant at %q: %w", nc.HAURL, err)
	}
	fmt.Fprintf(wiz.w, " ok\n")
	return nc, nil
}

func defaultKeystorePath(cfgPath string) string {
	return filepath.Join(filepath.Dir(cfgPath), "keys.yaml")
}

// AddAccount registers one provider account: it picks the provider and
// services, reads the sign-in token and optionally stores the provider's
// static app credentials. Only providers enabled in cfg are offered.
func (wiz *Wizard) AddAccount(ctx context.Context, cfg *config.Config, accounts AccountStore, keys KeyWriter) (*model.Account, error) {
	byProvider := map[string][]provider.Variant{}
	var names []string
	for _, v := range provider.Variants() {
		if _, ok := cfg.Provider(v.Provider); !ok {
			continue
		}
		if _, seen := byProvider[v.Provider]; !seen {
			names = append(names, v.Provider)
		}
		byProvider[v.Provider] = append(byProvider[v.Provider], v)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}
	slices.Sort(names)

	i, err := wiz.prompt.Select("Provider", names)
	if err != nil {
		return nil, err
	}
	name := names[i]

	variants := byProvider[name]
	adaptors := make([]string, len(variants))
	for i, v := range variants {
		adaptors[i] = v.New(provider.Settings{}, provider.Deps{Logger: wiz.log}).SyncServiceName()
	}
	picked, err := wiz.prompt.MultiSelect("Services", adaptors)
	if err != nil {
		return nil, err
	}

	acct := &model.Account{Provider: name, State: model.StateSynced}
	var tok model.Token
	if tok.AccessToken, err = wiz.prompt.Secret("Access token"); err != nil {
		return nil, err
	}

	stored := map[keystore.KeyNames]bool{}
	for _, i := range picked {
		v := variants[i]
		acct.Services = append(acct.Services, adaptors[i])
		if v.TokenSecret && tok.Secret == "" {
			if tok.Secret, err = wiz.prompt.Secret("Access token secret"); err != nil {
				return nil, err
			}
		}
		kn := v.New(provider.Settings{}, provider.Deps{Logger: wiz.log}).Spec().Keys
		if kn.ID == "" || stored[kn] {
			continue
		}
		stored[kn] = true
		if err := wiz.storeKeys(kn, keys); err != nil {
			return nil, err
		}
	}

	if err := accounts.AddAccount(ctx, acct, tok); err != nil {
		return nil, err
	}
	wiz.log.Info("account added", "account", acct.ID, "provider", acct.Provider, "services", acct.Services)
	fmt.Fprintf(wiz.w, "  Added %s account %d (%v)\n", acct.Provider, acct.ID, acct.Services)
	return acct, nil
}

// storeKeys prompts for the app credential pair named by names. Leaving
// the id empty keeps any pair already in the keystore.
func (wiz *Wizard) storeKeys(names keystore.KeyNames, keys KeyWriter) error {
	id := wiz.prompt.Optional(fmt.Sprintf("%s %s for %s", names.Provider, names.ID, names.Service))
	if id == "" {
		return nil
	}
	secret, err := wiz.prompt.Secret(fmt.Sprintf("%s %s", names.Provider, names.Secret))
	if err != nil {
		return err
	}
	if err := keys.SetKey(names.Provider, names.Service, names.ID, id); err != nil {
		return err
	}
	return keys.SetKey(names.Provider, names.Service, names.Secret, secret)
}
