package provider

import (
	"testing"
	"time"

	"github.com/njoerd114/socialsync/internal/config"
	"github.com/njoerd114/socialsync/internal/model"
)

func TestBuild_EnabledVariantsOnly(t *testing.T) {
	cfg := &config.Config{
		RequestTimeout: 60 * time.Second,
		Providers: map[string]config.ProviderConfig{
			"facebook": {Enabled: true, DataTypes: []string{"contacts"}, RequestTimeout: 10 * time.Second},
			"vk":       {Enabled: true},
			"twitter":  {Enabled: false},
		},
	}
	entries, err := Build(cfg, Deps{Logger: discardLogger()}, nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	got := map[string]time.Duration{}
	for _, e := range entries {
		s := e.Adaptor.Spec()
		got[s.Provider+"/"+string(s.DataType)] = e.Gateway.Timeout()
	}
	want := map[string]time.Duration{
		"facebook/contacts": 10 * time.Second,
		"vk/notifications":  60 * time.Second,
	}
	if len(got) != len(want) {
		t.Fatalf("built %v, want %v", got, want)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s timeout = %v, want %v", k, got[k], v)
		}
	}
}

func TestBuild_NothingEnabled(t *testing.T) {
	cfg := &config.Config{Providers: map[string]config.ProviderConfig{"vk": {}}}
	if _, err := Build(cfg, Deps{Logger: discardLogger()}, nil); err == nil {
		t.Error("Build with no enabled provider should fail")
	}
}

func TestVariants_ServiceNames(t *testing.T) {
	want := map[string]string{
		"facebook/signon":       "facebook-sync",
		"facebook/contacts":     "facebook-contacts",
		"google/calendars":      "google-calendars",
		"twitter/notifications": "twitter-microblog",
		"vk/notifications":      "vk-microblog",
	}
	for _, v := range Variants() {
		a := v.New(Settings{}, Deps{Logger: discardLogger()})
		key := v.Provider + "/" + string(v.DataType)
		if a.SyncServiceName() != want[key] {
			t.Errorf("%s service = %q, want %q", key, a.SyncServiceName(), want[key])
		}
		if a.Spec().DataType != v.DataType || !model.DataType(v.DataType).Valid() {
			t.Errorf("%s spec data type = %q", key, a.Spec().DataType)
		}
	}
}
