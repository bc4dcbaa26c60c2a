package security

import (
	"errors"
	"testing"

	"slackmind/internal/config"
)

func TestVaultRoundTrip(t *testing.T) {
	dir := t.TempDir()
	ks, err := OpenKeyStore(dir, "master-password")
	if err != nil {
		t.Fatal(err)
	}
	ks.WithoutKeyring()

	if err := ks.Set("acme/bot_token", "xoxb-secret"); err != nil {
		t.Fatal(err)
	}

	// Reopening with the same password reuses the stored salt.
	again, err := OpenKeyStore(dir, "master-password")
	if err != nil {
		t.Fatal(err)
	}
	got, err := again.WithoutKeyring().Get("acme/bot_token")
	if err != nil {
		t.Fatal(err)
	}
	if got != "xoxb-secret" {
		t.Fatalf("got %q", got)
	}

	wrong, err := OpenKeyStore(dir, "other-password")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wrong.WithoutKeyring().Get("acme/bot_token"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if err := wrong.Set("acme/other", "x"); !errors.Is(err, ErrWrongPassword) {
		t.Fatalf("wrong password must not overwrite the vault, got %v", err)
	}

	if err := ks.Delete("acme/bot_token"); err != nil {
		t.Fatal(err)
	}
	if _, err := ks.Get("acme/bot_token"); !errors.Is(err, ErrSecretNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

type mapSecrets map[string]string

func (m mapSecrets) Get(name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", ErrSecretNotFound
}

func TestResolveSecrets(t *testing.T) {
	cfg := &config.Config{Personas: []config.PersonaConfig{
		{
			AppID:         "acme",
			BotToken:      config.KeyringPlaceholder,
			SigningSecret: "inline-secret",
			LLM:           config.LLMConfig{APIKey: config.KeyringPlaceholder},
		},
		{
			AppID:         "beta",
			TelegramToken: config.KeyringPlaceholder,
		},
	}}
	store := mapSecrets{
		"acme/bot_token": "xoxb-1",
		"acme/api_key":   "key-1",
	}

	err := ResolveSecrets(cfg, store)
	if err == nil {
		t.Fatal("expected error for the missing telegram token")
	}
	acme := cfg.Personas[0]
	if acme.BotToken != "xoxb-1" || acme.SigningSecret != "inline-secret" || acme.LLM.APIKey != "key-1" {
		t.Fatalf("unexpected acme persona %+v", acme)
	}
	if cfg.Personas[1].TelegramToken != "" {
		t.Fatal("unresolved placeholder should be cleared")
	}
	if cfg.Personas[1].Usable() {
		t.Fatal("persona without credentials should be unusable")
	}
}

func TestAuthorizer(t *testing.T) {
	open := NewAuthorizer(nil)
	if !open.IsAllowed("anyone") || open.Restricted() {
		t.Fatal("empty allow-list should allow everyone")
	}

	a := NewAuthorizer([]string{"123", " @alice "})
	if !a.IsAllowed("123") || !a.IsAllowed("alice") || !a.IsAllowed("@alice") {
		t.Fatal("listed users should be allowed")
	}
	if a.IsAllowed("456") {
		t.Fatal("unlisted user allowed")
	}

	var nilAuth *Authorizer
	if !nilAuth.IsAllowed("x") {
		t.Fatal("nil authorizer should allow")
	}
}
