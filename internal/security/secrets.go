package security

import (
	"fmt"
	"log"

	"slackmind/internal/config"
)

// Secret fields a persona can keep out of the config file.
const (
	FieldBotToken      = "bot_token"
	FieldSigningSecret = "signing_secret"
	FieldTelegramToken = "telegram_token"
	FieldAPIKey        = "api_key"
)

// SecretGetter reads a named secret.
type SecretGetter interface {
	Get(name string) (string, error)
}

// SecretName is the key a persona field is stored under.
func SecretName(appID, field string) string {
	return appID + "/" + field
}

// ResolveSecrets replaces config.KeyringPlaceholder values in every persona
// with secrets from store. Unresolvable fields are cleared so the persona
// is reported as unusable instead of sending the placeholder upstream.
func ResolveSecrets(cfg *config.Config, store SecretGetter) error {
	var missing int
	for i := range cfg.Personas {
		p := &cfg.Personas[i]
		fields := []struct {
			name string
			ptr  *string
		}{
			{FieldBotToken, &p.BotToken},
			{FieldSigningSecret, &p.SigningSecret},
			{FieldTelegramToken, &p.TelegramToken},
			{FieldAPIKey, &p.LLM.APIKey},
		}
		for _, f := range fields {
			if *f.ptr != config.KeyringPlaceholder {
				continue
			}
			val, err := store.Get(SecretName(p.AppID, f.name))
			if err != nil {
				log.Printf("[security] %s: cannot resolve %s: %v", p.AppID, f.name, err)
				*f.ptr = ""
				missing++
				continue
			}
			*f.ptr = val
		}
	}
	if cfg.Fallback != nil && cfg.Fallback.APIKey == config.KeyringPlaceholder {
		val, err := store.Get(SecretName("fallback", FieldAPIKey))
		if err != nil {
			cfg.Fallback.APIKey = ""
			missing++
		} else {
			cfg.Fallback.APIKey = val
		}
	}
	if missing > 0 {
		return fmt.Errorf("%d secrets could not be resolved", missing)
	}
	return nil
}
