package provider

import (
	"fmt"
	"log/slog"

	"github.com/reachkit/reachkit/internal/models"
)

// New builds the adapter matching a stored provider configuration. The
// config's type field is the only discriminator; credentials are validated
// before any adapter is constructed.
func New(cfg *models.ProviderConfig, logger *slog.Logger, opts ...Option) (Adapter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil provider config")
	}
	if err := cfg.Credentials.Validate(cfg.Type); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case models.ProviderMeta:
		return NewMeta(*cfg.Credentials.Meta, cfg.DefaultLanguage, logger, opts...), nil
	case models.ProviderTwilio:
		return NewTwilio(*cfg.Credentials.Twilio, logger, opts...), nil
	case models.ProviderSMTP:
		return NewSMTP(*cfg.Credentials.SMTP, logger, opts...), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q", cfg.Type)
	}
}
