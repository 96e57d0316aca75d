package email

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	acsx "github.com/tanpawarit/shopping-voice-assistant/pkg/acs"
)

var (
	ErrMissingConnectionString = errors.New("AZURE_COMMUNICATION_EMAIL_CONNECTION_STRING is not set")
	ErrMissingSender           = errors.New("AZURE_COMMUNICATION_EMAIL_SENDER is not set")
	ErrMissingRecipient        = errors.New("RECIPIENT_EMAIL is not set")
)

// Transport delivers one message and reports transport-level failures.
type Transport interface {
	Send(ctx context.Context, to string, content acsx.Content) (string, error)
}

// Gateway is the fail-closed EmailGateway used by the deliver stage.
type Gateway struct {
	transport Transport
	setupErr  error
}

var _ contractx.EmailGateway = (*Gateway)(nil)

// New builds a gateway over the ACS client. A missing or invalid
// configuration does not fail here; every Send then returns false.
func New(cfg acsx.Config, opts ...acsx.Option) *Gateway {
	client, err := acsx.NewClient(cfg, opts...)
	if err != nil {
		return &Gateway{setupErr: err}
	}
	return &Gateway{transport: client}
}

func NewWithTransport(transport Transport) *Gateway {
	if transport == nil {
		return &Gateway{setupErr: acsx.ErrNotConfigured}
	}
	return &Gateway{transport: transport}
}

// CheckConfig lists every missing email setting. Used at startup to warn early.
func CheckConfig(cfg acsx.Config, recipient string) error {
	var errs []error
	if strings.TrimSpace(cfg.ConnectionString) == "" {
		errs = append(errs, ErrMissingConnectionString)
	} else if _, _, err := acsx.ParseConnectionString(cfg.ConnectionString); err != nil {
		errs = append(errs, err)
	}
	if strings.TrimSpace(cfg.Sender) == "" {
		errs = append(errs, ErrMissingSender)
	}
	if strings.TrimSpace(recipient) == "" {
		errs = append(errs, ErrMissingRecipient)
	}
	return errors.Join(errs...)
}

// Send makes a single attempt. It never panics and never returns the
// transport error; callers only learn success or failure.
func (g *Gateway) Send(ctx context.Context, msg contractx.EmailMessage) (ok bool) {
	logger := zerolog.Ctx(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("email transport panicked")
			ok = false
		}
	}()

	if g == nil || g.transport == nil {
		var setupErr error = acsx.ErrNotConfigured
		if g != nil && g.setupErr != nil {
			setupErr = g.setupErr
		}
		logger.Error().Err(setupErr).Msg("Email service not configured.")
		return false
	}
	if strings.TrimSpace(msg.To) == "" {
		logger.Error().Err(ErrMissingRecipient).Msg("Email recipient not configured.")
		return false
	}

	id, err := g.transport.Send(ctx, msg.To, acsx.Content{
		Subject:   msg.Subject,
		PlainText: msg.PlainText,
		HTML:      msg.HTML,
	})
	if err != nil {
		logger.Error().Err(err).Str("to", msg.To).Msg("Failed to send email")
		return false
	}

	logger.Info().Str("operation_id", id).Str("to", msg.To).Str("subject", msg.Subject).Msg("email sent")
	return true
}
