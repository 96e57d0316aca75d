package stage

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
)

const emailSubject = "Your Shopping List"

// Deliver emails the list on activation. It exposes no actions and is
// always the last stage.
type Deliver struct {
	base
}

var _ contractx.Handler = (*Deliver)(nil)

func NewDeliver(deps Deps) (*Deliver, error) {
	if deps.Gateway == nil {
		return nil, fmt.Errorf("%w: email gateway is required", contractx.ErrValidation)
	}
	b, err := newBase(statex.StageDeliver, deps)
	if err != nil {
		return nil, err
	}
	return &Deliver{base: b}, nil
}

// Enter blocks on the send attempt before reporting the result.
func (h *Deliver) Enter(ctx context.Context) (contractx.Outcome, error) {
	logger := zerolog.Ctx(ctx)

	if err := h.say(ctx, utterSending); err != nil {
		return contractx.Outcome{}, err
	}

	items := h.deps.Session.List.Items()
	msg := BuildEmail(h.deps.Recipient, items)

	logger.Info().Msg("Starting email send process")
	ok := h.deps.Gateway.Send(ctx, msg)
	h.deps.Metrics.EmailSend(ok)

	if !ok {
		logger.Error().Msg("Failed to send shopping list email. Session ending.")
		h.deps.Flow.End(ctx, ReasonDeliveryFailed)
		if err := h.say(ctx, utterFailed); err != nil {
			return contractx.Outcome{Terminal: true}, err
		}
		return contractx.Outcome{Terminal: true}, nil
	}

	logger.Info().Str("to", msg.To).Strs("items", items).Msg("Shopping list sent via email successfully. Session ending.")
	out := h.deps.operator()
	fmt.Fprintln(out, "\n=== EMAIL SENT ===")
	fmt.Fprintf(out, "Successfully sent to %s\n", msg.To)
	fmt.Fprintf(out, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(out, "Items: %s\n", strings.Join(items, ", "))
	fmt.Fprintln(out, "==================")

	h.deps.Flow.End(ctx, ReasonDelivered)
	if err := h.say(ctx, utterSent); err != nil {
		return contractx.Outcome{Terminal: true}, err
	}
	return contractx.Outcome{Terminal: true}, nil
}

func (h *Deliver) Invoke(ctx context.Context, call contractx.ToolCall) (contractx.Outcome, error) {
	h.deps.Metrics.Action(string(h.stage), call.Name)
	return h.unknownAction(call)
}

// BuildEmail renders the list as a plain-text bullet list plus an HTML twin.
func BuildEmail(recipient string, items []string) contractx.EmailMessage {
	var plain, rich strings.Builder

	plain.WriteString("Here's your shopping list:\n\n")
	rich.WriteString("<p>Here's your shopping list:</p>\n<ul>\n")
	for i, item := range items {
		if i > 0 {
			plain.WriteString("\n")
		}
		plain.WriteString("• " + item)
		rich.WriteString("  <li>" + html.EscapeString(item) + "</li>\n")
	}
	plain.WriteString("\n\nHappy shopping!")
	rich.WriteString("</ul>\n<p>Happy shopping!</p>")

	return contractx.EmailMessage{
		To:        recipient,
		Subject:   emailSubject,
		PlainText: plain.String(),
		HTML:      rich.String(),
	}
}
