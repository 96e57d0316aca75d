package stage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	promptx "github.com/tanpawarit/shopping-voice-assistant/agent/prompt"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
	toolx "github.com/tanpawarit/shopping-voice-assistant/agent/tool"
	metricsx "github.com/tanpawarit/shopping-voice-assistant/pkg/metrics"
)

const (
	utterGreeting = "Hi! I'm your shopping assistant. Tell me what products you'd like to add to your shopping list. When you're done, just say 'I'm finished' or 'that's all'."
	utterAdded    = "Got it! What else would you like to add?"
	utterEmpty    = "Your shopping list is empty. Have a great day!"
	utterSummary  = "Here's your complete shopping list:\n\n%s\n\nWould you like me to send this shopping list to your email?"
	utterDeclined = "No problem! Your shopping list is complete. Have a great day!"
	utterSending  = "Perfect! I'm sending your shopping list to your email now..."
	utterSent     = "Great! Your shopping list has been successfully sent to your email. You can check your inbox now. Have a wonderful shopping trip!"
	utterFailed   = "I'm sorry, there was an issue sending your email. Please check your email configuration or try again later."
)

// Reasons passed to Transitioner.End.
const (
	ReasonEmptyList      = "empty_list"
	ReasonDeclined       = "declined"
	ReasonDelivered      = "delivered"
	ReasonDeliveryFailed = "delivery_failed"
)

// Deps is the shared session context injected into every handler.
type Deps struct {
	Session   *statex.Session
	Flow      contractx.Transitioner
	Speaker   contractx.Speaker
	Gateway   contractx.EmailGateway
	Recipient string
	Prompts   promptx.PromptSet
	Metrics   *metricsx.Recorder
	Operator  io.Writer
}

func (d Deps) validate() error {
	if d.Session == nil || d.Session.List == nil {
		return errors.New("session is required")
	}
	if d.Flow == nil {
		return errors.New("flow transitioner is required")
	}
	if d.Speaker == nil {
		return errors.New("speaker is required")
	}
	return nil
}

func (d Deps) operator() io.Writer {
	if d.Operator == nil {
		return io.Discard
	}
	return d.Operator
}

type base struct {
	stage statex.StageID
	deps  Deps
}

func newBase(stage statex.StageID, deps Deps) (base, error) {
	if err := deps.validate(); err != nil {
		return base{}, err
	}
	return base{stage: stage, deps: deps}, nil
}

func (b *base) Stage() statex.StageID {
	return b.stage
}

func (b *base) Instructions() string {
	return b.deps.Prompts.For(b.stage)
}

func (b *base) Tools() []*schema.ToolInfo {
	return toolx.ForStage(b.stage)
}

func (b *base) say(ctx context.Context, text string) error {
	if err := b.deps.Speaker.Say(ctx, text); err != nil {
		return fmt.Errorf("say in stage=%s: %w", b.stage, err)
	}
	return nil
}

func (b *base) unknownAction(call contractx.ToolCall) (contractx.Outcome, error) {
	return contractx.Outcome{}, fmt.Errorf("%w: tool=%s is not available in stage=%s", contractx.ErrUnknownAction, call.Name, b.stage)
}

// follow converts the result of a transition request into an Outcome.
func follow(next contractx.Handler, err error) (contractx.Outcome, error) {
	if err != nil {
		return contractx.Outcome{}, err
	}
	if next == nil {
		return contractx.Outcome{Terminal: true}, nil
	}
	return contractx.Outcome{
		Reply: fmt.Sprintf("Moved to the %s stage.", next.Stage()),
		Next:  next,
	}, nil
}
