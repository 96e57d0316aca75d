package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
	toolx "github.com/tanpawarit/shopping-voice-assistant/agent/tool"
)

// Summarize reads the list back and asks whether to email it.
type Summarize struct {
	base
}

var _ contractx.Handler = (*Summarize)(nil)

func NewSummarize(deps Deps) (*Summarize, error) {
	b, err := newBase(statex.StageSummarize, deps)
	if err != nil {
		return nil, err
	}
	return &Summarize{base: b}, nil
}

// Enter ends the conversation explicitly when there is nothing to summarize.
func (h *Summarize) Enter(ctx context.Context) (contractx.Outcome, error) {
	items := h.deps.Session.List.Items()

	if len(items) == 0 {
		if err := h.say(ctx, utterEmpty); err != nil {
			return contractx.Outcome{}, err
		}
		h.deps.Flow.End(ctx, ReasonEmptyList)
		return contractx.Outcome{Terminal: true}, nil
	}

	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	if err := h.say(ctx, fmt.Sprintf(utterSummary, strings.Join(lines, "\n"))); err != nil {
		return contractx.Outcome{}, err
	}
	zerolog.Ctx(ctx).Info().Strs("items", items).Msg("Shopping list summary presented")

	out := h.deps.operator()
	fmt.Fprintln(out, "\n=== SHOPPING LIST COMPLETE ===")
	for i, item := range items {
		fmt.Fprintf(out, "%d. %s\n", i+1, item)
	}
	fmt.Fprintln(out, "==============================")

	return contractx.Outcome{}, nil
}

func (h *Summarize) Invoke(ctx context.Context, call contractx.ToolCall) (contractx.Outcome, error) {
	h.deps.Metrics.Action(string(h.stage), call.Name)

	switch call.Name {
	case toolx.ToolConfirmEmailSend:
		var args toolx.ConfirmEmailSendArgs
		if err := toolx.Decode(call.Name, call.Args, &args); err != nil {
			return contractx.Outcome{}, err
		}
		return follow(h.ConfirmEmailSend(ctx, contractx.ParseChoice(args.Choice)))
	default:
		return h.unknownAction(call)
	}
}

// ConfirmEmailSend moves on to delivery for yes. For no it says goodbye and
// returns no handler.
func (h *Summarize) ConfirmEmailSend(ctx context.Context, choice contractx.Choice) (contractx.Handler, error) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Str("choice", string(choice)).Msg("User choice for email send")

	if choice == contractx.ChoiceYes {
		return h.deps.Flow.RequestTransition(ctx)
	}

	if err := h.say(ctx, utterDeclined); err != nil {
		return nil, err
	}
	logger.Info().Msg("User declined email send. Ending session.")
	h.deps.Flow.End(ctx, ReasonDeclined)
	return nil, nil
}
