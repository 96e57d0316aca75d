package stage

import (
	"context"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
	toolx "github.com/tanpawarit/shopping-voice-assistant/agent/tool"
)

// Collect gathers product names until the user says they are done.
type Collect struct {
	base
}

var _ contractx.Handler = (*Collect)(nil)

func NewCollect(deps Deps) (*Collect, error) {
	b, err := newBase(statex.StageCollect, deps)
	if err != nil {
		return nil, err
	}
	return &Collect{base: b}, nil
}

func (h *Collect) Enter(ctx context.Context) (contractx.Outcome, error) {
	if err := h.say(ctx, utterGreeting); err != nil {
		return contractx.Outcome{}, err
	}
	return contractx.Outcome{}, nil
}

func (h *Collect) Invoke(ctx context.Context, call contractx.ToolCall) (contractx.Outcome, error) {
	h.deps.Metrics.Action(string(h.stage), call.Name)

	switch call.Name {
	case toolx.ToolAddProduct:
		var args toolx.AddProductArgs
		if err := toolx.Decode(call.Name, call.Args, &args); err != nil {
			return contractx.Outcome{}, err
		}
		return contractx.Outcome{Reply: h.AddProduct(ctx, args.ProductName)}, nil
	case toolx.ToolFinishShopping:
		return follow(h.FinishShopping(ctx))
	default:
		return h.unknownAction(call)
	}
}

// AddProduct accepts any name, including empty ones.
func (h *Collect) AddProduct(ctx context.Context, name string) string {
	logger := zerolog.Ctx(ctx)
	list := h.deps.Session.List

	if list.Contains(name) {
		logger.Info().Str("product", name).Msg("Product already exists (not adding duplicate)")
	} else {
		list.Add(name)
		logger.Info().Str("product", name).Int("items", list.Len()).Msg("Added product")
	}
	return utterAdded
}

func (h *Collect) FinishShopping(ctx context.Context) (contractx.Handler, error) {
	zerolog.Ctx(ctx).Info().Msg("User finished adding products, transitioning to summary")
	return h.deps.Flow.RequestTransition(ctx)
}
