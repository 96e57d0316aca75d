package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	toolx "github.com/tanpawarit/shopping-voice-assistant/agent/tool"
)

type Config struct {
	MaxToolRounds int `split_words:"true" default:"4"`
}

var DefaultConfig = Config{MaxToolRounds: 4}

type Option func(*Engine)

func WithConfig(cfg Config) Option {
	return func(e *Engine) {
		if cfg.MaxToolRounds > 0 {
			e.maxToolRounds = cfg.MaxToolRounds
		}
	}
}

// Engine is the text stand-in for the realtime voice runtime. It feeds user
// utterances to a tool-calling model under the active stage's instructions
// and routes the model's tool calls to that stage's handler.
type Engine struct {
	model         einomodel.ToolCallingChatModel
	speaker       contractx.Speaker
	transcript    *transcript
	listener      contractx.Listener
	maxToolRounds int
}

func New(model einomodel.ToolCallingChatModel, speaker contractx.Speaker, listener contractx.Listener, opts ...Option) (*Engine, error) {
	if model == nil {
		return nil, errors.New("chat model is required")
	}
	if speaker == nil {
		return nil, errors.New("speaker is required")
	}
	if listener == nil {
		return nil, errors.New("listener is required")
	}
	e := &Engine{
		model:         model,
		speaker:       speaker,
		transcript:    &transcript{next: speaker},
		listener:      listener,
		maxToolRounds: DefaultConfig.MaxToolRounds,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Speaker is the speaker stage handlers must use. What they say reaches the
// user and is replayed to the model as assistant turns.
func (e *Engine) Speaker() contractx.Speaker {
	return e.transcript
}

// Run activates h and keeps the conversation going across stage switches
// until a handler reports a terminal outcome or the listener is exhausted.
func (e *Engine) Run(ctx context.Context, h contractx.Handler) error {
	for h != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := e.runStage(ctx, h)
		if err != nil {
			return err
		}
		h = next
	}
	return nil
}

func (e *Engine) runStage(ctx context.Context, h contractx.Handler) (contractx.Handler, error) {
	logger := zerolog.Ctx(ctx).With().Str("stage", string(h.Stage())).Logger()
	ctx = logger.WithContext(ctx)

	// Lines spoken while leaving the previous stage belong to its history.
	e.transcript.drain()

	out, err := h.Enter(ctx)
	if err != nil {
		return nil, fmt.Errorf("enter stage=%s: %w", h.Stage(), err)
	}
	if out.Terminal {
		return nil, nil
	}
	if out.Next != nil {
		return out.Next, nil
	}

	runner, err := e.compile(ctx, h)
	if err != nil {
		return nil, err
	}
	logger.Info().Strs("tools", toolx.Names(h.Stage())).Msg("Stage active")

	history := []*schema.Message{schema.SystemMessage(h.Instructions())}
	history = e.appendSpoken(history)
	for {
		text, err := e.listener.Listen(ctx)
		if errors.Is(err, io.EOF) {
			logger.Info().Msg("Listener closed. Leaving conversation.")
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listen: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		history = append(history, schema.UserMessage(text))

		var next contractx.Handler
		var done bool
		history, next, done, err = e.turn(ctx, h, runner, history)
		if err != nil {
			return nil, err
		}
		if done {
			return nil, nil
		}
		if next != nil {
			return next, nil
		}
	}
}

// turn runs model rounds for one user utterance until the model answers in
// text, a handler moves or ends the flow, or the round limit is reached.
// Within one model message, calls that stay in the stage run first and the
// first stage-moving call runs last; further stage-moving calls are skipped.
func (e *Engine) turn(
	ctx context.Context,
	h contractx.Handler,
	runner compose.Runnable[[]*schema.Message, *schema.Message],
	history []*schema.Message,
) ([]*schema.Message, contractx.Handler, bool, error) {
	logger := zerolog.Ctx(ctx)

	for round := 0; round < e.maxToolRounds; round++ {
		msg, err := runner.Invoke(ctx, history)
		if err != nil {
			return history, nil, false, fmt.Errorf("%w: stage=%s: %v", contractx.ErrModelInvoke, h.Stage(), err)
		}
		if msg == nil {
			return history, nil, false, fmt.Errorf("%w: empty model response", contractx.ErrSchemaViolation)
		}
		history = append(history, msg)

		calls, err := toToolCalls(msg.ToolCalls)
		if err != nil {
			return history, nil, false, err
		}
		if len(calls) == 0 {
			if content := strings.TrimSpace(msg.Content); content != "" {
				if err := e.speaker.Say(ctx, content); err != nil {
					return history, nil, false, fmt.Errorf("say: %w", err)
				}
			}
			return history, nil, false, nil
		}

		var handoff *contractx.Outcome
		for _, call := range orderCalls(calls) {
			if handoff != nil {
				logger.Warn().Str("tool", call.Name).Msg("Skipped tool call after stage handoff")
				continue
			}
			out, reply, err := e.invoke(ctx, h, call)
			if err != nil {
				return history, nil, false, err
			}
			if out.Terminal || out.Next != nil {
				handoff = &out
				continue
			}
			history = append(history, schema.ToolMessage(reply, call.ID))
		}
		history = e.appendSpoken(history)

		if handoff != nil {
			return history, handoff.Next, handoff.Terminal, nil
		}
	}

	logger.Warn().Int("rounds", e.maxToolRounds).Msg("Tool round limit reached without a spoken reply")
	return history, nil, false, nil
}

// invoke runs one call. Calls the handler rejects are answered with the
// rejection text so the model can correct itself.
func (e *Engine) invoke(ctx context.Context, h contractx.Handler, call contractx.ToolCall) (contractx.Outcome, string, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("tool", call.Name).Interface("args", call.Args).Msg("Tool call")

	out, err := h.Invoke(ctx, call)
	switch {
	case errors.Is(err, contractx.ErrUnknownAction),
		errors.Is(err, contractx.ErrValidation),
		errors.Is(err, contractx.ErrSessionEnded):
		logger.Warn().Err(err).Str("tool", call.Name).Msg("Rejected tool call")
		return contractx.Outcome{}, err.Error(), nil
	case err != nil:
		return contractx.Outcome{}, "", fmt.Errorf("invoke tool=%s: %w", call.Name, err)
	}
	return out, out.Reply, nil
}

func (e *Engine) appendSpoken(history []*schema.Message) []*schema.Message {
	for _, line := range e.transcript.drain() {
		history = append(history, schema.AssistantMessage(line, nil))
	}
	return history
}

// orderCalls moves stage-moving calls behind the others, keeping relative order.
func orderCalls(calls []contractx.ToolCall) []contractx.ToolCall {
	ordered := make([]contractx.ToolCall, 0, len(calls))
	var moving []contractx.ToolCall
	for _, call := range calls {
		if toolx.MovesStage(call.Name) {
			moving = append(moving, call)
			continue
		}
		ordered = append(ordered, call)
	}
	return append(ordered, moving...)
}

func (e *Engine) compile(ctx context.Context, h contractx.Handler) (compose.Runnable[[]*schema.Message, *schema.Message], error) {
	chatModel := e.model
	if tools := h.Tools(); len(tools) > 0 {
		bound, err := e.model.WithTools(tools)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for stage=%s: %v", contractx.ErrModelInvoke, h.Stage(), err)
		}
		chatModel = bound
	}

	graph := compose.NewGraph[[]*schema.Message, *schema.Message]()
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add stage model node: %w", err)
	}
	if err := graph.AddEdge(compose.START, "model"); err != nil {
		return nil, fmt.Errorf("add stage edge start->model: %w", err)
	}
	if err := graph.AddEdge("model", compose.END); err != nil {
		return nil, fmt.Errorf("add stage edge model->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("engine."+string(h.Stage())))
	if err != nil {
		return nil, fmt.Errorf("compile stage graph: %w", err)
	}
	return runner, nil
}

func toToolCalls(calls []schema.ToolCall) ([]contractx.ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	out := make([]contractx.ToolCall, 0, len(calls))
	for _, call := range calls {
		name := strings.TrimSpace(call.Function.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool call name is empty", contractx.ErrSchemaViolation)
		}

		args := map[string]any{}
		if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return nil, fmt.Errorf("%w: invalid tool args for tool=%s: %v", contractx.ErrSchemaViolation, name, err)
			}
		}

		out = append(out, contractx.ToolCall{ID: call.ID, Name: name, Args: args})
	}
	return out, nil
}
