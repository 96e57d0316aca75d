package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	promptx "github.com/tanpawarit/shopping-voice-assistant/agent/prompt"
	stagex "github.com/tanpawarit/shopping-voice-assistant/agent/stage"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
	metricsx "github.com/tanpawarit/shopping-voice-assistant/pkg/metrics"
)

// Deps are handed through to every stage handler the controller builds.
type Deps struct {
	Speaker   contractx.Speaker
	Gateway   contractx.EmailGateway
	Recipient string
	Prompts   promptx.PromptSet
	Metrics   *metricsx.Recorder
	Operator  io.Writer
}

type Option func(*Controller)

// WithClock overrides the time source used to stamp the session.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// Controller owns the session's current stage and resolves successors
// through its Table. Once ended it refuses further transitions.
type Controller struct {
	mu      sync.Mutex
	table   Table
	session *statex.Session
	deps    Deps
	now     func() time.Time

	ended     bool
	endReason string
}

var _ contractx.Transitioner = (*Controller)(nil)

func New(table Table, session *statex.Session, deps Deps, opts ...Option) (*Controller, error) {
	if err := session.Validate(); err != nil {
		return nil, err
	}
	if deps.Speaker == nil {
		return nil, errors.New("speaker is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("email gateway is required")
	}
	if table == nil {
		table = DefaultTable()
	}
	if deps.Prompts == (promptx.PromptSet{}) {
		deps.Prompts = promptx.LoadPromptSet()
	}
	if err := table.Validate(session.Stage); err != nil {
		return nil, err
	}

	c := &Controller{
		table:   table,
		session: session,
		deps:    deps,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Start builds the handler of the session's initial stage.
func (c *Controller) Start(ctx context.Context) (contractx.Handler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return nil, contractx.ErrSessionEnded
	}
	entry, ok := c.table[c.session.Stage]
	if !ok {
		return nil, fmt.Errorf("%w: %w: stage=%s", contractx.ErrFlowConfig, contractx.ErrUnknownStage, c.session.Stage)
	}
	c.session.Touch(c.now())
	zerolog.Ctx(ctx).Info().Str("stage", string(c.session.Stage)).Msg("Flow started")
	return c.newHandler(entry.Role)
}

// RequestTransition advances to the successor of the current stage. When the
// current stage is terminal the session ends and a nil handler is returned.
func (c *Controller) RequestTransition(ctx context.Context) (contractx.Handler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ended {
		return nil, contractx.ErrSessionEnded
	}

	from := c.session.Stage
	entry, ok := c.table[from]
	if !ok {
		return nil, fmt.Errorf("%w: %w: stage=%s", contractx.ErrFlowConfig, contractx.ErrUnknownStage, from)
	}

	to := entry.Next(c.session)
	if !entry.allows(to) {
		return nil, fmt.Errorf("%w: stage=%s returned undeclared successor %q", contractx.ErrFlowConfig, from, to)
	}
	c.deps.Metrics.Transition(string(from), string(to))

	logger := zerolog.Ctx(ctx)
	if to.IsNone() {
		logger.Info().Str("from", string(from)).Msg("No further stage. Ending session.")
		c.endLocked(ctx, "completed")
		return nil, nil
	}

	next, ok := c.table[to]
	if !ok {
		return nil, fmt.Errorf("%w: %w: stage=%s", contractx.ErrFlowConfig, contractx.ErrUnknownStage, to)
	}
	h, err := c.newHandler(next.Role)
	if err != nil {
		return nil, err
	}

	c.session.Stage = to
	c.session.Touch(c.now())
	logger.Info().Str("from", string(from)).Str("to", string(to)).Msg("Stage transition")
	return h, nil
}

// End marks the session finished. Only the first call has an effect.
func (c *Controller) End(ctx context.Context, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endLocked(ctx, reason)
}

func (c *Controller) endLocked(ctx context.Context, reason string) {
	if c.ended {
		return
	}
	c.ended = true
	c.endReason = reason
	c.session.Touch(c.now())
	c.deps.Metrics.SessionEnded(string(c.session.Stage), reason)
	zerolog.Ctx(ctx).Info().
		Str("stage", string(c.session.Stage)).
		Str("reason", reason).
		Int("items", c.session.List.Len()).
		Msg("Session ended")
}

func (c *Controller) Ended() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ended
}

func (c *Controller) EndReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endReason
}

func (c *Controller) Current() statex.StageID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Stage
}

func (c *Controller) Session() *statex.Session {
	return c.session
}

func (c *Controller) newHandler(role Role) (contractx.Handler, error) {
	deps := stagex.Deps{
		Session:   c.session,
		Flow:      c,
		Speaker:   c.deps.Speaker,
		Gateway:   c.deps.Gateway,
		Recipient: c.deps.Recipient,
		Prompts:   c.deps.Prompts,
		Metrics:   c.deps.Metrics,
		Operator:  c.deps.Operator,
	}

	switch role {
	case RoleCollect:
		h, err := stagex.NewCollect(deps)
		if err != nil {
			return nil, err
		}
		return h, nil
	case RoleSummarize:
		h, err := stagex.NewSummarize(deps)
		if err != nil {
			return nil, err
		}
		return h, nil
	case RoleDeliver:
		h, err := stagex.NewDeliver(deps)
		if err != nil {
			return nil, err
		}
		return h, nil
	default:
		return nil, fmt.Errorf("%w: unsupported %s", contractx.ErrFlowConfig, role)
	}
}
