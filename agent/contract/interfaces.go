package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
)

// Handler is the behavior bound to the active stage. The dialogue engine
// reads its instructions and tools, activates it once with Enter and then
// routes every interpreted user action through Invoke.
type Handler interface {
	Stage() statex.StageID
	Instructions() string
	Tools() []*schema.ToolInfo
	Enter(ctx context.Context) (Outcome, error)
	Invoke(ctx context.Context, call ToolCall) (Outcome, error)
}

// Transitioner moves the session between stages.
// RequestTransition returns a nil Handler when no further stage exists.
type Transitioner interface {
	RequestTransition(ctx context.Context) (Handler, error)
	End(ctx context.Context, reason string)
}

// Speaker is the say(text) primitive of the dialogue engine.
type Speaker interface {
	Say(ctx context.Context, text string) error
}

// Listener yields interpreted user utterances. io.EOF ends the conversation.
type Listener interface {
	Listen(ctx context.Context) (string, error)
}

// EmailGateway never returns transport errors; failures collapse to false.
type EmailGateway interface {
	Send(ctx context.Context, msg EmailMessage) bool
}
