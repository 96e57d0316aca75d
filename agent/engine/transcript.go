package engine

import (
	"context"
	"sync"

	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
)

// transcript forwards to the real speaker and keeps what was said until the
// engine folds it into the model history.
type transcript struct {
	mu    sync.Mutex
	next  contractx.Speaker
	lines []string
}

var _ contractx.Speaker = (*transcript)(nil)

func (t *transcript) Say(ctx context.Context, text string) error {
	if err := t.next.Say(ctx, text); err != nil {
		return err
	}
	t.mu.Lock()
	t.lines = append(t.lines, text)
	t.mu.Unlock()
	return nil
}

func (t *transcript) drain() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines
	t.lines = nil
	return lines
}
