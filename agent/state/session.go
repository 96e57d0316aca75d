package state

import (
	"errors"
	"fmt"
	"time"
)

// StageID identifies one phase of the conversation flow.
type StageID string

const (
	StageNone      StageID = ""
	StageCollect   StageID = "collect"
	StageSummarize StageID = "summarize"
	StageDeliver   StageID = "deliver"
)

func (s StageID) IsNone() bool {
	return s == StageNone
}

// Session is the per-conversation source-of-truth handed from stage to stage.
// - Position: Stage (owned by the flow controller)
// - Context:  List (mutated by stage actions)
type Session struct {
	ID    string        `json:"id"`
	Stage StageID       `json:"stage"`
	List  *ShoppingList `json:"-"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

var (
	ErrNilSession     = errors.New("session is nil")
	ErrInvalidSession = errors.New("session id is empty")
)

func NewSession(id string, initial StageID, now time.Time) *Session {
	return &Session{
		ID:        id,
		Stage:     initial,
		List:      NewShoppingList(),
		StartedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}

func (s *Session) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

func (s *Session) Validate() error {
	if s == nil {
		return ErrNilSession
	}
	if s.ID == "" {
		return ErrInvalidSession
	}
	if s.List == nil {
		return fmt.Errorf("session %s has no shopping list", s.ID)
	}
	return nil
}

/* ----------------------------- ShoppingList ----------------------------- */

// ShoppingList holds the collected products and a log of list actions.
// Names are stored as spoken (case-sensitive) and each appears at most once.
type ShoppingList struct {
	items map[string]int
	order []string
	log   []string
}

func NewShoppingList() *ShoppingList {
	return &ShoppingList{
		items: make(map[string]int, 8),
	}
}

// Add inserts name with quantity 1. Re-adding an existing name is a no-op.
func (l *ShoppingList) Add(name string) {
	if l.items == nil {
		l.items = make(map[string]int, 8)
	}
	if _, ok := l.items[name]; ok {
		return
	}
	l.items[name] = 1
	l.order = append(l.order, name)
	l.log = append(l.log, fmt.Sprintf("Added '%s' to shopping list", name))
}

func (l *ShoppingList) Contains(name string) bool {
	_, ok := l.items[name]
	return ok
}

// Quantity is always 1 for listed products and 0 otherwise.
func (l *ShoppingList) Quantity(name string) int {
	return l.items[name]
}

// Items returns the distinct product names in first-insertion order.
func (l *ShoppingList) Items() []string {
	return append([]string(nil), l.order...)
}

func (l *ShoppingList) Len() int {
	return len(l.order)
}

func (l *ShoppingList) IsEmpty() bool {
	return len(l.order) == 0
}

// Log returns the append-only action log.
func (l *ShoppingList) Log() []string {
	return append([]string(nil), l.log...)
}
