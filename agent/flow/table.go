package flow

import (
	"fmt"

	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
)

// Role selects which handler implementation backs a stage.
type Role int

const (
	RoleCollect Role = iota + 1
	RoleSummarize
	RoleDeliver
)

func (r Role) String() string {
	switch r {
	case RoleCollect:
		return "collect"
	case RoleSummarize:
		return "summarize"
	case RoleDeliver:
		return "deliver"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

func (r Role) valid() bool {
	return r >= RoleCollect && r <= RoleDeliver
}

// NextFunc decides the successor of a stage. Returning StageNone ends the
// session.
type NextFunc func(s *statex.Session) statex.StageID

// Always returns a NextFunc with a fixed successor.
func Always(id statex.StageID) NextFunc {
	return func(*statex.Session) statex.StageID { return id }
}

// Terminal has no successor.
func Terminal(*statex.Session) statex.StageID { return statex.StageNone }

// Entry binds a stage to its handler role and successor rule. Successors
// declares every stage Next may return; StageNone among them, or an empty
// list, marks the stage as one that may end the session.
type Entry struct {
	Role       Role
	Next       NextFunc
	Successors []statex.StageID
}

// Step is an entry that always moves to one fixed stage.
func Step(role Role, to statex.StageID) Entry {
	return Entry{Role: role, Next: Always(to), Successors: []statex.StageID{to}}
}

// Final is an entry with no successor.
func Final(role Role) Entry {
	return Entry{Role: role, Next: Terminal}
}

// Branch is an entry whose successor depends on the session.
func Branch(role Role, next NextFunc, successors ...statex.StageID) Entry {
	return Entry{Role: role, Next: next, Successors: successors}
}

func (e Entry) mayEnd() bool {
	if len(e.Successors) == 0 {
		return true
	}
	for _, id := range e.Successors {
		if id.IsNone() {
			return true
		}
	}
	return false
}

func (e Entry) allows(to statex.StageID) bool {
	if to.IsNone() {
		return e.mayEnd()
	}
	for _, id := range e.Successors {
		if id == to {
			return true
		}
	}
	return false
}

// Table maps each stage to its handler role and successor rule.
type Table map[statex.StageID]Entry

// DefaultTable is the linear collect -> summarize -> deliver flow.
func DefaultTable() Table {
	return Table{
		statex.StageCollect:   Step(RoleCollect, statex.StageSummarize),
		statex.StageSummarize: Step(RoleSummarize, statex.StageDeliver),
		statex.StageDeliver:   Final(RoleDeliver),
	}
}

// Validate checks every entry and every declared successor, then makes sure
// each stage reachable from initial can still reach one that ends the session.
func (t Table) Validate(initial statex.StageID) error {
	if len(t) == 0 {
		return fmt.Errorf("%w: table is empty", contractx.ErrFlowConfig)
	}
	for id, entry := range t {
		if id.IsNone() {
			return fmt.Errorf("%w: empty stage id", contractx.ErrFlowConfig)
		}
		if entry.Next == nil {
			return fmt.Errorf("%w: stage=%s has no next rule", contractx.ErrFlowConfig, id)
		}
		if !entry.Role.valid() {
			return fmt.Errorf("%w: stage=%s has invalid %s", contractx.ErrFlowConfig, id, entry.Role)
		}
		for _, to := range entry.Successors {
			if to.IsNone() {
				continue
			}
			if _, ok := t[to]; !ok {
				return fmt.Errorf("%w: %w: stage=%s (successor of %s)", contractx.ErrFlowConfig, contractx.ErrUnknownStage, to, id)
			}
		}
	}
	if _, ok := t[initial]; !ok {
		return fmt.Errorf("%w: %w: stage=%s", contractx.ErrFlowConfig, contractx.ErrUnknownStage, initial)
	}

	ends := make(map[statex.StageID]bool, len(t))
	for id, entry := range t {
		ends[id] = entry.mayEnd()
	}
	for changed := true; changed; {
		changed = false
		for id, entry := range t {
			if ends[id] {
				continue
			}
			for _, to := range entry.Successors {
				if ends[to] {
					ends[id] = true
					changed = true
					break
				}
			}
		}
	}

	seen := map[statex.StageID]bool{initial: true}
	queue := []statex.StageID{initial}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if !ends[cur] {
			return fmt.Errorf("%w: stage=%s is part of a cycle with no terminal stage", contractx.ErrFlowConfig, cur)
		}
		for _, to := range t[cur].Successors {
			if to.IsNone() || seen[to] {
				continue
			}
			seen[to] = true
			queue = append(queue, to)
		}
	}
	return nil
}
