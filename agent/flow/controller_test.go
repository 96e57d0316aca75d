package flow

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	contractx "github.com/tanpawarit/shopping-voice-assistant/agent/contract"
	stagex "github.com/tanpawarit/shopping-voice-assistant/agent/stage"
	statex "github.com/tanpawarit/shopping-voice-assistant/agent/state"
	toolx "github.com/tanpawarit/shopping-voice-assistant/agent/tool"
	metricsx "github.com/tanpawarit/shopping-voice-assistant/pkg/metrics"
)

type captureSpeaker struct {
	said []string
}

func (c *captureSpeaker) Say(ctx context.Context, text string) error {
	c.said = append(c.said, text)
	return nil
}

type stubGateway struct {
	ok    bool
	calls int
}

func (s *stubGateway) Send(ctx context.Context, msg contractx.EmailMessage) bool {
	s.calls++
	return s.ok
}

type harness struct {
	ctrl     *Controller
	speaker  *captureSpeaker
	gateway  *stubGateway
	registry *prometheus.Registry
	metrics  *metricsx.Recorder
}

func newHarness(t *testing.T, gatewayOK bool) *harness {
	t.Helper()

	reg := prometheus.NewRegistry()
	h := &harness{
		speaker:  &captureSpeaker{},
		gateway:  &stubGateway{ok: gatewayOK},
		registry: reg,
		metrics:  metricsx.New(reg),
	}
	session := statex.NewSession("test-session", statex.StageCollect, time.Now())
	ctrl, err := New(nil, session, Deps{
		Speaker:   h.speaker,
		Gateway:   h.gateway,
		Recipient: "user@example.com",
		Metrics:   h.metrics,
		Operator:  &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.ctrl = ctrl
	return h
}

func mustEnter(t *testing.T, h contractx.Handler) contractx.Outcome {
	t.Helper()
	out, err := h.Enter(context.Background())
	if err != nil {
		t.Fatalf("Enter(%s) error = %v", h.Stage(), err)
	}
	return out
}

func mustInvoke(t *testing.T, h contractx.Handler, name string, args map[string]any) contractx.Outcome {
	t.Helper()
	out, err := h.Invoke(context.Background(), contractx.ToolCall{Name: name, Args: args})
	if err != nil {
		t.Fatalf("Invoke(%s) error = %v", name, err)
	}
	return out
}

func TestDefaultTableValidates(t *testing.T) {
	t.Parallel()

	if err := DefaultTable().Validate(statex.StageCollect); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestTableValidateRejectsBadConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		table   Table
		initial statex.StageID
		unknown bool
	}{
		{name: "empty", table: Table{}, initial: statex.StageCollect},
		{
			name:    "missing initial",
			table:   Table{statex.StageDeliver: Final(RoleDeliver)},
			initial: statex.StageCollect,
			unknown: true,
		},
		{
			name: "dangling successor",
			table: Table{
				statex.StageCollect: Step(RoleCollect, "checkout"),
			},
			initial: statex.StageCollect,
			unknown: true,
		},
		{
			name: "branch to missing stage",
			table: Table{
				statex.StageCollect: Branch(RoleCollect, listDependent(statex.StageSummarize), statex.StageSummarize, statex.StageNone),
			},
			initial: statex.StageCollect,
			unknown: true,
		},
		{
			name: "unreachable entry with dangling successor",
			table: Table{
				statex.StageCollect: Final(RoleCollect),
				statex.StageDeliver: Step(RoleDeliver, "checkout"),
			},
			initial: statex.StageCollect,
			unknown: true,
		},
		{
			name: "nil next",
			table: Table{
				statex.StageCollect: {Role: RoleCollect},
			},
			initial: statex.StageCollect,
		},
		{
			name: "invalid role",
			table: Table{
				statex.StageCollect: {Next: Terminal},
			},
			initial: statex.StageCollect,
		},
		{
			name: "cycle",
			table: Table{
				statex.StageCollect:   Step(RoleCollect, statex.StageSummarize),
				statex.StageSummarize: Step(RoleSummarize, statex.StageCollect),
			},
			initial: statex.StageCollect,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.table.Validate(tt.initial)
			if !errors.Is(err, contractx.ErrFlowConfig) {
				t.Fatalf("Validate() error = %v, want ErrFlowConfig", err)
			}
			if tt.unknown && !errors.Is(err, contractx.ErrUnknownStage) {
				t.Fatalf("Validate() error = %v, want ErrUnknownStage", err)
			}
		})
	}
}

func TestNewRejectsUnknownInitialStage(t *testing.T) {
	t.Parallel()

	session := statex.NewSession("s", "checkout", time.Now())
	_, err := New(nil, session, Deps{Speaker: &captureSpeaker{}, Gateway: &stubGateway{}})
	if !errors.Is(err, contractx.ErrUnknownStage) {
		t.Fatalf("New() error = %v, want ErrUnknownStage", err)
	}
}

func TestNewRequiresDeps(t *testing.T) {
	t.Parallel()

	session := statex.NewSession("s", statex.StageCollect, time.Now())
	if _, err := New(nil, session, Deps{Gateway: &stubGateway{}}); err == nil {
		t.Fatal("expected error without speaker")
	}
	if _, err := New(nil, session, Deps{Speaker: &captureSpeaker{}}); err == nil {
		t.Fatal("expected error without gateway")
	}
	if _, err := New(nil, nil, Deps{Speaker: &captureSpeaker{}, Gateway: &stubGateway{}}); !errors.Is(err, statex.ErrNilSession) {
		t.Fatalf("New() error = %v, want ErrNilSession", err)
	}
}

func TestTransitionsAreDeterministic(t *testing.T) {
	t.Parallel()

	for i := 0; i < 3; i++ {
		h := newHarness(t, true)
		ctx := context.Background()

		var got []statex.StageID
		for {
			next, err := h.ctrl.RequestTransition(ctx)
			if err != nil {
				t.Fatalf("RequestTransition() error = %v", err)
			}
			if next == nil {
				break
			}
			got = append(got, next.Stage())
		}

		want := []statex.StageID{statex.StageSummarize, statex.StageDeliver}
		if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
			t.Fatalf("run %d: stages = %v, want %v", i, got, want)
		}
		if !h.ctrl.Ended() || h.ctrl.EndReason() != "completed" {
			t.Fatalf("run %d: ended=%v reason=%q", i, h.ctrl.Ended(), h.ctrl.EndReason())
		}
	}
}

func TestTerminalStateIsStable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	ctx := context.Background()
	h.ctrl.End(ctx, "declined")
	h.ctrl.End(ctx, "other")

	if h.ctrl.EndReason() != "declined" {
		t.Fatalf("EndReason() = %q, want first reason", h.ctrl.EndReason())
	}
	for i := 0; i < 2; i++ {
		next, err := h.ctrl.RequestTransition(ctx)
		if !errors.Is(err, contractx.ErrSessionEnded) || next != nil {
			t.Fatalf("RequestTransition() = %v, %v; want nil, ErrSessionEnded", next, err)
		}
	}
	if h.ctrl.Current() != statex.StageCollect {
		t.Fatalf("Current() = %q, want collect", h.ctrl.Current())
	}
	if _, err := h.ctrl.Start(ctx); !errors.Is(err, contractx.ErrSessionEnded) {
		t.Fatalf("Start() error = %v, want ErrSessionEnded", err)
	}
}

// listDependent ends the session on an empty list and moves to "to" otherwise.
func listDependent(to statex.StageID) NextFunc {
	return func(s *statex.Session) statex.StageID {
		if s.List.IsEmpty() {
			return statex.StageNone
		}
		return to
	}
}

func TestCustomTableBranches(t *testing.T) {
	t.Parallel()

	table := Table{
		statex.StageCollect: Branch(RoleCollect, listDependent(statex.StageDeliver), statex.StageDeliver, statex.StageNone),
		statex.StageDeliver: Final(RoleDeliver),
	}
	session := statex.NewSession("s", statex.StageCollect, time.Now())
	session.List.Add("tea")
	ctrl, err := New(table, session, Deps{Speaker: &captureSpeaker{}, Gateway: &stubGateway{ok: true}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	next, err := ctrl.RequestTransition(context.Background())
	if err != nil {
		t.Fatalf("RequestTransition() error = %v", err)
	}
	if next == nil || next.Stage() != statex.StageDeliver {
		t.Fatalf("next = %v, want deliver handler", next)
	}
}

func TestNewRejectsBranchToMissingStage(t *testing.T) {
	t.Parallel()

	table := Table{
		statex.StageCollect: Branch(RoleCollect, listDependent(statex.StageSummarize), statex.StageSummarize, statex.StageNone),
	}
	session := statex.NewSession("s", statex.StageCollect, time.Now())
	_, err := New(table, session, Deps{Speaker: &captureSpeaker{}, Gateway: &stubGateway{}})
	if !errors.Is(err, contractx.ErrUnknownStage) {
		t.Fatalf("New() error = %v, want ErrUnknownStage", err)
	}
}

func TestRequestTransitionRejectsUndeclaredSuccessor(t *testing.T) {
	t.Parallel()

	table := Table{
		statex.StageCollect: Branch(RoleCollect, listDependent(statex.StageDeliver), statex.StageNone),
		statex.StageDeliver: Final(RoleDeliver),
	}
	session := statex.NewSession("s", statex.StageCollect, time.Now())
	ctrl, err := New(table, session, Deps{Speaker: &captureSpeaker{}, Gateway: &stubGateway{}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	session.List.Add("tea")

	next, err := ctrl.RequestTransition(context.Background())
	if !errors.Is(err, contractx.ErrFlowConfig) || next != nil {
		t.Fatalf("RequestTransition() = %v, %v; want nil, ErrFlowConfig", next, err)
	}
	if ctrl.Current() != statex.StageCollect || ctrl.Ended() {
		t.Fatalf("current=%q ended=%v, want collect and not ended", ctrl.Current(), ctrl.Ended())
	}
}

func TestScenarioCollectSummarizeDeliver(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	ctx := context.Background()

	collect, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mustEnter(t, collect)
	for _, name := range []string{"milk", "milk", "eggs"} {
		mustInvoke(t, collect, toolx.ToolAddProduct, map[string]any{"product_name": name})
	}
	if got := h.ctrl.Session().List.Items(); len(got) != 2 {
		t.Fatalf("Items() = %v, want [milk eggs]", got)
	}

	out := mustInvoke(t, collect, toolx.ToolFinishShopping, nil)
	if out.Next == nil || out.Next.Stage() != statex.StageSummarize {
		t.Fatalf("finish_shopping outcome = %#v", out)
	}
	summarize := out.Next
	if out := mustEnter(t, summarize); out.Terminal {
		t.Fatal("summary of non-empty list must not end the session")
	}

	out = mustInvoke(t, summarize, toolx.ToolConfirmEmailSend, map[string]any{"choice": "yes"})
	if out.Next == nil || out.Next.Stage() != statex.StageDeliver {
		t.Fatalf("confirm_email_send outcome = %#v", out)
	}
	if out := mustEnter(t, out.Next); !out.Terminal {
		t.Fatal("deliver must end the session")
	}

	if h.gateway.calls != 1 {
		t.Fatalf("gateway calls = %d, want 1", h.gateway.calls)
	}
	if h.ctrl.EndReason() != stagex.ReasonDelivered {
		t.Fatalf("EndReason() = %q", h.ctrl.EndReason())
	}
	if _, err := h.ctrl.RequestTransition(ctx); !errors.Is(err, contractx.ErrSessionEnded) {
		t.Fatalf("RequestTransition() after deliver error = %v", err)
	}
	series, err := testutil.GatherAndCount(h.registry, "shopping_assistant_stage_transitions_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if series != 2 {
		t.Fatalf("transition series = %d, want 2", series)
	}
	ended, err := testutil.GatherAndCount(h.registry, "shopping_assistant_sessions_ended_total")
	if err != nil {
		t.Fatalf("GatherAndCount() error = %v", err)
	}
	if ended != 1 {
		t.Fatalf("ended series = %d, want 1", ended)
	}
}

func TestScenarioEmptyListEndsAtSummary(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	ctx := context.Background()

	collect, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	out := mustInvoke(t, collect, toolx.ToolFinishShopping, nil)
	if out := mustEnter(t, out.Next); !out.Terminal {
		t.Fatal("empty summary must be terminal")
	}

	if h.ctrl.Current() != statex.StageSummarize {
		t.Fatalf("Current() = %q, want summarize", h.ctrl.Current())
	}
	if h.ctrl.EndReason() != stagex.ReasonEmptyList {
		t.Fatalf("EndReason() = %q", h.ctrl.EndReason())
	}
	if h.gateway.calls != 0 {
		t.Fatalf("gateway calls = %d, want 0", h.gateway.calls)
	}
}

func TestScenarioDeclineSkipsDelivery(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)
	ctx := context.Background()

	collect, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mustInvoke(t, collect, toolx.ToolAddProduct, map[string]any{"product_name": "bread"})
	summarize := mustInvoke(t, collect, toolx.ToolFinishShopping, nil).Next
	mustEnter(t, summarize)

	out := mustInvoke(t, summarize, toolx.ToolConfirmEmailSend, map[string]any{"choice": "no"})
	if !out.Terminal || out.Next != nil {
		t.Fatalf("decline outcome = %#v", out)
	}
	if h.gateway.calls != 0 {
		t.Fatalf("gateway calls = %d, want 0", h.gateway.calls)
	}
	if h.ctrl.Current() != statex.StageSummarize {
		t.Fatalf("Current() = %q, want summarize", h.ctrl.Current())
	}
	if h.ctrl.EndReason() != stagex.ReasonDeclined {
		t.Fatalf("EndReason() = %q", h.ctrl.EndReason())
	}
}

func TestScenarioDeliveryFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	ctx := context.Background()

	collect, err := h.ctrl.Start(ctx)
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	mustInvoke(t, collect, toolx.ToolAddProduct, map[string]any{"product_name": "bread"})
	summarize := mustInvoke(t, collect, toolx.ToolFinishShopping, nil).Next
	mustEnter(t, summarize)
	deliver := mustInvoke(t, summarize, toolx.ToolConfirmEmailSend, map[string]any{"choice": "yes"}).Next

	if out := mustEnter(t, deliver); !out.Terminal {
		t.Fatal("deliver must be terminal on failure")
	}
	if h.ctrl.EndReason() != stagex.ReasonDeliveryFailed {
		t.Fatalf("EndReason() = %q", h.ctrl.EndReason())
	}
	last := h.speaker.said[len(h.speaker.said)-1]
	if last != "I'm sorry, there was an issue sending your email. Please check your email configuration or try again later." {
		t.Fatalf("last utterance = %q", last)
	}
}
