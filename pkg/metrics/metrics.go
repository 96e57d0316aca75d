package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "shopping_assistant"

// Recorder counts flow activity. A nil *Recorder is valid and records nothing.
type Recorder struct {
	transitions *prometheus.CounterVec
	actions     *prometheus.CounterVec
	emails      *prometheus.CounterVec
	endings     *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_transitions_total",
				Help:      "Total number of stage transitions",
			},
			[]string{"from", "to"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Total number of callable actions invoked by the dialogue engine",
			},
			[]string{"stage", "action"},
		),
		emails: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "email_sends_total",
				Help:      "Total number of shopping list email attempts",
			},
			[]string{"success"},
		),
		endings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_ended_total",
				Help:      "Total number of conversations that reached a terminal signal",
			},
			[]string{"stage", "reason"},
		),
	}
	if reg != nil {
		reg.MustRegister(r.transitions, r.actions, r.emails, r.endings)
	}
	return r
}

func (r *Recorder) Transition(from, to string) {
	if r == nil {
		return
	}
	if to == "" {
		to = "none"
	}
	r.transitions.WithLabelValues(from, to).Inc()
}

func (r *Recorder) Action(stage, action string) {
	if r == nil {
		return
	}
	r.actions.WithLabelValues(stage, action).Inc()
}

func (r *Recorder) EmailSend(ok bool) {
	if r == nil {
		return
	}
	r.emails.WithLabelValues(strconv.FormatBool(ok)).Inc()
}

func (r *Recorder) SessionEnded(stage, reason string) {
	if r == nil {
		return
	}
	r.endings.WithLabelValues(stage, reason).Inc()
}
