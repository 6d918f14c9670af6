package metrics

import (
	"errors"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"meetbook/internal/model"
)

var (
	once sync.Once

	submissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetbook",
			Name:      "submissions_total",
			Help:      "Booking submissions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	cancellations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetbook",
			Name:      "cancellations_total",
			Help:      "Rows flipped to canceled, by kind.",
		},
		[]string{"kind"},
	)

	holds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetbook",
			Name:      "holds_total",
			Help:      "Soft lock rows by action.",
		},
		[]string{"action"},
	)

	workflowSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetbook",
			Name:      "workflow_transitions_total",
			Help:      "Booking workflow transitions by target state.",
		},
		[]string{"state"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "meetbook",
			Name:      "http_requests_total",
			Help:      "API requests by route and status code.",
		},
		[]string{"route", "status"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(submissions, cancellations, holds, workflowSteps, httpRequests)
	})
}

// Outcome classifies a submission result for the outcome label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "committed"
	case errors.Is(err, model.ErrValidation), errors.Is(err, model.ErrRoomNotBookable):
		return "invalid"
	case errors.Is(err, model.ErrConflict):
		return "conflict"
	case errors.Is(err, model.ErrLockRace):
		return "lock_race"
	case errors.Is(err, model.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}

func ObserveSubmission(kind string, err error) {
	submissions.WithLabelValues(kind, Outcome(err)).Inc()
}

func AddCancellations(kind string, n int) {
	cancellations.WithLabelValues(kind).Add(float64(n))
}

func AddHolds(action string, n int) {
	holds.WithLabelValues(action).Add(float64(n))
}

func IncWorkflowTransition(state string) {
	workflowSteps.WithLabelValues(state).Inc()
}

func IncHTTP(route string, status int) {
	httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}
