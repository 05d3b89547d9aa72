package model

import "strings"

// FeedbackStatus is the canonical production status of a feedback record.
type FeedbackStatus string

const (
	StatusPending      FeedbackStatus = "pending"
	StatusInProduction FeedbackStatus = "in_production"
	StatusOnHold       FeedbackStatus = "on_hold"
	StatusCompleted    FeedbackStatus = "completed"
	StatusCancelled    FeedbackStatus = "cancelled"
	StatusRejected     FeedbackStatus = "rejected"
)

// AllStatuses lists every canonical status in lifecycle order.
var AllStatuses = []FeedbackStatus{
	StatusPending,
	StatusInProduction,
	StatusOnHold,
	StatusCompleted,
	StatusCancelled,
	StatusRejected,
}

// statusAliases maps legacy and upstream spellings onto canonical statuses.
var statusAliases = map[string]FeedbackStatus{
	"in_progress": StatusInProduction,
	"failed":      StatusRejected,
}

// NormalizeStatus converts an inbound status string to its canonical form.
// It is the only place status aliases are resolved.
func NormalizeStatus(raw string) (FeedbackStatus, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	for _, st := range AllStatuses {
		if string(st) == s {
			return st, true
		}
	}
	if st, ok := statusAliases[s]; ok {
		return st, true
	}
	return "", false
}

// MapQueueStatus translates a machine-queue status into a feedback status.
// Statuses the queue emits that carry no production meaning return false.
func MapQueueStatus(raw string) (FeedbackStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "in_progress":
		return StatusInProduction, true
	case "completed":
		return StatusCompleted, true
	case "paused":
		return StatusOnHold, true
	case "cancelled":
		return StatusCancelled, true
	default:
		return "", false
	}
}

// IsTerminal reports whether the status ends the production lifecycle.
func (s FeedbackStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusRejected
}

// IsFailure reports whether the status is a terminal failure.
func (s FeedbackStatus) IsFailure() bool {
	return s == StatusCancelled || s == StatusRejected
}

// SummaryColor is the badge color used by dashboards for the status.
func (s FeedbackStatus) SummaryColor() string {
	switch s {
	case StatusCompleted:
		return "success"
	case StatusRejected:
		return "error"
	default:
		return "warning"
	}
}

// SyncStatus tracks propagation of a feedback record to the marketplace.
type SyncStatus string

const (
	SyncPending   SyncStatus = "pending"
	SyncSent      SyncStatus = "sent"
	SyncConfirmed SyncStatus = "confirmed"
	SyncFailed    SyncStatus = "failed"
)
