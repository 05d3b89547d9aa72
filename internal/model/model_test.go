package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
)

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		in   string
		want FeedbackStatus
		ok   bool
	}{
		{"pending", StatusPending, true},
		{"IN_PRODUCTION", StatusInProduction, true},
		{" in_progress ", StatusInProduction, true},
		{"failed", StatusRejected, true},
		{"paused", "", false},
		{"canceled", "", false},
		{"completed", StatusCompleted, true},
		{"", "", false},
		{"shipped", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeStatus(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMapQueueStatus(t *testing.T) {
	cases := map[string]FeedbackStatus{
		"in_progress": StatusInProduction,
		"completed":   StatusCompleted,
		"paused":      StatusOnHold,
		"cancelled":   StatusCancelled,
	}
	for raw, want := range cases {
		got, ok := MapQueueStatus(raw)
		assert.True(t, ok, raw)
		assert.Equal(t, want, got, raw)
	}

	_, ok := MapQueueStatus("waiting")
	assert.False(t, ok)
	_, ok = MapQueueStatus("in_production")
	assert.False(t, ok, "queue statuses are not feedback statuses")
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusRejected.IsTerminal())
	assert.True(t, StatusCancelled.IsFailure())
	assert.False(t, StatusCompleted.IsFailure())
	assert.False(t, StatusOnHold.IsTerminal())

	assert.Equal(t, "success", StatusCompleted.SummaryColor())
	assert.Equal(t, "error", StatusRejected.SummaryColor())
	assert.Equal(t, "warning", StatusCancelled.SummaryColor())
}

func TestCompletionRatio(t *testing.T) {
	assert.Equal(t, 0.95, CompletionRatio(95, 100))
	assert.Equal(t, 1.0, CompletionRatio(120, 100))
	assert.Equal(t, 0.0, CompletionRatio(0, 100))
	assert.Equal(t, 1.0, CompletionRatio(5, 0), "ordered is floored at one")
	assert.Equal(t, 0.0, CompletionRatio(-3, 10))

	fb := NewFeedback(&FeedbackRecord{QuantityOrdered: 200, QuantityProduced: 50})
	assert.Equal(t, 0.25, fb.CompletionPercentage)
	fb.RecomputeCompletion()
	assert.Equal(t, 0.25, fb.CompletionPercentage)
}

func TestFeedbackLockKey(t *testing.T) {
	assert.Equal(t, "batch:B1", FeedbackLockKey("B1", "FB-1"))
	assert.Equal(t, "feedback:FB-1", FeedbackLockKey("", "FB-1"))
}

func TestPaginationWindow(t *testing.T) {
	tests := []struct {
		name       string
		p          Pagination
		limit, off int
	}{
		{"defaults", Pagination{}, DefaultPageSize, 0},
		{"page based", Pagination{Page: 3, PageSize: 20}, 20, 40},
		{"page without size", Pagination{Page: 2}, DefaultPageSize, DefaultPageSize},
		{"limit offset", Pagination{Limit: 5, Offset: 15}, 5, 15},
		{"clamped", Pagination{Limit: 1000}, MaxPageSize, 0},
		{"negative offset", Pagination{Limit: 5, Offset: -1}, 5, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limit, off := tt.p.Window()
			assert.Equal(t, tt.limit, limit)
			assert.Equal(t, tt.off, off)
		})
	}
}

func TestBuildSummary(t *testing.T) {
	summary := BuildSummary(SummaryAggregate{
		Counts: map[FeedbackStatus]int64{
			StatusPending:   2,
			StatusCompleted: 3,
			StatusRejected:  1,
		},
		CompletedProduced: 200,
		CompletedRejected: 10,
		CompletedTotal:    3,
		CompletedOnTime:   2,
	})

	assert.Equal(t, int64(6), summary.Total)
	assert.Len(t, summary.Status, len(AllStatuses))
	assert.InDelta(t, 0.05, summary.DefectRate, 1e-9)
	assert.InDelta(t, 2.0/3.0, summary.OnTimeRate, 1e-9)
	for _, sc := range summary.Status {
		if sc.Status == StatusCompleted {
			assert.Equal(t, int64(3), sc.Count)
			assert.Equal(t, "success", sc.Color)
		}
	}

	empty := BuildSummary(SummaryAggregate{})
	assert.Zero(t, empty.Total)
	assert.Zero(t, empty.DefectRate)
	assert.Zero(t, empty.OnTimeRate)
}

func TestDecodeQueueMessage(t *testing.T) {
	start := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	raw, err := json.Marshal(map[string]any{
		"queueId":           "Q-1",
		"batchId":           "B1",
		"status":            "completed",
		"productName":       "Widget",
		"completedQuantity": 95,
		"actualStartTime":   start,
	})
	require.NoError(t, err)

	evt, err := DecodeQueueMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, "Q-1", evt.QueueID)
	assert.Equal(t, "B1", evt.BatchID)
	require.NotNil(t, evt.CompletedQuantity)
	assert.Equal(t, 95, *evt.CompletedQuantity)
	assert.Nil(t, evt.Quantity)
	require.NotNil(t, evt.ActualStartTime)
	assert.True(t, start.Equal(*evt.ActualStartTime))
	assert.Equal(t, "queue", evt.Source())
}

func TestDecodeQueueMessage_Invalid(t *testing.T) {
	tests := map[string]string{
		"malformed":       `{"queueId":`,
		"missing queue":   `{"batchId":"B1","status":"completed"}`,
		"missing batch":   `{"queueId":"Q","status":"completed"}`,
		"missing status":  `{"queueId":"Q","batchId":"B1"}`,
		"negative counts": `{"queueId":"Q","batchId":"B1","status":"completed","completedQuantity":-1}`,
	}
	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeQueueMessage([]byte(payload))
			require.Error(t, err)
			assert.True(t, apperrors.IsInvalidEventError(err))
		})
	}
}

func TestNewManualUpdate(t *testing.T) {
	legacy := "in_progress"
	upd, err := NewManualUpdate("FB-1", FeedbackPatch{Status: &legacy}, "alice")
	require.NoError(t, err)
	require.NotNil(t, upd.Fields.Status)
	assert.Equal(t, string(StatusInProduction), *upd.Fields.Status)
	assert.Equal(t, "in_progress", legacy)
	assert.Equal(t, "manual", upd.Source())

	_, err = NewManualUpdate("  ", FeedbackPatch{}, "alice")
	assert.True(t, apperrors.IsInvalidEventError(err))

	bogus := "shipped"
	_, err = NewManualUpdate("FB-1", FeedbackPatch{Status: &bogus}, "alice")
	assert.True(t, apperrors.IsInvalidEventError(err))
}

func TestTransitionDelta(t *testing.T) {
	ninety, seventy := 90.0, 70.0
	d := TransitionDelta{
		PreviousStatus:       StatusInProduction,
		NewStatus:            StatusCompleted,
		PreviousQualityScore: &ninety,
		NewQualityScore:      &seventy,
		Anomalies:            []Anomaly{{Kind: AnomalyQuantityOverrun}},
	}
	assert.True(t, d.StatusChanged())
	diff, ok := d.QualityScoreDelta()
	assert.True(t, ok)
	assert.Equal(t, -20.0, diff)
	assert.True(t, d.HasAnomaly(AnomalyQuantityOverrun))
	assert.False(t, d.HasAnomaly(AnomalyTerminalRegression))

	created := TransitionDelta{IsNewRecord: true, NewStatus: StatusPending}
	assert.False(t, created.StatusChanged())
	_, ok = created.QualityScoreDelta()
	assert.False(t, ok)

	autoCreated := TransitionDelta{IsNewRecord: true, PreviousStatus: StatusPending, NewStatus: StatusInProduction}
	assert.True(t, autoCreated.StatusChanged())
}

func TestFeedbackPatchIsEmpty(t *testing.T) {
	assert.True(t, FeedbackPatch{}.IsEmpty())
	notes := "x"
	assert.False(t, FeedbackPatch{Notes: &notes}.IsEmpty())
}

func TestEnumValidity(t *testing.T) {
	assert.True(t, NotificationAnomaly.Valid())
	assert.False(t, NotificationType("push").Valid())
	assert.True(t, RecipientAll.Valid())
	assert.False(t, RecipientType("group").Valid())
	assert.True(t, PriorityCritical.Valid())
	assert.False(t, Priority("urgent").Valid())
	assert.True(t, DeliveryBoth.InApp())
	assert.True(t, DeliveryBoth.Email())
	assert.False(t, DeliveryInApp.Email())
}
