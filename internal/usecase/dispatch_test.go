package usecase

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	storagemock "gitlab.com/timkado/api/production-feedback-service/internal/storage/mock"
)

func TestDispatchPolicy_Decide(t *testing.T) {
	policy := NewDispatchPolicy(nil, nil, zap.NewNop())
	fb := &model.FeedbackRecord{FeedbackID: "FB-1", BatchID: "B-1", ProductName: "Widget"}

	tests := []struct {
		name   string
		delta  model.TransitionDelta
		titles []string
	}{
		{
			name:   "explicit create",
			delta:  model.TransitionDelta{NewStatus: model.StatusPending, IsNewRecord: true, Changed: true},
			titles: []string{TitleNewFeedback},
		},
		{
			name:   "auto-created and started",
			delta:  model.TransitionDelta{PreviousStatus: model.StatusPending, NewStatus: model.StatusInProduction, IsNewRecord: true, Changed: true},
			titles: []string{TitleNewFeedback, TitleStatusUpdate},
		},
		{
			name:   "quality drop only",
			delta:  model.TransitionDelta{PreviousStatus: model.StatusInProduction, NewStatus: model.StatusInProduction, PreviousQualityScore: ptr(90.0), NewQualityScore: ptr(70.0), Changed: true},
			titles: []string{TitleQualityAlert},
		},
		{
			name:   "quality rise",
			delta:  model.TransitionDelta{PreviousStatus: model.StatusInProduction, NewStatus: model.StatusInProduction, PreviousQualityScore: ptr(70.0), NewQualityScore: ptr(85.0), Changed: true},
			titles: nil,
		},
		{
			name:   "rejected",
			delta:  model.TransitionDelta{PreviousStatus: model.StatusInProduction, NewStatus: model.StatusRejected, Changed: true},
			titles: []string{TitleStatusUpdate, TitleFailureAlert},
		},
		{
			name: "regression",
			delta: model.TransitionDelta{
				PreviousStatus: model.StatusCompleted, NewStatus: model.StatusInProduction, Changed: true,
				Anomalies: []model.Anomaly{{Kind: model.AnomalyTerminalRegression, Detail: "status reverted from completed to in_production"}},
			},
			titles: []string{TitleStatusUpdate, TitleAnomaly},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Decide(tt.delta, fb)
			titles := make([]string, 0, len(got))
			for _, n := range got {
				titles = append(titles, n.Title)
				assert.Equal(t, "FB-1", n.FeedbackID)
				assert.Equal(t, model.DeliveryInApp, n.DeliveryMethod)
				assert.False(t, n.IsRead)
				assert.False(t, n.IsDelivered)
			}
			if tt.titles == nil {
				assert.Empty(t, titles)
				return
			}
			assert.Equal(t, tt.titles, titles)
		})
	}
}

func TestDispatchPolicy_Messages(t *testing.T) {
	policy := NewDispatchPolicy(nil, nil, zap.NewNop())

	got := policy.Decide(model.TransitionDelta{
		PreviousStatus: model.StatusInProduction,
		NewStatus:      model.StatusOnHold,
		Changed:        true,
	}, &model.FeedbackRecord{FeedbackID: "FB-2", ProductID: "SKU-9"})
	require.Len(t, got, 1)
	assert.Equal(t, "Production for SKU-9 (Batch: FB-2) has been put on hold.", got[0].Message)
	assert.JSONEq(t, `{"previousStatus":"in_production","newStatus":"on_hold"}`, string(got[0].Metadata))
}

func TestDispatchPolicy_PersistContinuesAfterFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	repo := new(storagemock.NotificationRepoMock)
	policy := NewDispatchPolicy(repo, nil, zap.New(core))

	repo.On("Create", mock.Anything, mock.MatchedBy(func(n *model.NotificationRecord) bool {
		return n.Type == model.NotificationNewFeedback
	})).Return(errors.New("disk full")).Once()
	repo.On("Create", mock.Anything, mock.MatchedBy(func(n *model.NotificationRecord) bool {
		return n.Type == model.NotificationStatusChange
	})).Return(nil).Once()

	out := policy.Dispatch(context.Background(), model.TransitionDelta{
		PreviousStatus: model.StatusPending,
		NewStatus:      model.StatusCompleted,
		IsNewRecord:    true,
		Changed:        true,
	}, &model.FeedbackRecord{FeedbackID: "FB-3", BatchID: "B-3"})

	require.Len(t, out, 1)
	assert.Equal(t, model.NotificationStatusChange, out[0].Type)
	assert.Equal(t, "system", out[0].CreatedBy)
	repo.AssertExpectations(t)

	entries := logs.FilterMessage("Failed to persist notification, continuing").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "FB-3", entries[0].ContextMap()["feedback_id"])
}

func TestDispatchPolicy_DispatchSyncFailure(t *testing.T) {
	f := newFixture(t)
	fb := &model.FeedbackRecord{FeedbackID: "FB-4", BatchID: "B-4"}

	out := f.policy.DispatchSyncFailure(testContext(), fb, errors.New("marketplace returned 502"))
	require.Len(t, out, 1)
	assert.Equal(t, model.NotificationMarketplaceSync, out[0].Type)
	assert.Equal(t, model.RecipientAdmin, out[0].RecipientType)
	assert.Equal(t, TitleMarketplaceSync, out[0].Title)
	assert.Contains(t, out[0].Message, "marketplace returned 502")

	stored, err := f.notifications.FindByNotificationID(testContext(), out[0].NotificationID)
	require.NoError(t, err)
	assert.Equal(t, "tester", stored.CreatedBy)
}
