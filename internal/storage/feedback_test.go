package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

func TestFeedback_CreateAndFind(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	fb := model.NewFeedback(&model.FeedbackRecord{BatchID: "B1", ProductionID: "PRD-1", QuantityOrdered: 100})
	require.NoError(t, repo.CreateFeedback(ctx, fb))
	assert.NotZero(t, fb.ID)

	byID, err := repo.FindFeedbackByFeedbackID(ctx, fb.FeedbackID)
	require.NoError(t, err)
	assert.Equal(t, "B1", byID.BatchID)
	assert.Equal(t, model.SyncPending, byID.MarketplaceSyncStatus)

	byBatch, err := repo.FindFeedbackByBatchID(ctx, "B1")
	require.NoError(t, err)
	assert.Equal(t, fb.FeedbackID, byBatch.FeedbackID)

	byProduction, err := repo.FindFeedbacksByProductionID(ctx, "PRD-1")
	require.NoError(t, err)
	assert.Len(t, byProduction, 1)

	_, err = repo.FindFeedbackByFeedbackID(ctx, "FB-missing")
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestFeedback_CreateDuplicateID(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	fb := model.NewFeedback(&model.FeedbackRecord{FeedbackID: "FB-00000001-aaaaaaaa"})
	require.NoError(t, repo.CreateFeedback(ctx, fb))

	dup := model.NewFeedback(&model.FeedbackRecord{FeedbackID: "FB-00000001-aaaaaaaa"})
	err := repo.CreateFeedback(ctx, dup)
	assert.True(t, apperrors.IsDuplicateError(err), "got %v", err)
}

func TestFeedback_MutateCreatesWhenMissing(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	calls := 0
	created, err := repo.MutateFeedback(ctx, FeedbackLookup{BatchID: "B-new"}, func(current *model.FeedbackRecord) (*model.FeedbackRecord, error) {
		calls++
		assert.Nil(t, current)
		return model.NewFeedback(&model.FeedbackRecord{BatchID: "B-new", QuantityOrdered: 10}), nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.NotZero(t, created.ID)

	stored, err := repo.FindFeedbackByBatchID(ctx, "B-new")
	require.NoError(t, err)
	assert.Equal(t, created.FeedbackID, stored.FeedbackID)
}

func TestFeedback_MutateUpdatesLockedRow(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	fb := model.NewFeedback(&model.FeedbackRecord{BatchID: "B2", QuantityOrdered: 100, QuantityProduced: 10})
	require.NoError(t, repo.CreateFeedback(ctx, fb))

	updated, err := repo.MutateFeedback(ctx, FeedbackLookup{BatchID: "B2"}, func(current *model.FeedbackRecord) (*model.FeedbackRecord, error) {
		require.NotNil(t, current)
		assert.Equal(t, 10, current.QuantityProduced)
		current.QuantityProduced = 95
		current.Status = model.StatusCompleted
		current.FeedbackID = "FB-tampered"
		current.RecomputeCompletion()
		return current, nil
	})
	require.NoError(t, err)
	assert.Equal(t, fb.FeedbackID, updated.FeedbackID, "feedbackId is immutable")

	stored, err := repo.FindFeedbackByFeedbackID(ctx, fb.FeedbackID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, stored.Status)
	assert.Equal(t, 95, stored.QuantityProduced)
	assert.InDelta(t, 0.95, stored.CompletionPercentage, 1e-9)
}

func TestFeedback_MutateByBatchTargetsLatestRecord(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	older := model.NewFeedback(&model.FeedbackRecord{FeedbackID: "FB-00000001-older000", BatchID: "B-dup", QuantityOrdered: 10})
	require.NoError(t, repo.CreateFeedback(ctx, older))
	newer := model.NewFeedback(&model.FeedbackRecord{FeedbackID: "FB-00000002-newer000", BatchID: "B-dup", QuantityOrdered: 10})
	require.NoError(t, repo.CreateFeedback(ctx, newer))

	mutated, err := repo.MutateFeedback(ctx, FeedbackLookup{BatchID: "B-dup"}, func(current *model.FeedbackRecord) (*model.FeedbackRecord, error) {
		require.NotNil(t, current)
		current.Status = model.StatusInProduction
		return current, nil
	})
	require.NoError(t, err)

	byBatch, err := repo.FindFeedbackByBatchID(ctx, "B-dup")
	require.NoError(t, err)
	assert.Equal(t, newer.FeedbackID, mutated.FeedbackID)
	assert.Equal(t, mutated.FeedbackID, byBatch.FeedbackID)
	assert.Equal(t, model.StatusInProduction, byBatch.Status)

	untouched, err := repo.FindFeedbackByFeedbackID(ctx, older.FeedbackID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, untouched.Status)
}

func TestFeedback_MutateNoWrite(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	got, err := repo.MutateFeedback(ctx, FeedbackLookup{FeedbackID: "FB-none"}, func(current *model.FeedbackRecord) (*model.FeedbackRecord, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.Nil(t, got)

	page, err := repo.ListFeedback(ctx, model.FeedbackFilter{}, model.Pagination{})
	require.NoError(t, err)
	assert.Zero(t, page.TotalCount)
}

func TestFeedback_ListFiltersAndPages(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.CreateFeedback(ctx, model.NewFeedback(&model.FeedbackRecord{
			ProductName: "Steel Bracket",
			Status:      model.StatusInProduction,
		})))
	}
	require.NoError(t, repo.CreateFeedback(ctx, model.NewFeedback(&model.FeedbackRecord{
		ProductName: "Copper Pipe",
		BatchID:     "B-copper",
		Status:      model.StatusCompleted,
	})))

	page, err := repo.ListFeedback(ctx, model.FeedbackFilter{ProductName: "bracket"}, model.Pagination{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), page.TotalCount)
	assert.Len(t, page.Items, 2)
	assert.True(t, page.HasNextPage)
	assert.False(t, page.HasPreviousPage)

	last, err := repo.ListFeedback(ctx, model.FeedbackFilter{ProductName: "bracket"}, model.Pagination{Page: 3, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, last.Items, 1)
	assert.False(t, last.HasNextPage)
	assert.True(t, last.HasPreviousPage)

	completed, err := repo.ListFeedback(ctx, model.FeedbackFilter{Status: model.StatusCompleted}, model.Pagination{})
	require.NoError(t, err)
	require.Len(t, completed.Items, 1)
	assert.Equal(t, "B-copper", completed.Items[0].BatchID)

	byBatch, err := repo.ListFeedback(ctx, model.FeedbackFilter{BatchID: "B-copper"}, model.Pagination{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, int64(1), byBatch.TotalCount)
}

func TestFeedback_Summarize(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	planned := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	early := planned.Add(-24 * time.Hour)
	late := planned.Add(48 * time.Hour)

	seed := []*model.FeedbackRecord{
		{Status: model.StatusCompleted, QuantityOrdered: 100, QuantityProduced: 100, QuantityRejected: 5, EndDate: &early, PlannedEndDate: &planned},
		{Status: model.StatusCompleted, QuantityOrdered: 100, QuantityProduced: 100, QuantityRejected: 15, EndDate: &late, PlannedEndDate: &planned},
		{Status: model.StatusPending, QuantityOrdered: 50},
		{Status: model.StatusRejected, QuantityOrdered: 50, QuantityProduced: 20, QuantityRejected: 20},
	}
	for _, fb := range seed {
		require.NoError(t, repo.CreateFeedback(ctx, model.NewFeedback(fb)))
	}

	agg, err := repo.SummarizeFeedback(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), agg.Counts[model.StatusCompleted])
	assert.Equal(t, int64(1), agg.Counts[model.StatusPending])
	assert.Equal(t, int64(1), agg.Counts[model.StatusRejected])
	assert.Equal(t, int64(200), agg.CompletedProduced)
	assert.Equal(t, int64(20), agg.CompletedRejected)
	assert.Equal(t, int64(2), agg.CompletedTotal)
	assert.Equal(t, int64(1), agg.CompletedOnTime)

	summary := model.BuildSummary(agg)
	assert.Equal(t, int64(4), summary.Total)
	assert.InDelta(t, 0.1, summary.DefectRate, 1e-9)
	assert.InDelta(t, 0.5, summary.OnTimeRate, 1e-9)
}

func TestFeedback_DeleteCascadesOnlyOwnNotifications(t *testing.T) {
	repo := newSQLiteTestRepo(t)
	ctx := testContext()

	a := model.NewFeedback()
	b := model.NewFeedback()
	require.NoError(t, repo.CreateFeedback(ctx, a))
	require.NoError(t, repo.CreateFeedback(ctx, b))

	for i := 0; i < 2; i++ {
		require.NoError(t, repo.CreateNotification(ctx, model.NewNotification(&model.NotificationRecord{FeedbackID: a.FeedbackID})))
	}
	require.NoError(t, repo.CreateNotification(ctx, model.NewNotification(&model.NotificationRecord{FeedbackID: b.FeedbackID})))

	removed, err := repo.DeleteFeedback(ctx, a.FeedbackID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	_, err = repo.FindFeedbackByFeedbackID(ctx, a.FeedbackID)
	assert.True(t, apperrors.IsNotFoundError(err))

	remaining, err := repo.FindNotificationsByFeedbackID(ctx, b.FeedbackID)
	require.NoError(t, err)
	assert.Len(t, remaining, 1)

	_, err = repo.DeleteFeedback(ctx, a.FeedbackID)
	assert.True(t, apperrors.IsNotFoundError(err))
}
