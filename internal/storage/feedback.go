package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

const feedbackEntity = "feedback"

// FeedbackLookup selects the row a locked mutation operates on.
// FeedbackID wins when both fields are set.
type FeedbackLookup struct {
	FeedbackID string
	BatchID    string
}

func (l FeedbackLookup) String() string {
	if l.FeedbackID != "" {
		return "feedback_id=" + l.FeedbackID
	}
	return "batch_id=" + l.BatchID
}

// FeedbackMutation receives the row read under lock, or nil when no row
// matched, and returns the row to persist. Returning nil writes nothing.
// It may be invoked more than once when a transient failure is retried.
type FeedbackMutation func(current *model.FeedbackRecord) (*model.FeedbackRecord, error)

// CreateFeedback inserts a new feedback record.
func (r *PostgresRepo) CreateFeedback(ctx context.Context, fb *model.FeedbackRecord) (err error) {
	start := time.Now()
	defer func() { observe(ctx, "create", feedbackEntity, start, err) }()

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(fb).Error)
	}
	err = retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "CreateFeedback", operation)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create feedback",
			zap.String("feedback_id", fb.FeedbackID),
			zap.String("batch_id", fb.BatchID),
			zap.Error(err))
	}
	return err
}

// MutateFeedback runs a read-modify-write on one feedback row inside a
// transaction that holds a row lock, so the mutation always sees the state
// committed immediately before it.
func (r *PostgresRepo) MutateFeedback(ctx context.Context, lookup FeedbackLookup, mutate FeedbackMutation) (result *model.FeedbackRecord, err error) {
	if lookup.FeedbackID == "" && lookup.BatchID == "" {
		return nil, fmt.Errorf("%w: feedback lookup requires feedbackId or batchId", apperrors.ErrInvalidEvent)
	}
	start := time.Now()
	defer func() { observe(ctx, "mutate", feedbackEntity, start, err) }()
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					loggerCtx.Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		query := tx.Clauses(clause.Locking{Strength: "UPDATE"})
		if lookup.FeedbackID != "" {
			query = query.Where("feedback_id = ?", lookup.FeedbackID)
		} else {
			// same record FindFeedbackByBatchID returns
			query = query.Where("batch_id = ?", lookup.BatchID).Order("id DESC")
		}

		var current *model.FeedbackRecord
		var locked model.FeedbackRecord
		findErr := query.First(&locked).Error
		switch {
		case findErr == nil:
			current = &locked
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			current = nil
		default:
			txErr = checkConstraintViolation(findErr)
			return txErr
		}

		var snapshot *model.FeedbackRecord
		if current != nil {
			cp := *current
			snapshot = &cp
		}
		next, mutErr := mutate(snapshot)
		if mutErr != nil {
			txErr = mutErr
			return txErr
		}

		if next != nil {
			var writeErr error
			if current == nil {
				writeErr = tx.Create(next).Error
			} else {
				next.ID = current.ID
				next.FeedbackID = current.FeedbackID
				next.CreatedAt = current.CreatedAt
				writeErr = tx.Save(next).Error
			}
			if writeErr != nil {
				txErr = checkConstraintViolation(writeErr)
				return txErr
			}
			result = next
		} else {
			result = current
		}

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit feedback mutation: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	err = retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "MutateFeedback", operation)
	if err != nil {
		if !apperrors.IsNotFoundError(err) && !apperrors.IsInvalidEventError(err) {
			loggerCtx.Error("Failed to mutate feedback after retries",
				zap.String("lookup", lookup.String()),
				zap.Error(err))
		}
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepo) findFeedback(ctx context.Context, opName, column, value string) (fb *model.FeedbackRecord, err error) {
	start := time.Now()
	defer func() { observe(ctx, opName, feedbackEntity, start, err) }()

	var record model.FeedbackRecord
	operation := func() error {
		result := r.db.WithContext(ctx).Where(column+" = ?", value).Order("id DESC").First(&record)
		if result.Error != nil {
			return checkConstraintViolation(result.Error)
		}
		return nil
	}

	err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), opName, operation)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: feedback with %s %s", apperrors.ErrNotFound, column, value)
		}
		logger.FromContext(ctx).Error("Failed to find feedback after retries",
			zap.String(column, value),
			zap.Error(err))
		return nil, err
	}
	return &record, nil
}

// FindFeedbackByFeedbackID loads a feedback record by its external ID.
func (r *PostgresRepo) FindFeedbackByFeedbackID(ctx context.Context, feedbackID string) (*model.FeedbackRecord, error) {
	return r.findFeedback(ctx, "FindFeedbackByFeedbackID", "feedback_id", feedbackID)
}

// FindFeedbackByBatchID loads the most recent feedback record of a batch.
func (r *PostgresRepo) FindFeedbackByBatchID(ctx context.Context, batchID string) (*model.FeedbackRecord, error) {
	return r.findFeedback(ctx, "FindFeedbackByBatchID", "batch_id", batchID)
}

// FindFeedbacksByProductionID lists the feedback records of a production order.
func (r *PostgresRepo) FindFeedbacksByProductionID(ctx context.Context, productionID string) (records []model.FeedbackRecord, err error) {
	start := time.Now()
	defer func() { observe(ctx, "FindFeedbacksByProductionID", feedbackEntity, start, err) }()

	operation := func() error {
		records = nil
		return checkConstraintViolation(r.db.WithContext(ctx).
			Where("production_id = ?", productionID).
			Order("created_at DESC").
			Find(&records).Error)
	}
	err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindFeedbacksByProductionID", operation)
	if err != nil {
		return nil, err
	}
	return records, nil
}

func applyFeedbackFilter(db *gorm.DB, filter model.FeedbackFilter) *gorm.DB {
	if filter.Status != "" {
		db = db.Where("status = ?", filter.Status)
	}
	if filter.BatchID != "" {
		db = db.Where("batch_id = ?", filter.BatchID)
	}
	if name := strings.TrimSpace(filter.ProductName); name != "" {
		db = db.Where("LOWER(product_name) LIKE ?", "%"+strings.ToLower(name)+"%")
	}
	if filter.StartDate != nil {
		db = db.Where("created_at >= ?", filter.StartDate.UTC())
	}
	if filter.EndDate != nil {
		db = db.Where("created_at <= ?", filter.EndDate.UTC())
	}
	return db
}

// ListFeedback returns one page of feedback records, newest first.
func (r *PostgresRepo) ListFeedback(ctx context.Context, filter model.FeedbackFilter, page model.Pagination) (out *model.FeedbackPage, err error) {
	start := time.Now()
	defer func() { observe(ctx, "ListFeedback", feedbackEntity, start, err) }()

	limit, offset := page.Window()
	var (
		total int64
		items []model.FeedbackRecord
	)
	operation := func() error {
		items = nil
		base := applyFeedbackFilter(r.db.WithContext(ctx).Model(&model.FeedbackRecord{}), filter)
		if err := base.Count(&total).Error; err != nil {
			return checkConstraintViolation(err)
		}
		query := applyFeedbackFilter(r.db.WithContext(ctx).Model(&model.FeedbackRecord{}), filter)
		return checkConstraintViolation(query.Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&items).Error)
	}
	if err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "ListFeedback", operation); err != nil {
		return nil, err
	}

	if items == nil {
		items = []model.FeedbackRecord{}
	}
	return &model.FeedbackPage{
		Items:           items,
		TotalCount:      total,
		HasNextPage:     int64(offset+len(items)) < total,
		HasPreviousPage: offset > 0,
	}, nil
}

type statusCountRow struct {
	Status model.FeedbackStatus
	Count  int64
}

type completedTotalsRow struct {
	Produced int64
	Rejected int64
	Total    int64
}

// SummarizeFeedback aggregates counts and completed-run totals for dashboards.
func (r *PostgresRepo) SummarizeFeedback(ctx context.Context) (agg model.SummaryAggregate, err error) {
	start := time.Now()
	defer func() { observe(ctx, "SummarizeFeedback", feedbackEntity, start, err) }()

	operation := func() error {
		agg = model.SummaryAggregate{Counts: make(map[model.FeedbackStatus]int64)}

		var rows []statusCountRow
		if err := r.db.WithContext(ctx).Model(&model.FeedbackRecord{}).
			Select("status, COUNT(*) AS count").
			Group("status").
			Scan(&rows).Error; err != nil {
			return checkConstraintViolation(err)
		}
		for _, row := range rows {
			if st, ok := model.NormalizeStatus(string(row.Status)); ok {
				agg.Counts[st] += row.Count
			}
		}

		var totals completedTotalsRow
		if err := r.db.WithContext(ctx).Model(&model.FeedbackRecord{}).
			Select("COALESCE(SUM(quantity_produced), 0) AS produced, COALESCE(SUM(quantity_rejected), 0) AS rejected, COUNT(*) AS total").
			Where("status = ?", model.StatusCompleted).
			Scan(&totals).Error; err != nil {
			return checkConstraintViolation(err)
		}
		agg.CompletedProduced = totals.Produced
		agg.CompletedRejected = totals.Rejected
		agg.CompletedTotal = totals.Total

		var completed []model.FeedbackRecord
		if err := r.db.WithContext(ctx).
			Select("end_date", "planned_end_date").
			Where("status = ? AND end_date IS NOT NULL AND planned_end_date IS NOT NULL", model.StatusCompleted).
			Find(&completed).Error; err != nil {
			return checkConstraintViolation(err)
		}
		for _, fb := range completed {
			if !fb.EndDate.After(*fb.PlannedEndDate) {
				agg.CompletedOnTime++
			}
		}
		return nil
	}

	err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "SummarizeFeedback", operation)
	return agg, err
}

// DeleteFeedback removes a feedback record and every notification that references it.
func (r *PostgresRepo) DeleteFeedback(ctx context.Context, feedbackID string) (removedNotifications int64, err error) {
	start := time.Now()
	defer func() { observe(ctx, "delete", feedbackEntity, start, err) }()
	loggerCtx := logger.FromContext(ctx)

	operation := func() error {
		tx := r.db.WithContext(ctx).Begin()
		if tx.Error != nil {
			return fmt.Errorf("%w: failed to begin transaction: %w", apperrors.ErrDatabase, tx.Error)
		}
		var txErr error
		defer func() {
			if p := recover(); p != nil {
				tx.Rollback()
				panic(p)
			} else if txErr != nil {
				if rbErr := tx.Rollback().Error; rbErr != nil {
					loggerCtx.Error("Failed to rollback transaction after error", zap.Error(rbErr), zap.NamedError("originalTxError", txErr))
				}
			}
		}()

		res := tx.Where("feedback_id = ?", feedbackID).Delete(&model.FeedbackRecord{})
		if res.Error != nil {
			txErr = checkConstraintViolation(res.Error)
			return txErr
		}
		if res.RowsAffected == 0 {
			txErr = fmt.Errorf("%w: feedback %s", apperrors.ErrNotFound, feedbackID)
			return txErr
		}

		notifRes := tx.Where("feedback_id = ?", feedbackID).Delete(&model.NotificationRecord{})
		if notifRes.Error != nil {
			txErr = checkConstraintViolation(notifRes.Error)
			return txErr
		}
		removedNotifications = notifRes.RowsAffected

		if commitErr := tx.Commit().Error; commitErr != nil {
			txErr = fmt.Errorf("%w: failed to commit feedback delete: %w", apperrors.ErrDatabase, commitErr)
			return txErr
		}
		return nil
	}

	err = retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "DeleteFeedback", operation)
	if err != nil {
		return 0, err
	}
	return removedNotifications, nil
}
