package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/marketplace"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

// Marketplace sync triggers, used as metric labels.
const (
	SyncTriggerManual     = "manual"
	SyncTriggerTransition = "transition"
)

const marketplacePoolName = "marketplace"

// SyncResult describes one marketplace sync attempt.
type SyncResult struct {
	FeedbackID  string           `json:"feedbackId"`
	Attempted   bool             `json:"attempted"`
	Success     bool             `json:"success"`
	SyncStatus  model.SyncStatus `json:"syncStatus"`
	LastAttempt *time.Time       `json:"lastAttempt,omitempty"`
	Message     string           `json:"message"`
	Error       string           `json:"error,omitempty"`
}

// SyncStatusView is the marketplace state of one feedback record.
type SyncStatusView struct {
	FeedbackID  string           `json:"feedbackId"`
	BatchID     string           `json:"batchId,omitempty"`
	SyncStatus  model.SyncStatus `json:"marketplaceStatus"`
	LastAttempt *time.Time       `json:"lastUpdate,omitempty"`
	Eligible    bool             `json:"eligible"`
	Configured  bool             `json:"configured"`
}

// NotificationSink receives notifications persisted outside a transition.
type NotificationSink interface {
	Enqueue(ctx context.Context, notifications ...model.NotificationRecord) error
}

type syncTask struct {
	ctx        context.Context // detached from the request
	feedbackID string
}

// MarketplaceSyncWorker pushes feedback state to the marketplace, either
// inline for manual requests or through a worker pool after transitions.
type MarketplaceSyncWorker struct {
	pool         *ants.PoolWithFunc
	feedbackRepo storage.FeedbackRepo
	dispatcher   *DispatchPolicy
	sink         NotificationSink
	pusher       marketplace.Pusher
	cfg          config.MarketplaceConfig
	now          func() time.Time
	baseLogger   *zap.Logger
}

// NewMarketplaceSyncWorker creates the worker and its pool.
func NewMarketplaceSyncWorker(
	cfg config.MarketplaceConfig,
	poolCfg config.WorkerPoolConfig,
	feedbackRepo storage.FeedbackRepo,
	dispatcher *DispatchPolicy,
	pusher marketplace.Pusher,
	baseLogger *zap.Logger,
) (*MarketplaceSyncWorker, error) {
	w := &MarketplaceSyncWorker{
		feedbackRepo: feedbackRepo,
		dispatcher:   dispatcher,
		pusher:       pusher,
		cfg:          cfg,
		now:          time.Now,
		baseLogger:   baseLogger.Named("marketplace_worker"),
	}

	pool, err := ants.NewPoolWithFunc(poolCfg.PoolSize, func(i interface{}) {
		task, ok := i.(syncTask)
		if !ok {
			w.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		w.process(task)
	},
		ants.WithExpiryDuration(poolCfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(poolCfg.QueueSize),
		ants.WithPanicHandler(func(p interface{}) {
			observer.IncWorkerTask(marketplacePoolName, "panic")
			w.baseLogger.Error("Panic recovered in marketplace worker", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create marketplace worker pool: %w", err)
	}
	w.pool = pool
	w.baseLogger.Info("Marketplace worker pool initialized",
		zap.Int("pool_size", poolCfg.PoolSize),
		zap.Int("queue_size", poolCfg.QueueSize),
		zap.Bool("configured", pusher.Configured()),
		zap.Bool("retry_enabled", cfg.Retry.Enabled),
	)
	return w, nil
}

// SetNotificationSink routes sync-failure notifications to delivery.
func (w *MarketplaceSyncWorker) SetNotificationSink(sink NotificationSink) {
	w.sink = sink
}

// Enqueue schedules a background sync after a committed transition.
// Records failing the precondition are skipped without error.
func (w *MarketplaceSyncWorker) Enqueue(ctx context.Context, fb *model.FeedbackRecord) error {
	if !syncEligible(fb) {
		return nil
	}
	if !w.pusher.Configured() {
		observer.IncMarketplaceSyncSkipped(SyncTriggerTransition)
		return nil
	}

	err := w.pool.Invoke(syncTask{ctx: context.WithoutCancel(ctx), feedbackID: fb.FeedbackID})
	if err != nil {
		observer.IncWorkerTask(marketplacePoolName, "submit_error")
		logger.FromContextOr(ctx, w.baseLogger).Warn("Failed to submit marketplace sync task",
			zap.String("feedback_id", fb.FeedbackID),
			zap.Error(err),
		)
		if errors.Is(err, ants.ErrPoolOverload) {
			return fmt.Errorf("marketplace pool overload: %w", err)
		}
		return fmt.Errorf("failed to invoke marketplace task: %w", err)
	}
	observer.IncWorkerTask(marketplacePoolName, "submitted")
	return nil
}

// Sync pushes one record inline and reports the outcome. It makes a single
// attempt regardless of the retry setting.
func (w *MarketplaceSyncWorker) Sync(ctx context.Context, feedbackID string) (*SyncResult, error) {
	fb, err := w.feedbackRepo.FindByFeedbackID(ctx, feedbackID)
	if err != nil {
		return nil, err
	}
	result := &SyncResult{
		FeedbackID:  fb.FeedbackID,
		SyncStatus:  fb.MarketplaceSyncStatus,
		LastAttempt: fb.MarketplaceLastAttempt,
	}
	if !syncEligible(fb) {
		result.Message = "feedback needs a batch ID and a status other than pending before it can be synced"
		return result, nil
	}
	if !w.pusher.Configured() {
		observer.IncMarketplaceSyncSkipped(SyncTriggerManual)
		result.Message = "marketplace integration is not configured"
		return result, nil
	}

	pushErr := w.push(ctx, SyncTriggerManual, fb)
	updated, err := w.recordOutcome(ctx, fb, pushErr)
	if err != nil {
		return nil, err
	}
	if pushErr != nil {
		w.notifyFailure(ctx, updated, pushErr)
	}

	result.Attempted = true
	result.Success = pushErr == nil
	result.SyncStatus = updated.MarketplaceSyncStatus
	result.LastAttempt = updated.MarketplaceLastAttempt
	if pushErr != nil {
		result.Message = "marketplace sync failed"
		result.Error = pushErr.Error()
	} else {
		result.Message = "marketplace sync succeeded"
	}
	return result, nil
}

// Status reports the marketplace state of a record.
func (w *MarketplaceSyncWorker) Status(ctx context.Context, feedbackID string) (*SyncStatusView, error) {
	fb, err := w.feedbackRepo.FindByFeedbackID(ctx, feedbackID)
	if err != nil {
		return nil, err
	}
	return &SyncStatusView{
		FeedbackID:  fb.FeedbackID,
		BatchID:     fb.BatchID,
		SyncStatus:  fb.MarketplaceSyncStatus,
		LastAttempt: fb.MarketplaceLastAttempt,
		Eligible:    syncEligible(fb),
		Configured:  w.pusher.Configured(),
	}, nil
}

// Stop releases the pool, waiting up to timeout for running tasks.
func (w *MarketplaceSyncWorker) Stop(timeout time.Duration) {
	w.baseLogger.Info("Stopping marketplace worker pool", zap.Int("running", w.pool.Running()))
	if err := w.pool.ReleaseTimeout(timeout); err != nil {
		w.baseLogger.Warn("Marketplace worker pool did not stop in time", zap.Error(err))
	}
}

func (w *MarketplaceSyncWorker) process(task syncTask) {
	start := time.Now()
	defer func() { observer.ObserveWorkerTaskDuration(marketplacePoolName, time.Since(start)) }()
	log := logger.FromContextOr(task.ctx, w.baseLogger).With(zap.String("feedback_id", task.feedbackID))

	// Push the latest committed state, not the one seen at enqueue time.
	fb, err := w.feedbackRepo.FindByFeedbackID(task.ctx, task.feedbackID)
	if err != nil {
		log.Warn("Skipping marketplace sync, feedback not readable", zap.Error(err))
		observer.IncWorkerTask(marketplacePoolName, "skipped")
		return
	}
	if !syncEligible(fb) {
		observer.IncWorkerTask(marketplacePoolName, "skipped")
		return
	}

	var pushErr error
	if w.cfg.Retry.Enabled {
		pushErr = w.pushWithRetry(task.ctx, fb)
	} else {
		pushErr = w.push(task.ctx, SyncTriggerTransition, fb)
	}

	updated, err := w.recordOutcome(task.ctx, fb, pushErr)
	if err != nil {
		log.Error("Failed to record marketplace sync outcome", zap.Error(err))
		observer.IncWorkerTask(marketplacePoolName, "error")
		return
	}
	if pushErr != nil {
		w.notifyFailure(task.ctx, updated, pushErr)
		observer.IncWorkerTask(marketplacePoolName, "failed")
		return
	}
	observer.IncWorkerTask(marketplacePoolName, "success")
}

func (w *MarketplaceSyncWorker) notifyFailure(ctx context.Context, fb *model.FeedbackRecord, pushErr error) {
	logger.FromContextOr(ctx, w.baseLogger).Warn("Marketplace sync failed",
		zap.String("feedback_id", fb.FeedbackID),
		zap.String("batch_id", fb.BatchID),
		zap.Error(pushErr),
	)
	persisted := w.dispatcher.DispatchSyncFailure(ctx, fb, pushErr)
	if w.sink != nil && len(persisted) > 0 {
		if err := w.sink.Enqueue(ctx, persisted...); err != nil {
			logger.FromContextOr(ctx, w.baseLogger).Warn("Failed to queue sync failure notification", zap.Error(err))
		}
	}
}

func (w *MarketplaceSyncWorker) push(ctx context.Context, trigger string, fb *model.FeedbackRecord) error {
	start := time.Now()
	err := w.pusher.PushUpdate(ctx, marketplace.NewUpdatePayload(fb))
	observer.ObserveMarketplaceSync(trigger, time.Since(start), err)
	return err
}

func (w *MarketplaceSyncWorker) pushWithRetry(ctx context.Context, fb *model.FeedbackRecord) error {
	b := backoff.NewExponentialBackOff()
	if w.cfg.Retry.InitialInterval > 0 {
		b.InitialInterval = w.cfg.Retry.InitialInterval
	}
	if w.cfg.Retry.MaxElapsedTime > 0 {
		b.MaxElapsedTime = w.cfg.Retry.MaxElapsedTime
	}
	b.Reset()

	// The final attempt is stamped by recordOutcome.
	notify := func(err error, d time.Duration) {
		log := logger.FromContextOr(ctx, w.baseLogger)
		log.Warn("Retrying marketplace sync",
			zap.String("feedback_id", fb.FeedbackID),
			zap.Error(err),
			zap.Duration("after", d),
		)
		if recErr := w.recordAttempt(ctx, fb.FeedbackID); recErr != nil {
			log.Warn("Failed to record marketplace sync attempt",
				zap.String("feedback_id", fb.FeedbackID),
				zap.Error(recErr),
			)
		}
	}
	return backoff.RetryNotify(func() error {
		return w.push(ctx, SyncTriggerTransition, fb)
	}, backoff.WithContext(b, ctx), notify)
}

// recordAttempt stamps lastAttempt for a failed attempt that will be retried.
func (w *MarketplaceSyncWorker) recordAttempt(ctx context.Context, feedbackID string) error {
	now := w.now().UTC()
	_, err := w.feedbackRepo.Mutate(ctx, storage.FeedbackLookup{FeedbackID: feedbackID},
		func(current *model.FeedbackRecord) (*model.FeedbackRecord, error) {
			if current == nil {
				return nil, fmt.Errorf("feedback %s deleted during marketplace sync", feedbackID)
			}
			next := *current
			next.MarketplaceLastAttempt = &now
			return &next, nil
		})
	return err
}

// recordOutcome stores lastAttempt and the sync status. If the record changed
// while the push was in flight, the status stays pending so the newer state
// is pushed by its own sync.
func (w *MarketplaceSyncWorker) recordOutcome(ctx context.Context, pushed *model.FeedbackRecord, pushErr error) (*model.FeedbackRecord, error) {
	now := w.now().UTC()
	updated, err := w.feedbackRepo.Mutate(ctx, storage.FeedbackLookup{FeedbackID: pushed.FeedbackID},
		func(current *model.FeedbackRecord) (*model.FeedbackRecord, error) {
			if current == nil {
				return nil, fmt.Errorf("feedback %s deleted during marketplace sync", pushed.FeedbackID)
			}
			next := *current
			next.MarketplaceLastAttempt = &now
			switch {
			case !sameFeedbackState(current, pushed):
				next.MarketplaceSyncStatus = model.SyncPending
			case pushErr != nil:
				next.MarketplaceSyncStatus = model.SyncFailed
			default:
				next.MarketplaceSyncStatus = model.SyncSent
			}
			return &next, nil
		})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
