package usecase

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

const summaryCacheKey = "feedback_summary"

// FeedbackService is what the transports call. It runs transitions through
// the engine and schedules delivery and marketplace sync after commit.
type FeedbackService struct {
	engine       *TransitionEngine
	feedbackRepo storage.FeedbackRepo
	syncer       *MarketplaceSyncWorker
	sink         NotificationSink
	summaries    *cache.Cache
	baseLogger   *zap.Logger
}

// NewFeedbackService wires the service. syncer and sink may be nil.
func NewFeedbackService(
	engine *TransitionEngine,
	feedbackRepo storage.FeedbackRepo,
	syncer *MarketplaceSyncWorker,
	sink NotificationSink,
	summaryTTL time.Duration,
	baseLogger *zap.Logger,
) *FeedbackService {
	if summaryTTL <= 0 {
		summaryTTL = 30 * time.Second
	}
	return &FeedbackService{
		engine:       engine,
		feedbackRepo: feedbackRepo,
		syncer:       syncer,
		sink:         sink,
		summaries:    cache.New(summaryTTL, summaryTTL*2),
		baseLogger:   baseLogger.Named("feedback_service"),
	}
}

// Create creates a record from an API request.
func (s *FeedbackService) Create(ctx context.Context, input model.FeedbackInput) (*model.TransitionResult, error) {
	res, err := s.engine.CreateFeedback(ctx, input)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, res)
	return res, nil
}

// Update applies a manual patch.
func (s *FeedbackService) Update(ctx context.Context, upd model.ManualUpdate) (*model.TransitionResult, error) {
	res, err := s.engine.ApplyManualUpdate(ctx, upd)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, res)
	return res, nil
}

// HandleQueueEvent applies a machine-queue event, from the broker or the
// manual injection endpoint.
func (s *FeedbackService) HandleQueueEvent(ctx context.Context, evt model.QueueEvent) (*model.TransitionResult, error) {
	res, err := s.engine.ApplyQueueEvent(ctx, evt)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, res)
	return res, nil
}

// Delete removes a record and its notifications.
func (s *FeedbackService) Delete(ctx context.Context, feedbackID string) error {
	if err := s.engine.DeleteFeedback(ctx, feedbackID); err != nil {
		return err
	}
	s.summaries.Flush()
	return nil
}

func (s *FeedbackService) Get(ctx context.Context, feedbackID string) (*model.FeedbackRecord, error) {
	return s.feedbackRepo.FindByFeedbackID(ctx, feedbackID)
}

func (s *FeedbackService) ByBatch(ctx context.Context, batchID string) (*model.FeedbackRecord, error) {
	return s.feedbackRepo.FindByBatchID(ctx, batchID)
}

func (s *FeedbackService) ByProduction(ctx context.Context, productionID string) ([]model.FeedbackRecord, error) {
	return s.feedbackRepo.FindByProductionID(ctx, productionID)
}

func (s *FeedbackService) List(ctx context.Context, filter model.FeedbackFilter, page model.Pagination) (*model.FeedbackPage, error) {
	return s.feedbackRepo.List(ctx, filter, page)
}

// Summary returns the dashboard summary, cached for the configured TTL.
// Every applied transition invalidates the cache.
func (s *FeedbackService) Summary(ctx context.Context) (model.FeedbackSummary, error) {
	if cached, ok := s.summaries.Get(summaryCacheKey); ok {
		return cached.(model.FeedbackSummary), nil
	}
	agg, err := s.feedbackRepo.Summarize(ctx)
	if err != nil {
		return model.FeedbackSummary{}, err
	}
	summary := model.BuildSummary(agg)
	s.summaries.Set(summaryCacheKey, summary, cache.DefaultExpiration)
	return summary, nil
}

// SyncMarketplace triggers a synchronous marketplace push.
func (s *FeedbackService) SyncMarketplace(ctx context.Context, feedbackID string) (*SyncResult, error) {
	if s.syncer == nil {
		fb, err := s.feedbackRepo.FindByFeedbackID(ctx, feedbackID)
		if err != nil {
			return nil, err
		}
		return &SyncResult{
			FeedbackID:  fb.FeedbackID,
			SyncStatus:  fb.MarketplaceSyncStatus,
			LastAttempt: fb.MarketplaceLastAttempt,
			Message:     "marketplace integration is not configured",
		}, nil
	}
	return s.syncer.Sync(ctx, feedbackID)
}

// MarketplaceStatus reports the sync state of a record.
func (s *FeedbackService) MarketplaceStatus(ctx context.Context, feedbackID string) (*SyncStatusView, error) {
	if s.syncer == nil {
		fb, err := s.feedbackRepo.FindByFeedbackID(ctx, feedbackID)
		if err != nil {
			return nil, err
		}
		return &SyncStatusView{
			FeedbackID:  fb.FeedbackID,
			BatchID:     fb.BatchID,
			SyncStatus:  fb.MarketplaceSyncStatus,
			LastAttempt: fb.MarketplaceLastAttempt,
			Eligible:    syncEligible(fb),
		}, nil
	}
	return s.syncer.Status(ctx, feedbackID)
}

// afterCommit runs the side effects of an applied transition. Their failures
// are logged and never reach the caller.
func (s *FeedbackService) afterCommit(ctx context.Context, res *model.TransitionResult) {
	if res == nil || !res.Applied {
		return
	}
	defer utils.RecoverWithLog(ctx, "feedback side effects")
	s.summaries.Flush()
	log := logger.FromContextOr(ctx, s.baseLogger)

	if s.sink != nil && len(res.Notifications) > 0 {
		if err := s.sink.Enqueue(ctx, res.Notifications...); err != nil {
			log.Warn("Failed to queue notification delivery",
				zap.String("feedback_id", res.Record.FeedbackID),
				zap.Error(err),
			)
		}
	}
	if s.syncer != nil && res.Delta.SyncRelevant {
		if err := s.syncer.Enqueue(ctx, res.Record); err != nil {
			log.Warn("Failed to queue marketplace sync",
				zap.String("feedback_id", res.Record.FeedbackID),
				zap.Error(err),
			)
		}
	}
}
