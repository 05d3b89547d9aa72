package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/idgen"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
	"gitlab.com/timkado/api/production-feedback-service/internal/validator"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

const autoCreatedNotesPrefix = "auto-created from machine queue: "

// TransitionEngine applies events to feedback records. Every status change
// goes through it.
type TransitionEngine struct {
	feedbackRepo storage.FeedbackRepo
	dispatcher   *DispatchPolicy
	locks        *KeyedMutex
	ids          *idgen.Generator
	baseLogger   *zap.Logger
}

// NewTransitionEngine wires the engine to its repository and dispatch policy.
func NewTransitionEngine(feedbackRepo storage.FeedbackRepo, dispatcher *DispatchPolicy, ids *idgen.Generator, baseLogger *zap.Logger) *TransitionEngine {
	if ids == nil {
		ids = idgen.New()
	}
	return &TransitionEngine{
		feedbackRepo: feedbackRepo,
		dispatcher:   dispatcher,
		locks:        NewKeyedMutex(),
		ids:          ids,
		baseLogger:   baseLogger.Named("transition_engine"),
	}
}

// CreateFeedback creates a record from an explicit API request.
func (e *TransitionEngine) CreateFeedback(ctx context.Context, input model.FeedbackInput) (*model.TransitionResult, error) {
	if err := validator.Validate(input); err != nil {
		return nil, err
	}
	status := model.StatusPending
	if input.Status != "" {
		st, ok := model.NormalizeStatus(input.Status)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidEvent, input.Status)
		}
		status = st
	}

	actor := tenant.ActorFromContext(ctx)
	fb := &model.FeedbackRecord{
		FeedbackID:            e.ids.FeedbackID(),
		BatchID:               input.BatchID,
		ProductionID:          input.ProductionID,
		ProductID:             input.ProductID,
		ProductName:           input.ProductName,
		Status:                status,
		QuantityOrdered:       input.QuantityOrdered,
		QualityScore:          input.QualityScore,
		Notes:                 input.Notes,
		CustomerNotes:         input.CustomerNotes,
		MarketplaceSyncStatus: model.SyncPending,
		StartDate:             input.StartDate,
		EndDate:               input.EndDate,
		PlannedEndDate:        input.PlannedEndDate,
		CreatedBy:             actor,
		UpdatedBy:             actor,
	}
	fb.RecomputeCompletion()

	unlock := e.locks.Lock(fb.LockKey())
	defer unlock()

	if err := e.feedbackRepo.Create(ctx, fb); err != nil {
		return nil, classifyPersistenceError(err, "create feedback")
	}

	delta := model.TransitionDelta{
		NewStatus:       fb.Status,
		NewQualityScore: fb.QualityScore,
		IsNewRecord:     true,
		Changed:         true,
		SyncRelevant:    syncEligible(fb),
	}
	return e.finish(ctx, "manual", fb, delta), nil
}

// ApplyManualUpdate patches an existing record. An unknown reference is
// ErrNotFound and nothing is created.
func (e *TransitionEngine) ApplyManualUpdate(ctx context.Context, upd model.ManualUpdate) (*model.TransitionResult, error) {
	if upd.FeedbackRef == "" {
		return nil, fmt.Errorf("%w: feedback reference is required", apperrors.ErrInvalidEvent)
	}
	if err := validator.Validate(upd.Fields); err != nil {
		return nil, err
	}
	var status *model.FeedbackStatus
	if upd.Fields.Status != nil {
		st, ok := model.NormalizeStatus(*upd.Fields.Status)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", apperrors.ErrInvalidEvent, *upd.Fields.Status)
		}
		status = &st
	}

	// Lock keys come from the stored batch so manual and queue updates share
	// them. A patch moving the record to another batch also holds the new
	// batch's key. The row lock taken by Mutate covers reads older than this.
	existing, err := e.feedbackRepo.FindByFeedbackID(ctx, upd.FeedbackRef)
	if err != nil {
		return nil, err
	}
	keys := []string{existing.LockKey()}
	if upd.Fields.BatchID != nil {
		keys = append(keys, model.FeedbackLockKey(*upd.Fields.BatchID, existing.FeedbackID))
	}
	unlock := e.locks.LockAll(keys...)
	defer unlock()

	actor := upd.Actor
	if actor == "" {
		actor = tenant.ActorFromContext(ctx)
	}

	var delta model.TransitionDelta
	record, err := e.feedbackRepo.Mutate(ctx, storage.FeedbackLookup{FeedbackID: upd.FeedbackRef},
		func(current *model.FeedbackRecord) (*model.FeedbackRecord, error) {
			if current == nil {
				return nil, fmt.Errorf("%w: feedback %s", apperrors.ErrNotFound, upd.FeedbackRef)
			}
			next := *current
			applyPatch(&next, upd.Fields, status)
			delta = computeDelta(current, &next, false, upd.AllowOverrun)
			if !delta.Changed {
				return nil, nil
			}
			stampTransition(&next, current, delta, actor)
			return &next, nil
		})
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return nil, err
		}
		return nil, classifyPersistenceError(err, "apply manual update")
	}

	if !delta.Changed {
		return &model.TransitionResult{Record: record, Delta: delta, Message: "no changes"}, nil
	}
	return e.finish(ctx, upd.Source(), record, delta), nil
}

// ApplyQueueEvent applies a machine-queue update. Unknown queue statuses are
// ignored. An unknown batch is auto-created in pending before the transition.
func (e *TransitionEngine) ApplyQueueEvent(ctx context.Context, evt model.QueueEvent) (*model.TransitionResult, error) {
	if err := evt.Validate(); err != nil {
		return nil, err
	}
	log := logger.FromContextOr(ctx, e.baseLogger).With(
		zap.String("queue_id", evt.QueueID),
		zap.String("batch_id", evt.BatchID),
	)

	target, ok := model.MapQueueStatus(evt.Status)
	if !ok {
		log.Info("Ignoring queue event with unmapped status", zap.String("queue_status", evt.Status))
		return &model.TransitionResult{Message: fmt.Sprintf("status %q ignored", evt.Status)}, nil
	}

	unlock := e.locks.Lock(model.FeedbackLockKey(evt.BatchID, ""))
	defer unlock()

	var (
		delta       model.TransitionDelta
		autoCreated bool
	)
	record, err := e.feedbackRepo.Mutate(ctx, storage.FeedbackLookup{BatchID: evt.BatchID},
		func(current *model.FeedbackRecord) (*model.FeedbackRecord, error) {
			isNew := current == nil
			autoCreated = isNew
			if isNew {
				current = e.seedFromQueue(evt)
			}
			next := *current
			next.Status = target
			if evt.ActualStartTime != nil {
				next.StartDate = evt.ActualStartTime
			}
			if evt.ActualEndTime != nil {
				next.EndDate = evt.ActualEndTime
			}
			if evt.CompletedQuantity != nil {
				next.QuantityProduced = *evt.CompletedQuantity
			}
			next.RecomputeCompletion()

			delta = computeDelta(current, &next, isNew, false)
			if !delta.Changed {
				return nil, nil
			}
			stampTransition(&next, current, delta, tenant.SystemActor)
			return &next, nil
		})
	if err != nil {
		return nil, classifyPersistenceError(err, "apply queue event")
	}

	if autoCreated {
		observer.IncFeedbackAutoCreated()
		log.Info("Auto-created feedback for unknown batch", zap.String("feedback_id", record.FeedbackID))
	}
	if !delta.Changed {
		return &model.TransitionResult{Record: record, Delta: delta, Message: "no changes"}, nil
	}
	return e.finish(ctx, evt.Source(), record, delta), nil
}

// DeleteFeedback removes a record and its notifications. It bypasses the
// transition rules.
func (e *TransitionEngine) DeleteFeedback(ctx context.Context, feedbackID string) error {
	existing, err := e.feedbackRepo.FindByFeedbackID(ctx, feedbackID)
	if err != nil {
		return err
	}
	unlock := e.locks.Lock(existing.LockKey())
	defer unlock()

	removed, err := e.feedbackRepo.Delete(ctx, feedbackID)
	if err != nil {
		return err
	}
	logger.FromContextOr(ctx, e.baseLogger).Info("Feedback deleted",
		zap.String("feedback_id", feedbackID),
		zap.Int64("notifications_removed", removed),
	)
	return nil
}

func (e *TransitionEngine) seedFromQueue(evt model.QueueEvent) *model.FeedbackRecord {
	ordered := 0
	if evt.Quantity != nil {
		ordered = *evt.Quantity
	}
	return &model.FeedbackRecord{
		FeedbackID:            e.ids.FeedbackID(),
		BatchID:               evt.BatchID,
		ProductName:           evt.ProductName,
		Status:                model.StatusPending,
		QuantityOrdered:       ordered,
		Notes:                 autoCreatedNotesPrefix + evt.QueueID,
		MarketplaceSyncStatus: model.SyncPending,
		CreatedBy:             tenant.SystemActor,
		UpdatedBy:             tenant.SystemActor,
	}
}

// finish runs after commit: metrics, anomaly logging and notification dispatch.
func (e *TransitionEngine) finish(ctx context.Context, source string, fb *model.FeedbackRecord, delta model.TransitionDelta) *model.TransitionResult {
	log := logger.FromContextOr(ctx, e.baseLogger).With(
		zap.String("feedback_id", fb.FeedbackID),
		zap.String("batch_id", fb.BatchID),
		zap.String("source", source),
	)

	if delta.StatusChanged() || delta.IsNewRecord {
		observer.IncTransition(string(delta.PreviousStatus), string(delta.NewStatus), source)
	}
	for _, a := range delta.Anomalies {
		observer.IncAnomalousTransition(string(a.Kind), source)
		log.Warn("Anomalous transition applied",
			zap.String("kind", string(a.Kind)),
			zap.String("detail", a.Detail),
			zap.Error(apperrors.ErrAnomalousTransition),
		)
	}

	notifications := e.dispatcher.Dispatch(ctx, delta, fb)
	log.Debug("Transition applied",
		zap.String("previous_status", string(delta.PreviousStatus)),
		zap.String("new_status", string(delta.NewStatus)),
		zap.Bool("is_new_record", delta.IsNewRecord),
		zap.Int("notifications", len(notifications)),
	)
	return &model.TransitionResult{
		Record:        fb,
		Delta:         delta,
		Notifications: notifications,
		Applied:       true,
	}
}

func applyPatch(fb *model.FeedbackRecord, p model.FeedbackPatch, status *model.FeedbackStatus) {
	if p.BatchID != nil {
		fb.BatchID = *p.BatchID
	}
	if p.ProductionID != nil {
		fb.ProductionID = *p.ProductionID
	}
	if p.ProductID != nil {
		fb.ProductID = *p.ProductID
	}
	if p.ProductName != nil {
		fb.ProductName = *p.ProductName
	}
	if status != nil {
		fb.Status = *status
	}
	if p.QuantityOrdered != nil {
		fb.QuantityOrdered = *p.QuantityOrdered
	}
	if p.QuantityProduced != nil {
		fb.QuantityProduced = *p.QuantityProduced
	}
	if p.QuantityRejected != nil {
		fb.QuantityRejected = *p.QuantityRejected
	}
	if p.QualityScore != nil {
		score := *p.QualityScore
		fb.QualityScore = &score
	}
	if p.Notes != nil {
		fb.Notes = *p.Notes
	}
	if p.CustomerNotes != nil {
		fb.CustomerNotes = *p.CustomerNotes
	}
	if p.StartDate != nil {
		fb.StartDate = p.StartDate
	}
	if p.EndDate != nil {
		fb.EndDate = p.EndDate
	}
	if p.PlannedEndDate != nil {
		fb.PlannedEndDate = p.PlannedEndDate
	}
	fb.RecomputeCompletion()
}

// computeDelta compares the locked row with the proposed state. For
// auto-created records, before is the pending seed.
func computeDelta(before, after *model.FeedbackRecord, isNew, allowOverrun bool) model.TransitionDelta {
	delta := model.TransitionDelta{
		PreviousStatus:       before.Status,
		NewStatus:            after.Status,
		PreviousQualityScore: before.QualityScore,
		NewQualityScore:      after.QualityScore,
		IsNewRecord:          isNew,
	}
	if isNew {
		delta.PreviousQualityScore = nil
	}
	delta.Changed = isNew || !sameFeedbackState(before, after)
	if !delta.Changed {
		return delta
	}

	if !isNew && before.Status.IsTerminal() && !after.Status.IsTerminal() {
		delta.Anomalies = append(delta.Anomalies, model.Anomaly{
			Kind:   model.AnomalyTerminalRegression,
			Detail: fmt.Sprintf("status reverted from %s to %s", before.Status, after.Status),
		})
	}
	quantitiesTouched := isNew ||
		before.QuantityOrdered != after.QuantityOrdered ||
		before.QuantityProduced != after.QuantityProduced ||
		before.QuantityRejected != after.QuantityRejected
	if !allowOverrun && quantitiesTouched && after.QuantityProduced+after.QuantityRejected > after.QuantityOrdered {
		delta.Anomalies = append(delta.Anomalies, model.Anomaly{
			Kind: model.AnomalyQuantityOverrun,
			Detail: fmt.Sprintf("produced %d + rejected %d exceeds ordered %d",
				after.QuantityProduced, after.QuantityRejected, after.QuantityOrdered),
		})
	}
	delta.SyncRelevant = syncEligible(after)
	return delta
}

// stampTransition updates audit, anomaly and sync bookkeeping on a changed record.
func stampTransition(next, before *model.FeedbackRecord, delta model.TransitionDelta, actor string) {
	next.UpdatedBy = actor
	next.IsAnomalous = len(delta.Anomalies) > 0
	if before.MarketplaceSyncStatus == model.SyncSent || before.MarketplaceSyncStatus == model.SyncConfirmed {
		next.MarketplaceSyncStatus = model.SyncPending
	}
	if next.MarketplaceSyncStatus == "" {
		next.MarketplaceSyncStatus = model.SyncPending
	}
}

// syncEligible is the marketplace precondition: a batch reference and work started.
func syncEligible(fb *model.FeedbackRecord) bool {
	return fb.BatchID != "" && fb.Status != model.StatusPending
}

func sameFeedbackState(a, b *model.FeedbackRecord) bool {
	return a.BatchID == b.BatchID &&
		a.ProductionID == b.ProductionID &&
		a.ProductID == b.ProductID &&
		a.ProductName == b.ProductName &&
		a.Status == b.Status &&
		a.QuantityOrdered == b.QuantityOrdered &&
		a.QuantityProduced == b.QuantityProduced &&
		a.QuantityRejected == b.QuantityRejected &&
		sameFloat(a.QualityScore, b.QualityScore) &&
		a.Notes == b.Notes &&
		a.CustomerNotes == b.CustomerNotes &&
		sameTime(a.StartDate, b.StartDate) &&
		sameTime(a.EndDate, b.EndDate) &&
		sameTime(a.PlannedEndDate, b.PlannedEndDate)
}

func sameFloat(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// classifyPersistenceError tags storage failures for callers that retry.
func classifyPersistenceError(err error, op string) error {
	switch {
	case apperrors.IsInvalidEventError(err), apperrors.IsValidationError(err), apperrors.IsNotFoundError(err),
		apperrors.IsDuplicateError(err):
		return err
	case apperrors.IsDatabaseError(err), apperrors.IsTimeoutError(err), apperrors.IsConflictError(err),
		errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewRetryable(err, "failed to %s", op)
	default:
		return apperrors.NewFatal(err, "failed to %s", op)
	}
}
