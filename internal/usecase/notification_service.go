package usecase

import (
	"context"
	"fmt"

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

// NotificationService handles administrative notification requests.
// Only the read and delivered flags of a notification can change.
type NotificationService struct {
	repo       storage.NotificationRepo
	feedbacks  storage.FeedbackRepo
	ids        *idgen.Generator
	sink       NotificationSink
	baseLogger *zap.Logger
}

func NewNotificationService(repo storage.NotificationRepo, feedbacks storage.FeedbackRepo, ids *idgen.Generator, sink NotificationSink, baseLogger *zap.Logger) *NotificationService {
	if ids == nil {
		ids = idgen.New()
	}
	return &NotificationService{
		repo:       repo,
		feedbacks:  feedbacks,
		ids:        ids,
		sink:       sink,
		baseLogger: baseLogger.Named("notification_service"),
	}
}

// checkFeedbackReference logs a notification whose feedbackId matches no
// feedback record. The notification is still stored.
func (s *NotificationService) checkFeedbackReference(ctx context.Context, n *model.NotificationRecord) {
	if n.FeedbackID == "" || s.feedbacks == nil {
		return
	}
	_, err := s.feedbacks.FindByFeedbackID(ctx, n.FeedbackID)
	if err == nil {
		return
	}
	log := logger.FromContextOr(ctx, s.baseLogger)
	if apperrors.IsNotFoundError(err) {
		observer.IncNotificationOrphaned()
		log.Warn("Notification references unknown feedback",
			zap.String("notification_id", n.NotificationID),
			zap.String("feedback_id", n.FeedbackID),
		)
		return
	}
	log.Warn("Could not verify notification feedback reference",
		zap.String("notification_id", n.NotificationID),
		zap.String("feedback_id", n.FeedbackID),
		zap.Error(err),
	)
}

// Create persists a notification, filling type, priority and delivery
// method defaults, and queues it for delivery.
func (s *NotificationService) Create(ctx context.Context, input model.NotificationInput) (*model.NotificationRecord, error) {
	if err := validator.Validate(input); err != nil {
		return nil, err
	}
	n := &model.NotificationRecord{
		NotificationID: s.ids.NotificationID(),
		FeedbackID:     input.FeedbackID,
		Type:           model.NotificationSystem,
		Title:          input.Title,
		Message:        input.Message,
		RecipientType:  model.RecipientType(input.RecipientType),
		RecipientID:    input.RecipientID,
		Priority:       model.PriorityMedium,
		DeliveryMethod: model.DeliveryInApp,
		CreatedBy:      tenant.ActorFromContext(ctx),
	}
	if input.Type != "" {
		n.Type = model.NotificationType(input.Type)
	}
	if input.Priority != "" {
		n.Priority = model.Priority(input.Priority)
	}
	if input.DeliveryMethod != "" {
		n.DeliveryMethod = model.DeliveryMethod(input.DeliveryMethod)
	}

	s.checkFeedbackReference(ctx, n)

	if err := s.repo.Create(ctx, n); err != nil {
		return nil, err
	}
	if s.sink != nil {
		if err := s.sink.Enqueue(ctx, *n); err != nil {
			logger.FromContextOr(ctx, s.baseLogger).Warn("Failed to queue notification delivery",
				zap.String("notification_id", n.NotificationID),
				zap.Error(err),
			)
		}
	}
	return n, nil
}

func (s *NotificationService) Get(ctx context.Context, notificationID string) (*model.NotificationRecord, error) {
	return s.repo.FindByNotificationID(ctx, notificationID)
}

// ListByFeedback returns the notifications of a feedback record, newest first.
func (s *NotificationService) ListByFeedback(ctx context.Context, feedbackID string) ([]model.NotificationRecord, error) {
	return s.repo.FindByFeedbackID(ctx, feedbackID)
}

// ListByRecipient returns notifications addressed to a recipient, including
// broadcasts. An empty recipient type matches on the recipient ID alone.
func (s *NotificationService) ListByRecipient(ctx context.Context, filter model.RecipientFilter) ([]model.NotificationRecord, error) {
	if filter.RecipientType != "" {
		if err := checkRecipientType(filter.RecipientType); err != nil {
			return nil, err
		}
	}
	return s.repo.FindByRecipient(ctx, filter)
}

func (s *NotificationService) UnreadCount(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error) {
	if err := checkRecipientType(recipientType); err != nil {
		return 0, err
	}
	return s.repo.CountUnread(ctx, recipientType, recipientID)
}

// UpdateFlags changes isRead and/or isDelivered.
func (s *NotificationService) UpdateFlags(ctx context.Context, notificationID string, flags model.NotificationFlags) (*model.NotificationRecord, error) {
	if flags.IsRead == nil && flags.IsDelivered == nil {
		return nil, fmt.Errorf("%w: only isRead and isDelivered can be updated", apperrors.ErrBadRequest)
	}
	return s.repo.UpdateFlags(ctx, notificationID, flags)
}

func (s *NotificationService) MarkRead(ctx context.Context, notificationID string) (*model.NotificationRecord, error) {
	return s.repo.UpdateFlags(ctx, notificationID, model.NotificationFlags{IsRead: ptrTo(true)})
}

// MarkMultipleRead marks the given notifications read and returns how many changed.
func (s *NotificationService) MarkMultipleRead(ctx context.Context, notificationIDs []string) (int64, error) {
	if len(notificationIDs) == 0 {
		return 0, nil
	}
	return s.repo.MarkRead(ctx, notificationIDs)
}

func (s *NotificationService) MarkAllRead(ctx context.Context, recipientType model.RecipientType, recipientID string) (int64, error) {
	if err := checkRecipientType(recipientType); err != nil {
		return 0, err
	}
	return s.repo.MarkAllRead(ctx, recipientType, recipientID)
}

func (s *NotificationService) Delete(ctx context.Context, notificationID string) error {
	return s.repo.Delete(ctx, notificationID)
}

func checkRecipientType(rt model.RecipientType) error {
	if !rt.Valid() {
		return fmt.Errorf("%w: unknown recipient type %q", apperrors.ErrBadRequest, rt)
	}
	return nil
}
