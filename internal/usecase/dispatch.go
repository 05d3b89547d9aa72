package usecase

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"gitlab.com/timkado/api/production-feedback-service/internal/idgen"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

// Notification titles, one per decision-table row.
const (
	TitleNewFeedback     = "New Production Feedback"
	TitleStatusUpdate    = "Feedback Status Update"
	TitleQualityAlert    = "Quality Score Alert"
	TitleFailureAlert    = "Production Failure Alert"
	TitleAnomaly         = "Anomalous Transition"
	TitleMarketplaceSync = "Marketplace Sync Failed"
)

// DispatchPolicy turns transition deltas into persisted notifications.
// It does no network I/O.
type DispatchPolicy struct {
	notificationRepo storage.NotificationRepo
	ids              *idgen.Generator
	baseLogger       *zap.Logger
}

// NewDispatchPolicy creates a dispatch policy writing to notificationRepo.
func NewDispatchPolicy(notificationRepo storage.NotificationRepo, ids *idgen.Generator, baseLogger *zap.Logger) *DispatchPolicy {
	if ids == nil {
		ids = idgen.New()
	}
	return &DispatchPolicy{
		notificationRepo: notificationRepo,
		ids:              ids,
		baseLogger:       baseLogger.Named("dispatch_policy"),
	}
}

// Decide evaluates the decision table in order. Several rows may match.
func (p *DispatchPolicy) Decide(delta model.TransitionDelta, fb *model.FeedbackRecord) []model.NotificationRecord {
	var out []model.NotificationRecord
	product, batch := displayProduct(fb), displayBatch(fb)

	if delta.IsNewRecord {
		out = append(out, p.newNotification(fb, model.NotificationNewFeedback, model.RecipientAdmin, model.PriorityHigh,
			TitleNewFeedback,
			fmt.Sprintf("New production feedback created for %s (Batch: %s).", product, batch),
			map[string]interface{}{"status": delta.NewStatus}))
	}

	if delta.StatusChanged() {
		out = append(out, p.newNotification(fb, model.NotificationStatusChange, model.RecipientCustomer, model.PriorityMedium,
			TitleStatusUpdate,
			statusMessage(product, batch, delta.NewStatus),
			map[string]interface{}{"previousStatus": delta.PreviousStatus, "newStatus": delta.NewStatus}))
	}

	if diff, ok := delta.QualityScoreDelta(); ok && diff < 0 {
		out = append(out, p.newNotification(fb, model.NotificationQualityAlert, model.RecipientAdmin, model.PriorityHigh,
			TitleQualityAlert,
			fmt.Sprintf("Quality score for batch %s dropped to %s.", batch, formatScore(*delta.NewQualityScore)),
			map[string]interface{}{"previousScore": *delta.PreviousQualityScore, "newScore": *delta.NewQualityScore}))
	}

	if delta.NewStatus.IsFailure() && delta.PreviousStatus != delta.NewStatus {
		out = append(out, p.newNotification(fb, model.NotificationStatusChange, model.RecipientAdmin, model.PriorityHigh,
			TitleFailureAlert,
			fmt.Sprintf("Production for %s (Batch: %s) was %s and needs attention.", product, batch, delta.NewStatus),
			map[string]interface{}{"previousStatus": delta.PreviousStatus, "newStatus": delta.NewStatus, "flagged": true}))
	}

	if len(delta.Anomalies) > 0 {
		details := make([]string, 0, len(delta.Anomalies))
		for _, a := range delta.Anomalies {
			details = append(details, a.Detail)
		}
		out = append(out, p.newNotification(fb, model.NotificationAnomaly, model.RecipientAdmin, model.PriorityHigh,
			TitleAnomaly,
			fmt.Sprintf("Transition for batch %s was flagged: %s.", batch, strings.Join(details, "; ")),
			map[string]interface{}{"anomalies": delta.Anomalies}))
	}
	return out
}

// Dispatch decides and persists the notifications for a transition. A failed
// write is logged and the remaining notifications are still persisted.
func (p *DispatchPolicy) Dispatch(ctx context.Context, delta model.TransitionDelta, fb *model.FeedbackRecord) []model.NotificationRecord {
	return p.persist(ctx, p.Decide(delta, fb))
}

// DispatchSyncFailure records a failed marketplace push for admins.
func (p *DispatchPolicy) DispatchSyncFailure(ctx context.Context, fb *model.FeedbackRecord, syncErr error) []model.NotificationRecord {
	n := p.newNotification(fb, model.NotificationMarketplaceSync, model.RecipientAdmin, model.PriorityHigh,
		TitleMarketplaceSync,
		fmt.Sprintf("Marketplace sync for batch %s failed: %v", displayBatch(fb), syncErr),
		map[string]interface{}{"error": syncErr.Error()})
	return p.persist(ctx, []model.NotificationRecord{n})
}

func (p *DispatchPolicy) persist(ctx context.Context, candidates []model.NotificationRecord) []model.NotificationRecord {
	if len(candidates) == 0 {
		return nil
	}
	log := logger.FromContextOr(ctx, p.baseLogger)
	actor := tenant.ActorFromContext(ctx)

	persisted := make([]model.NotificationRecord, 0, len(candidates))
	for i := range candidates {
		n := candidates[i]
		n.CreatedBy = actor
		if err := p.notificationRepo.Create(ctx, &n); err != nil {
			log.Error("Failed to persist notification, continuing",
				zap.String("notification_id", n.NotificationID),
				zap.String("feedback_id", n.FeedbackID),
				zap.String("type", string(n.Type)),
				zap.Error(err),
			)
			observer.IncNotificationPersistFailure(string(n.Type))
			continue
		}
		observer.IncNotificationCreated(string(n.Type), string(n.RecipientType))
		persisted = append(persisted, n)
	}
	return persisted
}

func (p *DispatchPolicy) newNotification(
	fb *model.FeedbackRecord,
	typ model.NotificationType,
	recipient model.RecipientType,
	priority model.Priority,
	title, message string,
	metadata map[string]interface{},
) model.NotificationRecord {
	return model.NotificationRecord{
		NotificationID: p.ids.NotificationID(),
		FeedbackID:     fb.FeedbackID,
		Type:           typ,
		Title:          title,
		Message:        message,
		RecipientType:  recipient,
		Priority:       priority,
		IsRead:         false,
		IsDelivered:    false,
		DeliveryMethod: model.DeliveryInApp,
		Metadata:       datatypes.JSON(utils.MustMarshalJSON(metadata)),
	}
}

func statusMessage(product, batch string, status model.FeedbackStatus) string {
	switch status {
	case model.StatusInProduction:
		return fmt.Sprintf("Production for %s (Batch: %s) has started.", product, batch)
	case model.StatusCompleted:
		return fmt.Sprintf("Production for %s (Batch: %s) has been completed.", product, batch)
	case model.StatusOnHold:
		return fmt.Sprintf("Production for %s (Batch: %s) has been put on hold.", product, batch)
	case model.StatusCancelled:
		return fmt.Sprintf("Production for %s (Batch: %s) has been cancelled.", product, batch)
	case model.StatusRejected:
		return fmt.Sprintf("Production for %s (Batch: %s) has been rejected.", product, batch)
	default:
		return fmt.Sprintf("Production for %s (Batch: %s) is now %s.", product, batch, status)
	}
}

func displayProduct(fb *model.FeedbackRecord) string {
	if fb.ProductName != "" {
		return fb.ProductName
	}
	if fb.ProductID != "" {
		return fb.ProductID
	}
	return "unknown product"
}

func displayBatch(fb *model.FeedbackRecord) string {
	if fb.BatchID != "" {
		return fb.BatchID
	}
	return fb.FeedbackID
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
