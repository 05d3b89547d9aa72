package model

import (
	"fmt"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

// init ensures gofakeit is seeded.
func init() {
	gofakeit.Seed(time.Now().UnixNano())
}

// NewFeedback creates a FeedbackRecord with fake data. Non-zero fields of the
// override replace the generated values.
func NewFeedback(overrideDefaults ...*FeedbackRecord) *FeedbackRecord {
	ordered := gofakeit.Number(50, 500)
	produced := gofakeit.Number(0, ordered)
	base := &FeedbackRecord{
		FeedbackID:            fmt.Sprintf("FB-%08d-%s", gofakeit.Number(0, 99999999), gofakeit.LetterN(8)),
		BatchID:               "BATCH-" + gofakeit.DigitN(6),
		ProductionID:          "PRD-" + gofakeit.DigitN(6),
		ProductID:             "SKU-" + gofakeit.LetterN(5),
		ProductName:           gofakeit.ProductName(),
		Status:                StatusPending,
		QuantityOrdered:       ordered,
		QuantityProduced:      produced,
		MarketplaceSyncStatus: SyncPending,
		CreatedBy:             "system",
		CreatedAt:             utils.Now().Add(-time.Duration(gofakeit.Number(1, 100)) * time.Hour),
		UpdatedAt:             utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.ID != 0 {
			base.ID = ovr.ID
		}
		if ovr.FeedbackID != "" {
			base.FeedbackID = ovr.FeedbackID
		}
		if ovr.BatchID != "" {
			base.BatchID = ovr.BatchID
		}
		if ovr.ProductionID != "" {
			base.ProductionID = ovr.ProductionID
		}
		if ovr.ProductID != "" {
			base.ProductID = ovr.ProductID
		}
		if ovr.ProductName != "" {
			base.ProductName = ovr.ProductName
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		// Quantities are taken as-is so tests can pin zero values.
		base.QuantityOrdered = ovr.QuantityOrdered
		base.QuantityProduced = ovr.QuantityProduced
		base.QuantityRejected = ovr.QuantityRejected
		base.QualityScore = ovr.QualityScore
		base.Notes = ovr.Notes
		base.CustomerNotes = ovr.CustomerNotes
		if ovr.MarketplaceSyncStatus != "" {
			base.MarketplaceSyncStatus = ovr.MarketplaceSyncStatus
		}
		base.MarketplaceLastAttempt = ovr.MarketplaceLastAttempt
		base.StartDate = ovr.StartDate
		base.EndDate = ovr.EndDate
		base.PlannedEndDate = ovr.PlannedEndDate
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
		if !ovr.UpdatedAt.IsZero() {
			base.UpdatedAt = ovr.UpdatedAt
		}
	}
	base.RecomputeCompletion()
	return base
}

// NewNotification creates a NotificationRecord with fake data.
func NewNotification(overrideDefaults ...*NotificationRecord) *NotificationRecord {
	base := &NotificationRecord{
		NotificationID: fmt.Sprintf("NOTIF-%08d-%s", gofakeit.Number(0, 99999999), gofakeit.LetterN(8)),
		FeedbackID:     fmt.Sprintf("FB-%08d-%s", gofakeit.Number(0, 99999999), gofakeit.LetterN(8)),
		Type:           NotificationStatusChange,
		Title:          gofakeit.Sentence(3),
		Message:        gofakeit.Sentence(10),
		RecipientType:  RecipientCustomer,
		Priority:       PriorityMedium,
		DeliveryMethod: DeliveryInApp,
		CreatedBy:      "system",
		CreatedAt:      utils.Now(),
		UpdatedAt:      utils.Now(),
	}

	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.NotificationID != "" {
			base.NotificationID = ovr.NotificationID
		}
		if ovr.FeedbackID != "" {
			base.FeedbackID = ovr.FeedbackID
		}
		if ovr.Type != "" {
			base.Type = ovr.Type
		}
		if ovr.Title != "" {
			base.Title = ovr.Title
		}
		if ovr.Message != "" {
			base.Message = ovr.Message
		}
		if ovr.RecipientType != "" {
			base.RecipientType = ovr.RecipientType
		}
		base.RecipientID = ovr.RecipientID
		if ovr.Priority != "" {
			base.Priority = ovr.Priority
		}
		if ovr.DeliveryMethod != "" {
			base.DeliveryMethod = ovr.DeliveryMethod
		}
		base.IsRead = ovr.IsRead
		base.IsDelivered = ovr.IsDelivered
		if !ovr.CreatedAt.IsZero() {
			base.CreatedAt = ovr.CreatedAt
		}
	}
	return base
}

// NewQueueEvent creates a valid machine-queue event with fake data.
func NewQueueEvent(overrideDefaults ...*QueueEvent) *QueueEvent {
	qty := gofakeit.Number(10, 200)
	base := &QueueEvent{
		QueueID:     "Q-" + gofakeit.DigitN(6),
		BatchID:     "BATCH-" + gofakeit.DigitN(6),
		Status:      gofakeit.RandomString([]string{"in_progress", "completed", "paused", "cancelled"}),
		ProductName: gofakeit.ProductName(),
		Quantity:    &qty,
	}
	if len(overrideDefaults) > 0 && overrideDefaults[0] != nil {
		ovr := overrideDefaults[0]
		if ovr.QueueID != "" {
			base.QueueID = ovr.QueueID
		}
		if ovr.BatchID != "" {
			base.BatchID = ovr.BatchID
		}
		if ovr.Status != "" {
			base.Status = ovr.Status
		}
		if ovr.ProductName != "" {
			base.ProductName = ovr.ProductName
		}
		if ovr.Quantity != nil {
			base.Quantity = ovr.Quantity
		}
		base.CompletedQuantity = ovr.CompletedQuantity
		base.ActualStartTime = ovr.ActualStartTime
		base.ActualEndTime = ovr.ActualEndTime
	}
	return base
}
