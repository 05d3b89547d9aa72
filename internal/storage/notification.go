package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

const notificationEntity = "notification"

// CreateNotification inserts a notification record.
func (r *PostgresRepo) CreateNotification(ctx context.Context, n *model.NotificationRecord) (err error) {
	start := time.Now()
	defer func() { observe(ctx, "create", notificationEntity, start, err) }()

	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Create(n).Error)
	}
	err = retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "CreateNotification", operation)
	if err != nil {
		logger.FromContext(ctx).Error("Failed to create notification",
			zap.String("notification_id", n.NotificationID),
			zap.String("feedback_id", n.FeedbackID),
			zap.Error(err))
	}
	return err
}

// FindNotificationByNotificationID loads a notification by its external ID.
func (r *PostgresRepo) FindNotificationByNotificationID(ctx context.Context, notificationID string) (n *model.NotificationRecord, err error) {
	start := time.Now()
	defer func() { observe(ctx, "FindNotificationByNotificationID", notificationEntity, start, err) }()

	var record model.NotificationRecord
	operation := func() error {
		return checkConstraintViolation(r.db.WithContext(ctx).Where("notification_id = ?", notificationID).First(&record).Error)
	}
	err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "FindNotificationByNotificationID", operation)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: notification %s", apperrors.ErrNotFound, notificationID)
		}
		return nil, err
	}
	return &record, nil
}

func (r *PostgresRepo) findNotifications(ctx context.Context, opName string, scope func(*gorm.DB) *gorm.DB) (records []model.NotificationRecord, err error) {
	start := time.Now()
	defer func() { observe(ctx, opName, notificationEntity, start, err) }()

	operation := func() error {
		records = nil
		q := scope(r.db.WithContext(ctx).Model(&model.NotificationRecord{}))
		return checkConstraintViolation(q.Order("created_at DESC").Order("id DESC").Find(&records).Error)
	}
	err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), opName, operation)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.NotificationRecord{}
	}
	return records, nil
}

// FindNotificationsByFeedbackID lists a feedback's notifications, newest first.
func (r *PostgresRepo) FindNotificationsByFeedbackID(ctx context.Context, feedbackID string) ([]model.NotificationRecord, error) {
	return r.findNotifications(ctx, "FindNotificationsByFeedbackID", func(db *gorm.DB) *gorm.DB {
		return db.Where("feedback_id = ?", feedbackID)
	})
}

// recipientScope matches notifications addressed to the recipient directly
// or broadcast to everyone.
func recipientScope(filter model.RecipientFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		switch {
		case filter.RecipientType != "" && filter.RecipientID != "":
			db = db.Where("(recipient_type = ? AND (recipient_id = ? OR recipient_id IS NULL)) OR recipient_type = ?",
				filter.RecipientType, filter.RecipientID, model.RecipientAll)
		case filter.RecipientType != "":
			db = db.Where("recipient_type IN ?", []model.RecipientType{filter.RecipientType, model.RecipientAll})
		case filter.RecipientID != "":
			db = db.Where("recipient_id = ? OR recipient_type = ?", filter.RecipientID, model.RecipientAll)
		}
		if filter.IsRead != nil {
			db = db.Where("is_read = ?", *filter.IsRead)
		}
		return db
	}
}

// FindNotificationsByRecipient lists notifications visible to a recipient.
func (r *PostgresRepo) FindNotificationsByRecipient(ctx context.Context, filter model.RecipientFilter) ([]model.NotificationRecord, error) {
	return r.findNotifications(ctx, "FindNotificationsByRecipient", recipientScope(filter))
}

// CountUnreadNotifications counts unread notifications visible to a recipient.
func (r *PostgresRepo) CountUnreadNotifications(ctx context.Context, recipientType model.RecipientType, recipientID string) (count int64, err error) {
	start := time.Now()
	defer func() { observe(ctx, "CountUnreadNotifications", notificationEntity, start, err) }()

	unread := false
	scope := recipientScope(model.RecipientFilter{RecipientType: recipientType, RecipientID: recipientID, IsRead: &unread})
	operation := func() error {
		return checkConstraintViolation(scope(r.db.WithContext(ctx).Model(&model.NotificationRecord{})).Count(&count).Error)
	}
	err = retryableOperation(ctx, newRetryPolicy(ctx, readRetryMaxElapsedTime), "CountUnreadNotifications", operation)
	return count, err
}

// UpdateNotificationFlags flips the read and delivered flags of one notification.
func (r *PostgresRepo) UpdateNotificationFlags(ctx context.Context, notificationID string, flags model.NotificationFlags) (n *model.NotificationRecord, err error) {
	start := time.Now()
	defer func() { observe(ctx, "UpdateNotificationFlags", notificationEntity, start, err) }()

	updates := map[string]interface{}{"updated_at": utils.Now()}
	if flags.IsRead != nil {
		updates["is_read"] = *flags.IsRead
		if *flags.IsRead {
			updates["read_at"] = utils.Now()
		} else {
			updates["read_at"] = nil
		}
	}
	if flags.IsDelivered != nil {
		updates["is_delivered"] = *flags.IsDelivered
		if *flags.IsDelivered {
			updates["delivered_at"] = utils.Now()
		} else {
			updates["delivered_at"] = nil
		}
	}

	operation := func() error {
		res := r.db.WithContext(ctx).Model(&model.NotificationRecord{}).
			Where("notification_id = ?", notificationID).
			Updates(updates)
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: notification %s", apperrors.ErrNotFound, notificationID)
		}
		return nil
	}
	if err = retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "UpdateNotificationFlags", operation); err != nil {
		return nil, err
	}
	return r.FindNotificationByNotificationID(ctx, notificationID)
}

// MarkNotificationsRead marks the listed notifications as read and returns how many changed.
func (r *PostgresRepo) MarkNotificationsRead(ctx context.Context, notificationIDs []string) (affected int64, err error) {
	if len(notificationIDs) == 0 {
		return 0, nil
	}
	start := time.Now()
	defer func() { observe(ctx, "MarkNotificationsRead", notificationEntity, start, err) }()

	operation := func() error {
		now := utils.Now()
		res := r.db.WithContext(ctx).Model(&model.NotificationRecord{}).
			Where("notification_id IN ? AND is_read = ?", notificationIDs, false).
			Updates(map[string]interface{}{"is_read": true, "read_at": now, "updated_at": now})
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		affected = res.RowsAffected
		return nil
	}
	err = retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "MarkNotificationsRead", operation)
	return affected, err
}

// MarkAllNotificationsRead marks every unread notification addressed to the recipient as read.
func (r *PostgresRepo) MarkAllNotificationsRead(ctx context.Context, recipientType model.RecipientType, recipientID string) (affected int64, err error) {
	start := time.Now()
	defer func() { observe(ctx, "MarkAllNotificationsRead", notificationEntity, start, err) }()

	operation := func() error {
		now := utils.Now()
		q := r.db.WithContext(ctx).Model(&model.NotificationRecord{}).
			Where("recipient_type = ? AND is_read = ?", recipientType, false)
		if recipientID != "" {
			q = q.Where("recipient_id = ?", recipientID)
		}
		res := q.Updates(map[string]interface{}{"is_read": true, "read_at": now, "updated_at": now})
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		affected = res.RowsAffected
		return nil
	}
	err = retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "MarkAllNotificationsRead", operation)
	return affected, err
}

// DeleteNotification removes one notification.
func (r *PostgresRepo) DeleteNotification(ctx context.Context, notificationID string) (err error) {
	start := time.Now()
	defer func() { observe(ctx, "delete", notificationEntity, start, err) }()

	operation := func() error {
		res := r.db.WithContext(ctx).Where("notification_id = ?", notificationID).Delete(&model.NotificationRecord{})
		if res.Error != nil {
			return checkConstraintViolation(res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: notification %s", apperrors.ErrNotFound, notificationID)
		}
		return nil
	}
	return retryableOperation(ctx, newRetryPolicy(ctx, commitRetryMaxElapsedTime), "DeleteNotification", operation)
}
