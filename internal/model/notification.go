package model

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm/schema"
)

// NotificationType classifies why a notification was raised.
type NotificationType string

const (
	NotificationStatusChange    NotificationType = "status_change"
	NotificationQualityAlert    NotificationType = "quality_alert"
	NotificationNewFeedback     NotificationType = "new_feedback"
	NotificationSystem          NotificationType = "system"
	NotificationMarketplaceSync NotificationType = "marketplace_sync"
	NotificationAnomaly         NotificationType = "anomaly"
)

// Valid reports whether t is a known notification type.
func (t NotificationType) Valid() bool {
	switch t {
	case NotificationStatusChange, NotificationQualityAlert, NotificationNewFeedback,
		NotificationSystem, NotificationMarketplaceSync, NotificationAnomaly:
		return true
	}
	return false
}

// RecipientType is the audience of a notification.
type RecipientType string

const (
	RecipientAdmin    RecipientType = "admin"
	RecipientCustomer RecipientType = "customer"
	RecipientUser     RecipientType = "user"
	RecipientRole     RecipientType = "role"
	RecipientAll      RecipientType = "all"
)

func (r RecipientType) Valid() bool {
	switch r {
	case RecipientAdmin, RecipientCustomer, RecipientUser, RecipientRole, RecipientAll:
		return true
	}
	return false
}

// Priority of a notification.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// DeliveryMethod selects the channels a notification is delivered over.
type DeliveryMethod string

const (
	DeliveryInApp DeliveryMethod = "in_app"
	DeliveryEmail DeliveryMethod = "email"
	DeliveryBoth  DeliveryMethod = "both"
)

func (d DeliveryMethod) Valid() bool {
	switch d {
	case DeliveryInApp, DeliveryEmail, DeliveryBoth:
		return true
	}
	return false
}

// InApp reports whether the method includes in-app delivery.
func (d DeliveryMethod) InApp() bool { return d == DeliveryInApp || d == DeliveryBoth }

// Email reports whether the method includes email delivery.
func (d DeliveryMethod) Email() bool { return d == DeliveryEmail || d == DeliveryBoth }

// NotificationRecord is a persisted notification about a feedback record.
// Only the read and delivered flags change after creation.
type NotificationRecord struct {
	ID             int64  `json:"id" gorm:"primaryKey;autoIncrement"`
	NotificationID string `json:"notificationId" gorm:"column:notification_id;uniqueIndex;not null" validate:"required"`

	// FeedbackID references FeedbackRecord.FeedbackID. The feedback row may not exist.
	FeedbackID     string           `json:"feedbackId" gorm:"column:feedback_id;index"`
	Type           NotificationType `json:"type" gorm:"column:type;type:varchar(32);not null" validate:"required,notification_type"`
	Title          string           `json:"title" gorm:"column:title;not null" validate:"required"`
	Message        string           `json:"message" gorm:"column:message;type:text;not null" validate:"required"`
	RecipientType  RecipientType    `json:"recipientType" gorm:"column:recipient_type;type:varchar(16);index:idx_notification_recipient" validate:"required,recipient_type"`
	RecipientID    *string          `json:"recipientId,omitempty" gorm:"column:recipient_id;index:idx_notification_recipient"`
	Priority       Priority         `json:"priority" gorm:"column:priority;type:varchar(16);default:medium" validate:"required,priority"`
	IsRead         bool             `json:"isRead" gorm:"column:is_read;default:false"`
	IsDelivered    bool             `json:"isDelivered" gorm:"column:is_delivered;default:false"`
	DeliveryMethod DeliveryMethod   `json:"deliveryMethod" gorm:"column:delivery_method;type:varchar(16);default:in_app" validate:"required,delivery_method"`
	ReadAt         *time.Time       `json:"readAt,omitempty" gorm:"column:read_at"`
	DeliveredAt    *time.Time       `json:"deliveredAt,omitempty" gorm:"column:delivered_at"`
	// Metadata carries structured context such as anomaly kinds or sync errors.
	Metadata  datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata"`
	CreatedBy string         `json:"createdBy,omitempty" gorm:"column:created_by"`
	CreatedAt time.Time      `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (NotificationRecord) TableName(namer schema.Namer) string {
	return namer.TableName("feedback_notifications")
}

// NotificationInput carries the fields of an administrative create request.
type NotificationInput struct {
	FeedbackID     string  `json:"feedbackId"`
	Type           string  `json:"type" validate:"omitempty,notification_type"`
	Title          string  `json:"title" validate:"required"`
	Message        string  `json:"message" validate:"required"`
	RecipientType  string  `json:"recipientType" validate:"required,recipient_type"`
	RecipientID    *string `json:"recipientId"`
	Priority       string  `json:"priority" validate:"omitempty,priority"`
	DeliveryMethod string  `json:"deliveryMethod" validate:"omitempty,delivery_method"`
}

// NotificationFlags is the only mutable part of a notification.
type NotificationFlags struct {
	IsRead      *bool `json:"isRead,omitempty"`
	IsDelivered *bool `json:"isDelivered,omitempty"`
}

// RecipientFilter selects notifications addressed to one recipient.
type RecipientFilter struct {
	RecipientType RecipientType
	RecipientID   string
	IsRead        *bool
}
