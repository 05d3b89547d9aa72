package model

import (
	"time"

	"gorm.io/gorm/schema"
)

// FeedbackRecord is the persisted state of one production run.
type FeedbackRecord struct {
	// ID is the internal database primary key.
	ID int64 `json:"id" gorm:"primaryKey;autoIncrement"`
	// FeedbackID is the external-facing identifier. It never changes after creation.
	FeedbackID   string `json:"feedbackId" gorm:"column:feedback_id;uniqueIndex;not null" validate:"required"`
	BatchID      string `json:"batchId,omitempty" gorm:"column:batch_id;index"`
	ProductionID string `json:"productionId,omitempty" gorm:"column:production_id;index"`
	ProductID    string `json:"productId,omitempty" gorm:"column:product_id"`
	ProductName  string `json:"productName,omitempty" gorm:"column:product_name"`

	Status FeedbackStatus `json:"status" gorm:"column:status;type:varchar(32);index;default:pending" validate:"required,feedback_status"`

	QuantityOrdered  int `json:"quantityOrdered" gorm:"column:quantity_ordered;default:0" validate:"gte=0"`
	QuantityProduced int `json:"quantityProduced" gorm:"column:quantity_produced;default:0" validate:"gte=0"`
	QuantityRejected int `json:"quantityRejected" gorm:"column:quantity_rejected;default:0" validate:"gte=0"`
	// CompletionPercentage is derived from the quantities and kept in [0,1].
	CompletionPercentage float64  `json:"completionPercentage" gorm:"column:completion_percentage;default:0"`
	QualityScore         *float64 `json:"qualityScore,omitempty" gorm:"column:quality_score" validate:"omitempty,gte=0,lte=100"`

	Notes         string `json:"notes,omitempty" gorm:"column:notes;type:text"`
	CustomerNotes string `json:"customerNotes,omitempty" gorm:"column:customer_notes;type:text"`

	MarketplaceSyncStatus  SyncStatus `json:"marketplaceSyncStatus" gorm:"column:marketplace_sync_status;type:varchar(16);default:pending"`
	MarketplaceLastAttempt *time.Time `json:"marketplaceLastAttempt,omitempty" gorm:"column:marketplace_last_attempt"`

	StartDate *time.Time `json:"startDate,omitempty" gorm:"column:start_date"`
	EndDate   *time.Time `json:"endDate,omitempty" gorm:"column:end_date"`
	// PlannedEndDate is the committed delivery date used for on-time reporting.
	PlannedEndDate *time.Time `json:"plannedEndDate,omitempty" gorm:"column:planned_end_date"`

	// IsAnomalous is set when the most recent transition was flagged.
	IsAnomalous bool `json:"isAnomalous" gorm:"column:is_anomalous;default:false"`

	CreatedBy string    `json:"createdBy,omitempty" gorm:"column:created_by"`
	UpdatedBy string    `json:"updatedBy,omitempty" gorm:"column:updated_by"`
	CreatedAt time.Time `json:"createdAt" gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for GORM.
func (FeedbackRecord) TableName(namer schema.Namer) string {
	return namer.TableName("feedbacks")
}

// LockKey is the key used to serialize transitions on this record.
func (f *FeedbackRecord) LockKey() string {
	return FeedbackLockKey(f.BatchID, f.FeedbackID)
}

// FeedbackLockKey prefers the batch ID, which is what queue events carry.
func FeedbackLockKey(batchID, feedbackID string) string {
	if batchID != "" {
		return "batch:" + batchID
	}
	return "feedback:" + feedbackID
}

// RecomputeCompletion refreshes CompletionPercentage from the quantities.
func (f *FeedbackRecord) RecomputeCompletion() {
	f.CompletionPercentage = CompletionRatio(f.QuantityProduced, f.QuantityOrdered)
}

// CompletionRatio returns produced/max(ordered,1) clamped to [0,1].
func CompletionRatio(produced, ordered int) float64 {
	if ordered < 1 {
		ordered = 1
	}
	ratio := float64(produced) / float64(ordered)
	switch {
	case ratio < 0:
		return 0
	case ratio > 1:
		return 1
	default:
		return ratio
	}
}

// FeedbackPatch is a partial update. Nil fields are left untouched.
type FeedbackPatch struct {
	BatchID          *string    `json:"batchId,omitempty"`
	ProductionID     *string    `json:"productionId,omitempty"`
	ProductID        *string    `json:"productId,omitempty"`
	ProductName      *string    `json:"productName,omitempty"`
	Status           *string    `json:"status,omitempty" validate:"omitempty,feedback_status"`
	QuantityOrdered  *int       `json:"quantityOrdered,omitempty" validate:"omitempty,gte=0"`
	QuantityProduced *int       `json:"quantityProduced,omitempty" validate:"omitempty,gte=0"`
	QuantityRejected *int       `json:"quantityRejected,omitempty" validate:"omitempty,gte=0"`
	QualityScore     *float64   `json:"qualityScore,omitempty" validate:"omitempty,gte=0,lte=100"`
	Notes            *string    `json:"notes,omitempty"`
	CustomerNotes    *string    `json:"customerNotes,omitempty"`
	StartDate        *time.Time `json:"startDate,omitempty"`
	EndDate          *time.Time `json:"endDate,omitempty"`
	PlannedEndDate   *time.Time `json:"plannedEndDate,omitempty"`
}

// IsEmpty reports whether the patch would change nothing.
func (p FeedbackPatch) IsEmpty() bool {
	return p == FeedbackPatch{}
}

// FeedbackInput carries the fields of an explicit create request.
type FeedbackInput struct {
	BatchID         string     `json:"batchId"`
	ProductionID    string     `json:"productionId"`
	ProductID       string     `json:"productId"`
	ProductName     string     `json:"productName" validate:"required"`
	Status          string     `json:"status" validate:"omitempty,feedback_status"`
	QuantityOrdered int        `json:"quantityOrdered" validate:"gte=0"`
	QualityScore    *float64   `json:"qualityScore" validate:"omitempty,gte=0,lte=100"`
	Notes           string     `json:"notes"`
	CustomerNotes   string     `json:"customerNotes"`
	StartDate       *time.Time `json:"startDate"`
	EndDate         *time.Time `json:"endDate"`
	PlannedEndDate  *time.Time `json:"plannedEndDate"`
}

// FeedbackFilter narrows feedback listings. Empty fields match everything.
type FeedbackFilter struct {
	Status      FeedbackStatus
	BatchID     string
	ProductName string
	StartDate   *time.Time
	EndDate     *time.Time
}

// Pagination selects a window of a listing. Page/PageSize win over Limit/Offset.
type Pagination struct {
	Limit    int
	Offset   int
	Page     int
	PageSize int
}

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Window resolves the pagination into a concrete limit and offset.
func (p Pagination) Window() (limit, offset int) {
	if p.Page > 0 || p.PageSize > 0 {
		size := p.PageSize
		if size <= 0 {
			size = DefaultPageSize
		}
		page := p.Page
		if page <= 0 {
			page = 1
		}
		limit, offset = size, (page-1)*size
	} else {
		limit, offset = p.Limit, p.Offset
		if limit <= 0 {
			limit = DefaultPageSize
		}
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// FeedbackPage is one page of a feedback listing.
type FeedbackPage struct {
	Items           []FeedbackRecord `json:"items"`
	TotalCount      int64            `json:"totalCount"`
	HasNextPage     bool             `json:"hasNextPage"`
	HasPreviousPage bool             `json:"hasPreviousPage"`
}

// StatusCount is the number of feedback records in one status.
type StatusCount struct {
	Status FeedbackStatus `json:"status"`
	Count  int64          `json:"count"`
	Color  string         `json:"color"`
}

// FeedbackSummary aggregates production outcomes across all feedback.
type FeedbackSummary struct {
	Total      int64         `json:"total"`
	Status     []StatusCount `json:"status"`
	DefectRate float64       `json:"defectRate"`
	OnTimeRate float64       `json:"onTimeRate"`
}

// SummaryAggregate holds the raw sums a FeedbackSummary is built from.
type SummaryAggregate struct {
	Counts            map[FeedbackStatus]int64
	CompletedProduced int64
	CompletedRejected int64
	CompletedTotal    int64
	CompletedOnTime   int64
}

// BuildSummary derives the dashboard summary from raw aggregates.
func BuildSummary(agg SummaryAggregate) FeedbackSummary {
	summary := FeedbackSummary{Status: make([]StatusCount, 0, len(AllStatuses))}
	for _, st := range AllStatuses {
		n := agg.Counts[st]
		summary.Total += n
		summary.Status = append(summary.Status, StatusCount{Status: st, Count: n, Color: st.SummaryColor()})
	}
	if agg.CompletedProduced > 0 {
		summary.DefectRate = float64(agg.CompletedRejected) / float64(agg.CompletedProduced)
	}
	if agg.CompletedTotal > 0 {
		summary.OnTimeRate = float64(agg.CompletedOnTime) / float64(agg.CompletedTotal)
	}
	return summary
}
