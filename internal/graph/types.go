package graph

import (
	"context"

	graphql "github.com/graph-gophers/graphql-go"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/usecase"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type feedbackResolver struct {
	fb            *model.FeedbackRecord
	notifications NotificationService
}

func (r *feedbackResolver) ID() graphql.ID { return graphql.ID(r.fb.FeedbackID) }
func (r *feedbackResolver) BatchID() *string { return optional(r.fb.BatchID) }
func (r *feedbackResolver) ProductionID() *string { return optional(r.fb.ProductionID) }
func (r *feedbackResolver) ProductID() *string { return optional(r.fb.ProductID) }
func (r *feedbackResolver) ProductName() *string { return optional(r.fb.ProductName) }
func (r *feedbackResolver) Status() string { return string(r.fb.Status) }
func (r *feedbackResolver) QuantityOrdered() int32 { return int32(r.fb.QuantityOrdered) }
func (r *feedbackResolver) QuantityProduced() int32 { return int32(r.fb.QuantityProduced) }
func (r *feedbackResolver) QuantityRejected() int32 { return int32(r.fb.QuantityRejected) }
func (r *feedbackResolver) CompletionPercentage() float64 { return r.fb.CompletionPercentage }
func (r *feedbackResolver) QualityScore() *float64 { return r.fb.QualityScore }
func (r *feedbackResolver) Notes() *string { return optional(r.fb.Notes) }
func (r *feedbackResolver) CustomerNotes() *string { return optional(r.fb.CustomerNotes) }
func (r *feedbackResolver) MarketplaceSyncStatus() string {
	return string(r.fb.MarketplaceSyncStatus)
}
func (r *feedbackResolver) MarketplaceLastAttempt() *string {
	return utils.FormatISO8601Ptr(r.fb.MarketplaceLastAttempt)
}
func (r *feedbackResolver) StartDate() *string { return utils.FormatISO8601Ptr(r.fb.StartDate) }
func (r *feedbackResolver) EndDate() *string { return utils.FormatISO8601Ptr(r.fb.EndDate) }
func (r *feedbackResolver) PlannedEndDate() *string { return utils.FormatISO8601Ptr(r.fb.PlannedEndDate) }
func (r *feedbackResolver) IsAnomalous() bool { return r.fb.IsAnomalous }
func (r *feedbackResolver) CreatedBy() *string { return optional(r.fb.CreatedBy) }
func (r *feedbackResolver) UpdatedBy() *string { return optional(r.fb.UpdatedBy) }
func (r *feedbackResolver) CreatedAt() string { return utils.FormatISO8601(r.fb.CreatedAt) }
func (r *feedbackResolver) UpdatedAt() string { return utils.FormatISO8601(r.fb.UpdatedAt) }

// Notifications lists the notifications raised for this record, newest first.
func (r *feedbackResolver) Notifications(ctx context.Context) ([]*notificationResolver, error) {
	list, err := r.notifications.ListByFeedback(ctx, r.fb.FeedbackID)
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return notificationList(list), nil
}

type pageInfoResolver struct {
	page *model.FeedbackPage
}

func (r *pageInfoResolver) HasNextPage() bool { return r.page.HasNextPage }
func (r *pageInfoResolver) HasPreviousPage() bool { return r.page.HasPreviousPage }

type feedbackConnectionResolver struct {
	page          *model.FeedbackPage
	notifications NotificationService
}

func (r *feedbackConnectionResolver) Items() []*feedbackResolver {
	out := make([]*feedbackResolver, len(r.page.Items))
	for i := range r.page.Items {
		out[i] = &feedbackResolver{fb: &r.page.Items[i], notifications: r.notifications}
	}
	return out
}

func (r *feedbackConnectionResolver) TotalCount() int32 { return int32(r.page.TotalCount) }

func (r *feedbackConnectionResolver) PageInfo() *pageInfoResolver {
	return &pageInfoResolver{page: r.page}
}

type statusCountResolver struct {
	sc model.StatusCount
}

func (r *statusCountResolver) Status() string { return string(r.sc.Status) }
func (r *statusCountResolver) Count() int32 { return int32(r.sc.Count) }
func (r *statusCountResolver) Color() string { return r.sc.Color }

type summaryResolver struct {
	summary model.FeedbackSummary
}

func (r *summaryResolver) Total() int32 { return int32(r.summary.Total) }

func (r *summaryResolver) Status() []*statusCountResolver {
	out := make([]*statusCountResolver, len(r.summary.Status))
	for i, sc := range r.summary.Status {
		out[i] = &statusCountResolver{sc: sc}
	}
	return out
}

func (r *summaryResolver) DefectRate() float64 { return r.summary.DefectRate }
func (r *summaryResolver) OnTimeRate() float64 { return r.summary.OnTimeRate }

type anomalyResolver struct {
	a model.Anomaly
}

func (r *anomalyResolver) Kind() string { return string(r.a.Kind) }
func (r *anomalyResolver) Detail() string { return r.a.Detail }

type feedbackUpdateResolver struct {
	res           *model.TransitionResult
	notifications NotificationService
}

func (r *feedbackUpdateResolver) Message() string {
	if !r.res.Applied && r.res.Message != "" {
		return r.res.Message
	}
	return "Feedback updated successfully"
}

func (r *feedbackUpdateResolver) Applied() bool { return r.res.Applied }

func (r *feedbackUpdateResolver) Feedback() *feedbackResolver {
	if r.res.Record == nil {
		return nil
	}
	return &feedbackResolver{fb: r.res.Record, notifications: r.notifications}
}

func (r *feedbackUpdateResolver) Anomalies() []*anomalyResolver {
	out := make([]*anomalyResolver, len(r.res.Delta.Anomalies))
	for i, a := range r.res.Delta.Anomalies {
		out[i] = &anomalyResolver{a: a}
	}
	return out
}

type notificationResolver struct {
	n *model.NotificationRecord
}

func notificationList(list []model.NotificationRecord) []*notificationResolver {
	out := make([]*notificationResolver, len(list))
	for i := range list {
		out[i] = &notificationResolver{n: &list[i]}
	}
	return out
}

func (r *notificationResolver) ID() graphql.ID { return graphql.ID(r.n.NotificationID) }
func (r *notificationResolver) FeedbackID() *string { return optional(r.n.FeedbackID) }
func (r *notificationResolver) Type() string { return string(r.n.Type) }
func (r *notificationResolver) Title() string { return r.n.Title }
func (r *notificationResolver) Message() string { return r.n.Message }
func (r *notificationResolver) RecipientType() string { return string(r.n.RecipientType) }
func (r *notificationResolver) RecipientID() *string { return r.n.RecipientID }
func (r *notificationResolver) Priority() string { return string(r.n.Priority) }
func (r *notificationResolver) IsRead() bool { return r.n.IsRead }
func (r *notificationResolver) IsDelivered() bool { return r.n.IsDelivered }
func (r *notificationResolver) DeliveryMethod() string { return string(r.n.DeliveryMethod) }
func (r *notificationResolver) ReadAt() *string { return utils.FormatISO8601Ptr(r.n.ReadAt) }
func (r *notificationResolver) DeliveredAt() *string { return utils.FormatISO8601Ptr(r.n.DeliveredAt) }
func (r *notificationResolver) CreatedBy() *string { return optional(r.n.CreatedBy) }
func (r *notificationResolver) CreatedAt() string { return utils.FormatISO8601(r.n.CreatedAt) }

func (r *notificationResolver) Metadata() *string {
	if len(r.n.Metadata) == 0 {
		return nil
	}
	s := string(r.n.Metadata)
	return &s
}

type marketplaceStatusResolver struct {
	view *usecase.SyncStatusView
}

func (r *marketplaceStatusResolver) FeedbackID() graphql.ID { return graphql.ID(r.view.FeedbackID) }
func (r *marketplaceStatusResolver) BatchID() *string { return optional(r.view.BatchID) }
func (r *marketplaceStatusResolver) MarketplaceStatus() string { return string(r.view.SyncStatus) }
func (r *marketplaceStatusResolver) LastUpdate() *string {
	return utils.FormatISO8601Ptr(r.view.LastAttempt)
}
func (r *marketplaceStatusResolver) Eligible() bool { return r.view.Eligible }
func (r *marketplaceStatusResolver) Configured() bool { return r.view.Configured }

type syncResultResolver struct {
	res *usecase.SyncResult
}

func (r *syncResultResolver) FeedbackID() graphql.ID { return graphql.ID(r.res.FeedbackID) }
func (r *syncResultResolver) Attempted() bool { return r.res.Attempted }
func (r *syncResultResolver) Success() bool { return r.res.Success }
func (r *syncResultResolver) SyncStatus() string { return string(r.res.SyncStatus) }
func (r *syncResultResolver) LastAttempt() *string { return utils.FormatISO8601Ptr(r.res.LastAttempt) }
func (r *syncResultResolver) Message() string { return r.res.Message }
func (r *syncResultResolver) Error() *string { return optional(r.res.Error) }
