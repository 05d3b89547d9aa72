package graph

import (
	"context"
	"fmt"
	"time"

	graphql "github.com/graph-gophers/graphql-go"

	"gitlab.com/timkado/api/production-feedback-service/internal/apperrors"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
)

// Resolver is the root resolver for queries and mutations.
type Resolver struct {
	feedback      FeedbackService
	notifications NotificationService
}

type idArgs struct {
	ID graphql.ID
}

type feedbackFilterInput struct {
	Status      *string
	BatchID     *string
	ProductName *string
	StartDate   *string
	EndDate     *string
}

type paginationInput struct {
	Page     *int32
	PageSize *int32
	Limit    *int32
	Offset   *int32
}

func (r *Resolver) wrapFeedback(fb *model.FeedbackRecord) *feedbackResolver {
	return &feedbackResolver{fb: fb, notifications: r.notifications}
}

// Feedback returns null for an unknown id.
func (r *Resolver) Feedback(ctx context.Context, args idArgs) (*feedbackResolver, error) {
	fb, err := r.feedback.Get(ctx, string(args.ID))
	if apperrors.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return r.wrapFeedback(fb), nil
}

func (r *Resolver) Feedbacks(ctx context.Context, args struct {
	Filter     *feedbackFilterInput
	Pagination *paginationInput
}) (*feedbackConnectionResolver, error) {
	filter, err := args.Filter.toModel()
	if err != nil {
		return nil, wrap(ctx, err)
	}
	page, err := r.feedback.List(ctx, filter, args.Pagination.toModel())
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &feedbackConnectionResolver{page: page, notifications: r.notifications}, nil
}

func (r *Resolver) FeedbackSummary(ctx context.Context) (*summaryResolver, error) {
	summary, err := r.feedback.Summary(ctx)
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &summaryResolver{summary: summary}, nil
}

// Notifications lists notifications for a recipient, including broadcasts.
func (r *Resolver) Notifications(ctx context.Context, args struct {
	RecipientID   string
	RecipientType *string
	IsRead        *bool
}) ([]*notificationResolver, error) {
	filter := model.RecipientFilter{RecipientID: args.RecipientID, IsRead: args.IsRead}
	if args.RecipientType != nil {
		filter.RecipientType = model.RecipientType(*args.RecipientType)
	}
	list, err := r.notifications.ListByRecipient(ctx, filter)
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return notificationList(list), nil
}

// Notification returns null for an unknown id.
func (r *Resolver) Notification(ctx context.Context, args idArgs) (*notificationResolver, error) {
	n, err := r.notifications.Get(ctx, string(args.ID))
	if apperrors.IsNotFoundError(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &notificationResolver{n: n}, nil
}

func (r *Resolver) MarketplaceStatus(ctx context.Context, args struct{ FeedbackID graphql.ID }) (*marketplaceStatusResolver, error) {
	view, err := r.feedback.MarketplaceStatus(ctx, string(args.FeedbackID))
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &marketplaceStatusResolver{view: view}, nil
}

func (in *feedbackFilterInput) toModel() (model.FeedbackFilter, error) {
	var filter model.FeedbackFilter
	if in == nil {
		return filter, nil
	}
	filter.BatchID = deref(in.BatchID)
	filter.ProductName = deref(in.ProductName)
	if raw := deref(in.Status); raw != "" {
		st, ok := model.NormalizeStatus(raw)
		if !ok {
			return filter, fmt.Errorf("%w: unknown status %q", apperrors.ErrBadRequest, raw)
		}
		filter.Status = st
	}

	var err error
	if filter.StartDate, err = parseTime("startDate", in.StartDate); err != nil {
		return filter, err
	}
	if filter.EndDate, err = parseTime("endDate", in.EndDate); err != nil {
		return filter, err
	}
	return filter, nil
}

func (in *paginationInput) toModel() model.Pagination {
	if in == nil {
		return model.Pagination{}
	}
	return model.Pagination{
		Page:     intValue(in.Page),
		PageSize: intValue(in.PageSize),
		Limit:    intValue(in.Limit),
		Offset:   intValue(in.Offset),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intValue(n *int32) int {
	if n == nil {
		return 0
	}
	return int(*n)
}

func intPtr(n *int32) *int {
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}

// parseTime accepts RFC3339 timestamps or plain dates.
func parseTime(field string, raw *string) (*time.Time, error) {
	if raw == nil || *raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, *raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s must be an RFC3339 timestamp or a YYYY-MM-DD date", apperrors.ErrBadRequest, field)
}
