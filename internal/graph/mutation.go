package graph

import (
	"context"

	graphql "github.com/graph-gophers/graphql-go"

	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
)

type createFeedbackInput struct {
	BatchID         *string
	ProductionID    *string
	ProductID       *string
	ProductName     string
	Status          *string
	QuantityOrdered *int32
	QualityScore    *float64
	Notes           *string
	CustomerNotes   *string
	StartDate       *string
	EndDate         *string
	PlannedEndDate  *string
}

type updateFeedbackInput struct {
	BatchID          *string
	ProductionID     *string
	ProductID        *string
	ProductName      *string
	Status           *string
	QuantityOrdered  *int32
	QuantityProduced *int32
	QuantityRejected *int32
	QualityScore     *float64
	Notes            *string
	CustomerNotes    *string
	StartDate        *string
	EndDate          *string
	PlannedEndDate   *string
	AllowOverrun     *bool
}

type quantitiesInput struct {
	QuantityOrdered  *int32
	QuantityProduced *int32
	QuantityRejected *int32
	AllowOverrun     *bool
}

type createNotificationInput struct {
	FeedbackID     *string
	Type           *string
	Title          string
	Message        string
	RecipientType  string
	RecipientID    *string
	Priority       *string
	DeliveryMethod *string
}

type updateNotificationInput struct {
	IsRead      *bool
	IsDelivered *bool
}

func (r *Resolver) CreateFeedback(ctx context.Context, args struct{ Input createFeedbackInput }) (*feedbackResolver, error) {
	in := args.Input
	input := model.FeedbackInput{
		BatchID:         deref(in.BatchID),
		ProductionID:    deref(in.ProductionID),
		ProductID:       deref(in.ProductID),
		ProductName:     in.ProductName,
		Status:          deref(in.Status),
		QuantityOrdered: intValue(in.QuantityOrdered),
		QualityScore:    in.QualityScore,
		Notes:           deref(in.Notes),
		CustomerNotes:   deref(in.CustomerNotes),
	}
	var err error
	if input.StartDate, err = parseTime("startDate", in.StartDate); err != nil {
		return nil, wrap(ctx, err)
	}
	if input.EndDate, err = parseTime("endDate", in.EndDate); err != nil {
		return nil, wrap(ctx, err)
	}
	if input.PlannedEndDate, err = parseTime("plannedEndDate", in.PlannedEndDate); err != nil {
		return nil, wrap(ctx, err)
	}

	res, err := r.feedback.Create(ctx, input)
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return r.wrapFeedback(res.Record), nil
}

func (r *Resolver) UpdateFeedback(ctx context.Context, args struct {
	ID    graphql.ID
	Input updateFeedbackInput
}) (*feedbackUpdateResolver, error) {
	in := args.Input
	patch := model.FeedbackPatch{
		BatchID:          in.BatchID,
		ProductionID:     in.ProductionID,
		ProductID:        in.ProductID,
		ProductName:      in.ProductName,
		Status:           in.Status,
		QuantityOrdered:  intPtr(in.QuantityOrdered),
		QuantityProduced: intPtr(in.QuantityProduced),
		QuantityRejected: intPtr(in.QuantityRejected),
		QualityScore:     in.QualityScore,
		Notes:            in.Notes,
		CustomerNotes:    in.CustomerNotes,
	}
	var err error
	if patch.StartDate, err = parseTime("startDate", in.StartDate); err != nil {
		return nil, wrap(ctx, err)
	}
	if patch.EndDate, err = parseTime("endDate", in.EndDate); err != nil {
		return nil, wrap(ctx, err)
	}
	if patch.PlannedEndDate, err = parseTime("plannedEndDate", in.PlannedEndDate); err != nil {
		return nil, wrap(ctx, err)
	}
	return r.applyPatch(ctx, args.ID, patch, in.AllowOverrun != nil && *in.AllowOverrun)
}

func (r *Resolver) UpdateFeedbackStatus(ctx context.Context, args struct {
	ID     graphql.ID
	Status string
}) (*feedbackUpdateResolver, error) {
	status := args.Status
	return r.applyPatch(ctx, args.ID, model.FeedbackPatch{Status: &status}, false)
}

func (r *Resolver) UpdateFeedbackQuantities(ctx context.Context, args struct {
	ID    graphql.ID
	Input quantitiesInput
}) (*feedbackUpdateResolver, error) {
	in := args.Input
	patch := model.FeedbackPatch{
		QuantityOrdered:  intPtr(in.QuantityOrdered),
		QuantityProduced: intPtr(in.QuantityProduced),
		QuantityRejected: intPtr(in.QuantityRejected),
	}
	return r.applyPatch(ctx, args.ID, patch, in.AllowOverrun != nil && *in.AllowOverrun)
}

func (r *Resolver) applyPatch(ctx context.Context, id graphql.ID, patch model.FeedbackPatch, allowOverrun bool) (*feedbackUpdateResolver, error) {
	upd, err := model.NewManualUpdate(string(id), patch, tenant.ActorFromContext(ctx))
	if err != nil {
		return nil, wrap(ctx, err)
	}
	upd.AllowOverrun = allowOverrun

	res, err := r.feedback.Update(ctx, upd)
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &feedbackUpdateResolver{res: res, notifications: r.notifications}, nil
}

func (r *Resolver) DeleteFeedback(ctx context.Context, args idArgs) (bool, error) {
	if err := r.feedback.Delete(ctx, string(args.ID)); err != nil {
		return false, wrap(ctx, err)
	}
	return true, nil
}

func (r *Resolver) CreateNotification(ctx context.Context, args struct{ Input createNotificationInput }) (*notificationResolver, error) {
	in := args.Input
	n, err := r.notifications.Create(ctx, model.NotificationInput{
		FeedbackID:     deref(in.FeedbackID),
		Type:           deref(in.Type),
		Title:          in.Title,
		Message:        in.Message,
		RecipientType:  in.RecipientType,
		RecipientID:    in.RecipientID,
		Priority:       deref(in.Priority),
		DeliveryMethod: deref(in.DeliveryMethod),
	})
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &notificationResolver{n: n}, nil
}

func (r *Resolver) UpdateNotification(ctx context.Context, args struct {
	ID    graphql.ID
	Input updateNotificationInput
}) (*notificationResolver, error) {
	n, err := r.notifications.UpdateFlags(ctx, string(args.ID), model.NotificationFlags{
		IsRead:      args.Input.IsRead,
		IsDelivered: args.Input.IsDelivered,
	})
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &notificationResolver{n: n}, nil
}

func (r *Resolver) MarkNotificationAsRead(ctx context.Context, args idArgs) (*notificationResolver, error) {
	n, err := r.notifications.MarkRead(ctx, string(args.ID))
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &notificationResolver{n: n}, nil
}

// MarkMultipleNotificationsAsRead returns how many notifications changed.
func (r *Resolver) MarkMultipleNotificationsAsRead(ctx context.Context, args struct{ IDs []graphql.ID }) (int32, error) {
	ids := make([]string, len(args.IDs))
	for i, id := range args.IDs {
		ids[i] = string(id)
	}
	updated, err := r.notifications.MarkMultipleRead(ctx, ids)
	if err != nil {
		return 0, wrap(ctx, err)
	}
	return int32(updated), nil
}

func (r *Resolver) DeleteNotification(ctx context.Context, args idArgs) (bool, error) {
	if err := r.notifications.Delete(ctx, string(args.ID)); err != nil {
		return false, wrap(ctx, err)
	}
	return true, nil
}

func (r *Resolver) SyncFeedbackToMarketplace(ctx context.Context, args struct{ FeedbackID graphql.ID }) (*syncResultResolver, error) {
	res, err := r.feedback.SyncMarketplace(ctx, string(args.FeedbackID))
	if err != nil {
		return nil, wrap(ctx, err)
	}
	return &syncResultResolver{res: res}, nil
}
