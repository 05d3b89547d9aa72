package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/notifier"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

const (
	deliveryPoolName = "delivery"

	HeaderCompanyID      = "X-Company-ID"
	HeaderNotificationID = "X-Notification-ID"
	HeaderType           = "X-Notification-Type"

	defaultSubjectPrefix = "notifications"
)

// Publisher puts in-app notifications on the broker.
type Publisher interface {
	Publish(subject string, data []byte, headers map[string]string) error
}

type deliveryTask struct {
	ctx          context.Context
	notification model.NotificationRecord
}

// NotificationDeliverer pushes persisted notifications to their channels and
// flags them delivered. Delivery failures never affect the transition that
// produced the notification.
type NotificationDeliverer struct {
	pool             *ants.PoolWithFunc
	notificationRepo storage.NotificationRepo
	publisher        Publisher
	email            notifier.Sender
	broadcast        notifier.Sender
	subjectPrefix    string
	companyID        string
	baseLogger       *zap.Logger
}

// NewNotificationDeliverer creates the deliverer and its pool. publisher and
// the senders may be nil, which disables that channel.
func NewNotificationDeliverer(
	cfg config.NotificationConfig,
	poolCfg config.WorkerPoolConfig,
	companyID string,
	notificationRepo storage.NotificationRepo,
	publisher Publisher,
	email notifier.Sender,
	broadcast notifier.Sender,
	baseLogger *zap.Logger,
) (*NotificationDeliverer, error) {
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = defaultSubjectPrefix
	}
	d := &NotificationDeliverer{
		notificationRepo: notificationRepo,
		publisher:        publisher,
		email:            email,
		broadcast:        broadcast,
		subjectPrefix:    prefix,
		companyID:        companyID,
		baseLogger:       baseLogger.Named("notification_deliverer"),
	}

	pool, err := ants.NewPoolWithFunc(poolCfg.PoolSize, func(i interface{}) {
		task, ok := i.(deliveryTask)
		if !ok {
			d.baseLogger.Error("Invalid task data type received", zap.Any("data", i))
			return
		}
		start := time.Now()
		outcome := "success"
		if err := d.Deliver(task.ctx, task.notification); err != nil {
			outcome = "failed"
		}
		observer.IncWorkerTask(deliveryPoolName, outcome)
		observer.ObserveWorkerTaskDuration(deliveryPoolName, time.Since(start))
	},
		ants.WithExpiryDuration(poolCfg.ExpiryTime),
		ants.WithNonblocking(false),
		ants.WithMaxBlockingTasks(poolCfg.QueueSize),
		ants.WithPanicHandler(func(p interface{}) {
			observer.IncWorkerTask(deliveryPoolName, "panic")
			d.baseLogger.Error("Panic recovered in delivery worker", zap.Any("panic_error", p), zap.Stack("stack"))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create delivery worker pool: %w", err)
	}
	d.pool = pool
	d.baseLogger.Info("Delivery worker pool initialized",
		zap.Int("pool_size", poolCfg.PoolSize),
		zap.Int("queue_size", poolCfg.QueueSize),
		zap.String("subject_prefix", prefix),
		zap.Bool("publisher", publisher != nil),
		zap.Bool("email", senderEnabled(email)),
		zap.Bool("broadcast", senderEnabled(broadcast)),
	)
	return d, nil
}

// Enqueue schedules delivery of each notification on a detached context.
func (d *NotificationDeliverer) Enqueue(ctx context.Context, notifications ...model.NotificationRecord) error {
	detached := context.WithoutCancel(ctx)
	var errs []error
	for _, n := range notifications {
		if err := d.pool.Invoke(deliveryTask{ctx: detached, notification: n}); err != nil {
			observer.IncWorkerTask(deliveryPoolName, "submit_error")
			logger.FromContextOr(ctx, d.baseLogger).Warn("Failed to submit delivery task",
				zap.String("notification_id", n.NotificationID),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("notification %s: %w", n.NotificationID, err))
		}
	}
	return errors.Join(errs...)
}

// Deliver sends one notification on every channel its delivery method names
// and sets IsDelivered once any channel succeeded.
func (d *NotificationDeliverer) Deliver(ctx context.Context, n model.NotificationRecord) error {
	log := logger.FromContextOr(ctx, d.baseLogger).With(
		zap.String("notification_id", n.NotificationID),
		zap.String("recipient_type", string(n.RecipientType)),
	)

	var (
		errs      []error
		delivered bool
	)
	if n.DeliveryMethod.InApp() && d.publisher != nil {
		err := d.publish(n)
		observer.IncNotificationDelivery("in_app", err)
		if err != nil {
			errs = append(errs, err)
		} else {
			delivered = true
		}
	}
	if n.DeliveryMethod.Email() {
		sender := d.email
		if n.RecipientType == model.RecipientAll {
			sender = d.broadcast
		}
		if senderEnabled(sender) {
			err := sender.Send(ctx, n.Title, n.Message)
			observer.IncNotificationDelivery("email", err)
			if err != nil {
				errs = append(errs, err)
			} else {
				delivered = true
			}
		}
	}

	if delivered && !n.IsDelivered {
		if _, err := d.notificationRepo.UpdateFlags(ctx, n.NotificationID, model.NotificationFlags{IsDelivered: ptrTo(true)}); err != nil {
			log.Error("Failed to flag notification delivered", zap.Error(err))
			errs = append(errs, err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		log.Warn("Notification delivery incomplete", zap.Bool("delivered", delivered), zap.Error(err))
	} else if delivered {
		log.Debug("Notification delivered")
	}
	return err
}

// Stop releases the pool, waiting up to timeout for running deliveries.
func (d *NotificationDeliverer) Stop(timeout time.Duration) {
	d.baseLogger.Info("Stopping delivery worker pool", zap.Int("running", d.pool.Running()))
	if err := d.pool.ReleaseTimeout(timeout); err != nil {
		d.baseLogger.Warn("Delivery worker pool did not stop in time", zap.Error(err))
	}
}

// Subject returns the broker subject for a recipient type.
func (d *NotificationDeliverer) Subject(recipient model.RecipientType) string {
	return d.subjectPrefix + "." + string(recipient)
}

func (d *NotificationDeliverer) publish(n model.NotificationRecord) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	headers := map[string]string{
		HeaderCompanyID:      d.companyID,
		HeaderNotificationID: n.NotificationID,
		HeaderType:           string(n.Type),
	}
	return d.publisher.Publish(d.Subject(n.RecipientType), data, headers)
}

func senderEnabled(s notifier.Sender) bool {
	return s != nil && s.Enabled()
}

func ptrTo[T any](v T) *T { return &v }
