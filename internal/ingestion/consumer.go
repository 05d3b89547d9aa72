package ingestion

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/jetstream"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/internal/tenant"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
	"gitlab.com/timkado/api/production-feedback-service/pkg/utils"
)

const consumerSource = "queue"

// Consumer states reported by Status.
const (
	StatusRunning    = "running"
	StatusStopped    = "stopped"
	StatusConnecting = "connecting"
)

// ConsumerStatus is the consumer state exposed on the status endpoint.
type ConsumerStatus struct {
	Status           string `json:"status"`
	QueueName        string `json:"queueName"`
	BrokerConfigured bool   `json:"brokerConfigured"`
	Connected        bool   `json:"connected"`
}

// QueueConsumer consumes machine-queue updates from a durable JetStream push
// consumer. Every message is acknowledged once processing finishes, whatever
// the outcome; failures are logged and counted.
type QueueConsumer struct {
	conn       *ConnectionManager
	router     RouterInterface
	cfg        config.QueueConfig
	companyID  string
	baseLogger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewQueueConsumer creates a consumer for the machine queue subject.
func NewQueueConsumer(conn *ConnectionManager, router RouterInterface, cfg config.QueueConfig, companyID string, baseLogger *zap.Logger) *QueueConsumer {
	log := baseLogger.Named("queue_consumer")
	ctx, cancel := context.WithCancel(context.Background())
	ctx = logger.WithLogger(ctx, log)
	if companyID != "" {
		ctx = tenant.WithCompanyID(ctx, companyID)
	}

	return &QueueConsumer{
		conn:       conn,
		router:     router,
		cfg:        cfg,
		companyID:  companyID,
		baseLogger: log,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Setup registers the stream/consumer topology and the message handler with
// the connection manager. They are applied on every (re)connect.
func (c *QueueConsumer) Setup() error {
	if c.cfg.Name == "" || c.cfg.Stream == "" || c.cfg.Consumer == "" {
		return fmt.Errorf("queue name, stream and consumer must be configured")
	}
	c.conn.OnConnect(c.ensureTopology)
	c.conn.OnMessage(Subscription{
		Subject:  c.cfg.Name,
		Consumer: c.cfg.Consumer,
		Group:    c.cfg.QueueGroup,
		Stream:   c.cfg.Stream,
	}, c.handleMessage)
	return nil
}

func (c *QueueConsumer) ensureTopology(ctx context.Context, client jetstream.ClientInterface) error {
	log := c.baseLogger.With(zap.String("stream", c.cfg.Stream), zap.String("consumer", c.cfg.Consumer))
	ctx = logger.WithLogger(ctx, log)

	streamCfg := &nats.StreamConfig{
		Name:      c.cfg.Stream,
		Subjects:  []string{c.cfg.Name},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Duration(c.cfg.MaxAge*24) * time.Hour,
	}
	if err := client.SetupStream(ctx, streamCfg); err != nil {
		log.Error("Failed to setup queue stream", zap.Error(err))
		return fmt.Errorf("failed to setup queue stream '%s': %w", c.cfg.Stream, err)
	}

	consumerCfg := &nats.ConsumerConfig{
		Durable:        c.cfg.Consumer,
		DeliverGroup:   c.cfg.QueueGroup,
		DeliverSubject: "deliver." + c.cfg.Consumer,
		FilterSubject:  c.cfg.Name,
		AckPolicy:      nats.AckExplicitPolicy,
		AckWait:        30 * time.Second,
		MaxAckPending:  1000,
		ReplayPolicy:   nats.ReplayInstantPolicy,
		DeliverPolicy:  nats.DeliverAllPolicy,
	}
	if err := client.SetupConsumer(ctx, c.cfg.Stream, consumerCfg); err != nil {
		log.Error("Failed to setup queue consumer", zap.Error(err))
		return fmt.Errorf("failed to setup queue consumer '%s' for stream '%s': %w", c.cfg.Consumer, c.cfg.Stream, err)
	}

	log.Info("Queue consumer topology ready", zap.String("subject", c.cfg.Name))
	return nil
}

// Start runs the connect loop in the background. Messages flow once the
// first connection is established.
func (c *QueueConsumer) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return ErrConnectionClosed
	}
	if c.started {
		return nil
	}
	c.started = true

	if !c.conn.Configured() {
		c.baseLogger.Warn("Queue URL not configured, consumer disabled")
		return nil
	}

	c.baseLogger.Info("Starting queue consumer", zap.String("subject", c.cfg.Name))
	utils.SafeGo(func() {
		if err := c.conn.Connect(c.ctx); err != nil {
			c.baseLogger.Warn("Queue connect loop ended", zap.Error(err))
		}
	}, nil)
	return nil
}

// Stop drains the subscription and closes the connection.
func (c *QueueConsumer) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()

	c.baseLogger.Info("Stopping queue consumer")
	c.cancel()
	c.conn.Close()
	c.baseLogger.Info("Queue consumer stopped")
}

// Status reports whether the consumer is running, stopped or still connecting.
func (c *QueueConsumer) Status() ConsumerStatus {
	c.mu.Lock()
	started, stopped := c.started, c.stopped
	c.mu.Unlock()

	connected := c.conn.IsConnected()
	status := StatusStopped
	switch {
	case !started || stopped || !c.conn.Configured():
	case connected:
		status = StatusRunning
	default:
		status = StatusConnecting
	}

	return ConsumerStatus{
		Status:           status,
		QueueName:        c.cfg.Name,
		BrokerConfigured: c.conn.Configured(),
		Connected:        connected,
	}
}

// handleMessage routes a single delivery and acknowledges it.
func (c *QueueConsumer) handleMessage(msg *nats.Msg) {
	startTime := utils.Now()
	eventType, _ := c.router.EventTypeFor(msg.Subject)
	log := logger.FromContext(c.ctx).With(zap.String("subject", msg.Subject))

	defer func() {
		observer.ObserveEventProcessingDuration(string(eventType), c.companyID, consumerSource, time.Since(startTime))
		if r := recover(); r != nil {
			log.Error("[panic] Recovered from panic in message handler",
				zap.Any("panic", r),
				zap.Duration("duration", time.Since(startTime)),
				zap.Stack("stack"),
			)
			observer.IncEventsFailed(string(eventType), c.companyID, consumerSource)
			observer.IncEventProcessingAction(string(eventType), c.companyID, consumerSource, "ack_panic", "panic")
			c.ack(msg, log)
		}
	}()

	metadata := c.metadataFor(msg)
	log = log.With(
		zap.String("nats_message_id", metadata.MessageID),
		zap.Uint64("stream_sequence", metadata.StreamSequence),
		zap.Uint64("num_delivered", metadata.NumDelivered),
	)
	msgCtx := logger.WithLogger(c.ctx, log)

	observer.IncEventsReceived(string(eventType), c.companyID, consumerSource)

	err := c.router.Route(msgCtx, metadata, msg.Data)
	if err != nil {
		errorType := observer.SanitizeErrorType(err.Error())
		log.Error("Failed to process queue message, acknowledging anyway",
			zap.Error(err),
			zap.String("error_type", errorType),
			zap.Duration("duration", time.Since(startTime)),
		)
		observer.IncEventsFailed(string(eventType), c.companyID, consumerSource)
		observer.IncEventProcessingAction(string(eventType), c.companyID, consumerSource, "ack_dropped", errorType)
	} else {
		log.Debug("Processed queue message", zap.Duration("duration", time.Since(startTime)))
		observer.IncEventsProcessed(string(eventType), c.companyID, consumerSource)
		observer.IncEventProcessingAction(string(eventType), c.companyID, consumerSource, "ack_success", "none")
	}

	c.ack(msg, log)
}

// metadataFor builds delivery metadata. Core NATS messages without JetStream
// metadata still get the subject and a message id.
func (c *QueueConsumer) metadataFor(msg *nats.Msg) *model.MessageMetadata {
	md := &model.MessageMetadata{
		MessageSubject: msg.Subject,
		CompanyID:      c.companyID,
	}
	if msg.Header != nil {
		md.MessageID = msg.Header.Get(nats.MsgIdHdr)
	}
	if meta, err := msg.Metadata(); err == nil {
		md.StreamSequence = meta.Sequence.Stream
		md.ConsumerSequence = meta.Sequence.Consumer
		md.NumDelivered = meta.NumDelivered
		md.NumPending = meta.NumPending
		md.Timestamp = meta.Timestamp
		md.Stream = meta.Stream
		md.Consumer = meta.Consumer
		md.Domain = meta.Domain
		if md.MessageID == "" {
			md.MessageID = fmt.Sprintf("msg-%d", meta.Sequence.Stream)
		}
	}
	return md
}

func (c *QueueConsumer) ack(msg *nats.Msg, log *zap.Logger) {
	if msg.Reply == "" {
		return
	}
	if err := msg.Ack(); err != nil {
		log.Error("Failed to ACK message", zap.Error(err))
	}
}
