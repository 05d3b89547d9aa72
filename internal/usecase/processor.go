package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/ingestion"
	"gitlab.com/timkado/api/production-feedback-service/internal/ingestion/handler"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

// Processor wires the machine queue consumer to the feedback service.
type Processor struct {
	service      handler.QueueService
	consumer     ingestion.ConsumerInterface
	eventRouter  *ingestion.Router
	queueHandler handler.EventHandlerInterface
	queueCfg     config.QueueConfig
	baseLogger   *zap.Logger
}

// NewProcessor creates a new processor with all components wired up.
// The durable consumer and queue group are suffixed with the company id so
// each tenant deployment keeps its own cursor.
func NewProcessor(service handler.QueueService, conn *ingestion.ConnectionManager, cfg *config.Config, companyID string, baseLogger *zap.Logger) *Processor {
	router := ingestion.NewRouter()

	queueCfg := cfg.Queue
	if companyID != "" {
		queueCfg.Consumer = fmt.Sprintf("%s_%s", queueCfg.Consumer, companyID)
		if queueCfg.QueueGroup != "" {
			queueCfg.QueueGroup = fmt.Sprintf("%s_%s", queueCfg.QueueGroup, companyID)
		}
	}

	return &Processor{
		service:      service,
		consumer:     ingestion.NewQueueConsumer(conn, router, queueCfg, companyID, baseLogger),
		eventRouter:  router,
		queueHandler: handler.NewQueueHandler(service),
		queueCfg:     queueCfg,
		baseLogger:   baseLogger.Named("processor"),
	}
}

// GetRouter returns the processor's event router.
func (p *Processor) GetRouter() ingestion.RouterInterface {
	return p.eventRouter
}

// Setup registers the queue handler and the consumer topology.
func (p *Processor) Setup() error {
	p.eventRouter.Bind(p.queueCfg.Name, model.MachineQueueUpdate)
	p.eventRouter.Register(model.MachineQueueUpdate, p.queueHandler.HandleEvent)

	p.eventRouter.RegisterDefault(func(ctx context.Context, eventType model.EventType, metadata *model.MessageMetadata, rawEvent []byte) error {
		logger.FromContext(ctx).Warn("Unhandled event type",
			zap.String("type", string(eventType)),
			zap.String("subject", metadata.MessageSubject),
		)
		return nil
	})

	if err := p.consumer.Setup(); err != nil {
		return fmt.Errorf("failed to setup queue consumer: %w", err)
	}

	p.baseLogger.Info("Processor setup complete",
		zap.String("subject", p.queueCfg.Name),
		zap.String("consumer", p.queueCfg.Consumer),
	)
	return nil
}

// Start starts consuming in the background.
func (p *Processor) Start() error {
	if err := p.consumer.Start(); err != nil {
		return fmt.Errorf("failed to start queue consumer: %w", err)
	}
	p.baseLogger.Info("Queue consumer started")
	return nil
}

// Stop stops the consumer and closes the broker connection.
func (p *Processor) Stop() {
	p.baseLogger.Info("Stopping event processor")
	p.consumer.Stop()
}

// Status reports the consumer state.
func (p *Processor) Status() ingestion.ConsumerStatus {
	return p.consumer.Status()
}
