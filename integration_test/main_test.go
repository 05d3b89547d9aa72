//go:build integration

package integration_test

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http/httptest"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	tcnats "github.com/testcontainers/testcontainers-go/modules/nats"
	pgtc "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/graph"
	"gitlab.com/timkado/api/production-feedback-service/internal/httpapi"
	"gitlab.com/timkado/api/production-feedback-service/internal/ingestion"
	"gitlab.com/timkado/api/production-feedback-service/internal/jetstream"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/storage"
	"gitlab.com/timkado/api/production-feedback-service/internal/usecase"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

const (
	DefaultCompanyID    = "integration"
	notificationsPrefix = "notifications"
	eventuallyTimeout   = 15 * time.Second
	eventuallyTick      = 100 * time.Millisecond
)

// BaseIntegrationSuite starts Postgres and NATS once per suite.
type BaseIntegrationSuite struct {
	suite.Suite
	Postgres    testcontainers.Container
	PostgresDSN string
	NATS        testcontainers.Container
	NATSURL     string
	CompanyID   string
	Ctx         context.Context
	cancel      context.CancelFunc
}

func (s *BaseIntegrationSuite) SetupSuite() {
	s.Ctx, s.cancel = context.WithCancel(context.Background())
	logger.Log = zaptest.NewLogger(s.T()).Named("integration")

	s.CompanyID = os.Getenv("TEST_COMPANY_ID")
	if s.CompanyID == "" {
		s.CompanyID = DefaultCompanyID
	}

	startTime := time.Now()
	var err error
	s.Postgres, s.PostgresDSN, err = startPostgres(s.Ctx)
	s.Require().NoError(err, "failed to start postgres")

	s.NATS, s.NATSURL, err = startNATSContainer(s.Ctx)
	s.Require().NoError(err, "failed to start NATS")

	log.Printf("BaseIntegrationSuite setup complete in %v", time.Since(startTime))
}

func (s *BaseIntegrationSuite) TearDownSuite() {
	if s.NATS != nil {
		if err := s.NATS.Terminate(context.Background()); err != nil {
			s.T().Logf("Error terminating NATS container: %v", err)
		}
	}
	if s.Postgres != nil {
		if err := s.Postgres.Terminate(context.Background()); err != nil {
			s.T().Logf("Error terminating PostgreSQL container: %v", err)
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// TruncateTenant empties a company's tables.
func (s *BaseIntegrationSuite) TruncateTenant(companyID string) {
	db, err := sql.Open("pgx", s.PostgresDSN)
	s.Require().NoError(err)
	defer db.Close()

	schemaName := storage.SchemaName(companyID)
	_, err = db.ExecContext(s.Ctx, fmt.Sprintf(`TRUNCATE TABLE %q.feedbacks, %q.feedback_notifications RESTART IDENTITY`, schemaName, schemaName))
	s.Require().NoError(err)
}

// CountRows counts rows of a company table matching where.
func (s *BaseIntegrationSuite) CountRows(companyID, table, where string, args ...interface{}) int {
	db, err := sql.Open("pgx", s.PostgresDSN)
	s.Require().NoError(err)
	defer db.Close()

	query := fmt.Sprintf(`SELECT COUNT(*) FROM %q.%q`, storage.SchemaName(companyID), table)
	if where != "" {
		query += " WHERE " + where
	}
	var n int
	s.Require().NoError(db.QueryRowContext(s.Ctx, query, args...).Scan(&n))
	return n
}

func startPostgres(ctx context.Context) (testcontainers.Container, string, error) {
	pgContainer, err := pgtc.Run(ctx,
		"postgres:17-bookworm",
		pgtc.WithDatabase("production_feedback"),
		pgtc.WithUsername("postgres"),
		pgtc.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start PostgreSQL container: %w", err)
	}

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return pgContainer, "", fmt.Errorf("failed to get PostgreSQL connection string: %w", err)
	}
	return pgContainer, dsn, nil
}

func startNATSContainer(ctx context.Context) (testcontainers.Container, string, error) {
	natsContainer, err := tcnats.Run(ctx,
		"nats:2.11-alpine",
		tcnats.WithArgument("name", "test-nats-server"),
		tcnats.WithArgument("store_dir", "/data"),
	)
	if err != nil {
		return nil, "", fmt.Errorf("failed to start NATS container: %w", err)
	}

	natsURL, err := natsContainer.ConnectionString(ctx)
	if err != nil {
		return natsContainer, "", fmt.Errorf("failed to get NATS connection string: %w", err)
	}
	return natsContainer, natsURL, nil
}

// TestApp is the service wired in-process against the suite's containers.
type TestApp struct {
	Config        *config.Config
	Repo          *storage.PostgresRepo
	Feedback      *usecase.FeedbackService
	Notifications *usecase.NotificationService
	Deliverer     *usecase.NotificationDeliverer
	Processor     *usecase.Processor
	Publisher     *jetstream.Client
	API           *httptest.Server
}

// StartApp wires storage, services, the queue consumer and the HTTP API the
// same way the service binary does. Each company gets its own queue subject.
func (s *BaseIntegrationSuite) StartApp(companyID string) *TestApp {
	log := logger.Log.Named(companyID)

	cfg := &config.Config{Environment: "test"}
	cfg.Database = config.DatabaseConfig{Driver: storage.DriverPostgres, PostgresDSN: s.PostgresDSN, AutoMigrate: true}
	cfg.Queue = config.QueueConfig{
		URL:            s.NATSURL,
		Name:           "machine_queue_updates_" + companyID,
		Stream:         "machine_queue_" + companyID,
		Consumer:       "production_feedback",
		QueueGroup:     "production_feedback",
		MaxAge:         1,
		ReconnectDelay: time.Second,
	}
	cfg.Notify = config.NotificationConfig{SubjectPrefix: notificationsPrefix, Timeout: 5 * time.Second}
	pool := config.WorkerPoolConfig{PoolSize: 4, QueueSize: 100, ExpiryTime: time.Minute}

	repo, err := storage.NewRepo(cfg.Database, companyID)
	s.Require().NoError(err)
	feedbackRepo := storage.NewFeedbackRepoAdapter(repo)
	notificationRepo := storage.NewNotificationRepoAdapter(repo)

	publisher, err := jetstream.NewClient(s.NATSURL, jetstream.Options{Name: "integration-publisher-" + companyID})
	s.Require().NoError(err)
	s.Require().NoError(publisher.SetupStream(s.Ctx, &nats.StreamConfig{
		Name:     "NOTIFICATIONS",
		Subjects: []string{notificationsPrefix + ".>"},
		Storage:  nats.MemoryStorage,
	}))

	deliverer, err := usecase.NewNotificationDeliverer(cfg.Notify, pool, companyID, notificationRepo, publisher, nil, nil, log)
	s.Require().NoError(err)
	policy := usecase.NewDispatchPolicy(notificationRepo, nil, log)
	engine := usecase.NewTransitionEngine(feedbackRepo, policy, nil, log)
	feedbackService := usecase.NewFeedbackService(engine, feedbackRepo, nil, deliverer, time.Millisecond, log)
	notificationService := usecase.NewNotificationService(notificationRepo, feedbackRepo, nil, deliverer, log)

	conn := ingestion.NewConnectionManager(s.NATSURL, "integration-consumer-"+companyID, cfg.Queue.ReconnectDelay, nil, log)
	processor := usecase.NewProcessor(feedbackService, conn, cfg, companyID, log)
	s.Require().NoError(processor.Setup())
	s.Require().NoError(processor.Start())
	s.Require().Eventually(func() bool {
		return processor.Status().Status == ingestion.StatusRunning
	}, eventuallyTimeout, eventuallyTick, "queue consumer did not connect")

	schema, err := graph.NewSchema(feedbackService, notificationService, log)
	s.Require().NoError(err)
	api := httpapi.NewServer(httpapi.Deps{
		Feedback:      feedbackService,
		Notifications: notificationService,
		Consumer:      processor,
		GraphQL:       graph.NewHandler(schema),
	}, httpapi.Options{CompanyID: companyID}, log)

	return &TestApp{
		Config:        cfg,
		Repo:          repo,
		Feedback:      feedbackService,
		Notifications: notificationService,
		Deliverer:     deliverer,
		Processor:     processor,
		Publisher:     publisher,
		API:           httptest.NewServer(api.Handler()),
	}
}

// Stop shuts the app down in the same order as the service binary.
func (a *TestApp) Stop() {
	a.API.Close()
	a.Processor.Stop()
	a.Deliverer.Stop(5 * time.Second)
	_ = a.Repo.Close(context.Background())
	a.Publisher.Close()
}

// PublishQueueEvent publishes a machine-queue update on the consumer's subject.
func (a *TestApp) PublishQueueEvent(evt *model.QueueEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return a.PublishRaw(data)
}

// PublishRaw publishes an arbitrary payload on the consumer's subject.
func (a *TestApp) PublishRaw(data []byte) error {
	return a.Publisher.Publish(a.Config.Queue.Name, data, map[string]string{
		"Nats-Msg-Id": fmt.Sprintf("it-%d", time.Now().UnixNano()),
	})
}

// WaitForBatch polls until the batch's record satisfies cond.
func (s *BaseIntegrationSuite) WaitForBatch(app *TestApp, batchID string, cond func(*model.FeedbackRecord) bool) *model.FeedbackRecord {
	var last *model.FeedbackRecord
	s.Require().Eventually(func() bool {
		fb, err := app.Feedback.ByBatch(s.Ctx, batchID)
		if err != nil {
			return false
		}
		last = fb
		return cond(fb)
	}, eventuallyTimeout, eventuallyTick, "batch %s never reached the expected state", batchID)
	logger.Log.Debug("Batch reached expected state", zap.String("batch_id", batchID), zap.String("status", string(last.Status)))
	return last
}
