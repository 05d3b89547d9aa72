package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/production-feedback-service/internal/config"
	"gitlab.com/timkado/api/production-feedback-service/internal/jetstream"
	"gitlab.com/timkado/api/production-feedback-service/internal/model"
	"gitlab.com/timkado/api/production-feedback-service/internal/observer"
	"gitlab.com/timkado/api/production-feedback-service/pkg/logger"
)

// PublishTask is one machine-queue message ready to publish.
type PublishTask struct {
	MsgID string
	Event model.QueueEvent
}

// BatchTask is a batch of messages handed to one worker.
type BatchTask struct {
	Subject   string
	CompanyID string
	Tasks     []PublishTask
	Client    jetstream.ClientInterface
}

const (
	defaultBatchSize = 50
	progressSteps    = 4
)

// productionRun simulates one batch moving through the machine queue.
type productionRun struct {
	queueID  string
	batchID  string
	product  string
	quantity int
	step     int
	started  time.Time
}

func newProductionRun() *productionRun {
	return &productionRun{
		queueID:  "Q-" + gofakeit.DigitN(8),
		batchID:  "BATCH-" + gofakeit.DigitN(8),
		product:  gofakeit.ProductName(),
		quantity: gofakeit.Number(10, 500),
	}
}

// next returns the run's next event and whether the run finished.
func (r *productionRun) next() (model.QueueEvent, bool) {
	now := time.Now().UTC()
	evt := model.NewQueueEvent(&model.QueueEvent{
		QueueID:     r.queueID,
		BatchID:     r.batchID,
		ProductName: r.product,
		Quantity:    &r.quantity,
	})

	switch {
	case r.step == 0:
		r.started = now
		evt.Status = "in_progress"
		evt.ActualStartTime = &r.started
	case r.step < progressSteps:
		done := r.quantity * r.step / progressSteps
		evt.Status = "in_progress"
		evt.CompletedQuantity = &done
	default:
		done := r.quantity - gofakeit.Number(0, r.quantity/20)
		evt.Status = "completed"
		evt.CompletedQuantity = &done
		evt.ActualStartTime = &r.started
		evt.ActualEndTime = &now
	}
	r.step++
	return *evt, r.step > progressSteps
}

func main() {
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	natsURL := flag.String("url", cfg.Queue.URL, "NATS server URL")
	subject := flag.String("subject", cfg.Queue.Name, "Machine queue subject to publish on")
	rate := flag.Int("rate", 100, "Target messages per second (total)")
	duration := flag.Duration("duration", 1*time.Minute, "Load test duration")
	concurrency := flag.Int("concurrency", 10, "Number of concurrent publishers")
	runs := flag.Int("runs", 100, "Number of production runs advanced concurrently")
	companyID := flag.String("company-id", cfg.Company.ID, "Company ID recorded on messages and metrics")
	batchSize := flag.Int("batch-size", defaultBatchSize, "Number of messages to publish per worker batch")
	metricsPort := flag.Int("metrics-port", 9091, "Port for Prometheus metrics endpoint")
	logLevel := flag.String("log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Machine Queue Load Generator\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Publishes synthetic machine-queue updates for the production feedback service.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *batchSize <= 0 {
		*batchSize = defaultBatchSize
	}
	if *runs <= 0 {
		*runs = 1
	}
	if *rate <= 0 {
		fmt.Println("rate must be positive")
		os.Exit(1)
	}

	if err := logger.Initialize(*logLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(true)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsServer := startMetricsServer(*metricsPort)
	var metricsWg sync.WaitGroup
	metricsWg.Add(1)
	go func() {
		defer metricsWg.Done()
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Metrics server shutdown error", zap.Error(err))
		}
	}()

	logger.Log.Info("Starting machine queue load generator",
		zap.String("nats_url", *natsURL),
		zap.String("subject", *subject),
		zap.Int("rate_per_sec", *rate),
		zap.Duration("duration", *duration),
		zap.Int("concurrency", *concurrency),
		zap.Int("runs", *runs),
		zap.Int("batch_size", *batchSize),
		zap.String("company_id", *companyID),
	)

	client, err := jetstream.NewClient(*natsURL, jetstream.Options{Name: "production-feedback-loadgen"})
	if err != nil {
		logger.Log.Fatal("Failed to connect to NATS", zap.String("url", *natsURL), zap.Error(err))
	}
	defer client.Close()

	var wg sync.WaitGroup
	pool, err := ants.NewPoolWithFunc(*concurrency, func(data interface{}) {
		publishBatch(data, &wg)
	})
	if err != nil {
		logger.Log.Fatal("Failed to create worker pool", zap.Error(err))
	}
	defer pool.Release()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		runLoadLoop(ctx, loadOptions{
			rate:      *rate,
			duration:  *duration,
			batchSize: *batchSize,
			runs:      *runs,
			subject:   *subject,
			companyID: *companyID,
		}, client, pool, &wg)
	}()

	select {
	case sig := <-sigChan:
		logger.Log.Info("Received termination signal, shutting down", zap.String("signal", sig.String()))
		cancel()
		<-loopDone
	case <-loopDone:
		logger.Log.Info("Load generation finished")
	}

	wg.Wait()
	cancel()
	metricsWg.Wait()
	logger.Log.Info("Load generator shutdown complete")
}

func startMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Error("Failed to start Prometheus metrics server", zap.Error(err))
		}
	}()
	return server
}

type loadOptions struct {
	rate      int
	duration  time.Duration
	batchSize int
	runs      int
	subject   string
	companyID string
}

// runLoadLoop generates events at the target rate and submits them in batches.
// Runs advance round-robin; a finished run is replaced by a new one.
func runLoadLoop(ctx context.Context, opts loadOptions, client jetstream.ClientInterface, pool *ants.PoolWithFunc, wg *sync.WaitGroup) {
	ticker := time.NewTicker(time.Second / time.Duration(opts.rate))
	defer ticker.Stop()
	timer := time.NewTimer(opts.duration)
	defer timer.Stop()

	active := make([]*productionRun, opts.runs)
	for i := range active {
		active[i] = newProductionRun()
	}

	var counter int
	batch := make([]PublishTask, 0, opts.batchSize)
	submit := func() {
		if len(batch) == 0 {
			return
		}
		wg.Add(len(batch))
		task := BatchTask{Subject: opts.subject, CompanyID: opts.companyID, Tasks: batch, Client: client}
		if err := pool.Invoke(task); err != nil {
			logger.Log.Warn("Failed to invoke worker pool for batch", zap.Int("batch_task_count", len(batch)), zap.Error(err))
			wg.Add(-len(batch))
			for range batch {
				observer.IncLoadgenPublishErrors(opts.subject, opts.companyID)
			}
		}
		batch = make([]PublishTask, 0, opts.batchSize)
	}

	for {
		select {
		case <-ctx.Done():
			submit()
			return
		case <-timer.C:
			submit()
			return
		case <-ticker.C:
			slot := counter % len(active)
			counter++
			evt, finished := active[slot].next()
			if finished {
				active[slot] = newProductionRun()
			}

			observer.IncLoadgenMessagesAttempted(opts.subject, opts.companyID)
			batch = append(batch, PublishTask{
				MsgID: fmt.Sprintf("%s-%d", evt.BatchID, counter),
				Event: evt,
			})
			if len(batch) >= opts.batchSize {
				submit()
			}
		}
	}
}

// publishBatch publishes every message of a batch.
func publishBatch(data interface{}, wg *sync.WaitGroup) {
	batch := data.(BatchTask)
	for _, task := range batch.Tasks {
		func(task PublishTask) {
			defer wg.Done()

			payload, err := json.Marshal(task.Event)
			if err != nil {
				logger.Log.Error("Failed to marshal queue event", zap.String("batch_id", task.Event.BatchID), zap.Error(err))
				observer.IncLoadgenPublishErrors(batch.Subject, batch.CompanyID)
				return
			}

			headers := map[string]string{
				"Nats-Msg-Id":  task.MsgID,
				"X-Company-ID": batch.CompanyID,
			}
			if err := batch.Client.Publish(batch.Subject, payload, headers); err != nil {
				logger.Log.Error("Failed to publish queue event",
					zap.String("subject", batch.Subject),
					zap.String("batch_id", task.Event.BatchID),
					zap.String("status", strings.ToLower(task.Event.Status)),
					zap.Error(err))
				observer.IncLoadgenPublishErrors(batch.Subject, batch.CompanyID)
				return
			}
			observer.IncLoadgenMessagesPublished(batch.Subject, batch.CompanyID)
		}(task)
	}
}
