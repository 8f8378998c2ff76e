package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	transcribe "github.com/robertor4/transcribe-sub002"
	"github.com/robertor4/transcribe-sub002/cluster"
	"github.com/robertor4/transcribe-sub002/cron"
	"github.com/robertor4/transcribe-sub002/ext"
	"github.com/robertor4/transcribe-sub002/id"
	"github.com/robertor4/transcribe-sub002/job"
	mw "github.com/robertor4/transcribe-sub002/middleware"
	"github.com/robertor4/transcribe-sub002/notify"
	"github.com/robertor4/transcribe-sub002/observability"
	"github.com/robertor4/transcribe-sub002/pipeline"
	"github.com/robertor4/transcribe-sub002/provider"
	"github.com/robertor4/transcribe-sub002/queue"
	"github.com/robertor4/transcribe-sub002/recovery"
	"github.com/robertor4/transcribe-sub002/sweeper"
	"github.com/robertor4/transcribe-sub002/uploader"
	"github.com/robertor4/transcribe-sub002/worker"
)

// Engine is the assembled transcription service.
type Engine struct {
	t          *transcribe.Transcriber
	extensions *ext.Registry
	logger     *slog.Logger

	jobStore     job.Store
	cronStore    cron.Store
	clusterStore cluster.Store

	queue    queue.Queue
	manager  *queue.Manager
	provider provider.Provider
	objects  uploader.ObjectStore
	uploads  *uploader.Retrying

	analyzers []pipeline.Analyzer
	mws       []mw.Middleware

	processor *pipeline.Processor
	pool      *worker.Pool
	scheduler *cron.Scheduler
	recovery  *recovery.Service
	sweeper   *sweeper.Sweeper
	broker    *notify.Broker

	userDefaults queue.UserConfig

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithQueue sets the task queue. The default is an in-memory queue, which
// is only suitable for a single process.
func WithQueue(q queue.Queue) Option {
	return func(e *Engine) { e.queue = q }
}

// WithProvider sets the transcription provider, typically a failover
// chain.
func WithProvider(p provider.Provider) Option {
	return func(e *Engine) { e.provider = p }
}

// WithObjectStore enables transcript artifact uploads and retention
// deletes against the given store.
func WithObjectStore(s uploader.ObjectStore) Option {
	return func(e *Engine) { e.objects = s }
}

// WithAnalyzers sets the post-transcription analyzers.
func WithAnalyzers(analyzers ...pipeline.Analyzer) Option {
	return func(e *Engine) { e.analyzers = append(e.analyzers, analyzers...) }
}

// WithExtension registers an extension.
func WithExtension(x ext.Extension) Option {
	return func(e *Engine) { e.extensions.Register(x) }
}

// WithMiddleware appends middleware inside the default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(e *Engine) { e.mws = append(e.mws, m) }
}

// WithUserDefaults sets the default per-user concurrency and rate limits.
func WithUserDefaults(cfg queue.UserConfig) Option {
	return func(e *Engine) { e.userDefaults = cfg }
}

// WithTracerProvider sets a custom OTel tracer provider. The default is
// the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) { e.tracerProvider = tp }
}

// WithMeterProvider sets a custom OTel meter provider. The default is the
// global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

const meterName = "github.com/robertor4/transcribe-sub002"

// Build assembles an Engine from a Transcriber. The store must implement
// the job, cron, and cluster subsystem interfaces.
func Build(t *transcribe.Transcriber, opts ...Option) (*Engine, error) {
	if t.Store == nil {
		return nil, transcribe.ErrNoStore
	}
	js, ok := t.Store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("transcribe: store does not implement job.Store")
	}
	cs, ok := t.Store.(cron.Store)
	if !ok {
		return nil, fmt.Errorf("transcribe: store does not implement cron.Store")
	}
	cls, ok := t.Store.(cluster.Store)
	if !ok {
		return nil, fmt.Errorf("transcribe: store does not implement cluster.Store")
	}

	logger := t.Logger
	e := &Engine{
		t:            t,
		extensions:   ext.NewRegistry(logger),
		logger:       logger,
		jobStore:     js,
		cronStore:    cs,
		clusterStore: cls,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.provider == nil {
		return nil, transcribe.ErrNoProvider
	}
	if e.queue == nil {
		e.queue = queue.NewMemory(queue.WithQueueLogger(logger))
	}

	// Observability and notifications ride the extension registry.
	if e.meterProvider != nil {
		e.extensions.Register(observability.NewWithMeter(e.meterProvider.Meter(meterName)))
	} else {
		e.extensions.Register(observability.New())
	}
	e.broker = notify.NewBroker(logger)
	e.extensions.Register(e.broker)

	tracingMw := mw.Tracing()
	if e.tracerProvider != nil {
		tracingMw = mw.TracingWithTracer(e.tracerProvider.Tracer(meterName))
	}
	metricsMw := mw.Metrics()
	if e.meterProvider != nil {
		metricsMw = mw.MetricsWithMeter(e.meterProvider.Meter(meterName))
	}

	if e.objects != nil {
		e.uploads = uploader.NewRetrying(e.objects, uploader.WithLogger(logger))
	}

	pipelineOpts := []pipeline.Option{
		pipeline.WithExtensions(e.extensions),
		pipeline.WithLogger(logger),
		pipeline.WithAnalyzers(e.analyzers...),
	}
	if e.uploads != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithUploader(e.uploads))
	}
	e.processor = pipeline.New(js, e.provider, pipelineOpts...)

	// Default stack: recover → tracing → metrics → logging → scope →
	// timeout, then caller middleware closest to the processor.
	stack := []mw.Middleware{
		mw.Recover(),
		tracingMw,
		metricsMw,
		mw.Logging(logger),
		mw.Scope(),
		mw.Timeout(),
	}
	stack = append(stack, e.mws...)
	handler := mw.Chain(e.processor.Process, stack...)

	e.manager = queue.NewManager(e.userDefaults)
	e.pool = worker.New(t.Config, e.queue, js, handler,
		worker.WithManager(e.manager),
		worker.WithClusterStore(cls),
		worker.WithLogger(logger),
	)

	e.scheduler = cron.NewScheduler(cs, cls, e.pool.ID(),
		cron.WithExtensions(e.extensions),
		cron.WithLogger(logger),
	)

	sweeperOpts := []sweeper.Option{
		sweeper.WithExtensions(e.extensions),
		sweeper.WithLogger(logger),
	}
	if e.objects != nil {
		sweeperOpts = append(sweeperOpts, sweeper.WithObjectStore(e.objects))
	}
	e.sweeper = sweeper.New(t.Config, js, sweeperOpts...)

	e.recovery = recovery.New(t.Config, js, e.queue,
		recovery.WithExtensions(e.extensions),
		recovery.WithLogger(logger),
	)

	return e, nil
}

// Submit creates a transcription job and enqueues it.
func (e *Engine) Submit(ctx context.Context, userID, sourceLocation string, opts ...job.Option) (*job.Job, error) {
	if userID == "" || sourceLocation == "" {
		return nil, fmt.Errorf("%w: user and source are required", transcribe.ErrInvalidConfig)
	}
	jobOpts := job.DefaultOptions()
	for _, opt := range opts {
		opt(&jobOpts)
	}

	now := time.Now().UTC()
	j := &job.Job{
		Entity:          transcribe.NewEntity(),
		ID:              id.NewJobID(),
		TranscriptionID: id.NewTranscriptionID(),
		UserID:          userID,
		SourceLocation:  sourceLocation,
		Status:          job.StatusPending,
		MaxAttempts:     jobOpts.MaxAttempts,
		Priority:        jobOpts.Priority,
		Concurrency:     jobOpts.Concurrency,
		Timeout:         jobOpts.Timeout,
		Language:        jobOpts.Language,
	}
	if err := e.jobStore.CreateJob(ctx, j); err != nil {
		return nil, err
	}
	if err := e.queue.Enqueue(ctx, &queue.Task{
		TranscriptionID: j.TranscriptionID,
		UserID:          userID,
		MaxAttempts:     j.MaxAttempts,
		Priority:        j.Priority,
		RunAt:           now,
		EnqueuedAt:      now,
	}); err != nil {
		return nil, err
	}

	e.extensions.EmitJobSubmitted(ctx, j)
	return j, nil
}

// Job returns a job record.
func (e *Engine) Job(ctx context.Context, trID id.TranscriptionID) (*job.Job, error) {
	return e.jobStore.GetJob(ctx, trID)
}

// Result returns the persisted transcript.
func (e *Engine) Result(ctx context.Context, trID id.TranscriptionID) (*job.Result, error) {
	return e.jobStore.GetResult(ctx, trID)
}

// Start launches recovery, the scheduler (with both sweeps registered),
// and the worker pool, in that order.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.recovery.Start(ctx); err != nil {
		return fmt.Errorf("engine: start recovery: %w", err)
	}
	if err := e.sweeper.Register(ctx, e.scheduler); err != nil {
		return fmt.Errorf("engine: register sweeps: %w", err)
	}
	if err := e.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("engine: start scheduler: %w", err)
	}
	if err := e.pool.Start(ctx); err != nil {
		return fmt.Errorf("engine: start worker pool: %w", err)
	}
	e.logger.Info("engine started", slog.String("worker_id", e.pool.ID().String()))
	return nil
}

// Stop shuts the engine down: no new work, drain in-flight jobs, then
// notify extensions.
func (e *Engine) Stop(ctx context.Context) error {
	if err := e.scheduler.Stop(ctx); err != nil {
		e.logger.Warn("scheduler stop", slog.Any("error", err))
	}
	e.recovery.Stop()
	if err := e.pool.Stop(ctx); err != nil {
		e.logger.Warn("pool stop", slog.Any("error", err))
	}
	e.extensions.EmitShutdown(ctx)
	e.logger.Info("engine stopped")
	return nil
}

// JobStore returns the job persistence interface.
func (e *Engine) JobStore() job.Store { return e.jobStore }

// CronStore returns the cron persistence interface.
func (e *Engine) CronStore() cron.Store { return e.cronStore }

// ClusterStore returns the cluster membership interface.
func (e *Engine) ClusterStore() cluster.Store { return e.clusterStore }

// Extensions returns the extension registry.
func (e *Engine) Extensions() *ext.Registry { return e.extensions }

// Broker returns the notification broker, for mounting a notify.Hub.
func (e *Engine) Broker() *notify.Broker { return e.broker }

// Manager returns the per-user admission manager.
func (e *Engine) Manager() *queue.Manager { return e.manager }

// Scheduler returns the cron scheduler.
func (e *Engine) Scheduler() *cron.Scheduler { return e.scheduler }

// Sweeper returns the maintenance sweeper, for firing passes manually.
func (e *Engine) Sweeper() *sweeper.Sweeper { return e.sweeper }
