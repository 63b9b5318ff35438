package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/care/oviss/internal/config"
	"github.com/care/oviss/internal/control"
	"github.com/care/oviss/internal/emitter"
	"github.com/care/oviss/internal/metrics"
	"github.com/care/oviss/internal/scheduler"
	"github.com/care/oviss/internal/stream"
	"github.com/care/oviss/internal/validate"
)

// Service is the long-running snapshot archiver: it owns the orchestrator,
// the daily schedule and the MQTT surfaces.
type Service struct {
	cfg        *config.Config
	configPath string

	orchestrator   *Orchestrator
	acquirer       *stream.Acquirer
	creds          *swappableProvider
	scheduler      *scheduler.Daily
	emitter        *emitter.MQTTEmitter
	controlHandler *control.Handler
	metrics        *metrics.Metrics

	// Lifecycle management
	started   time.Time
	mu        sync.RWMutex
	wg        sync.WaitGroup
	isRunning bool
	runCtx    context.Context
	cancelCtx context.CancelFunc
}

// NewService loads the configuration at configPath and builds the service
func NewService(configPath string) (*Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	slog.Info("configuration loaded",
		"store_id", cfg.StoreID,
		"backend", cfg.Stream.Backend,
		"channels", cfg.Capture.Channels,
		"slots", cfg.Capture.Slots,
	)

	s, err := NewServiceFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	s.configPath = configPath
	return s, nil
}

// NewServiceFromConfig builds the service from an already validated config
func NewServiceFromConfig(cfg *config.Config) (*Service, error) {
	dialer, err := NewDialer(cfg.Stream)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize stream backend: %w", err)
	}

	provider, closer, err := NewCredentialsProvider(cfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credentials: %w", err)
	}
	creds := &swappableProvider{p: provider, closer: closer}

	writer, err := newArchiveWriter(context.Background(), cfg)
	if err != nil {
		creds.Close()
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		acquirer: stream.NewAcquirer(dialer, NewRetryConfig(cfg.Stream)),
		creds:    creds,
		metrics:  metrics.New(),
	}
	writer.OnMirrorError = func(error) { s.metrics.IncMirrorErrors() }

	observers := []Observer{metricsObserver{m: s.metrics}}
	if cfg.MQTTEnabled() {
		s.emitter = emitter.NewMQTTEmitter(cfg)
		observers = append(observers, eventObserver{pub: s.emitter})
	}

	s.orchestrator = NewOrchestrator(Deps{
		StoreID:     cfg.StoreID,
		Credentials: creds,
		Generator:   NewGenerator(cfg),
		Acquirer:    s.acquirer,
		Classifier:  validate.NewColorClassifier(cfg.Validate.ColorThreshold),
		Sync:        validate.NewSyncChecker(cfg.Validate.MaxSkew),
		Writer:      writer,
		Observers:   observers,
		Parallel:    cfg.Capture.ParallelChannels,
	})

	hour, minute := cfg.ScheduleClock()
	s.scheduler, err = scheduler.NewDaily(hour, minute, cfg.ScheduleLocation(), s.scheduledRun)
	if err != nil {
		creds.Close()
		return nil, err
	}

	return s, nil
}

// Run starts the service and blocks until ctx is cancelled
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("service is already running")
	}
	s.isRunning = true
	s.started = time.Now()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.runCtx = ctx
	s.cancelCtx = cancel
	s.mu.Unlock()

	slog.Info("oviss service starting",
		"store_id", s.cfg.StoreID,
		"schedule", s.scheduler.Clock(),
	)

	if s.emitter != nil {
		s.startMQTT(ctx)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(ctx)
	}()

	if s.configPath != "" {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := config.Watch(ctx, s.configPath, s.applyConfig); err != nil {
				slog.Warn("config watcher stopped", "error", err)
			}
		}()
	}

	if s.cfg.Schedule.RunOnStart {
		if err := s.TriggerRun(); err != nil {
			slog.Warn("run on start not triggered", "error", err)
		}
	}

	slog.Info("oviss service running", "mqtt_enabled", s.emitter != nil)

	<-ctx.Done()

	slog.Info("oviss service run loop exiting")
	return nil
}

// startMQTT connects the emitter and, once connected, the control plane.
// A broker that is down leaves the service running without MQTT.
func (s *Service) startMQTT(ctx context.Context) {
	if err := s.emitter.Connect(ctx); err != nil {
		slog.Warn("mqtt unavailable, events will be dropped until it connects", "error", err)
		return
	}

	s.controlHandler = control.NewHandler(s.cfg.MQTT, s.emitter.Client(), control.CommandCallbacks{
		OnRunNow:    s.TriggerRun,
		OnCancelRun: s.orchestrator.Cancel,
		OnGetStatus: s.GetStatus,
		OnPause:     s.pauseSchedule,
		OnResume:    s.resumeSchedule,
	})
	if err := s.controlHandler.Start(ctx); err != nil {
		slog.Warn("control plane not started", "error", err)
		s.controlHandler = nil
	}
}

// RunOnce performs a single capture pass synchronously
func (s *Service) RunOnce(ctx context.Context) (*RunReport, error) {
	return s.orchestrator.RunOnce(ctx)
}

// TriggerRun starts a capture pass in the background. It returns
// ErrRunInProgress when a pass is already active.
func (s *Service) TriggerRun() error {
	if s.orchestrator.Running() {
		return ErrRunInProgress
	}

	s.mu.RLock()
	ctx := s.runCtx
	s.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.orchestrator.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) {
			slog.Error("manual capture run failed", "error", err)
		}
	}()
	return nil
}

func (s *Service) scheduledRun(ctx context.Context) error {
	_, err := s.orchestrator.RunOnce(ctx)
	return err
}

// CancelRun stops the active pass after its current slot
func (s *Service) CancelRun() bool {
	return s.orchestrator.Cancel()
}

// LastRun returns the most recently finished run, or nil
func (s *Service) LastRun() *RunReport {
	return s.orchestrator.LastRun()
}

// CurrentRun returns the active run, or nil
func (s *Service) CurrentRun() *RunReport {
	return s.orchestrator.Current()
}

// Metrics returns the Prometheus collector set
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// UpdateGauges refreshes scrape-time gauges from the acquirer counters
func (s *Service) UpdateGauges() {
	st := s.acquirer.Stats()
	errs := make(map[string]uint64, len(st.Errors))
	for c, n := range st.Errors {
		errs[c.String()] = n
	}
	s.metrics.SetAcquireStats(st.Attempts, st.Frames, st.Exhausted, errs)
}

func (s *Service) pauseSchedule() error {
	s.scheduler.Pause()
	return nil
}

func (s *Service) resumeSchedule() error {
	s.scheduler.Resume()
	return nil
}

// GetStatus returns the service state for the control plane
func (s *Service) GetStatus() map[string]interface{} {
	s.mu.RLock()
	started := s.started
	running := s.isRunning
	s.mu.RUnlock()

	status := map[string]interface{}{
		"store_id":        s.cfg.StoreID,
		"running":         running,
		"run_active":      s.orchestrator.Running(),
		"schedule":        s.scheduler.Clock(),
		"schedule_paused": s.scheduler.Paused(),
	}
	if running {
		status["uptime_seconds"] = int64(time.Since(started).Seconds())
	}
	if next := s.scheduler.Next(); !next.IsZero() {
		status["next_run"] = next.Format(time.RFC3339)
	}
	if cur := s.orchestrator.Current(); cur != nil {
		status["current_run"] = cur
	}
	if last := s.orchestrator.LastRun(); last != nil {
		status["last_run"] = last
	}
	if s.emitter != nil {
		status["mqtt"] = s.emitter.Stats()
	}
	return status
}

// applyConfig hot-applies the parts of a reloaded config that are safe to
// change between runs: the schedule and the credentials source
func (s *Service) applyConfig(next *config.Config) {
	s.mu.Lock()
	prev := s.cfg
	s.mu.Unlock()

	if next.StoreID != prev.StoreID {
		slog.Warn("store_id change requires restart, ignoring reload",
			"current", prev.StoreID, "new", next.StoreID)
		return
	}

	if next.Schedule != prev.Schedule {
		hour, minute := next.ScheduleClock()
		if err := s.scheduler.SetClock(hour, minute, next.ScheduleLocation()); err != nil {
			slog.Error("schedule not updated", "error", err)
		} else {
			slog.Info("schedule updated", "at", next.Schedule.At, "timezone", next.Schedule.Timezone)
		}
	}

	if next.Credentials != prev.Credentials {
		provider, closer, err := NewCredentialsProvider(next.Credentials)
		if err != nil {
			slog.Error("credentials source not updated", "error", err)
		} else {
			s.creds.swap(provider, closer)
			slog.Info("credentials source updated", "source", next.Credentials.Source)
		}
	}

	s.mu.Lock()
	s.cfg.Schedule = next.Schedule
	s.cfg.Credentials = next.Credentials
	s.mu.Unlock()
}

// Shutdown stops the service: control plane first, then the active run,
// then background goroutines, then the broker connection.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return s.creds.Close()
	}
	s.isRunning = false
	cancel := s.cancelCtx
	s.mu.Unlock()

	slog.Info("shutting down oviss service")

	if s.controlHandler != nil {
		s.controlHandler.Stop()
	}

	if s.orchestrator.Cancel() {
		slog.Info("active capture run cancelled")
	}
	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("shutdown timeout: %w", ctx.Err())
		slog.Warn("shutdown timeout, some goroutines did not stop")
	}

	if s.emitter != nil {
		s.emitter.Disconnect()
	}
	if cerr := s.creds.Close(); cerr != nil {
		slog.Warn("failed to close credentials source", "error", cerr)
	}

	slog.Info("oviss service stopped")
	return err
}

// Config returns the active configuration
func (s *Service) Config() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// ShutdownTimeout returns the configured graceful shutdown budget
func (s *Service) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout
}
