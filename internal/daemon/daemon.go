package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"mirrordrive/internal/api"
	"mirrordrive/internal/config"
	"mirrordrive/internal/driveid"
	"mirrordrive/internal/driver"
	"mirrordrive/internal/driver/fusemirror"
	"mirrordrive/internal/hostvol"
	"mirrordrive/internal/logging"
	"mirrordrive/internal/metrics"
	"mirrordrive/internal/monitor"
	"mirrordrive/internal/mount"
	"mirrordrive/internal/notifications"
	"mirrordrive/internal/query"
	"mirrordrive/internal/store"
)

// ErrNotRunning is returned by operations that need a started daemon.
var ErrNotRunning = errors.New("daemon is not running")

// shutdownDetachTimeout bounds detach-on-exit, including background detaches.
const shutdownDetachTimeout = 30 * time.Second

// Volumes is the host-volume view shared by the allocator, the session
// monitor and the attach path. hostvol.Table satisfies it.
type Volumes interface {
	Live() (map[string]struct{}, error)
	Visible(target string) bool
}

// Option customizes daemon construction.
type Option func(*Daemon)

// WithDriver replaces the FUSE attachment driver.
func WithDriver(drv driver.Driver) Option {
	return func(d *Daemon) { d.driver = drv }
}

// WithVolumes replaces the mount-table backed host volume view.
func WithVolumes(volumes Volumes) Option {
	return func(d *Daemon) { d.volumes = volumes }
}

// WithNotifier replaces the ntfy alert service built from config.
func WithNotifier(notifier notifications.Service) Option {
	return func(d *Daemon) { d.notifier = notifier }
}

// Daemon owns the mount registry and coordinator, and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *store.Store
	driver   driver.Driver
	volumes  Volumes
	notifier notifications.Service

	coord    *mount.Coordinator
	monitor  *monitor.Monitor
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	observer *statusObserver

	watcher   *hostvol.Watcher
	responder *query.Responder
	api       *apiServer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	loaded    bool
	startedAt time.Time

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// New constructs a daemon with initialized dependencies. Entries are loaded
// from the store on the first Start.
func New(cfg *config.Config, st *store.Store, logger *slog.Logger, opts ...Option) (*Daemon, error) {
	if cfg == nil || st == nil || logger == nil {
		return nil, errors.New("daemon requires config, store, and logger")
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		store:    st,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
		shutdown: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.volumes == nil {
		d.volumes = hostvol.New(cfg.Paths.MountRoot)
	}
	if d.driver == nil {
		table, ok := d.volumes.(fusemirror.Volumes)
		if !ok {
			return nil, errors.New("daemon requires a driver when volumes cannot map drive letters to directories")
		}
		d.driver = fusemirror.New(table, logger)
	}

	if d.notifier == nil {
		d.notifier = notifications.NewService(cfg)
	}

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.metrics = metrics.New(d.registry)
	d.monitor = monitor.New(d.volumes, logger, monitor.WithPollInterval(cfg.MonitorPollInterval()))

	registry := mount.NewRegistry()
	d.observer = newStatusObserver(logger, d.metrics, d.notifier, registry.Counts)
	coord, err := mount.NewCoordinator(mount.Options{
		Registry:  registry,
		Driver:    d.driver,
		Allocator: driveid.New(d.volumes, logger),
		Volumes:   d.volumes,
		Watcher:   d.monitor,
		Persister: st,
		Observer:  d.observer,
		Metrics:   d.metrics,
		Logger:    logger,
		Timeouts: mount.Timeouts{
			Attach:   cfg.AttachTimeout(),
			Extended: cfg.ExtendedTimeout(),
			Progress: cfg.ProgressInterval(),
			Settle:   cfg.AutoAttachSettleTimeout(),
			Gap:      cfg.AutoAttachGap(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	d.coord = coord

	if cfg.Mount.WatchVolumes {
		d.watcher = hostvol.NewWatcher(logger, d.handleVolumeChange)
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start acquires the daemon lock, loads persisted entries, starts the
// listeners and auto-attaches flagged entries in the background.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another mirrordrive daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	if err := d.loadEntries(d.ctx); err != nil {
		d.releaseAfterFailedStart()
		return err
	}

	var g errgroup.Group
	g.Go(func() error { return d.api.start(d.ctx) })
	g.Go(d.startResponder)
	g.Go(func() error { return d.watcher.Start(d.ctx) })
	if err := g.Wait(); err != nil {
		d.stopListeners()
		d.releaseAfterFailedStart()
		return fmt.Errorf("start listeners: %w", err)
	}

	d.mu.Lock()
	d.startedAt = time.Now()
	d.mu.Unlock()
	d.running.Store(true)

	d.wg.Add(2)
	go d.autoAttach(d.ctx)
	go d.refreshMetrics(d.ctx)

	d.logger.Info("mirrordrive daemon started",
		logging.String("lock", d.lockPath),
		logging.String("database", d.store.Path()),
		logging.Int("entries", d.coord.Registry().Len()),
	)
	return nil
}

func (d *Daemon) releaseAfterFailedStart() {
	d.cancel()
	d.ctx = nil
	d.cancel = nil
	_ = d.lock.Unlock()
}

func (d *Daemon) loadEntries(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.loaded {
		return nil
	}
	records, err := d.store.LoadEntries(ctx)
	if err != nil {
		return fmt.Errorf("load entries: %w", err)
	}
	if err := d.coord.Load(ctx, records); err != nil {
		logging.WarnWithContext(d.logger, "loaded entries could not be saved", "load_persist_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "reassigned drive letters are not persisted yet"),
		)
	}
	d.loaded = true
	return nil
}

func (d *Daemon) startResponder() error {
	if !d.cfg.Query.Enabled {
		return nil
	}
	responder, err := query.NewResponder(d.ctx, query.ResponderOptions{
		RunDir:         d.cfg.Paths.RunDir,
		Title:          d.cfg.Query.Title,
		ConnectTimeout: d.cfg.QueryConnectTimeout(),
		Source:         d.coord.Registry(),
		Recorder:       d.metrics,
		Logger:         d.logger,
	})
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.responder = responder
	d.mu.Unlock()
	go responder.Serve()
	return nil
}

func (d *Daemon) autoAttach(ctx context.Context) {
	defer d.wg.Done()
	if err := d.coord.AutoAttachAll(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.WarnWithContext(d.logger, "auto-attach interrupted", "auto_attach_interrupted",
			logging.Error(err),
			logging.String(logging.FieldImpact, "remaining auto-attach entries stay unmounted"),
		)
		return
	}
	var total, failed int
	for _, view := range d.coord.Registry().Snapshot() {
		if !view.AutoAttach {
			continue
		}
		total++
		if view.Status == mount.StatusError {
			failed++
		}
	}
	d.observer.publish(notifications.EventAutoAttachResult, notifications.Alert{Total: total, Failed: failed})
}

// TestNotification publishes a test alert. It reports false without error
// when no ntfy topic is configured.
func (d *Daemon) TestNotification(ctx context.Context) (bool, error) {
	if !d.notifier.Enabled() {
		return false, nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, notifications.Alert{}); err != nil {
		return false, err
	}
	return true, nil
}

func (d *Daemon) refreshMetrics(ctx context.Context) {
	defer d.wg.Done()
	ticker := time.NewTicker(d.cfg.MetricsRefreshInterval())
	defer ticker.Stop()
	for {
		d.metrics.SetEntryCounts(d.coord.Registry().Counts())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (d *Daemon) handleVolumeChange(ctx context.Context, device string) {
	changed, err := d.coord.Recompute(ctx)
	if err != nil {
		logging.WarnWithContext(d.logger, "drive letter refresh failed", "volume_refresh_failed",
			logging.String("device", device),
			logging.Error(err),
		)
		return
	}
	if changed {
		d.logger.Info("drive letters refreshed after volume change", logging.String("device", device))
	}
}

// Stop detaches drives when configured, stops the listeners and releases the
// daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()

	if d.cfg.Mount.DetachOnExit {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownDetachTimeout)
		d.coord.DetachAll(ctx)
		if err := d.coord.Wait(ctx); err != nil {
			logging.WarnWithContext(d.logger, "detach on exit did not finish", "detach_on_exit_timeout",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "unmount remaining drives manually"),
			)
		}
		cancel()
	}
	d.monitor.CancelAll()
	d.stopListeners()
	d.observer.drain()

	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("mirrordrive daemon stopped")
}

func (d *Daemon) stopListeners() {
	d.watcher.Stop()
	d.api.stop()
	d.mu.Lock()
	responder := d.responder
	d.responder = nil
	d.mu.Unlock()
	if responder != nil {
		responder.Close()
	}
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// RequestShutdown asks the hosting process to exit. It is safe to call more
// than once.
func (d *Daemon) RequestShutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdown) })
}

// ShutdownRequested is closed once RequestShutdown has been called.
func (d *Daemon) ShutdownRequested() <-chan struct{} {
	return d.shutdown
}

// Running reports whether Start has succeeded and Stop has not yet run.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Coordinator exposes the mount coordinator.
func (d *Daemon) Coordinator() *mount.Coordinator {
	return d.coord
}

// Gatherer exposes the daemon's metrics registry.
func (d *Daemon) Gatherer() prometheus.Gatherer {
	return d.registry
}

// Status reports daemon runtime information.
func (d *Daemon) Status() api.DaemonStatus {
	d.mu.Lock()
	startedAt := d.startedAt
	responder := d.responder
	d.mu.Unlock()

	running := d.running.Load()
	status := api.DaemonStatus{
		Running:        running,
		PID:            os.Getpid(),
		DatabasePath:   d.store.Path(),
		LockFilePath:   d.lockPath,
		MountRoot:      d.cfg.Paths.MountRoot,
		VolumeWatcher:  d.watcher != nil && d.watcher.Running(),
		ActiveMonitors: d.monitor.Len(),
		EntryCounts:    api.FromCounts(d.coord.Registry().Counts()),
		LastMessage:    d.observer.Last(),
	}
	if running {
		status.StartedAt = api.FormatTime(startedAt)
	}
	if responder != nil {
		status.QuerySocket = responder.Path()
	}
	if d.api != nil {
		status.APIAddress = d.api.address()
	}
	return status
}

func (d *Daemon) requireRunning() error {
	if !d.running.Load() {
		return ErrNotRunning
	}
	return nil
}
