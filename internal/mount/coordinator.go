package mount

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"mirrordrive/internal/driver"
	"mirrordrive/internal/logging"
)

// Timeouts controls escalation and pacing. Zero fields take defaults.
type Timeouts struct {
	// Attach is the first wait (T1) before the continuation policy is asked.
	Attach time.Duration
	// Extended is the second wait (T2) granted by a WaitLonger decision.
	Extended time.Duration
	// Progress is the tick interval while a foreground caller waits.
	Progress time.Duration
	// Settle bounds how long auto-attach waits for an entry to leave Mounting.
	Settle time.Duration
	// SettlePoll is the auto-attach status poll interval.
	SettlePoll time.Duration
	// Gap is the pause between auto-attached entries.
	Gap time.Duration
}

// DefaultTimeouts returns the stock escalation timings.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Attach:     10 * time.Second,
		Extended:   30 * time.Second,
		Progress:   time.Second,
		Settle:     10 * time.Second,
		SettlePoll: 100 * time.Millisecond,
		Gap:        500 * time.Millisecond,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	def := DefaultTimeouts()
	if t.Attach <= 0 {
		t.Attach = def.Attach
	}
	if t.Extended <= 0 {
		t.Extended = def.Extended
	}
	if t.Progress < 0 {
		t.Progress = 0
	} else if t.Progress == 0 {
		t.Progress = def.Progress
	}
	if t.Settle <= 0 {
		t.Settle = def.Settle
	}
	if t.SettlePoll <= 0 {
		t.SettlePoll = def.SettlePoll
	}
	if t.Gap < 0 {
		t.Gap = 0
	}
	return t
}

// Options configures a Coordinator. Driver and Allocator are required.
type Options struct {
	Registry  *Registry
	Driver    driver.Driver
	Allocator Allocator
	Volumes   VolumeProbe
	Watcher   Watcher
	Persister Persister
	Observer  Observer
	Metrics   Recorder
	Logger    *slog.Logger
	Timeouts  Timeouts
}

// Coordinator owns the attach/detach state machine for every entry in its
// registry.
type Coordinator struct {
	registry  *Registry
	driver    driver.Driver
	allocator Allocator
	volumes   VolumeProbe
	watcher   Watcher
	persister Persister
	observer  Observer
	metrics   Recorder
	logger    *slog.Logger
	timeouts  Timeouts

	// claimMu makes the collision check and the move to Mounting atomic
	// across entries, and serializes target edits against it.
	claimMu sync.Mutex
	saveMu  sync.Mutex
	pending sync.WaitGroup
}

// NewCoordinator validates options and returns a coordinator.
func NewCoordinator(opts Options) (*Coordinator, error) {
	if opts.Driver == nil {
		return nil, errors.New("mount coordinator requires a driver")
	}
	if opts.Allocator == nil {
		return nil, errors.New("mount coordinator requires an allocator")
	}
	c := &Coordinator{
		registry:  opts.Registry,
		driver:    opts.Driver,
		allocator: opts.Allocator,
		volumes:   opts.Volumes,
		watcher:   opts.Watcher,
		persister: opts.Persister,
		observer:  opts.Observer,
		metrics:   opts.Metrics,
		logger:    logging.NewComponentLogger(opts.Logger, "coordinator"),
		timeouts:  opts.Timeouts.withDefaults(),
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.volumes == nil {
		c.volumes = noVolumes{}
	}
	if c.watcher == nil {
		c.watcher = noWatcher{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.metrics == nil {
		c.metrics = nopRecorder{}
	}
	return c, nil
}

// Registry returns the registry the coordinator manages.
func (c *Coordinator) Registry() *Registry {
	return c.registry
}

type claim struct {
	token    uint64
	source   string
	target   string
	readOnly bool
	session  driver.Session
}

type unitResult struct {
	session driver.Session
	err     error
}

// Attach mounts entry at its target. It never queues: a busy entry yields
// ErrInProgress at once. When the driver outlives the first timeout the
// policy decides between one extended wait and backgrounding; a backgrounded
// call returns Result{Backgrounded: true} and the terminal transition is
// applied when the driver returns. Cancelling ctx while waiting backgrounds
// the call; it never aborts the driver.
func (c *Coordinator) Attach(ctx context.Context, entry *Entry, policy ContinuationPolicy) (Result, error) {
	if entry == nil {
		return Result{}, ErrNotFound
	}
	if policy == nil {
		policy = AlwaysBackground
	}
	if !entry.op.TryAcquire(1) {
		c.metrics.ObserveOperation(string(OpAttach), "rejected", 0)
		return Result{}, ErrInProgress
	}
	release := sync.OnceFunc(func() { entry.op.Release(1) })
	defer release()

	cl, err := c.claimAttach(entry)
	if err != nil {
		c.metrics.ObserveOperation(string(OpAttach), "rejected", 0)
		return Result{}, err
	}

	logger := logging.WithContext(ctx, c.entryLogger(entry.id, cl.target))
	logger.Info("attach started",
		logging.String(logging.FieldSource, cl.source),
		logging.Bool("read_only", cl.readOnly),
	)
	c.observer.Status(fmt.Sprintf("Mounting %s to %s...", cl.source, cl.target))
	c.notify(entry)

	started := time.Now()
	results := make(chan unitResult, 1)
	unitCtx := context.WithoutCancel(ctx)
	go func() {
		results <- c.runAttach(unitCtx, cl)
	}()

	res, done := c.await(ctx, OpAttach, entry.id, cl.target, policy, results)
	if !done {
		c.continueInBackground(OpAttach, cl.target, logger, release, results, func(res unitResult) {
			_ = c.finishAttach(entry, cl, res, started, true)
		})
		return Result{Backgrounded: true, Elapsed: time.Since(started)}, nil
	}
	err = c.finishAttach(entry, cl, res, started, false)
	return Result{Elapsed: time.Since(started)}, err
}

func (c *Coordinator) claimAttach(entry *Entry) (claim, error) {
	c.claimMu.Lock()
	defer c.claimMu.Unlock()

	view := entry.View()
	if view.Busy {
		return claim{}, ErrInProgress
	}
	if !view.Status.Attachable() {
		return claim{}, fmt.Errorf("%w (status %s)", ErrNotAttachable, view.Status)
	}
	if view.TargetID == "" {
		return claim{}, ErrNoTarget
	}

	for _, other := range c.registry.Entries() {
		if other == entry {
			continue
		}
		ov := other.View()
		if ov.Status.Active() && ov.TargetID == view.TargetID {
			msg := fmt.Sprintf("drive %s is already mounted by another entry", view.TargetID)
			c.setError(entry, msg)
			return claim{}, fmt.Errorf("%s: %w", msg, ErrTargetInUse)
		}
	}
	if c.volumes.Visible(view.TargetID) {
		msg := fmt.Sprintf("drive %s is already in use", view.TargetID)
		c.setError(entry, msg)
		return claim{}, fmt.Errorf("%s: %w", msg, ErrTargetInUse)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.seq++
	entry.status = StatusMounting
	entry.errorMessage = ""
	entry.inflight = true
	return claim{
		token:    entry.seq,
		source:   entry.sourcePath,
		target:   entry.targetID,
		readOnly: entry.readOnly,
	}, nil
}

func (c *Coordinator) runAttach(ctx context.Context, cl claim) unitResult {
	info, err := os.Stat(cl.source)
	if err != nil || !info.IsDir() {
		return unitResult{err: fmt.Errorf("%w: %s", ErrSourceMissing, cl.source)}
	}
	session, err := c.driver.Attach(ctx, driver.Request{
		Source:   cl.source,
		Target:   cl.target,
		ReadOnly: cl.readOnly,
	})
	if err != nil {
		return unitResult{err: err}
	}
	return unitResult{session: session}
}

func (c *Coordinator) finishAttach(entry *Entry, cl claim, res unitResult, started time.Time, background bool) error {
	elapsed := time.Since(started)
	logger := c.entryLogger(entry.id, cl.target)

	entry.mu.Lock()
	if entry.seq != cl.token || entry.removed {
		entry.mu.Unlock()
		logging.WarnWithContext(logger, "attach result arrived for a superseded operation", "attach_superseded",
			logging.String(logging.FieldImpact, "late session released"),
		)
		if res.session != nil {
			c.releaseOrphan(cl.target, res.session)
		}
		return fmt.Errorf("attach %s: entry changed while the driver was running", cl.target)
	}
	entry.inflight = false
	if res.err != nil {
		entry.status = StatusError
		entry.errorMessage = res.err.Error()
		entry.session = nil
		entry.mu.Unlock()

		c.metrics.ObserveOperation(string(OpAttach), "failure", elapsed)
		logging.ErrorWithContext(logger, "attach failed", "attach_failed",
			logging.Error(res.err),
			logging.Duration("elapsed", elapsed),
			logging.Bool("background", background),
			logging.String(logging.FieldErrorHint, "check the source directory and that the drive letter is free"),
		)
		c.observer.Status(fmt.Sprintf("Mount failed for %s: %v", cl.target, res.err))
		c.notify(entry)
		return fmt.Errorf("attach %s: %w", cl.target, res.err)
	}
	entry.status = StatusMounted
	entry.session = res.session
	entry.errorMessage = ""
	entry.mu.Unlock()

	c.metrics.ObserveOperation(string(OpAttach), "success", elapsed)
	logger.Info("attach completed",
		logging.Duration("elapsed", elapsed),
		logging.Bool("background", background),
	)
	current := func() bool {
		entry.mu.Lock()
		defer entry.mu.Unlock()
		return entry.seq == cl.token && !entry.removed && entry.status == StatusMounted
	}
	if !c.watcher.StartIf(entry.id, cl.target, res.session, current, func() {
		c.handleExternalDetach(entry, cl.token)
	}) {
		logger.Debug("entry moved on before its watch started; watch skipped")
	}
	c.refresh(context.Background())
	c.observer.Status(fmt.Sprintf("Mounted %s at %s", cl.source, cl.target))
	c.notify(entry)
	return nil
}

// Detach unmounts entry. Locking, escalation and backgrounding mirror Attach.
func (c *Coordinator) Detach(ctx context.Context, entry *Entry, policy ContinuationPolicy) (Result, error) {
	if entry == nil {
		return Result{}, ErrNotFound
	}
	if policy == nil {
		policy = AlwaysBackground
	}
	if !entry.op.TryAcquire(1) {
		c.metrics.ObserveOperation(string(OpDetach), "rejected", 0)
		return Result{}, ErrInProgress
	}
	release := sync.OnceFunc(func() { entry.op.Release(1) })
	defer release()

	cl, err := c.claimDetach(entry)
	if err != nil {
		c.metrics.ObserveOperation(string(OpDetach), "rejected", 0)
		return Result{}, err
	}
	// The token bump in claimDetach already voids the monitor callback;
	// cancelling also stops the watch goroutine.
	c.watcher.Cancel(entry.id)

	logger := logging.WithContext(ctx, c.entryLogger(entry.id, cl.target))
	logger.Info("detach started")
	c.observer.Status(fmt.Sprintf("Unmounting %s...", cl.target))
	c.notify(entry)

	started := time.Now()
	results := make(chan unitResult, 1)
	unitCtx := context.WithoutCancel(ctx)
	go func() {
		results <- c.runDetach(unitCtx, cl)
	}()

	res, done := c.await(ctx, OpDetach, entry.id, cl.target, policy, results)
	if !done {
		c.continueInBackground(OpDetach, cl.target, logger, release, results, func(res unitResult) {
			_ = c.finishDetach(entry, cl, res, started, true)
		})
		return Result{Backgrounded: true, Elapsed: time.Since(started)}, nil
	}
	err = c.finishDetach(entry, cl, res, started, false)
	return Result{Elapsed: time.Since(started)}, err
}

func (c *Coordinator) claimDetach(entry *Entry) (claim, error) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.inflight {
		return claim{}, ErrInProgress
	}
	if entry.status != StatusMounted {
		return claim{}, fmt.Errorf("%w (status %s)", ErrNotAttached, entry.status)
	}
	entry.seq++
	entry.inflight = true
	return claim{
		token:   entry.seq,
		source:  entry.sourcePath,
		target:  entry.targetID,
		session: entry.session,
	}, nil
}

func (c *Coordinator) runDetach(ctx context.Context, cl claim) unitResult {
	err := c.driver.Detach(ctx, cl.target)
	if errors.Is(err, driver.ErrNotAttached) {
		c.logger.Debug("driver reports target already detached", logging.String(logging.FieldTarget, cl.target))
		err = nil
	}
	if cl.session != nil {
		if closeErr := cl.session.Close(); closeErr != nil {
			c.logger.Debug("session close failed",
				logging.String(logging.FieldTarget, cl.target),
				logging.Error(closeErr),
			)
		}
	}
	return unitResult{err: err}
}

func (c *Coordinator) finishDetach(entry *Entry, cl claim, res unitResult, started time.Time, background bool) error {
	elapsed := time.Since(started)
	logger := c.entryLogger(entry.id, cl.target)

	entry.mu.Lock()
	if entry.seq != cl.token || entry.removed {
		entry.mu.Unlock()
		logger.Debug("detach result arrived for a superseded operation")
		return fmt.Errorf("detach %s: entry changed while the driver was running", cl.target)
	}
	entry.inflight = false
	entry.session = nil
	if res.err != nil {
		entry.status = StatusError
		entry.errorMessage = res.err.Error()
	} else {
		entry.status = StatusUnmounted
		entry.errorMessage = ""
	}
	entry.mu.Unlock()

	if res.err != nil {
		c.metrics.ObserveOperation(string(OpDetach), "failure", elapsed)
		logging.ErrorWithContext(logger, "detach failed", "detach_failed",
			logging.Error(res.err),
			logging.Duration("elapsed", elapsed),
			logging.Bool("background", background),
			logging.String(logging.FieldErrorHint, "close programs using the drive and attach again"),
		)
		c.observer.Status(fmt.Sprintf("Unmount failed for %s: %v", cl.target, res.err))
		c.refresh(context.Background())
		c.notify(entry)
		return fmt.Errorf("detach %s: %w", cl.target, res.err)
	}

	c.metrics.ObserveOperation(string(OpDetach), "success", elapsed)
	logger.Info("detach completed",
		logging.Duration("elapsed", elapsed),
		logging.Bool("background", background),
	)
	c.refresh(context.Background())
	c.observer.Status(fmt.Sprintf("Unmounted %s", cl.target))
	c.notify(entry)
	return nil
}

// await races the unit against T1 and, if the policy asks for it, T2. It
// reports false when the caller should stop waiting.
func (c *Coordinator) await(ctx context.Context, op Operation, entryID, target string, policy ContinuationPolicy, results <-chan unitResult) (unitResult, bool) {
	started := time.Now()
	timer := time.NewTimer(c.timeouts.Attach)
	defer timer.Stop()

	var tick <-chan time.Time
	if c.timeouts.Progress > 0 {
		ticker := time.NewTicker(c.timeouts.Progress)
		defer ticker.Stop()
		tick = ticker.C
	}

	extended := false
	for {
		select {
		case res := <-results:
			return res, true
		case <-ctx.Done():
			return unitResult{}, false
		case <-tick:
			c.observer.Progress(ProgressTick{
				Operation: op,
				EntryID:   entryID,
				Target:    target,
				Elapsed:   time.Since(started),
			})
		case <-timer.C:
			if extended {
				return unitResult{}, false
			}
			decision := policy.Decide(ctx, SlowOperation{
				Operation: op,
				EntryID:   entryID,
				Target:    target,
				Elapsed:   time.Since(started),
			})
			c.logger.Info("operation exceeded first timeout",
				logging.String("operation", string(op)),
				logging.String(logging.FieldEntryID, entryID),
				logging.String(logging.FieldTarget, target),
				logging.String("decision", decision.String()),
			)
			if decision != WaitLonger {
				select {
				case res := <-results:
					return res, true
				default:
					return unitResult{}, false
				}
			}
			extended = true
			timer.Reset(c.timeouts.Extended)
		}
	}
}

// continueInBackground releases the entry lock and then hands the pending
// unit to a continuation, so the terminal transition happens after the
// release.
func (c *Coordinator) continueInBackground(op Operation, target string, logger *slog.Logger, release func(), results <-chan unitResult, finish func(unitResult)) {
	c.metrics.ObserveBackground(string(op))
	logger.Info("operation continuing in background", logging.String("operation", string(op)))
	c.observer.Status(fmt.Sprintf("%s of %s is taking longer than expected, continuing in background", op, target))

	release()
	c.pending.Add(1)
	go func() {
		defer c.pending.Done()
		finish(<-results)
	}()
}

// handleExternalDetach runs on the monitor goroutine when a session closes
// without a Detach call.
func (c *Coordinator) handleExternalDetach(entry *Entry, token uint64) {
	entry.mu.Lock()
	if entry.seq != token || entry.status != StatusMounted || entry.inflight || entry.removed {
		entry.mu.Unlock()
		return
	}
	session := entry.session
	target := entry.targetID
	entry.status = StatusUnmounted
	entry.session = nil
	entry.errorMessage = ""
	entry.mu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			c.logger.Debug("session close failed", logging.String(logging.FieldTarget, target), logging.Error(err))
		}
	}
	c.metrics.ObserveExternalDetach()
	c.entryLogger(entry.id, target).Info("drive unmounted externally")
	c.observer.Status(fmt.Sprintf("%s was unmounted externally", target))
	c.refresh(context.Background())
	c.notify(entry)
	if lost, ok := c.observer.(LossObserver); ok {
		view := entry.View()
		view.TargetID = target
		lost.VolumeLost(view)
	}
}

func (c *Coordinator) releaseOrphan(target string, session driver.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeouts.Extended)
	defer cancel()
	if err := c.driver.Detach(ctx, target); err != nil && !errors.Is(err, driver.ErrNotAttached) {
		c.logger.Warn("release of superseded session failed",
			logging.String(logging.FieldTarget, target),
			logging.Error(err),
			logging.String(logging.FieldEventType, "orphan_release_failed"),
			logging.String(logging.FieldErrorHint, "unmount the drive manually"),
		)
	}
	_ = session.Close()
}

func (c *Coordinator) setError(entry *Entry, msg string) {
	entry.mu.Lock()
	entry.status = StatusError
	entry.errorMessage = msg
	entry.session = nil
	entry.mu.Unlock()
	c.entryLogger(entry.id, entry.TargetID()).Warn(msg,
		logging.String(logging.FieldEventType, "attach_rejected"),
		logging.String(logging.FieldErrorHint, "choose another drive letter"),
		logging.String(logging.FieldImpact, "entry marked as error"),
	)
	c.notify(entry)
}

func (c *Coordinator) notify(entry *Entry) {
	c.observer.EntryChanged(entry.View())
}

func (c *Coordinator) entryLogger(entryID, target string) *slog.Logger {
	return c.logger.With(logging.EntryArgs(entryID, target)...)
}

// Wait blocks until every background continuation has applied its
// transition, or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type noVolumes struct{}

func (noVolumes) Visible(string) bool { return false }

type noWatcher struct{}

func (noWatcher) StartIf(string, string, driver.Session, func() bool, func()) bool { return false }
func (noWatcher) Cancel(string) {}
func (noWatcher) CancelAll() {}

type nopRecorder struct{}

func (nopRecorder) ObserveOperation(string, string, time.Duration) {}
func (nopRecorder) ObserveBackground(string)                       {}
func (nopRecorder) ObserveExternalDetach()                         {}
