package daemonctl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"mirrordrive/internal/config"
	"mirrordrive/internal/deps"
	"mirrordrive/internal/ipc"
	"mirrordrive/internal/mount"
	"mirrordrive/internal/store"
)

// LaunchOptions controls daemon process launch behavior.
type LaunchOptions struct {
	SocketPath string
	ConfigPath string
	LogLevel   string
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures daemon start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// Launch starts a detached mirrordrive daemon process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("resolve executable: executable path is empty")
	}

	args := []string{"daemon"}
	if socket := strings.TrimSpace(opts.SocketPath); socket != "" {
		args = append(args, "--socket", socket)
	}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}

	proc := exec.Command(executablePath, args...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch daemon: %w", err)
	}
	return proc.Process.Release()
}

const (
	dialPollInterval   = 200 * time.Millisecond
	statusPollInterval = 100 * time.Millisecond
)

// errPollTimeout is returned by poll when check never reported done.
var errPollTimeout = errors.New("timed out")

// poll calls check every interval until it reports done or timeout elapses.
// The last non-nil error from check is returned on timeout; a terminal error
// is signalled by returning done together with the error.
func poll(timeout, interval time.Duration, check func() (bool, error)) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastErr := errPollTimeout
	for {
		done, err := check()
		if done {
			return err
		}
		if err != nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-ticker.C:
		}
	}
}

// WaitForClient waits for IPC socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	err := poll(timeout, dialPollInterval, func() (bool, error) {
		c, err := ipc.Dial(socketPath)
		client = c
		return err == nil, err
	})
	if err != nil {
		return nil, fmt.Errorf("daemon failed to start: %w", err)
	}
	return client, nil
}

// EnsureStarted launches and/or starts the daemon and returns the resulting state.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	client, err := ipc.Dial(socketPath)
	launched := false
	if err != nil {
		if launchErr := Launch(executablePath, opts); launchErr != nil {
			return StartResult{}, launchErr
		}
		client, err = WaitForClient(socketPath, waitTimeout)
		if err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	if launched {
		// The launched process starts itself; give it the same window to
		// take the instance lock before reporting.
		if waitRunning(client, waitTimeout) {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
	} else if status, statusErr := client.Status(); statusErr == nil && status.Running {
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	message := strings.TrimSpace(resp.Message)
	switch {
	case resp.Started:
		return StartResult{State: StartStateStarted, Launched: launched, Message: message}, nil
	case strings.Contains(message, "already running"):
		return StartResult{State: StartStateAlreadyRunning, Launched: launched, Message: message}, nil
	case message != "":
		return StartResult{State: StartStateRequested, Launched: launched, Message: message}, nil
	}
	return StartResult{State: StartStateRequested, Launched: launched, Message: "Start request sent"}, nil
}

func waitRunning(client *ipc.Client, timeout time.Duration) bool {
	err := poll(timeout, statusPollInterval, func() (bool, error) {
		status, err := client.Status()
		if err != nil {
			return true, err
		}
		return status.Running, nil
	})
	return err == nil
}

// WaitForShutdown waits for daemon IPC to disappear or report not-running.
func WaitForShutdown(socketPath string, timeout time.Duration) error {
	err := poll(timeout, dialPollInterval, func() (bool, error) {
		client, err := ipc.Dial(socketPath)
		if err != nil {
			return isDaemonUnavailable(err), err
		}
		status, err := client.Status()
		_ = client.Close()
		switch {
		case err != nil:
			return false, err
		case status.Running:
			return false, errors.New("daemon still running")
		}
		return true, nil
	})
	if err != nil && !isDaemonUnavailable(err) {
		return fmt.Errorf("daemon did not stop: %w", err)
	}
	return nil
}

// ProcessInfo returns whether daemon IPC is reachable and the daemon PID when available.
func ProcessInfo(socketPath string) (bool, int, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	defer client.Close()
	status, statusErr := client.Status()
	if statusErr != nil {
		return true, 0, statusErr
	}
	return true, status.PID, nil
}

// ForceKillProcess sends SIGKILL to the daemon process and cleans pid/lock files.
func ForceKillProcess(pidPath, lockPath string, fallbackPID int) (int, error) {
	pid := fallbackPID
	data, err := os.ReadFile(pidPath)
	if err == nil {
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(string(data))); parseErr == nil && parsed > 0 {
			pid = parsed
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("read daemon pid file %q: %w", pidPath, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("unable to determine daemon pid (pid file: %s)", pidPath)
	}
	if pid == os.Getpid() {
		return 0, fmt.Errorf("refusing to kill current process (pid %d)", pid)
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return 0, fmt.Errorf("locate daemon process %d: %w", pid, err)
	}
	if err := proc.Kill(); err != nil {
		return 0, fmt.Errorf("kill daemon process %d: %w", pid, err)
	}
	if err := os.Remove(pidPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("remove pid file %q: %w", pidPath, err)
	}
	if lockPath != "" {
		_ = os.Remove(lockPath)
	}
	return pid, nil
}

// ErrDaemonNotRunning indicates daemon IPC is unavailable.
var ErrDaemonNotRunning = errors.New("daemon not running")

// StopResult captures daemon stop/termination outcome.
type StopResult struct {
	StopAcknowledged bool
	ForcedKill       bool
	PID              int
}

// RestartResult captures stop/start outcomes for daemon restart.
type RestartResult struct {
	WasRunning bool
	Stop       StopResult
	Start      StartResult
}

// StopAndTerminate requests daemon stop and force-kills the process if still
// alive after gracePeriod. Mounted drives are detached by the daemon itself
// when detach_on_exit is set; a forced kill leaves the FUSE sessions to the
// kernel.
func StopAndTerminate(socketPath string, cfg *config.Config, gracePeriod time.Duration) (StopResult, error) {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if isDaemonUnavailable(err) {
			return StopResult{}, ErrDaemonNotRunning
		}
		return StopResult{}, err
	}
	pid := 0
	lockPath := ""
	if status, statusErr := client.Status(); statusErr == nil {
		pid = status.PID
		lockPath = status.LockFilePath
	}
	resp, err := client.Stop()
	_ = client.Close()
	if err != nil {
		return StopResult{}, err
	}
	result := StopResult{PID: pid, StopAcknowledged: resp.Stopped}

	_ = WaitForShutdown(socketPath, gracePeriod)
	alive, livePID, aliveErr := ProcessInfo(socketPath)
	if aliveErr != nil || !alive {
		return result, nil
	}

	currentPID := livePID
	if currentPID == 0 {
		currentPID = pid
	}
	pidPath := ""
	switch {
	case cfg != nil:
		pidPath = cfg.PIDPath()
		if lockPath == "" {
			lockPath = cfg.LockPath()
		}
	case lockPath != "":
		pidPath = filepath.Join(filepath.Dir(lockPath), "mirrordrived.pid")
	default:
		return result, errors.New("unable to determine daemon run directory")
	}
	killedPID, killErr := ForceKillProcess(pidPath, lockPath, currentPID)
	if killErr != nil {
		return result, fmt.Errorf("failed to stop daemon process: %w", killErr)
	}
	_ = os.Remove(socketPath)
	result.ForcedKill = true
	result.PID = killedPID
	return result, nil
}

// Restart stops the daemon if running, then ensures it is started.
func Restart(socketPath string, cfg *config.Config, executablePath string, opts LaunchOptions, stopGracePeriod, startWaitTimeout time.Duration) (RestartResult, error) {
	stopResult, stopErr := StopAndTerminate(socketPath, cfg, stopGracePeriod)
	if stopErr != nil && !errors.Is(stopErr, ErrDaemonNotRunning) {
		return RestartResult{}, stopErr
	}

	startResult, err := EnsureStarted(socketPath, executablePath, opts, startWaitTimeout)
	if err != nil {
		return RestartResult{}, err
	}

	return RestartResult{
		WasRunning: stopErr == nil,
		Stop:       stopResult,
		Start:      startResult,
	}, nil
}

// StatusLine is one row of the human status report.
type StatusLine struct {
	Label    string `json:"label"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// StatusSnapshot combines live daemon status with host checks.
type StatusSnapshot struct {
	Status ipc.StatusResponse `json:"status"`
	Checks []StatusLine       `json:"checks"`
}

// BuildStatusSnapshot collects daemon status. When the daemon is offline the
// entry counts come from the registry database, where every mapping is
// unmounted by definition.
func BuildStatusSnapshot(ctx context.Context, socketPath string, cfg *config.Config) (*StatusSnapshot, error) {
	if cfg == nil {
		return nil, errors.New("configuration not available")
	}
	snapshot := &StatusSnapshot{}

	if client, err := ipc.Dial(socketPath); err == nil {
		defer client.Close()
		if resp, statusErr := client.Status(); statusErr == nil {
			snapshot.Status = *resp
		}
	}

	if !snapshot.Status.Running {
		snapshot.Status.DatabasePath = cfg.DatabasePath()
		snapshot.Status.LockFilePath = cfg.LockPath()
		snapshot.Status.MountRoot = cfg.Paths.MountRoot
		counts := make(map[string]int, len(mount.AllStatuses()))
		for _, status := range mount.AllStatuses() {
			counts[status.String()] = 0
		}
		if count, err := offlineEntryCount(ctx, cfg); err == nil {
			counts[mount.StatusUnmounted.String()] = count
		}
		snapshot.Status.EntryCounts = counts
	}

	snapshot.Checks = BuildSystemChecks(cfg, snapshot.Status.Running, snapshot.Status.VolumeWatcher)
	return snapshot, nil
}

func offlineEntryCount(ctx context.Context, cfg *config.Config) (int, error) {
	if _, err := os.Stat(cfg.DatabasePath()); err != nil {
		return 0, err
	}
	queryCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	st, err := store.OpenPath(cfg.DatabasePath())
	if err != nil {
		return 0, err
	}
	defer st.Close()
	return st.Count(queryCtx)
}

// BuildSystemChecks resolves status lines that combine runtime state and host checks.
func BuildSystemChecks(cfg *config.Config, daemonRunning, watcherActive bool) []StatusLine {
	lines := make([]StatusLine, 0, 7)
	if daemonRunning {
		lines = append(lines, StatusLine{Label: "MirrorDrive", Severity: "ok", Detail: "Running"})
	} else {
		lines = append(lines, StatusLine{Label: "MirrorDrive", Severity: "warn", Detail: "Not running (run `mirrordrive start`)"})
	}

	lines = append(lines, checkFUSEDevice(fuseDevicePath))
	for _, status := range deps.CheckBinaries([]deps.Requirement{deps.FUSEHelpers}) {
		lines = append(lines, binaryStatusLine(status))
	}
	lines = append(lines, checkMountRoot(cfg.Paths.MountRoot))

	switch {
	case !cfg.Mount.WatchVolumes:
		lines = append(lines, StatusLine{Label: "Volume Watcher", Severity: "info", Detail: "Disabled"})
	case watcherActive:
		lines = append(lines, StatusLine{Label: "Volume Watcher", Severity: "ok", Detail: "udev monitoring active"})
	case !daemonRunning:
		lines = append(lines, StatusLine{Label: "Volume Watcher", Severity: "info", Detail: "Inactive (daemon not running)"})
	default:
		lines = append(lines, StatusLine{Label: "Volume Watcher", Severity: "warn", Detail: "udev unavailable (availability refreshes on demand)"})
	}

	if cfg.Query.Enabled {
		lines = append(lines, StatusLine{Label: "Snapshot Queries", Severity: "ok", Detail: fmt.Sprintf("Enabled (%s)", cfg.Query.Title)})
	} else {
		lines = append(lines, StatusLine{Label: "Snapshot Queries", Severity: "info", Detail: "Disabled"})
	}
	if topic := cfg.Notifications.NtfyTopic; topic != "" {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "ok", Detail: "ntfy " + topic})
	} else {
		lines = append(lines, StatusLine{Label: "Notifications", Severity: "info", Detail: "Disabled"})
	}
	return lines
}

func binaryStatusLine(status deps.Status) StatusLine {
	if status.Available {
		return StatusLine{Label: status.Name, Severity: "ok", Detail: status.Command}
	}
	severity := "error"
	if status.Optional {
		severity = "warn"
	}
	return StatusLine{Label: status.Name, Severity: severity, Detail: status.Detail}
}

const fuseDevicePath = "/dev/fuse"

func checkFUSEDevice(path string) StatusLine {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return StatusLine{Label: "FUSE", Severity: "error", Detail: fmt.Sprintf("%s unavailable (load the fuse module)", path)}
	case info.Mode()&os.ModeDevice == 0:
		return StatusLine{Label: "FUSE", Severity: "error", Detail: fmt.Sprintf("%s is not a device", path)}
	}
	return StatusLine{Label: "FUSE", Severity: "ok", Detail: path}
}

func checkMountRoot(path string) StatusLine {
	path = strings.TrimSpace(path)
	if path == "" {
		return StatusLine{Label: "Mount Root", Severity: "error", Detail: "Not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return StatusLine{Label: "Mount Root", Severity: "error", Detail: fmt.Sprintf("%s (%v)", path, err)}
	}
	if !info.IsDir() {
		return StatusLine{Label: "Mount Root", Severity: "error", Detail: fmt.Sprintf("%s is not a directory", path)}
	}
	return StatusLine{Label: "Mount Root", Severity: "ok", Detail: path}
}

func isDaemonUnavailable(err error) bool {
	return errors.Is(err, os.ErrNotExist) ||
		errors.Is(err, syscall.ENOENT) ||
		errors.Is(err, syscall.ECONNREFUSED)
}
