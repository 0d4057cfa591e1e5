package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"mirrordrive/internal/config"
)

// Options describes logger construction parameters. Output paths accept
// "stdout", "stderr" or a file path; duplicates are written once.
type Options struct {
	Level            string
	Format           string
	OutputPaths      []string
	ErrorOutputPaths []string
	Development      bool
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	outputs := opts.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}
	errOutputs := opts.ErrorOutputPaths
	if len(errOutputs) == 0 {
		errOutputs = []string{"stderr"}
	}
	w, err := openSinks(append(append([]string{}, outputs...), errOutputs...))
	if err != nil {
		return nil, err
	}

	// Debug runs always carry file:line.
	addSource := opts.Development || level <= slog.LevelDebug

	var handler slog.Handler
	switch format := strings.ToLower(strings.TrimSpace(opts.Format)); format {
	case "", "console":
		handler = newPrettyHandler(w, levelVar, addSource)
	case "json":
		handler = newJSONHandler(w, levelVar, addSource)
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
	return slog.New(handler), nil
}

// RunOptions adjusts a daemon run logger.
type RunOptions struct {
	// Level overrides logging.level when non-empty.
	Level       string
	Development bool
	Started     time.Time
}

// NewRun builds the daemon logger. Records go to stdout and to a per-run file
// in the configured log directory, whose path is returned.
func NewRun(cfg *config.Config, opts RunOptions) (*slog.Logger, string, error) {
	if cfg == nil {
		return nil, "", fmt.Errorf("run logger: config is nil")
	}
	started := opts.Started
	if started.IsZero() {
		started = time.Now()
	}
	path := filepath.Join(cfg.Paths.LogDir, RunLogName(started))

	level := opts.Level
	if strings.TrimSpace(level) == "" {
		level = cfg.Logging.Level
	}
	logger, err := New(Options{
		Level:            level,
		Format:           cfg.Logging.Format,
		OutputPaths:      []string{"stdout", path},
		ErrorOutputPaths: []string{"stderr", path},
		Development:      opts.Development,
	})
	if err != nil {
		return nil, "", err
	}
	return logger, path, nil
}

// RunLogName is the file name for a daemon run started at t.
func RunLogName(t time.Time) string {
	return "mirrordrive-" + t.UTC().Format("20060102T150405.000Z") + ".log"
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openSinks(paths []string) (io.Writer, error) {
	seen := make(map[string]bool, len(paths))
	writers := make([]io.Writer, 0, len(paths))
	for _, raw := range paths {
		path := strings.TrimSpace(raw)
		if path == "" || seen[path] {
			continue
		}
		seen[path] = true

		w, err := openSink(path)
		if err != nil {
			return nil, err
		}
		writers = append(writers, w)
	}

	switch len(writers) {
	case 0:
		return os.Stdout, nil
	case 1:
		return writers[0], nil
	}
	return io.MultiWriter(writers...), nil
}

func openSink(path string) (io.Writer, error) {
	switch path {
	case "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure log dir %s: %w", dir, err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	return file, nil
}
