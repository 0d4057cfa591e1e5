package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
)

const (
	defaultConnectTimeout = 5 * time.Second
	triggerReadTimeout    = 5 * time.Second
	responseWriteTimeout  = 10 * time.Second
)

// Snapshotter supplies the registry views a response is built from.
type Snapshotter interface {
	Snapshot() []mount.View
}

// Recorder receives query outcomes. A nil Recorder is valid.
type Recorder interface {
	ObserveQuery(outcome string)
}

// ResponderOptions configures a Responder.
type ResponderOptions struct {
	RunDir         string
	Title          string
	ConnectTimeout time.Duration
	Source         Snapshotter
	Recorder       Recorder
	Logger         *slog.Logger
	// Now is used for response timestamps; defaults to time.Now.
	Now func() time.Time
}

// Responder answers query triggers on a well-known unix socket.
type Responder struct {
	path           string
	runDir         string
	connectTimeout time.Duration
	source         Snapshotter
	recorder       Recorder
	logger         *slog.Logger
	now            func() time.Time
	listener       net.Listener

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewResponder binds the trigger socket for opts.Title under opts.RunDir.
func NewResponder(ctx context.Context, opts ResponderOptions) (*Responder, error) {
	if opts.Source == nil {
		return nil, errors.New("query responder requires a snapshot source")
	}
	if opts.RunDir == "" {
		return nil, errors.New("query responder requires a run directory")
	}
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	path := SocketPath(opts.RunDir, title)
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing query socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on query socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Responder{
		path:           path,
		runDir:         opts.RunDir,
		connectTimeout: connectTimeout,
		source:         opts.Source,
		recorder:       opts.Recorder,
		logger:         logging.NewComponentLogger(logger, "query"),
		now:            now,
		listener:       listener,
		ctx:            serverCtx,
		cancel:         cancel,
	}, nil
}

// Path returns the trigger socket path.
func (r *Responder) Path() string {
	return r.path
}

// Serve accepts triggers until Close is called.
func (r *Responder) Serve() {
	r.logger.Debug("query responder listening", logging.String("socket", r.path))
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			conn, err := r.listener.Accept()
			if err != nil {
				select {
				case <-r.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				r.logger.Warn("query accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "query_accept_failed"),
					logging.String(logging.FieldImpact, "external snapshot requests may time out"),
					logging.String(logging.FieldErrorHint, "check run directory permissions"),
				)
				continue
			}
			r.wg.Add(1)
			go func(c net.Conn) {
				defer r.wg.Done()
				r.handle(c)
			}(conn)
		}
	}()
}

// Close stops accepting triggers, waits for in-flight responses and removes
// the socket file.
func (r *Responder) Close() {
	r.cancel()
	if r.listener != nil {
		_ = r.listener.Close()
	}
	r.wg.Wait()
	if err := os.RemoveAll(r.path); err != nil {
		r.logger.Warn("failed to remove query socket",
			logging.String("socket", r.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "query_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale query socket left behind"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"),
		)
	}
}

func (r *Responder) handle(conn net.Conn) {
	_ = conn.SetReadDeadline(time.Now().Add(triggerReadTimeout))
	trigger, err := DecodeTrigger(conn)
	_ = conn.Close()
	if err != nil {
		r.logger.Debug("discarding malformed trigger", logging.Error(err))
		r.observe("malformed")
		return
	}

	switch trigger.Command {
	case CommandShowWindow:
		r.logger.Debug("show-window trigger ignored")
		r.observe("ignored")
	case CommandGetMountPoints:
		if err := r.Respond(r.ctx, trigger.Channel); err != nil {
			r.logger.Debug("query response not delivered",
				logging.String("channel", trigger.Channel),
				logging.Error(err),
			)
			r.observe("failed")
			return
		}
		r.observe("answered")
	default:
		r.logger.Debug("unknown trigger command", logging.Int64("command", int64(trigger.Command)))
		r.observe("unknown")
	}
}

// Respond snapshots the registry and streams it to channel. The error is for
// the caller's logging only; the registry is never touched.
func (r *Responder) Respond(ctx context.Context, channel string) error {
	if !ValidChannel(channel) {
		return fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	payload, err := MarshalResponse(BuildResponse(r.source.Snapshot(), r.now()))
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}

	dialer := net.Dialer{Timeout: r.connectTimeout}
	conn, err := dialer.DialContext(ctx, "unix", ChannelPath(r.runDir, channel))
	if err != nil {
		return fmt.Errorf("connect to response channel: %w", err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(responseWriteTimeout))
	return WriteFrame(conn, payload)
}

func (r *Responder) observe(outcome string) {
	if r.recorder != nil {
		r.recorder.ObserveQuery(outcome)
	}
}
