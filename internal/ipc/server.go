package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"github.com/google/uuid"

	"mirrordrive/internal/daemon"
	"mirrordrive/internal/logging"
	"mirrordrive/internal/mount"
)

// ServiceName is the RPC receiver name shared by server and client.
const ServiceName = "MirrorDrive"

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(ServiceName, svc); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String("impact", "control clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file. Connected clients keep
// their sessions until they hang up.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun mirrordrive stop"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return logging.NewComponentLogger(s.logger, "ipc")
}

// opContext tags a mutating request so its coordinator log lines correlate.
func (s *service) opContext() context.Context {
	return logging.WithCorrelationID(s.ctx, uuid.NewString())
}

func (s *service) Start(_ StartRequest, resp *StartResponse) error {
	s.log().Debug("daemon start requested")
	if err := s.daemon.Start(s.ctx); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "daemon started"
	s.log().Info("daemon started via IPC", logging.String(logging.FieldEventType, "daemon_start"))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	// Detaching may take a while; answer first so the client is not left
	// waiting on a socket that is about to close.
	go func() {
		s.daemon.Stop()
		s.daemon.RequestShutdown()
	}()
	resp.Stopped = true
	s.log().Info("daemon stop requested via IPC", logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.daemon.Status()
	return nil
}

func (s *service) List(_ ListRequest, resp *ListResponse) error {
	resp.Entries = s.daemon.List()
	return nil
}

func (s *service) Get(req GetRequest, resp *GetResponse) error {
	entry, err := s.daemon.Get(req.Ref)
	if err != nil {
		return err
	}
	resp.Entry = entry
	return nil
}

func (s *service) Add(req AddRequest, resp *AddResponse) error {
	entry, err := s.daemon.Add(s.opContext(), mount.NewEntry{
		SourceSpec: req.SourceSpec,
		TargetID:   req.TargetID,
		ReadOnly:   req.ReadOnly,
		AutoAttach: req.AutoAttach,
	})
	resp.Entry = entry
	if err != nil {
		return err
	}
	s.log().Info("mapping added via IPC",
		logging.String(logging.FieldEventType, "mapping_add"),
		logging.String(logging.FieldEntryID, entry.ID),
		logging.String(logging.FieldTarget, entry.TargetID))
	return nil
}

func (s *service) Remove(req RemoveRequest, resp *RemoveResponse) error {
	entry, err := s.daemon.Remove(s.opContext(), req.Ref)
	if err != nil {
		return err
	}
	resp.Entry = entry
	s.log().Info("mapping removed via IPC",
		logging.String(logging.FieldEventType, "mapping_remove"),
		logging.String(logging.FieldEntryID, entry.ID))
	return nil
}

func (s *service) Update(req UpdateRequest, resp *UpdateResponse) error {
	entry, err := s.daemon.Update(s.opContext(), req.Ref, mount.EntryUpdate{
		TargetID:   req.TargetID,
		ReadOnly:   req.ReadOnly,
		AutoAttach: req.AutoAttach,
	})
	resp.Entry = entry
	return err
}

func (s *service) Attach(req OperationRequest, resp *OperationResponse) error {
	result, err := s.daemon.Attach(s.opContext(), req.Ref, req.Wait)
	resp.Result = result
	return err
}

func (s *service) Detach(req OperationRequest, resp *OperationResponse) error {
	result, err := s.daemon.Detach(s.opContext(), req.Ref, req.Wait)
	resp.Result = result
	return err
}

func (s *service) Import(req ImportRequest, resp *ImportResponse) error {
	added, err := s.daemon.Import(s.opContext(), req.Path)
	resp.Added = added
	return err
}

func (s *service) TestNotification(_ TestNotificationRequest, resp *TestNotificationResponse) error {
	sent, err := s.daemon.TestNotification(s.ctx)
	if err != nil {
		resp.Message = err.Error()
		return err
	}
	resp.Sent = sent
	if !sent {
		resp.Message = "Notifications disabled (set notifications.ntfy_topic)"
	}
	return nil
}
