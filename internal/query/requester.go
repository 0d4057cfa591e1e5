package query

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

const defaultReadTimeout = 10 * time.Second

// RequestOptions configures Request.
type RequestOptions struct {
	RunDir         string
	Title          string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// NewChannelName returns a process-unique response channel name.
func NewChannelName() string {
	return ChannelPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Request asks the running instance for a snapshot. The response channel is
// bound before the trigger is sent; waiting for the connection and reading
// the payload each have their own timeout.
func Request(ctx context.Context, opts RequestOptions) (*Response, error) {
	title := opts.Title
	if title == "" {
		title = DefaultTitle
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = defaultReadTimeout
	}

	channel := NewChannelName()
	channelPath := ChannelPath(opts.RunDir, channel)
	listener, err := net.Listen("unix", channelPath)
	if err != nil {
		return nil, fmt.Errorf("listen on response channel: %w", err)
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(channelPath)
	}()

	frame, err := EncodeTrigger(Trigger{Command: CommandGetMountPoints, Channel: channel})
	if err != nil {
		return nil, err
	}
	if err := sendTrigger(ctx, SocketPath(opts.RunDir, title), frame, connectTimeout); err != nil {
		return nil, err
	}

	conn, err := acceptWithin(ctx, listener, connectTimeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()

	payload, err := ReadFrame(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func sendTrigger(ctx context.Context, path string, frame []byte, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", path)
	if err != nil {
		return fmt.Errorf("locate running instance: %w", err)
	}
	defer conn.Close()
	_ = conn.SetWriteDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("send trigger: %w", err)
	}
	return nil
}

func acceptWithin(ctx context.Context, listener net.Listener, timeout time.Duration) (net.Conn, error) {
	if ul, ok := listener.(*net.UnixListener); ok {
		if err := ul.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set accept deadline: %w", err)
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = listener.Close() })
	defer stop()

	conn, err := listener.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("wait for response connection: %w", err)
	}
	return conn, nil
}
