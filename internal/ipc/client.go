package ipc

import (
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"strings"
	"time"

	"mirrordrive/internal/daemon"
	"mirrordrive/internal/mount"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start coordinating mounts.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.call("Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop and exit.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// List returns every mapping in registry order.
func (c *Client) List() (*ListResponse, error) {
	var resp ListResponse
	if err := c.call("List", ListRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get resolves a single mapping.
func (c *Client) Get(ref string) (*GetResponse, error) {
	var resp GetResponse
	if err := c.call("Get", GetRequest{Ref: ref}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Add creates a mapping.
func (c *Client) Add(req AddRequest) (*AddResponse, error) {
	var resp AddResponse
	if err := c.call("Add", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Remove deletes an idle mapping.
func (c *Client) Remove(ref string) (*RemoveResponse, error) {
	var resp RemoveResponse
	if err := c.call("Remove", RemoveRequest{Ref: ref}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Update edits an idle mapping.
func (c *Client) Update(req UpdateRequest) (*UpdateResponse, error) {
	var resp UpdateResponse
	if err := c.call("Update", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Attach mounts a mapping.
func (c *Client) Attach(ref string, wait bool) (*OperationResponse, error) {
	var resp OperationResponse
	if err := c.call("Attach", OperationRequest{Ref: ref, Wait: wait}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Detach unmounts a mapping.
func (c *Client) Detach(ref string, wait bool) (*OperationResponse, error) {
	var resp OperationResponse
	if err := c.call("Detach", OperationRequest{Ref: ref, Wait: wait}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Import adds the mappings of a legacy mounts.json file.
func (c *Client) Import(path string) (*ImportResponse, error) {
	var resp ImportResponse
	if err := c.call("Import", ImportRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) call(method string, req, resp any) error {
	return remoteError(c.client.Call(ServiceName+"."+method, req, resp))
}

// knownErrors lists sentinels whose messages survive the wire.
var knownErrors = []error{
	daemon.ErrNotRunning,
	mount.ErrInProgress,
	mount.ErrNotAttachable,
	mount.ErrNotAttached,
	mount.ErrNoTarget,
	mount.ErrTargetInUse,
	mount.ErrBusy,
	mount.ErrNotFound,
	mount.ErrInvalidTarget,
	mount.ErrSourceMissing,
}

// RemoteError is a daemon-side failure. It unwraps to the matching sentinel
// when the message carries one, so errors.Is works across the socket.
type RemoteError struct {
	Message string
	kind    error
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Unwrap() error { return e.kind }

func remoteError(err error) error {
	var serverErr rpc.ServerError
	if !errors.As(err, &serverErr) {
		return err
	}
	remote := &RemoteError{Message: string(serverErr)}
	for _, known := range knownErrors {
		if strings.Contains(remote.Message, known.Error()) {
			remote.kind = known
			break
		}
	}
	return remote
}

// TestNotification asks the daemon to publish a test alert.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
