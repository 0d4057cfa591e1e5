package ipc

import "mirrordrive/internal/api"

// StartRequest asks the daemon to begin coordinating mounts.
type StartRequest struct{}

// StartResponse indicates whether the daemon was started.
type StartResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message"`
}

// StopRequest stops the daemon and asks its process to exit.
type StopRequest struct{}

// StopResponse indicates stop result.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StatusResponse mirrors the HTTP status payload.
type StatusResponse = api.DaemonStatus

// MountEntry mirrors the HTTP API entry DTO for IPC callers.
type MountEntry = api.MountEntry

// OperationResult mirrors the HTTP API attach/detach result.
type OperationResult = api.OperationResult

// ListRequest fetches every mapping.
type ListRequest struct{}

// ListResponse contains mappings in registry order.
type ListResponse struct {
	Entries []MountEntry `json:"entries"`
}

// GetRequest resolves a single mapping by index, drive letter or id prefix.
type GetRequest struct {
	Ref string `json:"ref"`
}

// GetResponse carries the resolved mapping.
type GetResponse struct {
	Entry MountEntry `json:"entry"`
}

// AddRequest creates a mapping. An empty TargetID picks the next free letter.
type AddRequest struct {
	SourceSpec string `json:"source_spec"`
	TargetID   string `json:"target_id,omitempty"`
	ReadOnly   bool   `json:"read_only"`
	AutoAttach bool   `json:"auto_attach"`
}

// AddResponse carries the created mapping.
type AddResponse struct {
	Entry MountEntry `json:"entry"`
}

// RemoveRequest deletes an idle mapping.
type RemoveRequest struct {
	Ref string `json:"ref"`
}

// RemoveResponse carries the mapping as it was before removal.
type RemoveResponse struct {
	Entry MountEntry `json:"entry"`
}

// UpdateRequest edits an idle mapping. Nil fields are left unchanged.
type UpdateRequest struct {
	Ref        string  `json:"ref"`
	TargetID   *string `json:"target_id,omitempty"`
	ReadOnly   *bool   `json:"read_only,omitempty"`
	AutoAttach *bool   `json:"auto_attach,omitempty"`
}

// UpdateResponse carries the edited mapping.
type UpdateResponse struct {
	Entry MountEntry `json:"entry"`
}

// OperationRequest drives an attach or detach. Wait keeps the call open
// through the extended timeout instead of continuing in the background.
type OperationRequest struct {
	Ref  string `json:"ref"`
	Wait bool   `json:"wait"`
}

// OperationResponse reports the outcome of an attach or detach.
type OperationResponse struct {
	Result OperationResult `json:"result"`
}

// ImportRequest names a legacy mounts.json file readable by the daemon.
type ImportRequest struct {
	Path string `json:"path"`
}

// ImportResponse reports how many mappings were added.
type ImportResponse struct {
	Added int `json:"added"`
}

// TestNotificationRequest asks the daemon to publish a test alert.
type TestNotificationRequest struct{}

// TestNotificationResponse reports whether an alert left the daemon.
type TestNotificationResponse struct {
	Sent    bool   `json:"sent"`
	Message string `json:"message,omitempty"`
}
