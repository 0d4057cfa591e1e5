package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// MountEntry describes a registry entry in a transport-friendly format.
type MountEntry struct {
	Index        int      `json:"index"`
	ID           string   `json:"id"`
	SourcePath   string   `json:"sourcePath"`
	SourceSpec   string   `json:"sourceSpec"`
	TargetID     string   `json:"targetId"`
	ReadOnly     bool     `json:"readOnly"`
	AutoAttach   bool     `json:"autoAttach"`
	Status       string   `json:"status"`
	ErrorMessage string   `json:"errorMessage,omitempty"`
	Available    []string `json:"available"`
	Busy         bool     `json:"busy"`
}

// OperationResult reports the outcome of an attach or detach request.
type OperationResult struct {
	Entry         MountEntry `json:"entry"`
	Backgrounded  bool       `json:"backgrounded"`
	ElapsedMillis int64      `json:"elapsedMillis"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running        bool           `json:"running"`
	PID            int            `json:"pid"`
	StartedAt      string         `json:"startedAt,omitempty"`
	DatabasePath   string         `json:"databasePath"`
	LockFilePath   string         `json:"lockFilePath"`
	MountRoot      string         `json:"mountRoot"`
	APIAddress     string         `json:"apiAddress,omitempty"`
	QuerySocket    string         `json:"querySocket,omitempty"`
	VolumeWatcher  bool           `json:"volumeWatcher"`
	ActiveMonitors int            `json:"activeMonitors"`
	EntryCounts    map[string]int `json:"entryCounts"`
	LastMessage    string         `json:"lastMessage,omitempty"`
}

// MountListResponse wraps the registry for API responses.
type MountListResponse struct {
	Entries []MountEntry `json:"entries"`
}

// MountEntryResponse wraps a single entry.
type MountEntryResponse struct {
	Entry MountEntry `json:"entry"`
}
