package mount

import "fmt"

// Status represents the lifecycle of a mount entry.
type Status string

const (
	StatusUnmounted Status = "Unmounted"
	StatusMounting  Status = "Mounting"
	StatusMounted   Status = "Mounted"
	StatusError     Status = "Error"
)

var allStatuses = []Status{
	StatusUnmounted,
	StatusMounting,
	StatusMounted,
	StatusError,
}

// AllStatuses returns every status in display order.
func AllStatuses() []Status {
	out := make([]Status, len(allStatuses))
	copy(out, allStatuses)
	return out
}

// ParseStatus converts a textual status name.
func ParseStatus(value string) (Status, error) {
	for _, status := range allStatuses {
		if string(status) == value {
			return status, nil
		}
	}
	return "", fmt.Errorf("unknown mount status %q", value)
}

// Attachable reports whether an attach may start from this status.
func (s Status) Attachable() bool {
	return s == StatusUnmounted || s == StatusError
}

// Active reports whether the status claims its target identifier.
func (s Status) Active() bool {
	return s == StatusMounting || s == StatusMounted
}

// Editable reports whether user edits and removal are allowed.
func (s Status) Editable() bool {
	return s.Attachable()
}

func (s Status) String() string {
	return string(s)
}
