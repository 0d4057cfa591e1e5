package query

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding/unicode"

	"mirrordrive/internal/mount"
)

// Command tags carried in the first word of a trigger frame.
const (
	CommandShowWindow     uint32 = 0x8001
	CommandGetMountPoints uint32 = 0x8002
)

const (
	// Version is the response schema version.
	Version = "1.0"
	// TimestampLayout renders UTC with seven fractional digits.
	TimestampLayout = "2006-01-02T15:04:05.0000000Z"
	// DriveNamePrefix precedes the drive identifier in MountPoint.DriveName.
	DriveNamePrefix = "Mirror Drive "
	// ChannelPrefix starts every requester channel name.
	ChannelPrefix = "MirrorDriveManager_Query_"
	// DefaultTitle names the running instance.
	DefaultTitle = "Mirror Drive Manager"

	maxTriggerPayload  = 1024
	maxResponsePayload = 16 << 20
)

var (
	// ErrInvalidChannel is returned for channel names that cannot be used as
	// a socket file name.
	ErrInvalidChannel = errors.New("invalid response channel name")
	// ErrFrameTooLarge is returned when a length prefix exceeds the limit.
	ErrFrameTooLarge = errors.New("frame too large")

	channelPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,200}$`)
	utf16le        = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
)

// Trigger is the frame a requester sends to the running instance.
type Trigger struct {
	Command uint32
	Channel string
}

// MountPoint is one registry entry as seen by an external process.
type MountPoint struct {
	SrcPath      string `json:"srcPath"`
	DstPath      string `json:"dstPath"`
	DriveName    string `json:"driveName"`
	Status       string `json:"status"`
	IsReadOnly   bool   `json:"isReadOnly"`
	AutoMount    bool   `json:"autoMount"`
	ErrorMessage string `json:"errorMessage"`
}

// Response is the JSON document streamed back to a requester.
type Response struct {
	MountPoints []MountPoint `json:"mountPoints"`
	Timestamp   string       `json:"timestamp"`
	Version     string       `json:"version"`
	Success     bool         `json:"success"`
	Error       *string      `json:"error"`
}

// ValidChannel reports whether name is a usable channel name.
func ValidChannel(name string) bool {
	return channelPattern.MatchString(name)
}

// SocketName turns an instance title into its socket file name, e.g.
// "Mirror Drive Manager" becomes "mirror-drive-manager.sock".
func SocketName(title string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if b.Len() > 0 && !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "mirror-drive-manager"
	}
	return slug + ".sock"
}

// SocketPath is where the instance titled title listens for triggers.
func SocketPath(runDir, title string) string {
	return filepath.Join(runDir, SocketName(title))
}

// ChannelPath is where a requester listens for the response on channel.
func ChannelPath(runDir, channel string) string {
	return filepath.Join(runDir, channel+".sock")
}

// EncodeTrigger builds the wire form: command tag, byte count, then the
// channel name as NUL-terminated UTF-16LE.
func EncodeTrigger(t Trigger) ([]byte, error) {
	if !ValidChannel(t.Channel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, t.Channel)
	}
	payload, err := utf16le.NewEncoder().Bytes([]byte(t.Channel + "\x00"))
	if err != nil {
		return nil, fmt.Errorf("encode channel name: %w", err)
	}
	frame := make([]byte, 8, 8+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], t.Command)
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	return append(frame, payload...), nil
}

// DecodeTrigger reads one trigger frame from r.
func DecodeTrigger(r io.Reader) (Trigger, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Trigger{}, fmt.Errorf("read trigger header: %w", err)
	}
	t := Trigger{Command: binary.LittleEndian.Uint32(header[0:4])}
	size := binary.LittleEndian.Uint32(header[4:8])
	if size > maxTriggerPayload {
		return Trigger{}, fmt.Errorf("%w: trigger payload %d bytes", ErrFrameTooLarge, size)
	}
	if size == 0 {
		return t, nil
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Trigger{}, fmt.Errorf("read trigger payload: %w", err)
	}
	decoded, err := utf16le.NewDecoder().Bytes(payload)
	if err != nil {
		return Trigger{}, fmt.Errorf("decode channel name: %w", err)
	}
	if i := bytes.IndexByte(decoded, 0); i >= 0 {
		decoded = decoded[:i]
	}
	t.Channel = string(decoded)
	return t, nil
}

// BuildResponse converts registry views into a response stamped with now.
func BuildResponse(views []mount.View, now time.Time) Response {
	resp := Response{
		MountPoints: make([]MountPoint, 0, len(views)),
		Timestamp:   now.UTC().Format(TimestampLayout),
		Version:     Version,
		Success:     true,
	}
	for _, view := range views {
		resp.MountPoints = append(resp.MountPoints, MountPoint{
			SrcPath:      view.SourcePath,
			DstPath:      view.TargetID,
			DriveName:    DriveName(view.TargetID),
			Status:       view.Status.String(),
			IsReadOnly:   view.ReadOnly,
			AutoMount:    view.AutoAttach,
			ErrorMessage: view.ErrorMessage,
		})
	}
	return resp
}

// DriveName derives the display name for a drive, empty when unassigned.
func DriveName(target string) string {
	if target == "" {
		return ""
	}
	return DriveNamePrefix + target
}

// MarshalResponse encodes resp as indented UTF-8 JSON.
func MarshalResponse(resp Response) ([]byte, error) {
	return json.MarshalIndent(resp, "", "  ")
}

// WriteFrame writes a little-endian int32 length followed by payload.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > maxResponsePayload {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return fmt.Errorf("write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadFrame reads a frame written by WriteFrame.
func ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	size := int32(binary.LittleEndian.Uint32(prefix[:]))
	if size < 0 || size > maxResponsePayload {
		return nil, fmt.Errorf("%w: length prefix %d", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return payload, nil
}
