package hostvol

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/pilebones/go-udev/netlink"
)

func writeMountInfo(t *testing.T, mountPoints ...string) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("22 1 8:1 / / rw,relatime shared:1 - ext4 /dev/sda1 rw\n")
	for i, point := range mountPoints {
		escaped := strings.ReplaceAll(point, " ", `\040`)
		b.WriteString(strings.Join([]string{
			strconv.Itoa(30 + i), "22", "0:50", "/", escaped,
			"rw,nosuid,nodev", "-", "fuse.mirror", "mirrordrive", "rw",
		}, " "))
		b.WriteByte('\n')
	}
	path := filepath.Join(t.TempDir(), "mountinfo")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		t.Fatalf("write mountinfo: %v", err)
	}
	return path
}

func TestTableLiveAndVisible(t *testing.T) {
	root := filepath.Join(t.TempDir(), "My Drives")
	info := writeMountInfo(t, filepath.Join(root, "Z"), filepath.Join(root, "D"), "/media/usb")
	table := New(root).WithMountInfo(info)

	live, err := table.Live()
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if len(live) != 2 {
		t.Fatalf("expected two live targets, got %v", live)
	}
	for _, target := range []string{`Z:\`, `D:\`} {
		if _, ok := live[target]; !ok {
			t.Fatalf("expected %s live, got %v", target, live)
		}
	}
	if !table.Visible(`Z:\`) {
		t.Fatal("expected Z visible")
	}
	if table.Visible(`Q:\`) {
		t.Fatal("expected Q not visible")
	}
}

func TestTablePath(t *testing.T) {
	table := New("/srv/drives/")
	if got := table.Path(`z:\`); got != "/srv/drives/Z" {
		t.Fatalf("unexpected path: %q", got)
	}
	if got := table.Path(""); got != "" {
		t.Fatalf("expected empty path, got %q", got)
	}
}

func TestTableLiveMissingMountInfo(t *testing.T) {
	table := New(t.TempDir()).WithMountInfo(filepath.Join(t.TempDir(), "absent"))
	if _, err := table.Live(); err == nil {
		t.Fatal("expected error for missing mount table")
	}
	// Visible falls back to the device probe; a plain directory is not a mount point.
	if err := os.MkdirAll(table.Path(`X:\`), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if table.Visible(`X:\`) {
		t.Fatal("expected plain directory not visible")
	}
}

func TestTableLiveIgnoresNestedAndForeignMounts(t *testing.T) {
	root := filepath.Join(t.TempDir(), "drives")
	info := writeMountInfo(t, root, filepath.Join(root, "K"), filepath.Join(root, "K", "inner"), filepath.Join(root, "data"))
	live, err := New(root).WithMountInfo(info).Live()
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	if _, ok := live[`K:\`]; !ok || len(live) != 1 {
		t.Fatalf("expected only K live, got %v", live)
	}
}

func TestBuildMatcher(t *testing.T) {
	matcher := buildMatcher()
	for _, action := range []netlink.KObjAction{netlink.ADD, netlink.REMOVE} {
		event := netlink.UEvent{Action: action, Env: map[string]string{"SUBSYSTEM": "block"}}
		if !matcher.Evaluate(event) {
			t.Fatalf("expected matcher to accept %s", action)
		}
	}
	if matcher.Evaluate(netlink.UEvent{Action: netlink.CHANGE, Env: map[string]string{"SUBSYSTEM": "block"}}) {
		t.Fatal("expected matcher to reject CHANGE")
	}
	if matcher.Evaluate(netlink.UEvent{Action: netlink.ADD, Env: map[string]string{"SUBSYSTEM": "net"}}) {
		t.Fatal("expected matcher to reject non-block subsystem")
	}
}

func TestWatcherHandleEvent(t *testing.T) {
	var got string
	w := NewWatcher(nil, func(_ context.Context, device string) { got = device })
	w.handleEvent(context.Background(), netlink.UEvent{
		Action: netlink.ADD,
		Env:    map[string]string{"DEVPATH": "/devices/pci0000:00/usb1/block/sdb"},
	})
	if got != "/dev/sdb" {
		t.Fatalf("expected device from DEVPATH, got %q", got)
	}
	w.handleEvent(context.Background(), netlink.UEvent{
		Action: netlink.REMOVE,
		Env:    map[string]string{"DEVNAME": "sdc1"},
	})
	if got != "/dev/sdc1" {
		t.Fatalf("expected device from DEVNAME, got %q", got)
	}
}

func TestWatcherNilSafety(t *testing.T) {
	var w *Watcher
	if w.Running() {
		t.Fatal("nil watcher should not be running")
	}
	w.Stop()
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start on nil watcher: %v", err)
	}

	unstarted := NewWatcher(nil, nil)
	unstarted.Stop()
	unstarted.Stop()
	if unstarted.Running() {
		t.Fatal("expected unstarted watcher to report not running")
	}
}
