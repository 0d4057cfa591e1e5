package mount

import (
	"errors"
	"path/filepath"
	"testing"
)

func newTestRegistry() *Registry {
	r := NewRegistry()
	r.Add(RestoreEntry(Record{ID: "3f2a-one", SourcePath: "/one", TargetID: `Z:\`}))
	r.Add(RestoreEntry(Record{ID: "3f2b-two", SourcePath: "/two", TargetID: `M:\`}))
	r.Add(RestoreEntry(Record{ID: "9c10-three", SourcePath: "/three"}))
	return r
}

func TestRegistryResolve(t *testing.T) {
	r := newTestRegistry()
	tests := []struct {
		ref  string
		want string
	}{
		{"1", "3f2a-one"},
		{"3", "9c10-three"},
		{"z", "3f2a-one"},
		{"M:", "3f2b-two"},
		{`m:\`, "3f2b-two"},
		{"9c", "9c10-three"},
		{"3f2b", "3f2b-two"},
	}
	for _, tt := range tests {
		entry, err := r.Resolve(tt.ref)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", tt.ref, err)
		}
		if entry.ID() != tt.want {
			t.Fatalf("Resolve(%q) = %s, want %s", tt.ref, entry.ID(), tt.want)
		}
	}

	for _, ref := range []string{"", "0", "4", "q", "zzz"} {
		if _, err := r.Resolve(ref); !errors.Is(err, ErrNotFound) {
			t.Fatalf("Resolve(%q) expected ErrNotFound, got %v", ref, err)
		}
	}
	if _, err := r.Resolve("3f2"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ambiguity error, got %v", err)
	}
}

func TestRegistryRemoveAndCounts(t *testing.T) {
	r := newTestRegistry()
	if !r.Remove("3f2b-two") {
		t.Fatal("expected remove to succeed")
	}
	if r.Remove("3f2b-two") {
		t.Fatal("expected second remove to report false")
	}
	if r.Len() != 2 {
		t.Fatalf("expected two entries, got %d", r.Len())
	}
	if _, ok := r.Get("3f2b-two"); ok {
		t.Fatal("removed entry still reachable")
	}
	counts := r.Counts()
	if counts[StatusUnmounted] != 2 || counts[StatusMounted] != 0 {
		t.Fatalf("unexpected counts %v", counts)
	}
	records := r.Records()
	if records[0].ID != "3f2a-one" || records[1].ID != "9c10-three" {
		t.Fatalf("expected insertion order kept, got %+v", records)
	}
}

func TestEntryAssignTargetGating(t *testing.T) {
	entry := RestoreEntry(Record{ID: "a", SourcePath: "/a", TargetID: `D:\`})
	if !entry.AssignTarget(`E:\`) || entry.TargetID() != `E:\` {
		t.Fatal("expected idle entry to accept a new target")
	}
	if entry.AssignTarget(`E:\`) {
		t.Fatal("same target should report no change")
	}

	entry.mu.Lock()
	entry.status = StatusMounted
	entry.mu.Unlock()
	if entry.AssignTarget(`F:\`) {
		t.Fatal("mounted entry must keep its target")
	}

	entry.mu.Lock()
	entry.status = StatusError
	entry.inflight = true
	entry.mu.Unlock()
	if entry.AssignTarget(`F:\`) {
		t.Fatal("entry with a running driver call must keep its target")
	}
	if !entry.View().Busy {
		t.Fatal("expected view to report busy")
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status     Status
		attachable bool
		active     bool
	}{
		{StatusUnmounted, true, false},
		{StatusMounting, false, true},
		{StatusMounted, false, true},
		{StatusError, true, false},
	}
	for _, tt := range tests {
		if tt.status.Attachable() != tt.attachable || tt.status.Active() != tt.active {
			t.Fatalf("%s: attachable=%v active=%v", tt.status, tt.status.Attachable(), tt.status.Active())
		}
		if tt.status.Editable() != tt.attachable {
			t.Fatalf("%s: editable should match attachable", tt.status)
		}
		parsed, err := ParseStatus(string(tt.status))
		if err != nil || parsed != tt.status {
			t.Fatalf("ParseStatus(%q) = %q, %v", tt.status, parsed, err)
		}
	}
	if _, err := ParseStatus("Sleeping"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestExpandSource(t *testing.T) {
	t.Setenv("MD_EXPAND_ROOT", "/srv/root")
	t.Setenv("HOME", "/home/tester")
	tests := map[string]string{
		"$MD_EXPAND_ROOT/a":      "/srv/root/a",
		"${MD_EXPAND_ROOT}/b":    "/srv/root/b",
		"%MD_EXPAND_ROOT%/c":     "/srv/root/c",
		"~/docs":                 filepath.Join("/home/tester", "docs"),
		"%MD_UNSET_VARIABLE%/d":  "%MD_UNSET_VARIABLE%/d",
		"$MD_UNSET_VARIABLE/e":   "$MD_UNSET_VARIABLE/e",
		"${MD_UNSET_VARIABLE}/f": "${MD_UNSET_VARIABLE}/f",
		"  /plain/../clean  ":    "/clean",
		"":                       "",
	}
	for spec, want := range tests {
		if got := ExpandSource(spec); got != want {
			t.Fatalf("ExpandSource(%q) = %q, want %q", spec, got, want)
		}
	}
}
