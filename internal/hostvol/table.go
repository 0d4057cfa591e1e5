// Package hostvol maps drive identifiers onto host directories and reports
// which of them are live mount points.
//
// Identifier "Z:\" is presented at <root>/Z. An identifier is OS-visible when
// that directory is a mount point, whoever mounted it.
package hostvol

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/moby/sys/mountinfo"
)

// Table resolves identifiers under a mount root.
type Table struct {
	root string
	// mountInfo overrides the kernel mount table; empty reads the live one.
	mountInfo string
}

// New returns a table rooted at root that consults the live mount table.
func New(root string) *Table {
	return &Table{root: filepath.Clean(root)}
}

// WithMountInfo returns a copy of t that reads the given mountinfo file.
func (t *Table) WithMountInfo(path string) *Table {
	clone := *t
	clone.mountInfo = path
	return &clone
}

// Root returns the directory holding per-letter mount points.
func (t *Table) Root() string {
	return t.root
}

// Path returns the directory an identifier is presented at.
func (t *Table) Path(target string) string {
	letter := strings.ToUpper(strings.TrimSpace(target))
	if letter == "" {
		return ""
	}
	return filepath.Join(t.root, letter[:1])
}

// Live returns every identifier whose directory is currently a mount point.
func (t *Table) Live() (map[string]struct{}, error) {
	mounts, err := t.mounts()
	if err != nil {
		return nil, err
	}
	live := make(map[string]struct{})
	for _, m := range mounts {
		rel, err := filepath.Rel(t.root, m.Mountpoint)
		if err != nil || len(rel) != 1 || rel[0] < 'A' || rel[0] > 'Z' {
			continue
		}
		live[rel+`:\`] = struct{}{}
	}
	return live, nil
}

// Visible reports whether target is a live mount point. An overridden mount
// table that cannot be read falls back to asking the kernel directly.
func (t *Table) Visible(target string) bool {
	path := t.Path(target)
	if path == "" {
		return false
	}
	if t.mountInfo != "" {
		if mounts, err := t.mounts(); err == nil {
			for _, m := range mounts {
				if filepath.Clean(m.Mountpoint) == path {
					return true
				}
			}
			return false
		}
	}
	mounted, err := mountinfo.Mounted(path)
	return err == nil && mounted
}

// mounts lists the mount table entries under the root.
func (t *Table) mounts() ([]*mountinfo.Info, error) {
	filter := mountinfo.PrefixFilter(t.root)
	if t.mountInfo == "" {
		mounts, err := mountinfo.GetMounts(filter)
		if err != nil {
			return nil, fmt.Errorf("read mount table: %w", err)
		}
		return mounts, nil
	}

	file, err := os.Open(t.mountInfo)
	if err != nil {
		return nil, fmt.Errorf("open mount table: %w", err)
	}
	defer file.Close()
	mounts, err := mountinfo.GetMountsFromReader(file, filter)
	if err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	return mounts, nil
}
