package testsupport

import (
	"sync"
)

// FakeVolumes stands in for the host volume table. It satisfies both the
// allocator's live-volume source and the coordinator's visibility probe.
type FakeVolumes struct {
	mu   sync.Mutex
	live map[string]struct{}
	err  error
}

// NewFakeVolumes returns a table with targets already presented by the host.
func NewFakeVolumes(targets ...string) *FakeVolumes {
	v := &FakeVolumes{live: make(map[string]struct{})}
	for _, target := range targets {
		v.live[target] = struct{}{}
	}
	return v
}

// Live returns a copy of the presented targets.
func (v *FakeVolumes) Live() (map[string]struct{}, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	out := make(map[string]struct{}, len(v.live))
	for target := range v.live {
		out[target] = struct{}{}
	}
	return out, nil
}

// Visible reports whether target is presented.
func (v *FakeVolumes) Visible(target string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.live[target]
	return ok
}

// Add presents targets.
func (v *FakeVolumes) Add(targets ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, target := range targets {
		v.live[target] = struct{}{}
	}
}

// Remove withdraws targets.
func (v *FakeVolumes) Remove(targets ...string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, target := range targets {
		delete(v.live, target)
	}
}

// Fail makes Live return err (nil clears it).
func (v *FakeVolumes) Fail(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.err = err
}
