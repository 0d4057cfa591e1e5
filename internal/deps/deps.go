// Package deps reports whether host binaries the FUSE driver shells out to
// are installed.
package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement names a host binary. Commands lists acceptable executables in
// preference order; the first one found on PATH satisfies the requirement.
type Requirement struct {
	Name        string
	Commands    []string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// FUSEHelpers lists the setuid helpers that perform unprivileged FUSE mounts.
var FUSEHelpers = Requirement{
	Name:        "fusermount",
	Commands:    []string{"fusermount3", "fusermount"},
	Description: "mounts and unmounts FUSE drives without root",
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	status := Status{
		Name:        req.Name,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	var tried []string
	for _, candidate := range req.Commands {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		tried = append(tried, candidate)
		if path, err := exec.LookPath(candidate); err == nil {
			status.Command = path
			status.Available = true
			return status
		}
	}
	if len(tried) == 0 {
		status.Detail = "command not configured"
		return status
	}
	status.Command = tried[0]
	status.Detail = fmt.Sprintf("none of %s found on PATH", strings.Join(tried, ", "))
	return status
}
