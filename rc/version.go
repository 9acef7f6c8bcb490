package rc

import (
	"github.com/kolkov/sharedptr/internal/rc/counter"
	"github.com/kolkov/sharedptr/internal/rc/leakcheck"
)

// Release of the rc package. The numeric parts are kept in sync with Version
// for callers that compare versions without parsing.
const (
	Version = "v0.1.0"

	VersionMajor = 0
	VersionMinor = 1
	VersionPatch = 0
)

// Info is a snapshot of the process-wide handle settings.
type Info struct {
	Version string

	// Counting is "plain" or "atomic": the strategy new handles get when no
	// option overrides it.
	Counting string

	// LeakCheck reports whether new control blocks record a creation stack.
	LeakCheck bool
}

// GetInfo reads the current defaults, as changed by SetAtomicDefault,
// EnableLeakCheck or a loaded configuration.
func GetInfo() Info {
	mode := counter.Plain
	if defaultAtomic.Load() {
		mode = counter.Atomic
	}
	return Info{
		Version:   Version,
		Counting:  mode.String(),
		LeakCheck: leakcheck.Default.Enabled(),
	}
}
