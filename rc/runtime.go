package rc

import (
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/kolkov/sharedptr/internal/config"
	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/internal/rc/control"
	"github.com/kolkov/sharedptr/internal/rc/counter"
	"github.com/kolkov/sharedptr/internal/rc/leakcheck"
)

// SetLogger installs the logger used for allocation failures, close errors,
// leak reports and (at debug level) element/block release events.
// A nil logger silences the package again.
func SetLogger(l *zap.Logger) {
	logging.Set(l)
}

// SetAtomicDefault selects the counting strategy for handles created
// without an explicit WithAtomicCounts/WithPlainCounts option.
func SetAtomicDefault(on bool) {
	defaultAtomic.Store(on)
}

// LoadConfig reads a YAML configuration file (see internal/config for the
// schema) and applies it process-wide.
func LoadConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	return apply(cfg)
}

// ConfigureYAML applies a YAML configuration document process-wide.
func ConfigureYAML(data []byte) error {
	cfg, err := config.Parse(data)
	if err != nil {
		return fmt.Errorf("rc: %w", err)
	}
	return apply(cfg)
}

func apply(cfg config.Config) error {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return err
	}
	logging.Set(logger)
	defaultAtomic.Store(cfg.Mode() == counter.Atomic)
	leakcheck.Default.Enable(cfg.LeakCheck)
	logger.Debug("configured",
		zap.String("counting", cfg.Counting),
		zap.Bool("leak_check", cfg.LeakCheck))
	return nil
}

// EnableLeakCheck turns creation tracking of control blocks on or off.
// Only blocks created while tracking is on are reported by Leaks.
func EnableLeakCheck(on bool) {
	leakcheck.Default.Enable(on)
}

// LeakReport describes a control block that still has live references.
type LeakReport = leakcheck.Report

// Leaks returns a report for every tracked control block whose storage has
// not been reclaimed, i.e. some Shared or Weak handle was never released.
//
// Call it once handle owners are quiescent: counts of plain-mode blocks are
// read without synchronization.
func Leaks() []LeakReport {
	return leakcheck.Default.Leaks()
}

// ReportLeaks writes the current leak reports to w and logs each at error
// level. Returns the number of leaks.
func ReportLeaks(w io.Writer) (int, error) {
	leaks := leakcheck.Default.Leaks()
	for _, rep := range leaks {
		logging.L().Error("leaked handle",
			zap.Uint64("id", rep.ID),
			zap.String("type", rep.Type),
			zap.Int32("strong", rep.Strong),
			zap.Int32("weak", rep.Weak))
	}
	if len(leaks) == 0 {
		return 0, nil
	}
	return len(leaks), leakcheck.Write(w, leaks)
}

// State is the lifecycle state of a control block.
type State = control.State

// Lifecycle states.
const (
	Alive        = control.Alive
	ElementFreed = control.ElementFreed
	FullyFreed   = control.FullyFreed
)

// StateOf returns the lifecycle state of s's control block. An empty handle
// reports FullyFreed.
func StateOf[T any](s Shared[T]) State {
	if s.ctrl == nil {
		return FullyFreed
	}
	return control.StateOf(s.ctrl)
}

// WeakStateOf returns the lifecycle state observed by w. An empty handle
// reports FullyFreed.
func WeakStateOf[T any](w Weak[T]) State {
	if w.ctrl == nil {
		return FullyFreed
	}
	return control.StateOf(w.ctrl)
}

// IsAtomic reports whether s's control block uses atomic counts.
func IsAtomic[T any](s Shared[T]) bool {
	return s.ctrl != nil && control.Mode(s.ctrl) == counter.Atomic
}
