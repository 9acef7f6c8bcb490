package scenario

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/sharedptr/alloc"
	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/rc"
)

// ErrStress is returned (wrapped) when a stress run observes a counting
// violation.
var ErrStress = errors.New("scenario: stress invariant violated")

// StressConfig sizes a stress run.
type StressConfig struct {
	Goroutines int // concurrent owners, default 8
	Iterations int // clone/lock/release rounds per owner, default 1000
	Inline     bool
}

// stressed is the element shared by a stress run.
type stressed struct {
	destroyed *atomic.Int64
}

func (s *stressed) Destroy() {
	s.destroyed.Add(1)
}

// StressResult summarizes a stress run.
type StressResult struct {
	RunID      string
	Locks      int64 // successful upgrades
	Misses     int64 // upgrades that found the element released
	Destroyed  int64
	Blocks     alloc.Stats
	Duration   time.Duration
	Goroutines int
}

// Stress hammers one atomic control block from many goroutines: every
// goroutine owns a strong and a weak handle, clones and upgrades in a loop,
// then releases both. The run fails unless the element is released exactly
// once and the block storage is reclaimed.
func Stress(ctx context.Context, cfg StressConfig) (*StressResult, error) {
	if cfg.Goroutines <= 0 {
		cfg.Goroutines = 8
	}
	if cfg.Iterations <= 0 {
		cfg.Iterations = 1000
	}

	res := &StressResult{RunID: uuid.NewString(), Goroutines: cfg.Goroutines}
	log := logging.L().With(zap.String("run", res.RunID))
	start := time.Now()

	var destroyed atomic.Int64
	tr := alloc.NewTracking(nil)
	opts := []rc.Option{rc.WithAllocator(tr), rc.WithAtomicCounts()}

	var (
		root rc.Shared[stressed]
		err  error
	)
	if cfg.Inline {
		root, err = rc.Make(stressed{destroyed: &destroyed}, opts...)
	} else {
		root, err = rc.New(&stressed{destroyed: &destroyed}, opts...)
	}
	if err != nil {
		return nil, err
	}
	watch := root.Downgrade()

	var locks, misses atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Goroutines; i++ {
		owner := root.Clone()
		obs := watch.Clone()
		g.Go(func() error {
			defer obs.Release()
			for n := 0; n < cfg.Iterations; n++ {
				if err := gctx.Err(); err != nil {
					owner.Release()
					return err
				}
				c := owner.Clone()
				c.Release()
				if n == cfg.Iterations/2 {
					// Half-way through, drop ownership and keep observing.
					owner.Release()
				}
				if l := obs.Lock(); l.Valid() {
					locks.Add(1)
					l.Release()
				} else {
					misses.Add(1)
				}
			}
			owner.Release()
			return nil
		})
	}
	root.Release()

	runErr := g.Wait()
	if !watch.Expired() && runErr == nil {
		runErr = fmt.Errorf("%w: element alive after every owner released (strong=%d)", ErrStress, watch.UseCount())
	}
	watch.Release()

	res.Locks, res.Misses = locks.Load(), misses.Load()
	res.Destroyed = destroyed.Load()
	res.Blocks = tr.Stats()
	res.Duration = time.Since(start)

	if runErr == nil && res.Destroyed != 1 {
		runErr = fmt.Errorf("%w: element released %d times", ErrStress, res.Destroyed)
	}
	if runErr == nil && res.Blocks.Live() != 0 {
		runErr = fmt.Errorf("%w: %d blocks not reclaimed", ErrStress, res.Blocks.Live())
	}
	if runErr != nil {
		log.Error("stress failed", zap.Error(runErr))
		return res, runErr
	}
	log.Info("stress passed",
		zap.Int("goroutines", cfg.Goroutines),
		zap.Int("iterations", cfg.Iterations),
		zap.Int64("locks", res.Locks),
		zap.Int64("misses", res.Misses),
		zap.Duration("took", res.Duration))
	return res, nil
}
