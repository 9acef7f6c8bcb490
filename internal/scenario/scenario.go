// Package scenario replays scripted handle lifecycles and records the
// counts of the shared control block after every step.
//
// A scenario is a YAML document:
//
//	name: two owners, one observer
//	counting: plain
//	steps:
//	  - {op: make, handle: s1, value: 42}
//	  - {op: clone, from: s1, handle: s2}
//	  - {op: downgrade, from: s1, handle: w}
//	  - {op: release, handle: s1}
//	  - {op: release, handle: s2}
//	  - {op: expect, handle: w, strong: 0, weak: 1, state: element-freed, destroyed: 1}
//	  - {op: lock, from: w, handle: s3}
//	  - {op: release, handle: w}
//
// Handles are named. Strong handles come from new, make, clone, move and
// lock; weak handles from downgrade and clone of a weak handle. A scenario
// must release every handle it creates.
package scenario

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kolkov/sharedptr/alloc"
	"github.com/kolkov/sharedptr/internal/logging"
	"github.com/kolkov/sharedptr/internal/rc/counter"
	"github.com/kolkov/sharedptr/rc"
)

// Sentinel errors returned (wrapped) by Load and Run.
var (
	ErrInvalid     = errors.New("scenario: invalid")
	ErrUnknownOp   = errors.New("scenario: unknown op")
	ErrNoHandle    = errors.New("scenario: no such handle")
	ErrExpectation = errors.New("scenario: expectation failed")
	ErrLeaked      = errors.New("scenario: handles left unreleased")
)

// Op names a scenario step.
type Op string

// Supported steps.
const (
	OpNew       Op = "new"       // take ownership of a fresh payload
	OpMake      Op = "make"      // inline payload
	OpClone     Op = "clone"     // strong or weak copy of From
	OpMove      Op = "move"      // transfer From into Handle
	OpDowngrade Op = "downgrade" // weak handle from strong From
	OpLock      Op = "lock"      // strong handle from weak From (may be empty)
	OpRelease   Op = "release"
	OpExpect    Op = "expect"
)

// Step is one scripted operation.
type Step struct {
	Op     Op     `yaml:"op"`
	Handle string `yaml:"handle"`
	From   string `yaml:"from,omitempty"`
	Value  int    `yaml:"value,omitempty"`

	// Expectations, checked by expect only. Nil fields are not checked.
	Strong    *int32 `yaml:"strong,omitempty"`
	Weak      *int32 `yaml:"weak,omitempty"`
	State     string `yaml:"state,omitempty"`
	Destroyed *int   `yaml:"destroyed,omitempty"`
	Empty     *bool  `yaml:"empty,omitempty"`
}

// Scenario is a named list of steps.
type Scenario struct {
	Name     string `yaml:"name"`
	Counting string `yaml:"counting"`
	Steps    []Step `yaml:"steps"`
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sc, nil
}

// Parse decodes and validates a scenario document.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks the counting mode and the shape of every step.
func (sc *Scenario) Validate() error {
	if sc.Counting == "" {
		sc.Counting = counter.Plain.String()
	}
	if _, err := counter.ParseMode(sc.Counting); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	for i, st := range sc.Steps {
		if st.Handle == "" {
			return fmt.Errorf("%w: step %d (%s): missing handle", ErrInvalid, i+1, st.Op)
		}
		switch st.Op {
		case OpNew, OpMake, OpRelease, OpExpect:
		case OpClone, OpMove, OpDowngrade, OpLock:
			if st.From == "" {
				return fmt.Errorf("%w: step %d (%s): missing from", ErrInvalid, i+1, st.Op)
			}
		default:
			return fmt.Errorf("%w: step %d: %q", ErrUnknownOp, i+1, st.Op)
		}
	}
	return nil
}

// Event is the observation recorded after one step.
type Event struct {
	Step      int
	Op        Op
	Handle    string
	Strong    int32
	Weak      int32
	State     string
	Destroyed int
}

func (e Event) String() string {
	return fmt.Sprintf("%3d %-9s %-6s strong=%d weak=%d state=%s destroyed=%d",
		e.Step, e.Op, e.Handle, e.Strong, e.Weak, e.State, e.Destroyed)
}

// Result is the outcome of a run.
type Result struct {
	RunID     string
	Name      string
	Events    []Event
	Destroyed int
	Blocks    alloc.Stats
}

// payload is the element type every scenario handle manages.
type payload struct {
	Value     int
	destroyed *int
}

func (p *payload) Destroy() {
	*p.destroyed++
}

// runner holds the named handles of one run.
type runner struct {
	opts      []rc.Option
	strong    map[string]rc.Shared[payload]
	weak      map[string]rc.Weak[payload]
	destroyed int

	// touched observes the block a release or failed lock acted on, so the
	// step's event can report it after the handle itself is gone.
	touched rc.Weak[payload]
}

// Run replays sc and returns the recorded events. Handles are released
// before Run returns even when a step fails.
func Run(sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	mode, _ := counter.ParseMode(sc.Counting)

	tr := alloc.NewTracking(nil)
	r := &runner{
		opts:   []rc.Option{rc.WithAllocator(tr)},
		strong: make(map[string]rc.Shared[payload]),
		weak:   make(map[string]rc.Weak[payload]),
	}
	if mode == counter.Atomic {
		r.opts = append(r.opts, rc.WithAtomicCounts())
	} else {
		r.opts = append(r.opts, rc.WithPlainCounts())
	}

	res := &Result{RunID: uuid.NewString(), Name: sc.Name}
	log := logging.L().With(zap.String("run", res.RunID), zap.String("scenario", sc.Name))

	var runErr error
	for i, st := range sc.Steps {
		if err := r.apply(st); err != nil {
			runErr = fmt.Errorf("step %d (%s %s): %w", i+1, st.Op, st.Handle, err)
			break
		}
		ev := r.observe(st)
		ev.Step = i + 1
		res.Events = append(res.Events, ev)
		if ce := log.Check(zap.DebugLevel, "step"); ce != nil {
			ce.Write(zap.Stringer("event", ev))
		}
	}

	if runErr == nil {
		if names := r.live(); len(names) > 0 {
			runErr = fmt.Errorf("%w: %s", ErrLeaked, strings.Join(names, ", "))
		}
	}
	r.releaseAll()

	res.Destroyed = r.destroyed
	res.Blocks = tr.Stats()
	if runErr != nil {
		log.Warn("scenario failed", zap.Error(runErr))
		return res, runErr
	}
	log.Info("scenario passed", zap.Int("steps", len(res.Events)))
	return res, nil
}

func (r *runner) apply(st Step) error {
	switch st.Op {
	case OpNew:
		s, err := rc.New(&payload{Value: st.Value, destroyed: &r.destroyed}, r.opts...)
		if err != nil {
			return err
		}
		r.putStrong(st.Handle, s)
	case OpMake:
		s, err := rc.Make(payload{Value: st.Value, destroyed: &r.destroyed}, r.opts...)
		if err != nil {
			return err
		}
		r.putStrong(st.Handle, s)
	case OpClone:
		if s, ok := r.strong[st.From]; ok {
			r.putStrong(st.Handle, s.Clone())
			return nil
		}
		if w, ok := r.weak[st.From]; ok {
			r.putWeak(st.Handle, w.Clone())
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNoHandle, st.From)
	case OpMove:
		if s, ok := r.strong[st.From]; ok {
			delete(r.strong, st.From)
			r.putStrong(st.Handle, s.Move())
			return nil
		}
		if w, ok := r.weak[st.From]; ok {
			delete(r.weak, st.From)
			r.putWeak(st.Handle, w)
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNoHandle, st.From)
	case OpDowngrade:
		s, ok := r.strong[st.From]
		if !ok {
			return fmt.Errorf("%w: strong %s", ErrNoHandle, st.From)
		}
		r.putWeak(st.Handle, s.Downgrade())
	case OpLock:
		w, ok := r.weak[st.From]
		if !ok {
			return fmt.Errorf("%w: weak %s", ErrNoHandle, st.From)
		}
		s := w.Lock()
		if !s.Valid() {
			r.touch(w.Clone())
		}
		r.putStrong(st.Handle, s)
	case OpRelease:
		if s, ok := r.strong[st.Handle]; ok {
			delete(r.strong, st.Handle)
			r.touch(s.Downgrade())
			s.Release()
			return nil
		}
		if w, ok := r.weak[st.Handle]; ok {
			delete(r.weak, st.Handle)
			r.touch(w.Clone())
			w.Release()
			return nil
		}
		return fmt.Errorf("%w: %s", ErrNoHandle, st.Handle)
	case OpExpect:
		return r.check(st)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, st.Op)
	}
	return nil
}

// putStrong stores s under name, releasing whatever the name held before.
func (r *runner) putStrong(name string, s rc.Shared[payload]) {
	r.drop(name)
	r.strong[name] = s
}

func (r *runner) putWeak(name string, w rc.Weak[payload]) {
	r.drop(name)
	r.weak[name] = w
}

func (r *runner) drop(name string) {
	if old, ok := r.strong[name]; ok {
		delete(r.strong, name)
		old.Release()
	}
	if old, ok := r.weak[name]; ok {
		delete(r.weak, name)
		old.Release()
	}
}

// touch records w as the observer of the block the current step acted on.
func (r *runner) touch(w rc.Weak[payload]) {
	r.touched.Release()
	r.touched = w
}

// observe reads the counts of the block behind st's handle. After a release
// or a failed lock it reads the block the step acted on, without the
// observer's own weak unit. An empty handle with no such block reports a
// fully freed state.
func (r *runner) observe(st Step) Event {
	ev := Event{Op: st.Op, Handle: st.Handle, State: rc.FullyFreed.String(), Destroyed: r.destroyed}
	if s, ok := r.strong[st.Handle]; ok && s.Valid() {
		ev.Strong, ev.Weak, ev.State = s.UseCount(), s.WeakCount(), rc.StateOf(s).String()
	} else if w, ok := r.weak[st.Handle]; ok {
		ev.Strong, ev.Weak, ev.State = w.UseCount(), w.WeakCount(), rc.WeakStateOf(w).String()
	} else if r.touched.WeakCount() > 0 {
		ev.Strong, ev.Weak = r.touched.UseCount(), r.touched.WeakCount()-1
		switch {
		case ev.Strong > 0:
			ev.State = rc.Alive.String()
		case ev.Weak > 0:
			ev.State = rc.ElementFreed.String()
		}
	}
	r.touched.Release()
	return ev
}

func (r *runner) check(st Step) error {
	_, isStrong := r.strong[st.Handle]
	_, isWeak := r.weak[st.Handle]
	if !isStrong && !isWeak {
		return fmt.Errorf("%w: %s", ErrNoHandle, st.Handle)
	}
	got := r.observe(st)

	var failed []string
	if st.Strong != nil && got.Strong != *st.Strong {
		failed = append(failed, fmt.Sprintf("strong=%d, want %d", got.Strong, *st.Strong))
	}
	if st.Weak != nil && got.Weak != *st.Weak {
		failed = append(failed, fmt.Sprintf("weak=%d, want %d", got.Weak, *st.Weak))
	}
	if st.State != "" && got.State != st.State {
		failed = append(failed, fmt.Sprintf("state=%s, want %s", got.State, st.State))
	}
	if st.Destroyed != nil && got.Destroyed != *st.Destroyed {
		failed = append(failed, fmt.Sprintf("destroyed=%d, want %d", got.Destroyed, *st.Destroyed))
	}
	if st.Empty != nil {
		empty := !r.strong[st.Handle].Valid()
		if isWeak {
			empty = r.weak[st.Handle].Expired()
		}
		if empty != *st.Empty {
			failed = append(failed, fmt.Sprintf("empty=%t, want %t", empty, *st.Empty))
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("%w: %s", ErrExpectation, strings.Join(failed, "; "))
	}
	return nil
}

// live lists handle names still holding a reference, sorted.
func (r *runner) live() []string {
	var names []string
	for name, s := range r.strong {
		if s.Valid() {
			names = append(names, name)
		}
	}
	for name := range r.weak {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *runner) releaseAll() {
	r.touched.Release()
	for name, s := range r.strong {
		s.Release()
		delete(r.strong, name)
	}
	for name, w := range r.weak {
		w.Release()
		delete(r.weak, name)
	}
}
