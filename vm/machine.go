// Package vm implements the Petrel virtual machine runtime core: activation
// records, the evaluation stack, and the exception unwinder.
package vm

import (
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/cloudcmds/petrel/bytecode"
	"github.com/cloudcmds/petrel/errz"
	"github.com/cloudcmds/petrel/object"
)

const (
	MaxFrameDepth = 1024
	MaxStackDepth = 1024
)

// trashedClassRef is the trap pattern written over class-ref slots in debug
// builds after temporaries are discarded. Reading it afterwards is a bug.
var trashedClassRef = object.NewClass(object.ClassParams{Name: "<trashed-cls-ref>"})

// Builtins with no call-preparation regions that receive the specialized
// frame unwinder.
var builtinUnwindNames = map[string]struct{}{
	"hphpd_break":                {},
	"fb_enable_code_coverage":    {},
	"xdebug_start_code_coverage": {},
}

// savedRegs is one suspended interpretation context. Each host re-entry into
// guest code pushes one; the depth of this stack is the VM nesting level.
type savedRegs struct {
	fp *frame
	pc int
}

// Machine is a Petrel virtual machine. It owns the interpreter registers,
// the evaluation stack, and the fault stack, and exposes the unwinder entry
// points. A Machine is single-threaded; all methods must be called from the
// interpreter goroutine.
type Machine struct {
	pc         int
	fp         *frame
	sp         int
	stack      []stackElem
	frameDepth int
	faults     faultStack
	nestings   []savedRegs

	// unwindingHost is set for the duration of a host-exception unwind.
	// Handler search refuses to enter guest handlers while it is set.
	unwindingHost bool

	// tvRef and tvRef2 are the thread-local intermediate cells used by
	// member instructions. A member instruction that raises leaves them
	// live; the unwind drivers release them on entry.
	tvRef  object.Value
	tvRef2 object.Value

	// pendingHost is a host exception recorded during destructor execution.
	// It disables handler search immediately and is raised at the next safe
	// point.
	pendingHost error

	// surpriseFatal schedules a fatal at the next safe point, carrying the
	// guest errors swallowed at the destructor boundary.
	surpriseFatal bool
	swallowed     *multierror.Error

	rt       *object.Runtime
	classes  map[string]*object.Class
	log      zerolog.Logger
	observer UnwindObserver
	debug    bool
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger used for unwind tracing.
func WithLogger(log zerolog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithObserver sets the observer notified of unwind events.
func WithObserver(o UnwindObserver) Option {
	return func(m *Machine) {
		m.observer = o
	}
}

// WithDebug enables debug-build checks: class-ref slot trashing, throwable
// layout verification, and teardown assertions.
func WithDebug(enabled bool) Option {
	return func(m *Machine) {
		m.debug = enabled
	}
}

// WithMaxStackDepth overrides the evaluation stack capacity.
func WithMaxStackDepth(n int) Option {
	return func(m *Machine) {
		m.stack = make([]stackElem, n)
	}
}

// NewMachine creates a new Machine.
func NewMachine(options ...Option) *Machine {
	m := &Machine{
		pc:      invalidOffset,
		sp:      -1,
		stack:   make([]stackElem, MaxStackDepth),
		classes: map[string]*object.Class{},
		log:     zerolog.Nop(),
	}
	m.rt = &object.Runtime{OnDestructorFailure: m.onDestructorFailure}
	for _, opt := range options {
		opt(m)
	}
	return m
}

// Runtime returns the reference-count runtime bound to this machine.
func (m *Machine) Runtime() *object.Runtime {
	return m.rt
}

// RegisterClass makes a class visible to the interpreter by name.
func (m *Machine) RegisterClass(cls *object.Class) {
	m.classes[cls.Name()] = cls
}

// PC returns the current bytecode offset.
func (m *Machine) PC() int {
	return m.pc
}

// FaultDepth returns the number of in-flight faults.
func (m *Machine) FaultDepth() int {
	return m.faults.len()
}

// NestingDepth returns the current VM nesting level.
func (m *Machine) NestingDepth() int {
	return len(m.nestings)
}

// pushNesting suspends the current interpretation context so a fresh frame
// chain can run on top of it.
func (m *Machine) pushNesting() {
	m.nestings = append(m.nestings, savedRegs{fp: m.fp, pc: m.pc})
	m.fp = nil
	m.pc = invalidOffset
}

// popNesting restores the most recently suspended interpretation context.
func (m *Machine) popNesting() {
	regs := m.nestings[len(m.nestings)-1]
	m.nestings = m.nestings[:len(m.nestings)-1]
	m.fp = regs.fp
	m.pc = regs.pc
}

// activateFunction enters a new frame for fn. Argument references transfer
// into the frame's locals; the receiver reference transfers to the frame.
func (m *Machine) activateFunction(fn *bytecode.Function, this *object.Instance, args []object.Value, callOffset int, fcallAwait bool) *frame {
	if m.frameDepth+1 > MaxFrameDepth {
		m.abort("max frame depth of %d exceeded", MaxFrameDepth)
	}
	f := newFrame(fn)
	f.caller = m.fp
	f.callOffset = callOffset
	if m.fp != nil {
		f.returnOffset = callOffset + 2 - m.fp.fn.Base()
	}
	f.this = this
	f.fcallAwait = fcallAwait
	f.base = m.sp
	copy(f.locals, args)
	m.frameDepth++
	m.fp = f
	m.pc = fn.Base()
	return f
}

// releaseFrameLocals releases a frame's locals and receiver exactly once.
// Destructors run during the release; anything they raise is swallowed here
// so teardown always completes.
func (m *Machine) releaseFrameLocals(f *frame, exc *object.Instance) {
	if f.localsReleased {
		return
	}
	f.localsReleased = true
	defer func() {
		if r := recover(); r != nil {
			m.log.Debug().Interface("panic", r).Msg("swallowed panic during frame-locals release")
		}
	}()
	m.log.Debug().
		Str("func", f.fn.Name()).
		Bool("hasException", exc != nil).
		Msg("releasing frame locals")
	for i := range f.locals {
		m.rt.DecRefValue(&f.locals[i])
	}
	if f.this != nil {
		m.rt.DecRef(f.this)
		f.this = nil
	}
}

// onDestructorFailure receives errors escaping destructors. Guest raises are
// swallowed at this boundary and never become new faults; each one schedules
// a surprise fatal for the next safe point and is retained as that fatal's
// cause. A host error is held as the pending host exception and disables
// handler search immediately.
func (m *Machine) onDestructorFailure(o *object.Instance, err error) {
	if raise, ok := err.(*object.Raise); ok {
		m.log.Debug().
			Str("class", o.Class().Name()).
			Str("message", object.Message(raise.Exception)).
			Msg("swallowed guest exception from destructor")
		m.swallowed = multierror.Append(m.swallowed,
			errz.NewStructuredErrorf(errz.ErrRuntime,
				"exception raised by %s destructor: %s",
				o.Class().Name(), object.Message(raise.Exception)))
		m.surpriseFatal = true
		m.rt.DecRef(raise.Exception)
		return
	}
	m.log.Debug().
		Str("class", o.Class().Name()).
		Err(err).
		Msg("host exception from destructor")
	if m.pendingHost == nil {
		m.pendingHost = err
	}
}

// ScheduleSurpriseFatal requests a fatal at the next safe point. Set from
// surprise contexts (profiler hooks, timeouts) while teardown is in
// progress; the unwinder finishes the current teardown before the fatal
// fires.
func (m *Machine) ScheduleSurpriseFatal() {
	m.surpriseFatal = true
}

// takeSurpriseFatal consumes the scheduled fatal, if any, attaching any
// guest errors swallowed at the destructor boundary as its cause.
func (m *Machine) takeSurpriseFatal() error {
	if !m.surpriseFatal {
		return nil
	}
	m.surpriseFatal = false
	cause := m.swallowed.ErrorOrNil()
	m.swallowed = nil
	return errz.NewStructuredError(errz.ErrFatal,
		"fatal raised at safe point during unwinding").WithCause(cause)
}

// swallowedDestructorErrors returns the guest errors swallowed at the
// destructor boundary so far.
func (m *Machine) swallowedDestructorErrors() []error {
	if m.swallowed == nil {
		return nil
	}
	return m.swallowed.Errors
}

// captureStack builds a guest stack trace from the current frame chain.
func (m *Machine) captureStack() []errz.StackFrame {
	var frames []errz.StackFrame
	for f := m.fp; f != nil; f = f.caller {
		name := f.fn.Name()
		if name == "" {
			name = "<main>"
		}
		frames = append(frames, errz.StackFrame{Function: name})
	}
	return frames
}

// hostError creates a StructuredError carrying the current guest stack.
func (m *Machine) hostError(kind errz.ErrorKind, format string, args ...any) *errz.StructuredError {
	return errz.NewStructuredErrorf(kind, format, args...).WithStack(m.captureStack())
}

// abort reports a contract violation in the unwinder or its callers. It does
// not return.
func (m *Machine) abort(format string, args ...any) {
	err := errz.NewStructuredErrorf(errz.ErrInternal, format, args...)
	m.log.Error().Msg(err.Error())
	panic(err)
}
