package vm

import (
	"github.com/cloudcmds/petrel/bytecode"
	"github.com/cloudcmds/petrel/object"
	"github.com/cloudcmds/petrel/op"
)

// unwindAction is the outcome of handler search for one frame.
type unwindAction int

const (
	// unwindPropagate: the exception was not handled in this frame; keep
	// unwinding.
	unwindPropagate unwindAction = iota

	// unwindResumeVM: a handler was identified and the VM state has been
	// prepared for entry to it.
	unwindResumeVM
)

// discardMemberValueRefs releases the thread-local intermediate member cells
// if the instruction that raised was a member instruction. Other opcodes
// never leave these cells live.
func (m *Machine) discardMemberValueRefs(offset int) {
	if m.fp == nil {
		return
	}
	throwOp := m.fp.fn.OpcodeAt(offset)
	if op.IsMemberDimOp(throwOp) || op.IsMemberFinalOp(throwOp) {
		m.rt.DecRefValue(&m.tvRef)
		m.rt.DecRefValue(&m.tvRef2)
	}
}

// discardStackTemps disposes of every evaluation-stack cell pushed by the
// frame after its base: pre-live activation records are popped with their
// receivers released, and plain typed-value cells are released. A pre-live
// record pushed by a construct-prep instruction has its receiver marked
// no-destruct first, so the destructor of a half-constructed object never
// runs.
func (m *Machine) discardStackTemps(f *frame, offset int) {
	m.log.Debug().
		Str("func", f.fn.Name()).
		Int("offset", offset).
		Int("sp", m.sp).
		Msg("discarding stack temporaries")

	for m.sp > f.base {
		elem := m.top()
		if elem.rec != nil {
			rec := elem.rec
			prepOp := f.fn.OpcodeAt(rec.pushOffset)
			if op.IsCtorPrep(prepOp) {
				if rec.this == nil {
					m.abort("construct-prep record has no receiver")
				}
				rec.this.SetNoDestruct()
			}
			m.log.Debug().Int("pushOffset", rec.pushOffset).Msg("unwind pop record")
			m.popAndReleaseRecord()
		} else {
			m.log.Debug().Str("value", elem.val.String()).Msg("unwind pop value")
			m.popAndReleaseValue()
		}
	}

	if m.debug {
		for i := range f.clsRefSlots {
			f.clsRefSlots[i] = trashedClassRef
		}
	}
}

// checkHandlers walks the handler ancestry chain starting at the entry with
// table index ehIdx, skipping the entries already attempted for this fault.
// The first not-yet-considered entry becomes the handler: the program
// counter moves to its handler offset and the VM resumes. Catch and Fault
// are mechanically identical here; the handler's own bytecode enforces the
// difference.
func (m *Machine) checkHandlers(ehIdx int, f *frame, flt *fault) unwindAction {
	fn := f.fn
	for i := 0; ; i++ {
		eh := fn.HandlerAt(ehIdx)
		if flt.handledCount <= i {
			flt.handledCount++
			m.pc = eh.HandlerOffset
			m.log.Debug().
				Str("fault", flt.id.String()).
				Str("kind", eh.Kind.String()).
				Int("handler", eh.HandlerOffset).
				Msg("entering exception handler")
			if m.observer != nil {
				m.observer.OnExceptionHandlerEntered(HandlerEvent{
					FunctionName:  fn.Name(),
					Kind:          eh.Kind,
					HandlerOffset: eh.HandlerOffset,
					RaiseOffset:   flt.raiseOffset,
					FaultID:       flt.id,
				})
			}
			return unwindResumeVM
		}
		if eh.ParentIndex != bytecode.NoParent {
			ehIdx = eh.ParentIndex
		} else {
			break
		}
	}
	return unwindPropagate
}

// tearDownFrame disposes of the current frame, assuming the guest exception
// in exc (or a host exception when exc is nil) is being thrown, and advances
// the registers to the caller. It returns the exception that continues to
// propagate: unchanged, or nil if it was absorbed into a wait-handle or
// generator.
func (m *Machine) tearDownFrame(exc *object.Instance) *object.Instance {
	f := m.fp
	fn := f.fn
	curOp := fn.OpcodeAt(m.pc)
	prev := f.caller
	soff := f.returnOffset

	m.log.Debug().
		Str("func", fn.Name()).
		Bool("resumed", f.resumed).
		Msg("tearing down frame")

	// When throwing from a constructor we normally want to avoid running the
	// destructor on an object that hasn't been fully constructed yet. But if
	// we're unwinding through the constructor's RetC, the constructor has
	// logically finished and we're unwinding for some internal reason
	// (timeout or profiler, most likely); the receiver may already share
	// space with the return value.
	if curOp != op.RetC &&
		!f.localsReleased &&
		fn.OnClass() &&
		f.this != nil &&
		f.this.Class().Ctor() == fn &&
		f.this.Class().HasDestructor() {
		// Looks like a construct-prep call, but the constructor could still
		// have been invoked directly. Check the caller's call-prep region to
		// be sure.
		if prev != nil {
			if region, ok := prev.fn.CallPrepAt(f.callOffset); ok {
				if op.IsCtorPrep(prev.fn.OpcodeAt(region.PrepOffset)) {
					f.this.SetNoDestruct()
				}
			}
		}
	}

	if m.debug && !f.resumed && m.sp != f.base {
		m.abort("tearDownFrame: %d temporaries not discarded", m.sp-f.base)
	}

	switch {
	case !f.resumed:
		m.releaseFrameLocals(f, exc)
		if fn.IsAsyncFunction() && exc != nil && !f.fcallAwait {
			// An eagerly executed async function: wrap the exception into a
			// failed wait-handle and leave it as the return value.
			wh := object.NewFailedStaticWaitHandle(exc)
			exc = nil
			m.truncateStack(f.base)
			m.pushObjectNoRc(wh.Object())
		} else {
			m.truncateStack(f.base)
		}
	case fn.IsAsyncFunction():
		wh := f.waitHandle
		if exc != nil {
			m.releaseFrameLocals(f, exc)
			wh.Fail(exc)
			m.rt.DecRef(wh.Object())
			exc = nil
		} else if wh.IsRunning() {
			// Let the host exception propagate. The wait-handle's frame is
			// running right now, so mark it abruptly interrupted; opcodes
			// like Await may have changed its state just before the raise.
			m.releaseFrameLocals(f, nil)
			wh.FailHost()
			m.rt.DecRef(wh.Object())
		}
	case fn.IsAsyncGenerator():
		gen := f.asyncGen
		if exc != nil {
			m.releaseFrameLocals(f, exc)
			eagerResult := gen.Fail(exc)
			exc = nil
			if eagerResult != nil {
				m.pushObjectNoRc(eagerResult)
			}
		} else if gen.IsEagerlyExecuted() || gen.IsRunning() {
			m.releaseFrameLocals(f, nil)
			gen.FailHost()
		}
	case fn.IsNonAsyncGenerator():
		m.releaseFrameLocals(f, nil)
		f.gen.Fail()
	default:
		m.abort("tearDownFrame: frame has no teardown classification")
	}

	m.frameDepth--
	if m.observer != nil {
		m.observer.OnFrameTornDown(FrameEvent{
			FunctionName: fn.Name(),
			Resumed:      f.resumed,
			HostUnwind:   exc == nil && m.unwindingHost,
		})
	}

	// At the final activation record in this nesting level.
	if prev == nil {
		m.pc = invalidOffset
		m.fp = nil
		return exc
	}

	m.pc = prev.fn.Base() + soff
	m.fp = prev
	return exc
}

// truncateStack pops stack cells down to the given depth, releasing whatever
// they hold.
func (m *Machine) truncateStack(base int) {
	for m.sp > base {
		if m.top().rec != nil {
			m.popAndReleaseRecord()
		} else {
			m.popAndReleaseValue()
		}
	}
}

// chainFaultObjects links prev into top's `previous` chain. No link is made
// if top or prev already contains a cycle, or if every `previous` slot along
// top's chain is occupied; in that case prev's reference is dropped.
func (m *Machine) chainFaultObjects(top, prev *object.Instance) {
	if m.debug && !object.ThrowableHasExpectedProps() {
		m.abort("throwable base classes do not declare `previous` at slot %d", object.PreviousSlot)
	}

	seen := map[*object.Instance]struct{}{}

	// Walk head's previous pointers until we find an unset one, or determine
	// they form a cycle.
	findAcyclicPrev := func(head *object.Instance) *object.Value {
		for {
			if m.debug && !object.IsThrowable(head) {
				m.abort("`previous` chain reached a non-throwable %s", head.Class().Name())
			}
			if _, dup := seen[head]; dup {
				m.rt.DecRef(prev)
				return nil
			}
			seen[head] = struct{}{}
			lv := head.PropSlot(object.PreviousSlot)
			if lv.IsObject() && object.IsThrowable(lv.Obj) {
				head = lv.Obj
				continue
			}
			return lv
		}
	}

	prevSlot := findAcyclicPrev(top)
	if prevSlot == nil || findAcyclicPrev(prev) == nil {
		return
	}

	// Found an unset previous pointer and the result will not have a cycle,
	// so chain the fault objects. The fault's reference on prev transfers
	// into the slot.
	m.rt.SetValue(prevSlot, object.ObjectValue(prev))
}

// chainFaults merges the current fault with the record beneath it when both
// were raised at the same nesting and frame: the predecessor's raise offset
// and handled count are adopted (they reflect progress already made at an
// outer handler) and its exception is linked via `previous`. Returns true if
// a merge occurred, so the driver retries handler search with the restored
// handled count.
func (m *Machine) chainFaults(flt *fault) bool {
	if m.faults.isEmpty() {
		m.abort("chainFaults with an empty fault stack")
	}
	m.faults.pop()
	if m.faults.isEmpty() {
		m.faults.push(*flt)
		return false
	}
	prev := m.faults.peek()
	if flt.raiseNesting == prev.raiseNesting && flt.raiseFrame == prev.raiseFrame {
		flt.raiseOffset = prev.raiseOffset
		flt.handledCount = prev.handledCount
		m.log.Debug().
			Str("fault", flt.id.String()).
			Str("merged", prev.id.String()).
			Msg("chaining faults raised in the same frame")
		m.chainFaultObjects(flt.guestException, prev.guestException)
		m.faults.pop()
		m.faults.push(*flt)
		return true
	}
	m.faults.push(*flt)
	return false
}

// ResumeUnwind continues the unwind whose fault is on top of the fault
// stack. It is the re-entry point used by the Unwind opcode after a Fault
// handler finishes its cleanup.
//
// Unwinding proceeds frame by frame: discard the evaluation-stack
// temporaries, look for a protected region covering the raise offset and
// resume the VM at its handler if one accepts, otherwise chain with any
// fault raised at the same frame, tear the frame down, and repeat in the
// caller. A nil return means the VM state is ready to resume (or the fault
// was absorbed); a *ThrownObject return re-raises the still-unhandled guest
// exception to the outer nesting.
//
// The driver operates on a local copy of the top fault because reentrant
// raises during unwinding may grow the fault stack.
func (m *Machine) ResumeUnwind() error {
	if m.faults.isEmpty() {
		m.abort("ResumeUnwind with no fault in progress")
	}
	flt := m.faults.peek()

	m.log.Debug().Str("fault", flt.id.String()).Msg("entering unwinder")
	defer m.log.Debug().Str("fault", flt.id.String()).Msg("leaving unwinder")

	m.discardMemberValueRefs(m.pc)

	for m.fp != nil {
		discard := false
		if flt.raiseOffset == invalidOffset {
			// The fault is freshly thrown: either never seen by the unwinder
			// or just propagated from a torn-down frame. Bind it to the
			// current frame.
			if flt.raiseNesting != invalidNesting {
				m.abort("fault has a bound nesting but an unbound raise offset")
			}
			flt.raiseNesting = len(m.nestings)
			flt.raiseFrame = m.fp
			flt.raiseOffset = m.pc
			flt.handledCount = 0
			discard = true
		}

		m.log.Debug().
			Str("fault", flt.id.String()).
			Str("func", m.fp.fn.Name()).
			Int("raiseOffset", flt.raiseOffset).
			Int("handledCount", flt.handledCount).
			Msg("unwinding frame")

		// A non-zero handledCount means this fault was already seen in this
		// frame and the temporaries were discarded before its Fault handler
		// ran; the Unwind opcode requires the handler to leave the
		// evaluation stack in that same shape, so the discard must not run
		// again.
		if discard {
			m.discardStackTemps(m.fp, flt.raiseOffset)
		}

		for {
			// Skip handler search when a host exception is pending or in
			// flight: no more guest code may run. Likewise when this frame's
			// locals are already gone (e.g. an exception thrown by an exit
			// hook after teardown), its handlers cannot execute.
			if m.pendingHost == nil && !m.unwindingHost && !m.fp.localsReleased {
				if ehIdx := m.fp.fn.FindHandler(flt.raiseOffset); ehIdx != -1 {
					if m.checkHandlers(ehIdx, m.fp, &flt) == unwindResumeVM {
						// The stack may have changed while unwinding;
						// publish the local copy's progress before resuming.
						m.faults.replaceTop(flt)
						return nil
					}
				}
			}
			// No further handlers accept at this offset and handled count,
			// so the exception escapes the handler that raised it and may be
			// chained with its predecessor.
			if !m.chainFaults(&flt) {
				break
			}
		}

		flt.guestException = m.tearDownFrame(flt.guestException)
		if flt.guestException == nil {
			m.faults.pop()
			return nil
		}

		// Restore the unbound state so the next pass treats the fault as
		// freshly thrown in the caller's frame.
		flt.raiseNesting = invalidNesting
		flt.raiseFrame = nil
		flt.raiseOffset = invalidOffset
		flt.handledCount = 0
		m.faults.replaceTop(flt)
	}

	m.log.Debug().Str("fault", flt.id.String()).Msg("reached the end of this nesting's frame chain")
	m.faults.pop()

	// Re-raise to the host so an outer VM nesting can observe the
	// exception. The fault's reference transfers to the error.
	return &ThrownObject{Object: flt.guestException}
}

// UnwindGuest begins a fresh unwind for the given throwable. A reference is
// taken for the fault record.
func (m *Machine) UnwindGuest(exc *object.Instance) error {
	if m.debug && !object.IsThrowable(exc) {
		m.abort("UnwindGuest with a non-throwable %s", exc.Class().Name())
	}
	flt := newFault(exc)
	m.rt.IncRef(exc)
	m.faults.push(flt)
	return m.ResumeUnwind()
}

// UnwindHost unwinds every frame of the current nesting for a host
// exception. Guest faults pinned to a frame are released as the frame is
// reached; no guest handler runs. The host exception is returned so the
// native frames above the interpreter observe it.
func (m *Machine) UnwindHost(hostErr error) error {
	if m.unwindingHost {
		m.abort("reentrant host-exception unwind")
	}
	m.unwindingHost = true
	defer func() {
		m.unwindingHost = false
	}()

	m.log.Debug().Err(hostErr).Msg("entering unwinder for host exception")
	defer m.log.Debug().Msg("leaving unwinder for host exception")

	m.discardMemberValueRefs(m.pc)

	for m.fp != nil {
		offset := m.pc

		m.log.Debug().
			Str("func", m.fp.fn.Name()).
			Int("offset", offset).
			Msg("host unwind of frame")

		// Release all guest faults pinned to this frame.
		for !m.faults.isEmpty() {
			top := m.faults.peek()
			if top.raiseFrame != m.fp || top.raiseNesting != len(m.nestings) {
				break
			}
			m.rt.DecRef(top.guestException)
			m.faults.pop()
		}

		m.discardStackTemps(m.fp, offset)

		if exc := m.tearDownFrame(nil); exc != nil {
			m.abort("guest exception produced during host-exception unwind")
		}
	}

	return hostErr
}

// UnwindBuiltinFrame disposes of the frame of one of the enumerated builtin
// functions. These have no call-preparation regions and cannot be
// generators, so cleanup is a straight sweep: free stack cells down to the
// frame's base, release locals with a null return value, pop the frame, and
// push the null return value for the caller.
func (m *Machine) UnwindBuiltinFrame() {
	f := m.fp
	fn := f.fn
	if _, ok := builtinUnwindNames[fn.Name()]; !ok || !fn.IsBuiltin() {
		m.abort("UnwindBuiltinFrame on non-builtin %q", fn.Name())
	}

	for m.sp > f.base {
		m.popAndReleaseValue()
	}

	m.releaseFrameLocals(f, nil)

	prev := f.caller
	if prev == nil {
		m.abort("UnwindBuiltinFrame at the outermost frame")
	}
	m.frameDepth--
	m.fp = prev
	m.pc = prev.fn.Base() + f.returnOffset
	m.pushValue(object.Null())
}
