package vm

import (
	"github.com/cloudcmds/petrel/bytecode"
	"github.com/cloudcmds/petrel/errz"
	"github.com/cloudcmds/petrel/object"
	"github.com/cloudcmds/petrel/op"
)

// CallFunction runs fn to completion on the machine and returns its result.
// If guest code is already running, the current interpretation context is
// suspended for the duration: this is how host callbacks re-enter the VM,
// and each such re-entry is one nesting level.
func (m *Machine) CallFunction(fn *bytecode.Function, args []object.Value) (object.Value, error) {
	nested := m.fp != nil
	if nested {
		m.pushNesting()
		defer m.popNesting()
	}
	m.activateFunction(fn, nil, args, invalidOffset, false)
	return m.eval()
}

// eval interprets the active frame until the frame chain completes or an
// error escapes to the host. The opcode surface is the one the unwinder
// interacts with; this is not the full Petrel instruction set.
func (m *Machine) eval() (object.Value, error) {
	for {
		// Safe point: a host exception recorded during destructor execution
		// trumps everything, then a scheduled surprise fatal.
		if m.pendingHost != nil {
			hostErr := m.pendingHost
			m.pendingHost = nil
			return object.Uninit(), m.UnwindHost(hostErr)
		}
		if fatal := m.takeSurpriseFatal(); fatal != nil {
			return object.Uninit(), m.UnwindHost(fatal)
		}

		if m.fp == nil {
			// The frame chain is gone: an unwind consumed the outermost
			// frame. Whatever it left on the stack is the result.
			if m.sp >= 0 && m.top().rec == nil {
				return m.popValue(), nil
			}
			return object.Null(), nil
		}

		instrOffset := m.pc
		opcode := m.fp.fn.OpcodeAt(instrOffset)

		switch opcode {
		case op.Nop:
			m.pc++
		case op.Halt:
			return object.Null(), nil
		case op.LoadConst:
			idx := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			v, err := constValue(m.fp.fn.ConstantAt(idx))
			if err != nil {
				return object.Uninit(), m.hostError(errz.ErrType, "%s", err)
			}
			m.pushValue(v)
			m.pc += 2
		case op.Nil:
			m.pushValue(object.Null())
			m.pc++
		case op.True:
			m.pushValue(object.BoolValue(true))
			m.pc++
		case op.False:
			m.pushValue(object.BoolValue(false))
			m.pc++
		case op.PopTop:
			m.popAndReleaseValue()
			m.pc++
		case op.Dup:
			elem := m.top()
			if elem == nil || elem.rec != nil {
				return object.Uninit(), m.hostError(errz.ErrRuntime, "nothing to duplicate")
			}
			v := elem.val
			if v.IsObject() {
				m.rt.IncRef(v.Obj)
			}
			m.pushValue(v)
			m.pc++
		case op.LoadLocal:
			idx := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			v := m.fp.locals[idx]
			if v.IsObject() {
				m.rt.IncRef(v.Obj)
			}
			m.pushValue(v)
			m.pc += 2
		case op.StoreLocal:
			idx := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			v := m.popValue()
			m.rt.SetValue(&m.fp.locals[idx], v)
			m.pc += 2
		case op.JumpForward:
			delta := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			m.pc = instrOffset + delta
		case op.JumpBackward:
			delta := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			m.pc = instrOffset - delta
		case op.PopJumpForwardIfFalse:
			delta := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			v := m.popValue()
			truthy := isTruthy(v)
			m.rt.DecRefValue(&v)
			if !truthy {
				m.pc = instrOffset + delta
			} else {
				m.pc += 2
			}
		case op.FuncPrep:
			idx := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			callee, ok := m.fp.fn.ConstantAt(idx).(*bytecode.Function)
			if !ok {
				return object.Uninit(), m.hostError(errz.ErrType, "constant %d is not a function", idx)
			}
			m.pushRecord(&preLiveRecord{fn: callee, pushOffset: instrOffset})
			m.pc += 2
		case op.CtorPrep:
			idx := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			name, ok := m.fp.fn.ConstantAt(idx).(string)
			if !ok {
				return object.Uninit(), m.hostError(errz.ErrType, "constant %d is not a class name", idx)
			}
			cls, ok := m.classes[name]
			if !ok {
				return object.Uninit(), m.hostError(errz.ErrRuntime, "class %q not registered", name)
			}
			ctor := cls.Ctor()
			if ctor == nil {
				return object.Uninit(), m.hostError(errz.ErrRuntime, "class %q has no constructor", name)
			}
			// The record owns the new instance's initial reference.
			m.pushRecord(&preLiveRecord{
				fn:         ctor,
				this:       object.NewInstance(cls),
				pushOffset: instrOffset,
			})
			m.pc += 2
		case op.FCall, op.FCallAwait:
			argc := int(m.fp.fn.OpcodeAt(instrOffset + 1))
			args := make([]object.Value, argc)
			for i := argc - 1; i >= 0; i-- {
				args[i] = m.popValue()
			}
			rec := m.popRecord()
			m.activateFunction(rec.fn, rec.this, args, instrOffset, opcode == op.FCallAwait)
		case op.RetC:
			rv := m.popValue()
			f := m.fp
			m.releaseFrameLocals(f, nil)
			m.truncateStack(f.base)
			m.frameDepth--
			if f.caller == nil {
				m.fp = nil
				m.pc = invalidOffset
				return rv, nil
			}
			m.fp = f.caller
			m.pc = f.caller.fn.Base() + f.returnOffset
			m.pushValue(rv)
		case op.Throw:
			v := m.popValue()
			if !v.IsObject() || !object.IsThrowable(v.Obj) {
				m.rt.DecRefValue(&v)
				return object.Uninit(), m.hostError(errz.ErrType, "thrown value is not a throwable object")
			}
			exc := v.Obj
			err := m.UnwindGuest(exc)
			m.rt.DecRef(exc)
			if err != nil {
				return object.Uninit(), m.resolveUnwindError(err)
			}
		case op.Catch:
			if m.faults.isEmpty() {
				m.abort("Catch with no fault in progress")
			}
			flt := m.faults.pop()
			// The fault's reference on the exception transfers to the stack.
			m.pushObjectNoRc(flt.guestException)
			m.pc++
		case op.Unwind:
			if err := m.ResumeUnwind(); err != nil {
				return object.Uninit(), m.resolveUnwindError(err)
			}
		default:
			return object.Uninit(), m.hostError(errz.ErrRuntime, "unknown opcode: %d", opcode)
		}
	}
}

// resolveUnwindError applies the host-trumps-guest policy when a guest
// unwind escapes the frame chain: a host exception recorded during teardown
// replaces the guest re-raise, whose throwable is released.
func (m *Machine) resolveUnwindError(err error) error {
	if m.pendingHost == nil {
		return err
	}
	hostErr := m.pendingHost
	m.pendingHost = nil
	if thrown, ok := err.(*ThrownObject); ok {
		m.rt.DecRef(thrown.Object)
	}
	return m.UnwindHost(hostErr)
}

// constValue converts a compiled constant to a typed value cell.
func constValue(c any) (object.Value, error) {
	switch c := c.(type) {
	case nil:
		return object.Null(), nil
	case bool:
		return object.BoolValue(c), nil
	case int64:
		return object.IntValue(c), nil
	case float64:
		return object.FloatValue(c), nil
	case string:
		return object.StringValue(c), nil
	default:
		return object.Uninit(), errz.NewStructuredErrorf(errz.ErrType, "unsupported constant type %T", c)
	}
}

func isTruthy(v object.Value) bool {
	switch v.Kind {
	case object.KindBool:
		return v.Bool
	case object.KindInt:
		return v.Int != 0
	case object.KindFloat:
		return v.Float != 0
	case object.KindString:
		return v.Str != ""
	case object.KindObject:
		return v.Obj != nil
	default:
		return false
	}
}
