package vm

import (
	"github.com/cloudcmds/petrel/object"
)

// stackElem is one evaluation-stack cell: either a typed value or a pre-live
// activation record.
type stackElem struct {
	val object.Value
	rec *preLiveRecord
}

func (m *Machine) pushValue(v object.Value) {
	if m.sp+1 >= len(m.stack) {
		m.abort("evaluation stack overflow (depth %d)", len(m.stack))
	}
	m.sp++
	m.stack[m.sp] = stackElem{val: v}
}

// pushObjectNoRc pushes an object cell without adding a reference; the
// caller's reference transfers to the stack.
func (m *Machine) pushObjectNoRc(o *object.Instance) {
	m.pushValue(object.ObjectValue(o))
}

// popValue removes the top cell and returns its value. The caller assumes
// ownership of any object reference it holds.
func (m *Machine) popValue() object.Value {
	if m.sp < 0 {
		m.abort("evaluation stack underflow")
	}
	elem := &m.stack[m.sp]
	if elem.rec != nil {
		m.abort("popValue on a pre-live activation record")
	}
	v := elem.val
	*elem = stackElem{}
	m.sp--
	return v
}

// popAndReleaseValue removes the top value cell and drops its reference.
func (m *Machine) popAndReleaseValue() {
	v := m.popValue()
	m.rt.DecRefValue(&v)
}

func (m *Machine) pushRecord(rec *preLiveRecord) {
	if m.sp+1 >= len(m.stack) {
		m.abort("evaluation stack overflow (depth %d)", len(m.stack))
	}
	m.sp++
	m.stack[m.sp] = stackElem{rec: rec}
}

// popRecord removes the top cell, which must be a pre-live record. The
// caller assumes ownership of the record's receiver reference.
func (m *Machine) popRecord() *preLiveRecord {
	if m.sp < 0 {
		m.abort("evaluation stack underflow")
	}
	elem := &m.stack[m.sp]
	if elem.rec == nil {
		m.abort("popRecord on a typed-value cell")
	}
	rec := elem.rec
	*elem = stackElem{}
	m.sp--
	return rec
}

// popAndReleaseRecord removes the top pre-live record and drops the
// reference it holds on its receiver.
func (m *Machine) popAndReleaseRecord() {
	rec := m.popRecord()
	if rec.this != nil {
		m.rt.DecRef(rec.this)
	}
}

func (m *Machine) top() *stackElem {
	if m.sp < 0 {
		return nil
	}
	return &m.stack[m.sp]
}

// StackDepth returns the current evaluation-stack depth.
func (m *Machine) StackDepth() int {
	return m.sp + 1
}
