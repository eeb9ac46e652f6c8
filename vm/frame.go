package vm

import (
	"github.com/cloudcmds/petrel/bytecode"
	"github.com/cloudcmds/petrel/object"
)

// frame is one in-progress guest function activation. Locals live in the
// frame rather than on the evaluation stack; base records the stack depth at
// activation so teardown knows where the frame's temporaries begin.
type frame struct {
	fn             *bytecode.Function
	caller         *frame
	returnOffset   int // caller-relative offset at which control resumes
	callOffset     int // offset of the FCall instruction in the caller
	this           *object.Instance
	resumed        bool
	fcallAwait     bool
	localsReleased bool
	locals         []object.Value
	clsRefSlots    []*object.Class
	base           int

	// Coroutine state for resumed frames. Exactly one of these is set,
	// matching the function's resume kind.
	waitHandle *object.AsyncFunctionWaitHandle
	asyncGen   *object.AsyncGenerator
	gen        *object.Generator
}

func newFrame(fn *bytecode.Function) *frame {
	return &frame{
		fn:          fn,
		locals:      make([]object.Value, fn.NumLocals()),
		clsRefSlots: make([]*object.Class, fn.NumClsRefSlots()),
	}
}

// preLiveRecord is a partially constructed call on the evaluation stack: the
// span between a call-prep instruction and its FCall. The record owns one
// reference on its receiver, released when the record is popped or entered.
type preLiveRecord struct {
	fn         *bytecode.Function
	this       *object.Instance
	pushOffset int // offset of the call-prep instruction that pushed this record
}
