package vm

import (
	"github.com/gofrs/uuid"

	"github.com/cloudcmds/petrel/bytecode"
)

// HandlerEvent describes entry into an exception handler during unwinding.
type HandlerEvent struct {
	FunctionName  string
	Kind          bytecode.HandlerKind
	HandlerOffset int
	RaiseOffset   int
	FaultID       uuid.UUID
}

// FrameEvent describes teardown of one activation record.
type FrameEvent struct {
	FunctionName string
	Resumed      bool
	HostUnwind   bool
}

// UnwindObserver receives callbacks for unwind events. This is the
// attachment point for a debugger; callbacks are only invoked when an
// observer is configured.
type UnwindObserver interface {
	// OnExceptionHandlerEntered is called after the program counter has
	// been moved to a handler and before control returns to the
	// interpreter.
	OnExceptionHandlerEntered(event HandlerEvent)

	// OnFrameTornDown is called after a frame has been fully disposed.
	OnFrameTornDown(event FrameEvent)
}
