package bytecode

import (
	"github.com/cloudcmds/petrel/op"
)

// Function is an immutable compiled function descriptor. It contains all the
// static information the VM needs to activate and unwind a call: instruction
// words, local and slot counts, the exception-handler table, and the
// call-preparation regions.
type Function struct {
	name           string
	className      string
	instructions   []op.Code
	constants      []any
	numLocals      int
	numSlots       int
	numClsRefSlots int
	base           int
	handlers       []Handler
	callPreps      []CallPrepRegion
	isAsync        bool
	isAsyncGen     bool
	isGen          bool
	isBuiltin      bool
	isCtor         bool
}

// FunctionParams contains parameters for creating a new Function.
type FunctionParams struct {
	Name             string
	ClassName        string
	Instructions     []op.Code
	Constants        []any
	NumLocals        int
	NumSlotsInFrame  int
	NumClsRefSlots   int
	Base             int
	Handlers         []Handler
	CallPrepRegions  []CallPrepRegion
	IsAsyncFunction  bool
	IsAsyncGenerator bool
	IsGenerator      bool
	IsBuiltin        bool
	IsConstructor    bool
}

// NewFunction creates a new immutable Function from the given parameters.
// Input slices are copied to ensure immutability.
func NewFunction(params FunctionParams) *Function {
	instructions := make([]op.Code, len(params.Instructions))
	copy(instructions, params.Instructions)
	constants := make([]any, len(params.Constants))
	copy(constants, params.Constants)
	handlers := make([]Handler, len(params.Handlers))
	copy(handlers, params.Handlers)
	callPreps := make([]CallPrepRegion, len(params.CallPrepRegions))
	copy(callPreps, params.CallPrepRegions)
	numSlots := params.NumSlotsInFrame
	if numSlots < params.NumLocals {
		numSlots = params.NumLocals
	}
	return &Function{
		name:           params.Name,
		className:      params.ClassName,
		instructions:   instructions,
		constants:      constants,
		numLocals:      params.NumLocals,
		numSlots:       numSlots,
		numClsRefSlots: params.NumClsRefSlots,
		base:           params.Base,
		handlers:       handlers,
		callPreps:      callPreps,
		isAsync:        params.IsAsyncFunction,
		isAsyncGen:     params.IsAsyncGenerator,
		isGen:          params.IsGenerator,
		isBuiltin:      params.IsBuiltin,
		isCtor:         params.IsConstructor,
	}
}

// Name returns the function name.
func (f *Function) Name() string {
	return f.name
}

// ClassName returns the name of the class this function belongs to, or an
// empty string for a free function.
func (f *Function) ClassName() string {
	return f.className
}

// OnClass returns true if the function is a method of a class.
func (f *Function) OnClass() bool {
	return f.className != ""
}

// IsConstructor returns true if the function is its class's constructor.
func (f *Function) IsConstructor() bool {
	return f.isCtor
}

// InstructionCount returns the number of instruction words.
func (f *Function) InstructionCount() int {
	return len(f.instructions)
}

// OpcodeAt returns the instruction word at the given bytecode offset.
func (f *Function) OpcodeAt(offset int) op.Code {
	if offset < 0 || offset >= len(f.instructions) {
		return op.Invalid
	}
	return f.instructions[offset]
}

// ConstantCount returns the number of constants.
func (f *Function) ConstantCount() int {
	return len(f.constants)
}

// ConstantAt returns the constant at the given index.
func (f *Function) ConstantAt(index int) any {
	return f.constants[index]
}

// NumLocals returns the number of local variable slots.
func (f *Function) NumLocals() int {
	return f.numLocals
}

// NumSlotsInFrame returns the number of stack slots the frame occupies.
func (f *Function) NumSlotsInFrame() int {
	return f.numSlots
}

// NumClsRefSlots returns the number of class-reference slots in the frame.
func (f *Function) NumClsRefSlots() int {
	return f.numClsRefSlots
}

// Base returns the bytecode offset of the function entry point.
func (f *Function) Base() int {
	return f.base
}

// HandlerCount returns the number of exception-handler entries.
func (f *Function) HandlerCount() int {
	return len(f.handlers)
}

// HandlerAt returns the exception-handler entry at the given table index.
func (f *Function) HandlerAt(index int) Handler {
	return f.handlers[index]
}

// FindHandler returns the table index of the innermost protected region whose
// range contains the given offset, or -1 if the offset is unprotected. The
// innermost entry is the one with the narrowest covering range; on equal
// widths the later table entry wins, matching emission order (outermost
// entries are emitted first).
func (f *Function) FindHandler(offset int) int {
	best := -1
	bestWidth := 0
	for i, h := range f.handlers {
		if !h.Contains(offset) {
			continue
		}
		width := h.Past - h.Base
		if best == -1 || width <= bestWidth {
			best = i
			bestWidth = width
		}
	}
	return best
}

// CallPrepAt returns the innermost call-preparation region covering the given
// offset. The second return value is false if no region covers the offset.
func (f *Function) CallPrepAt(offset int) (CallPrepRegion, bool) {
	best := -1
	for i, r := range f.callPreps {
		if !r.Covers(offset) {
			continue
		}
		if best == -1 || r.PrepOffset > f.callPreps[best].PrepOffset {
			best = i
		}
	}
	if best == -1 {
		return CallPrepRegion{}, false
	}
	return f.callPreps[best], true
}

// CallPrepCount returns the number of call-preparation regions.
func (f *Function) CallPrepCount() int {
	return len(f.callPreps)
}

// CallPrepRegionAt returns the call-preparation region at the given index.
func (f *Function) CallPrepRegionAt(index int) CallPrepRegion {
	return f.callPreps[index]
}

// IsAsyncFunction returns true for async functions.
func (f *Function) IsAsyncFunction() bool {
	return f.isAsync
}

// IsAsyncGenerator returns true for async generators.
func (f *Function) IsAsyncGenerator() bool {
	return f.isAsyncGen
}

// IsNonAsyncGenerator returns true for plain generators.
func (f *Function) IsNonAsyncGenerator() bool {
	return f.isGen
}

// IsResumable returns true if frames of this function can be suspended and
// re-entered.
func (f *Function) IsResumable() bool {
	return f.isAsync || f.isAsyncGen || f.isGen
}

// IsBuiltin returns true for built-in (host-implemented) functions.
func (f *Function) IsBuiltin() bool {
	return f.isBuiltin
}
