// Package op defines opcodes used by the Petrel compiler and virtual machine.
package op

// Code is an integer opcode that indicates an operation to execute.
type Code uint16

const (
	Invalid Code = 0

	// Execution
	Nop  Code = 1
	Halt Code = 2

	// Constants
	LoadConst Code = 10
	Nil       Code = 11
	True      Code = 12
	False     Code = 13

	// Locals
	LoadLocal  Code = 20
	StoreLocal Code = 21

	// Stack
	PopTop Code = 30
	Dup    Code = 31

	// Jump
	JumpForward           Code = 40
	JumpBackward          Code = 41
	PopJumpForwardIfFalse Code = 42

	// Member instruction subranges. The unwinder depends on these being
	// contiguous: any Dim-subrange or Final-subrange opcode may leave the
	// intermediate member cells live when it raises.
	BaseLocal Code = 60 // first Dim-subrange opcode
	BaseConst Code = 61
	BaseHome  Code = 62
	Dim       Code = 63 // last Dim-subrange opcode
	QueryMem  Code = 64 // first Final-subrange opcode
	SetMem    Code = 65
	IncDecMem Code = 66
	UnsetMem  Code = 67 // last Final-subrange opcode

	// Call preparation subrange. Each pushes a pre-live activation record
	// that a later FCall enters. CtorPrep must stay inside the subrange:
	// the unwinder checks it to decide whether a record's receiver is a
	// half-constructed object.
	FuncPrep      Code = 70 // first call-prep opcode
	ObjMethodPrep Code = 71
	ClsMethodPrep Code = 72
	CtorPrep      Code = 73 // last call-prep opcode

	// Calls and returns
	FCall      Code = 80
	FCallAwait Code = 81
	RetC       Code = 82

	// Exception handling
	Throw  Code = 90 // raise TOS as a guest exception
	Catch  Code = 91 // enter a catch handler: push the fault's exception
	Unwind Code = 92 // end a fault funclet: resume the unwind in progress

	// Coroutines
	Await      Code = 100
	CreateCont Code = 101
	Yield      Code = 102
)

// IsMemberDimOp returns true for opcodes in the member Dim subrange. These
// operate on the thread-local intermediate member cells.
func IsMemberDimOp(c Code) bool {
	return c >= BaseLocal && c <= Dim
}

// IsMemberFinalOp returns true for opcodes in the member Final subrange.
func IsMemberFinalOp(c Code) bool {
	return c >= QueryMem && c <= UnsetMem
}

// IsCallPrep returns true for opcodes that push a pre-live activation record.
func IsCallPrep(c Code) bool {
	return c >= FuncPrep && c <= CtorPrep
}

// IsCtorPrep returns true if the opcode prepares a constructor call.
func IsCtorPrep(c Code) bool {
	return c == CtorPrep
}

// Info contains information about an opcode.
type Info struct {
	Code         Code
	Name         string
	OperandCount int
}

var infos = make([]Info, 256)

func init() {
	type opInfo struct {
		op    Code
		name  string
		count int
	}
	ops := []opInfo{
		{Nop, "NOP", 0},
		{Halt, "HALT", 0},
		{LoadConst, "LOAD_CONST", 1},
		{Nil, "NIL", 0},
		{True, "TRUE", 0},
		{False, "FALSE", 0},
		{LoadLocal, "LOAD_LOCAL", 1},
		{StoreLocal, "STORE_LOCAL", 1},
		{PopTop, "POP_TOP", 0},
		{Dup, "DUP", 0},
		{JumpForward, "JUMP_FORWARD", 1},
		{JumpBackward, "JUMP_BACKWARD", 1},
		{PopJumpForwardIfFalse, "POP_JUMP_FORWARD_IF_FALSE", 1},
		{BaseLocal, "BASE_LOCAL", 1},
		{BaseConst, "BASE_CONST", 1},
		{BaseHome, "BASE_HOME", 0},
		{Dim, "DIM", 1},
		{QueryMem, "QUERY_MEM", 1},
		{SetMem, "SET_MEM", 1},
		{IncDecMem, "INC_DEC_MEM", 1},
		{UnsetMem, "UNSET_MEM", 1},
		{FuncPrep, "FUNC_PREP", 1},
		{ObjMethodPrep, "OBJ_METHOD_PREP", 1},
		{ClsMethodPrep, "CLS_METHOD_PREP", 2},
		{CtorPrep, "CTOR_PREP", 1},
		{FCall, "FCALL", 1},
		{FCallAwait, "FCALL_AWAIT", 1},
		{RetC, "RET_C", 0},
		{Throw, "THROW", 0},
		{Catch, "CATCH", 0},
		{Unwind, "UNWIND", 0},
		{Await, "AWAIT", 0},
		{CreateCont, "CREATE_CONT", 0},
		{Yield, "YIELD", 0},
	}
	for _, o := range ops {
		infos[o.op] = Info{
			Name:         o.name,
			Code:         o.op,
			OperandCount: o.count,
		}
	}
}

// GetInfo returns information about the given opcode.
func GetInfo(op Code) Info {
	return infos[op]
}
