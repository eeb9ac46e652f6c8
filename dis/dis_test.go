package dis

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcmds/petrel/bytecode"
	"github.com/cloudcmds/petrel/op"
)

func TestDisassemble(t *testing.T) {
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "f",
		Instructions: []op.Code{
			op.LoadConst, 0,
			op.Throw,
			op.Catch,
			op.RetC,
		},
	})
	instructions, err := Disassemble(fn)
	require.NoError(t, err)
	require.Len(t, instructions, 4)

	require.Equal(t, 0, instructions[0].Offset)
	require.Equal(t, "LOAD_CONST", instructions[0].Name)
	require.Equal(t, []int{0}, instructions[0].Operands)

	require.Equal(t, 2, instructions[1].Offset)
	require.Equal(t, "THROW", instructions[1].Name)

	require.Equal(t, 4, instructions[3].Offset)
	require.Equal(t, "RET_C", instructions[3].Name)
}

func TestDisassembleUnknownOpcode(t *testing.T) {
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name:         "bad",
		Instructions: []op.Code{255},
	})
	_, err := Disassemble(fn)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown opcode")
}

func TestPrint(t *testing.T) {
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name:      "g",
		ClassName: "Widget",
		Instructions: []op.Code{
			op.CtorPrep, 0,
			op.FCall, 0,
			op.RetC,
		},
		Handlers: []bytecode.Handler{
			{Kind: bytecode.CatchHandler, Base: 0, Past: 4, HandlerOffset: 4, ParentIndex: bytecode.NoParent},
		},
		CallPrepRegions: []bytecode.CallPrepRegion{
			{PrepOffset: 0, CallOffset: 2},
		},
	})
	instructions, err := Disassemble(fn)
	require.NoError(t, err)

	var buf bytes.Buffer
	Print(fn, instructions, &buf)
	out := buf.String()
	require.Contains(t, out, "Widget::g")
	require.Contains(t, out, "CTOR_PREP")
	require.Contains(t, out, "exception handlers")
	require.Contains(t, out, "catch [0,4) handler=4 parent=-")
	require.Contains(t, out, "call-prep regions")
}
