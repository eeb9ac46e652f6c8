package bytecode

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcmds/petrel/op"
)

func TestFindHandlerInnermost(t *testing.T) {
	fn := NewFunction(FunctionParams{
		Name: "f",
		Instructions: make([]op.Code, 60),
		Handlers: []Handler{
			{Kind: CatchHandler, Base: 10, Past: 50, HandlerOffset: 52, ParentIndex: NoParent},
			{Kind: FaultHandler, Base: 20, Past: 30, HandlerOffset: 55, ParentIndex: 0},
		},
	})

	// Offset covered only by the outer region
	require.Equal(t, 0, fn.FindHandler(12))

	// Offset covered by both: the narrower (inner) region wins
	idx := fn.FindHandler(25)
	require.Equal(t, 1, idx)
	require.Equal(t, FaultHandler, fn.HandlerAt(idx).Kind)
	require.Equal(t, 0, fn.HandlerAt(idx).ParentIndex)

	// Uncovered offsets
	require.Equal(t, -1, fn.FindHandler(5))
	require.Equal(t, -1, fn.FindHandler(50))
}

func TestHandlerContains(t *testing.T) {
	h := Handler{Base: 10, Past: 30}
	require.True(t, h.Contains(10))
	require.True(t, h.Contains(29))
	require.False(t, h.Contains(30))
	require.False(t, h.Contains(9))
}

func TestCallPrepAt(t *testing.T) {
	fn := NewFunction(FunctionParams{
		Name: "g",
		Instructions: make([]op.Code, 40),
		CallPrepRegions: []CallPrepRegion{
			{PrepOffset: 5, CallOffset: 30},
			{PrepOffset: 10, CallOffset: 20},
		},
	})

	// Inside both regions: the one with the later prep instruction wins
	r, ok := fn.CallPrepAt(15)
	require.True(t, ok)
	require.Equal(t, 10, r.PrepOffset)

	// Only the outer region covers this offset
	r, ok = fn.CallPrepAt(25)
	require.True(t, ok)
	require.Equal(t, 5, r.PrepOffset)

	// The prep instruction itself is not covered by its own region
	_, ok = fn.CallPrepAt(5)
	require.False(t, ok)

	_, ok = fn.CallPrepAt(35)
	require.False(t, ok)
}

func TestNumSlotsDefaultsToLocals(t *testing.T) {
	fn := NewFunction(FunctionParams{Name: "h", NumLocals: 4})
	require.Equal(t, 4, fn.NumSlotsInFrame())
	require.Equal(t, 4, fn.NumLocals())
}

func TestMarshalRoundTrip(t *testing.T) {
	fn := NewFunction(FunctionParams{
		Name:      "worker",
		ClassName: "Job",
		Instructions: []op.Code{
			op.LoadConst, 0,
			op.Throw,
			op.Catch,
			op.RetC,
		},
		Constants:       []any{int64(42), "boom", true, 1.5, nil},
		NumLocals:       3,
		NumSlotsInFrame: 5,
		NumClsRefSlots:  2,
		Handlers: []Handler{
			{Kind: CatchHandler, Base: 0, Past: 3, HandlerOffset: 3, ParentIndex: NoParent},
		},
		CallPrepRegions: []CallPrepRegion{
			{PrepOffset: 0, CallOffset: 2},
		},
		IsAsyncFunction: true,
		IsConstructor:   true,
	})

	data, err := Marshal(fn)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	require.Equal(t, fn.Name(), decoded.Name())
	require.Equal(t, fn.ClassName(), decoded.ClassName())
	require.Equal(t, fn.InstructionCount(), decoded.InstructionCount())
	require.Equal(t, op.Throw, decoded.OpcodeAt(2))
	require.Equal(t, fn.NumLocals(), decoded.NumLocals())
	require.Equal(t, fn.NumSlotsInFrame(), decoded.NumSlotsInFrame())
	require.Equal(t, fn.NumClsRefSlots(), decoded.NumClsRefSlots())
	require.Equal(t, 1, decoded.HandlerCount())
	require.Equal(t, CatchHandler, decoded.HandlerAt(0).Kind)
	require.Equal(t, NoParent, decoded.HandlerAt(0).ParentIndex)
	require.Equal(t, 1, decoded.CallPrepCount())
	require.Equal(t, 0, decoded.CallPrepRegionAt(0).PrepOffset)
	require.True(t, decoded.IsAsyncFunction())
	require.True(t, decoded.IsConstructor())
	require.False(t, decoded.IsNonAsyncGenerator())
	require.Equal(t, int64(42), decoded.ConstantAt(0))
	require.Equal(t, "boom", decoded.ConstantAt(1))
}

func TestUnmarshalRejectsUnknownSchema(t *testing.T) {
	fn := NewFunction(FunctionParams{Name: "x"})
	data, err := Marshal(fn)
	require.NoError(t, err)

	// Corrupt the schema by re-marshaling a payload with a bumped version
	var p functionPayload
	require.NoError(t, unmarshalPayload(data, &p))
	p.Schema = 99
	bad, err := marshalPayload(p)
	require.NoError(t, err)

	_, err = Unmarshal(bad)
	require.Error(t, err)
	require.Contains(t, err.Error(), "schema")
}
