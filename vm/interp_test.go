package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cloudcmds/petrel/bytecode"
	"github.com/cloudcmds/petrel/errz"
	"github.com/cloudcmds/petrel/object"
	"github.com/cloudcmds/petrel/op"
)

func TestEvalBasicOps(t *testing.T) {
	m := testMachine()
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "basics",
		Instructions: []op.Code{
			op.LoadConst, 0,
			op.LoadConst, 1,
			op.PopTop,
			op.RetC,
		},
		Constants: []any{int64(42), "dropped"},
	})
	rv, err := m.CallFunction(fn, nil)
	require.NoError(t, err)
	require.Equal(t, object.KindInt, rv.Kind)
	require.Equal(t, int64(42), rv.Int)
	require.Equal(t, -1, m.sp)
	require.Nil(t, m.fp)
}

func TestEvalConditionalJump(t *testing.T) {
	m := testMachine()
	// if false { return "then" } else { return "else" }
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "cond",
		Instructions: []op.Code{
			op.False,                     // 0
			op.PopJumpForwardIfFalse, 6,  // 1: -> 7
			op.LoadConst, 0,              // 3
			op.RetC,                      // 5
			op.Nop,                       // 6
			op.LoadConst, 1,              // 7
			op.RetC,                      // 9
		},
		Constants: []any{"then", "else"},
	})
	rv, err := m.CallFunction(fn, nil)
	require.NoError(t, err)
	require.Equal(t, "else", rv.Str)
}

func TestEvalFunctionCall(t *testing.T) {
	m := testMachine()
	callee := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "callee",
		Instructions: []op.Code{
			op.LoadLocal, 0,
			op.RetC,
		},
		NumLocals: 1,
	})
	caller := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "caller",
		Instructions: []op.Code{
			op.FuncPrep, 0, // 0
			op.LoadConst, 1, // 2
			op.FCall, 1, // 4
			op.RetC, // 6
		},
		Constants:       []any{callee, int64(7)},
		CallPrepRegions: []bytecode.CallPrepRegion{{PrepOffset: 0, CallOffset: 4}},
	})
	rv, err := m.CallFunction(caller, nil)
	require.NoError(t, err)
	require.Equal(t, int64(7), rv.Int)
}

func TestEvalThrowAndCatch(t *testing.T) {
	m := testMachine()
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "f",
		Instructions: []op.Code{
			op.Throw, // 0
			op.Catch, // 1: catch handler
			op.RetC,  // 2
		},
		Handlers: []bytecode.Handler{
			{Kind: bytecode.CatchHandler, Base: 0, Past: 1, HandlerOffset: 1, ParentIndex: bytecode.NoParent},
		},
	})

	exc := object.NewException("boom")
	m.activateFunction(fn, nil, nil, invalidOffset, false)
	m.pushObjectNoRc(exc)

	rv, err := m.eval()
	require.NoError(t, err)
	require.True(t, rv.IsObject())
	require.Same(t, exc, rv.Obj)
	require.Equal(t, 1, exc.RefCount())
	require.Equal(t, 0, m.FaultDepth())
}

func TestEvalFaultFuncletUnwind(t *testing.T) {
	m := testMachine()
	// A fault funclet runs its cleanup and re-raises via Unwind; the parent
	// catch entry then consumes the exception.
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "f",
		Instructions: []op.Code{
			op.Throw,  // 0: protected
			op.Nop,    // 1: fault funclet
			op.Unwind, // 2
			op.Catch,  // 3: catch handler
			op.RetC,   // 4
		},
		Handlers: []bytecode.Handler{
			{Kind: bytecode.FaultHandler, Base: 0, Past: 1, HandlerOffset: 1, ParentIndex: 1},
			{Kind: bytecode.CatchHandler, Base: 0, Past: 2, HandlerOffset: 3, ParentIndex: bytecode.NoParent},
		},
	})

	exc := object.NewException("cleanup me")
	m.activateFunction(fn, nil, nil, invalidOffset, false)
	m.pushObjectNoRc(exc)

	rv, err := m.eval()
	require.NoError(t, err)
	require.Same(t, exc, rv.Obj)
	require.Equal(t, 0, m.FaultDepth())
}

func TestEvalUncaughtThrowReachesHost(t *testing.T) {
	m := testMachine()
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name:         "f",
		Instructions: []op.Code{op.Throw},
	})

	exc := object.NewException("unhandled")
	m.activateFunction(fn, nil, nil, invalidOffset, false)
	m.pushObjectNoRc(exc)

	_, err := m.eval()
	thrown, ok := err.(*ThrownObject)
	require.True(t, ok)
	require.Same(t, exc, thrown.Object)
	require.Nil(t, m.fp)
}

func TestEvalConstructorCall(t *testing.T) {
	m := testMachine()
	ctor := bytecode.NewFunction(bytecode.FunctionParams{
		Name:          "__construct",
		ClassName:     "Widget",
		IsConstructor: true,
		Instructions: []op.Code{
			op.Nil,
			op.RetC,
		},
	})
	dtorCalls := 0
	cls := object.NewClass(object.ClassParams{
		Name:        "Widget",
		Constructor: ctor,
		Destructor: func(o *object.Instance) error {
			dtorCalls++
			return nil
		},
	})
	m.RegisterClass(cls)

	caller := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "main",
		Instructions: []op.Code{
			op.CtorPrep, 0, // 0
			op.FCall, 0, // 2
			op.PopTop, // 4
			op.Nil,    // 5
			op.RetC,   // 6
		},
		Constants:       []any{"Widget"},
		CallPrepRegions: []bytecode.CallPrepRegion{{PrepOffset: 0, CallOffset: 2}},
	})

	rv, err := m.CallFunction(caller, nil)
	require.NoError(t, err)
	require.Equal(t, object.KindNull, rv.Kind)
	// The fully constructed receiver was released normally, so its
	// destructor ran.
	require.Equal(t, 1, dtorCalls)
}

func TestEvalHostExceptionFromDestructorTrumpsGuest(t *testing.T) {
	m := testMachine()
	hostErr := errz.NewStructuredError(errz.ErrRuntime, "backing store gone")
	badCls := object.NewClass(object.ClassParams{
		Name: "Res",
		Destructor: func(o *object.Instance) error {
			return hostErr
		},
	})

	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name:         "f",
		Instructions: []op.Code{op.Throw},
		NumLocals:    1,
	})

	exc := object.NewException("guest E")
	m.activateFunction(fn, nil, []object.Value{object.ObjectValue(object.NewInstance(badCls))}, invalidOffset, false)
	m.pushObjectNoRc(exc)

	_, err := m.eval()
	// The host exception recorded while releasing f's locals replaces the
	// guest re-raise, and the guest throwable is released.
	require.Equal(t, hostErr, err)
	require.Equal(t, 0, exc.RefCount())
	require.Nil(t, m.pendingHost)
	require.Nil(t, m.fp)
}

func TestEvalSurpriseFatalAtSafePoint(t *testing.T) {
	m := testMachine()
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "f",
		Instructions: []op.Code{
			op.Nil,
			op.RetC,
		},
	})
	m.ScheduleSurpriseFatal()

	_, err := m.CallFunction(fn, nil)
	structured, ok := err.(*errz.StructuredError)
	require.True(t, ok)
	require.Equal(t, errz.ErrFatal, structured.Kind)
	require.Nil(t, m.fp)
}

func TestEvalNestedCall(t *testing.T) {
	m := testMachine()
	inner := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "inner",
		Instructions: []op.Code{
			op.LoadConst, 0,
			op.RetC,
		},
		Constants: []any{"nested result"},
	})
	outer := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "outer",
		Instructions: []op.Code{
			op.LoadConst, 0,
			op.RetC,
		},
		Constants: []any{int64(1)},
	})

	// Activate outer without running it, then re-enter the VM the way a
	// host callback would and confirm both contexts survive.
	m.activateFunction(outer, nil, nil, invalidOffset, false)
	rv, err := m.CallFunction(inner, nil)
	require.NoError(t, err)
	require.Equal(t, "nested result", rv.Str)

	// The outer context was restored.
	require.NotNil(t, m.fp)
	rv2, err := m.eval()
	require.NoError(t, err)
	require.Equal(t, int64(1), rv2.Int)
}

func TestEvalUnknownOpcode(t *testing.T) {
	m := testMachine()
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name:         "bad",
		Instructions: []op.Code{250},
	})
	_, err := m.CallFunction(fn, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown opcode")
}

func TestEvalLocals(t *testing.T) {
	m := testMachine()
	fn := bytecode.NewFunction(bytecode.FunctionParams{
		Name: "locals",
		Instructions: []op.Code{
			op.LoadConst, 0,
			op.StoreLocal, 0,
			op.LoadLocal, 0,
			op.RetC,
		},
		Constants: []any{int64(5)},
		NumLocals: 1,
	})
	rv, err := m.CallFunction(fn, nil)
	require.NoError(t, err)
	require.Equal(t, int64(5), rv.Int)
}
