package op

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetInfo(t *testing.T) {
	info := GetInfo(LoadConst)
	require.Equal(t, "LOAD_CONST", info.Name)
	require.Equal(t, LoadConst, info.Code)
	require.Equal(t, 1, info.OperandCount)

	info = GetInfo(Throw)
	require.Equal(t, "THROW", info.Name)
	require.Equal(t, 0, info.OperandCount)
}

func TestMemberSubranges(t *testing.T) {
	for _, c := range []Code{BaseLocal, BaseConst, BaseHome, Dim} {
		require.True(t, IsMemberDimOp(c), "expected %d in Dim subrange", c)
		require.False(t, IsMemberFinalOp(c))
	}
	for _, c := range []Code{QueryMem, SetMem, IncDecMem, UnsetMem} {
		require.True(t, IsMemberFinalOp(c), "expected %d in Final subrange", c)
		require.False(t, IsMemberDimOp(c))
	}
	require.False(t, IsMemberDimOp(Throw))
	require.False(t, IsMemberFinalOp(FCall))
}

func TestCallPrepSubrange(t *testing.T) {
	for _, c := range []Code{FuncPrep, ObjMethodPrep, ClsMethodPrep, CtorPrep} {
		require.True(t, IsCallPrep(c))
	}
	require.True(t, IsCtorPrep(CtorPrep))
	require.False(t, IsCtorPrep(FuncPrep))
	require.False(t, IsCallPrep(FCall))
}
