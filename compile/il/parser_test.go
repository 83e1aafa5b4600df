// Copyright (c) 2025 The Viper Authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.
package il

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSimpleFunction(t *testing.T) {
	src := `
# integer add
func @add {
add(%0:i64, %1:i64):
  %2:i64 = add %0, %1
  ret %2
}
`
	mod, err := ParseModule(src)
	require.NoError(t, err)
	require.Len(t, mod.Funcs, 1)

	fn := mod.Funcs[0]
	require.Equal(t, "add", fn.Name)
	require.Len(t, fn.Blocks, 1)

	entry := fn.Blocks[0]
	require.Equal(t, "add", entry.Name)
	require.Equal(t, []int{0, 1}, entry.ParamIds)
	require.Equal(t, []Kind{I64, I64}, entry.ParamKinds)
	require.Len(t, entry.Instrs, 2)

	add := entry.Instrs[0]
	require.Equal(t, "add", add.Opcode)
	require.Equal(t, 2, add.ResultId)
	require.Equal(t, I64, add.ResultKind)
	require.Equal(t, []Value{ValueRef(0, I64), ValueRef(1, I64)}, add.Ops)
}

func TestParseBranchEdgesAndArgs(t *testing.T) {
	src := `
func @loop {
loop(%0:i64):
  %1:i1 = icmp_sgt %0, 0
  cbr %1, body, done
body:
  br loop(%0)
done:
  ret %0
}
`
	mod, err := ParseModule(src)
	require.NoError(t, err)
	fn := mod.Funcs[0]
	require.Len(t, fn.Blocks, 3)

	entry := fn.Blocks[0]
	require.Equal(t, []Edge{{To: "body"}, {To: "done"}}, entry.Edges)
	cbr := entry.Instrs[1]
	require.Equal(t, "cbr", cbr.Opcode)
	require.Equal(t, Label, cbr.Ops[1].Kind)

	body := fn.Blocks[1]
	require.Equal(t, []Edge{{To: "loop", ArgIds: []int{0}}}, body.Edges)
}

func TestParseCallAndLiterals(t *testing.T) {
	src := `
func @main {
main:
  %0:ptr = const_str "hi, world"
  %1:i64 = call @strlen(%0, 3, 1.5)
  call @rt_print_i64(%1)
  ret
}
`
	mod, err := ParseModule(src)
	require.NoError(t, err)
	instrs := mod.Funcs[0].Blocks[0].Instrs

	constStr := instrs[0]
	require.Equal(t, Str, constStr.Ops[0].Kind)
	require.Equal(t, "hi, world", constStr.Ops[0].Str)

	call := instrs[1]
	require.Equal(t, "call", call.Opcode)
	require.Equal(t, "strlen", call.Ops[0].Label)
	require.True(t, call.Ops[2].IsImmediate())
	require.Equal(t, int64(3), call.Ops[2].I64)
	require.Equal(t, F64, call.Ops[3].Kind)
	require.Equal(t, 1.5, call.Ops[3].F64)

	require.Equal(t, -1, instrs[2].ResultId)
	require.Empty(t, instrs[3].Ops)
}

func TestParseGlobalsAndVararg(t *testing.T) {
	src := `
global @greeting = "hello"
func @f vararg {
f:
  ret
}
`
	mod, err := ParseModule(src)
	require.NoError(t, err)
	require.Equal(t, []Global{{Name: "greeting", Data: "hello"}}, mod.Globals)
	require.True(t, mod.Funcs[0].IsVarArg)
}

func TestParseErrors(t *testing.T) {
	_, err := ParseModule("bogus top level")
	require.Error(t, err)

	_, err = ParseModule("func @f {\nf:\n  %1:i64 = add %0, %2\n}\n")
	require.Error(t, err) // use of undefined value

	_, err = ParseModule("func @f {\n")
	require.Error(t, err) // unterminated function
}
