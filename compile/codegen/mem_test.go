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
package codegen

import (
	"testing"

	"github.com/stretchr/testify/require"
	"viper/compile/il"
)

func TestLoadStoreAddressing(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0},
			ParamKinds: []il.Kind{il.Ptr},
			Instrs: []il.Instr{
				{Opcode: "load", ResultId: 1, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.Ptr), il.ImmI64(8)}},
				{Opcode: "store", ResultId: -1,
					Ops: []il.Value{il.ValueRef(1, il.I64), il.ValueRef(0, il.Ptr), il.ImmI64(16)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(1, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "movq 8(%r10), %r11")
	require.Contains(t, asm, "movq %r11, 16(%r10)")
}

func TestGepUsesScaledIndexAddressing(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.Ptr, il.I64},
			Instrs: []il.Instr{
				{Opcode: "gep", ResultId: 2, ResultKind: il.Ptr,
					Ops: []il.Value{il.ValueRef(0, il.Ptr), il.ValueRef(1, il.I64)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(2, il.Ptr)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "leaq (%r10,%r11,1),")
}

func TestConversions(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.I64, il.F64},
			Instrs: []il.Instr{
				{Opcode: "sitofp", ResultId: 2, ResultKind: il.F64,
					Ops: []il.Value{il.ValueRef(0, il.I64)}},
				{Opcode: "fptosi", ResultId: 3, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(1, il.F64)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(3, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "cvtsi2sdq")
	require.Contains(t, asm, "cvttsd2siq")
}

func TestIndirectCallPrintsStarTarget(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0},
			ParamKinds: []il.Kind{il.Ptr},
			Instrs: []il.Instr{
				{Opcode: "call.indirect", ResultId: 1, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.Ptr), il.ImmI64(3)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(1, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "callq *%r10")
	require.Contains(t, asm, "movq $3, %rdi")
}

func TestEhMarkersLowerToNothing(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{
			{
				Name: "f",
				Instrs: []il.Instr{
					{Opcode: "eh.push", ResultId: -1, Ops: []il.Value{il.LabelRef("handler")}},
					{Opcode: "eh.pop", ResultId: -1},
					{Opcode: "ret", ResultId: -1},
				},
			},
			{
				Name: "handler",
				Instrs: []il.Instr{
					{Opcode: "eh.entry", ResultId: -1},
					{Opcode: "trap", ResultId: -1},
				},
			},
		},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "handler:")
	requireOrdered(t, asm, "callq rt_trap", "ud2")
}

func TestShiftVariableCountGoesThroughCl(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.I64, il.I64},
			Instrs: []il.Instr{
				{Opcode: "ashr", ResultId: 2, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.I64), il.ValueRef(1, il.I64)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(2, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "sarq %cl,")
	require.Contains(t, asm, "movq %r11, %rcx")
}
