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
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"viper/compile/il"
)

func emitOne(t *testing.T, fn il.Function) string {
	t.Helper()
	result := EmitFunction(&fn, DefaultOptions())
	require.Empty(t, result.Diagnostics)
	return result.AsmText
}

// requireOrdered asserts every needle occurs and in the given order.
func requireOrdered(t *testing.T, haystack string, needles ...string) {
	t.Helper()
	last := -1
	for _, needle := range needles {
		idx := strings.Index(haystack, needle)
		require.GreaterOrEqual(t, idx, 0, "missing %q in:\n%s", needle, haystack)
		require.Greater(t, idx, last, "%q out of order in:\n%s", needle, haystack)
		last = idx
	}
}

func TestAddReturn(t *testing.T) {
	fn := il.Function{
		Name: "add",
		Blocks: []il.Block{{
			Name:       "add",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.I64, il.I64},
			Instrs: []il.Instr{
				{Opcode: "add", ResultId: 2, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.I64), il.ValueRef(1, il.I64)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(2, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, ".globl add")
	require.Contains(t, asm, "addq")
	require.Regexp(t, `movq %\w+, %rax\n  ret`, asm)
	// Leaf with no frame: no prologue.
	require.NotContains(t, asm, "%rbp")
}

func TestStringLiteral(t *testing.T) {
	fn := il.Function{
		Name: "main",
		Blocks: []il.Block{{
			Name: "main",
			Instrs: []il.Instr{
				{Opcode: "const_str", ResultId: 0, ResultKind: il.Ptr,
					Ops: []il.Value{il.ImmStr("Hello, world!")}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(0, il.Ptr)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "leaq .LC_str_0(%rip), %rdi")
	require.Contains(t, asm, "movq $13, %rsi")
	require.Contains(t, asm, "callq rt_str_from_lit")
	requireOrdered(t, asm,
		".section .rodata",
		".LC_str_0:",
		`.ascii "Hello, world!"`)
}

func TestVarargCallSetsXmmCount(t *testing.T) {
	fn := il.Function{
		Name: "main",
		Blocks: []il.Block{{
			Name:       "main",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.Ptr, il.I64},
			Instrs: []il.Instr{
				{Opcode: "call", ResultId: -1, Ops: []il.Value{
					il.LabelRef("rt_snprintf"),
					il.ValueRef(0, il.Ptr),
					il.ValueRef(1, il.I64),
					il.ImmF64(1.5),
					il.ImmF64(2.5),
				}},
				{Opcode: "call", ResultId: -1, Ops: []il.Value{
					il.LabelRef("rt_print_f64"),
					il.ImmF64(1.5),
				}},
				{Opcode: "ret", ResultId: -1},
			},
		}},
	}

	asm := emitOne(t, fn)
	requireOrdered(t, asm, "movq $2, %rax", "callq rt_snprintf")
	// %xmm0/%xmm1 receive the float args before the variadic call.
	requireOrdered(t, asm, "%xmm0", "%xmm1", "callq rt_snprintf")
	// The non-vararg runtime call must not set %rax.
	require.Equal(t, 1, strings.Count(asm, ", %rax\n  callq"),
		"only the variadic call sets %%rax:\n%s", asm)
	require.NotContains(t, asm, "movq $1, %rax")
}

func TestSignedDivisionGuard(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.I64, il.I64},
			Instrs: []il.Instr{
				{Opcode: "sdiv", ResultId: 2, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.I64), il.ValueRef(1, il.I64)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(2, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	requireOrdered(t, asm,
		"testq",
		"je .Ltrap_div0",
		"cqto",
		"idivq",
		"movq %rax,")
	requireOrdered(t, asm, ".Ltrap_div0:", "callq rt_trap_div0")
}

func TestUnsignedDivisionGuard(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.I64, il.I64},
			Instrs: []il.Instr{
				{Opcode: "urem", ResultId: 2, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.I64), il.ValueRef(1, il.I64)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(2, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	requireOrdered(t, asm,
		"je .Ltrap_div0",
		"xorl %edx, %edx",
		"divq",
		"movq %rdx,")
}

func TestSelectGpr(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0},
			ParamKinds: []il.Kind{il.I1},
			Instrs: []il.Instr{
				{Opcode: "select", ResultId: 1, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.I1), il.ImmI64(42), il.ImmI64(7)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(1, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	requireOrdered(t, asm,
		"movq $42,",
		"testq",
		"movq $7,",
		"cmovne")
}

func TestLargeFrameProbes(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name: "f",
			Instrs: []il.Instr{
				{Opcode: "alloca", ResultId: 0, ResultKind: il.Ptr,
					Ops: []il.Value{il.ImmI64(8192)}},
				{Opcode: "ret", ResultId: -1},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.GreaterOrEqual(t, strings.Count(asm, "movq (%rsp), %rax"), 2,
		"page-stride probes expected:\n%s", asm)
	require.Contains(t, asm, "-8192(%rbp)")
}

func TestRuntimeSymbolRemap(t *testing.T) {
	fn := il.Function{
		Name: "main",
		Blocks: []il.Block{{
			Name: "main",
			Instrs: []il.Instr{
				{Opcode: "call", ResultId: -1, Ops: []il.Value{
					il.LabelRef("Viper.Terminal.PrintI64"),
					il.ImmI64(7),
				}},
				{Opcode: "ret", ResultId: -1},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "callq rt_print_i64")
	require.NotContains(t, asm, "Viper.Terminal.PrintI64")
}

func TestOverflowCheckedAdd(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.I64, il.I64},
			Instrs: []il.Instr{
				{Opcode: "add.ovf", ResultId: 2, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.I64), il.ValueRef(1, il.I64)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(2, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	requireOrdered(t, asm, "addq", "jo .Ltrap_ovf_f")
	requireOrdered(t, asm, ".Ltrap_ovf_f:", "callq rt_trap")
}

func TestFloatReturnUsesXmm0(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.F64, il.F64},
			Instrs: []il.Instr{
				{Opcode: "add", ResultId: 2, ResultKind: il.F64,
					Ops: []il.Value{il.ValueRef(0, il.F64), il.ValueRef(1, il.F64)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(2, il.F64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, "addsd")
	require.Regexp(t, `movsd %xmm\d+, %xmm0\n  ret`, asm)
}

func TestF64LiteralPooled(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name: "f",
			Instrs: []il.Instr{
				{Opcode: "add", ResultId: 0, ResultKind: il.F64,
					Ops: []il.Value{il.ImmF64(1.5), il.ImmF64(negativeZero())}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(0, il.F64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.Contains(t, asm, ".LC_f64_0(%rip)")
	require.Contains(t, asm, ".LC_f64_1(%rip)")
	requireOrdered(t, asm, ".p2align 3", ".quad 0x3ff8000000000000")
	require.Contains(t, asm, ".quad 0x8000000000000000")
}

func TestBlockParamsFlowThroughEdges(t *testing.T) {
	// cbr feeding a block parameter exercises the PX_COPY path end to end.
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{
			{
				Name:       "f",
				ParamIds:   []int{0},
				ParamKinds: []il.Kind{il.I64},
				Instrs: []il.Instr{
					{Opcode: "icmp_sgt", ResultId: 1, ResultKind: il.I1,
						Ops: []il.Value{il.ValueRef(0, il.I64), il.ImmI64(0)}},
					{Opcode: "cbr", ResultId: -1, Ops: []il.Value{
						il.ValueRef(1, il.I1), il.LabelRef("join"), il.LabelRef("join")}},
				},
				Edges: []il.Edge{
					{To: "join", ArgIds: []int{0}},
				},
			},
			{
				Name:       "join",
				ParamIds:   []int{2},
				ParamKinds: []il.Kind{il.I64},
				Instrs: []il.Instr{
					{Opcode: "ret", ResultId: -1,
						Ops: []il.Value{il.ValueRef(2, il.I64)}},
				},
			},
		},
	}

	asm := emitOne(t, fn)
	require.NotContains(t, asm, "px_copy")
	require.NotContains(t, asm, "%v")
	require.Contains(t, asm, "join:")
}

func TestIntelSyntaxDiagnosticDoesNotAbort(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:   "f",
			Instrs: []il.Instr{{Opcode: "ret", ResultId: -1}},
		}},
	}

	options := DefaultOptions()
	options.ATTSyntax = false
	result := EmitFunction(&fn, options)
	require.NotEmpty(t, result.Diagnostics)
	require.Contains(t, result.AsmText, ".globl f")
}

func TestModuleConcatenationAndGlobals(t *testing.T) {
	mod := &il.Module{
		Funcs: []il.Function{
			{Name: "a", Blocks: []il.Block{{Name: "a",
				Instrs: []il.Instr{{Opcode: "ret", ResultId: -1}}}}},
			{Name: "b", Blocks: []il.Block{{Name: "b",
				Instrs: []il.Instr{{Opcode: "ret", ResultId: -1}}}}},
		},
		Globals: []il.Global{{Name: "msg", Data: "hi"}},
	}

	result := EmitModule(mod, DefaultOptions())
	requireOrdered(t, result.AsmText,
		".globl a",
		".globl b",
		".section .rodata",
		"msg:",
		`.ascii "hi"`)
}

func TestNoVirtualRegistersSurviveAllocation(t *testing.T) {
	fn := il.Function{
		Name: "f",
		Blocks: []il.Block{{
			Name:       "f",
			ParamIds:   []int{0, 1},
			ParamKinds: []il.Kind{il.I64, il.I64},
			Instrs: []il.Instr{
				{Opcode: "mul", ResultId: 2, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(0, il.I64), il.ValueRef(1, il.I64)}},
				{Opcode: "shl", ResultId: 3, ResultKind: il.I64,
					Ops: []il.Value{il.ValueRef(2, il.I64), il.ImmI64(3)}},
				{Opcode: "ret", ResultId: -1,
					Ops: []il.Value{il.ValueRef(3, il.I64)}},
			},
		}},
	}

	asm := emitOne(t, fn)
	require.NotContains(t, asm, "%v", "virtual register leaked:\n%s", asm)
	require.Contains(t, asm, "shlq $3,")
}
