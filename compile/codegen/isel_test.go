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
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func singleBlockFn(instrs ...MInstr) *MFunction {
	fn := &MFunction{Name: "f"}
	fn.AddBlock(MBasicBlock{Label: "f", Instrs: instrs})
	return fn
}

func dumpFn(fn *MFunction) string {
	return fn.String()
}

func TestISelAddImmediateFolds(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(ADDrr, NewVRegOperand(GPR, 1), NewImm(4)),
	)
	NewISel(SysVTarget()).LowerArithmetic(fn)
	require.Equal(t, ADDri, fn.Blocks[0].Instrs[0].Op)
}

func TestISelSubImmediateNegates(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(SUBrr, NewVRegOperand(GPR, 1), NewImm(4)),
	)
	NewISel(SysVTarget()).LowerArithmetic(fn)
	instr := fn.Blocks[0].Instrs[0]
	require.Equal(t, ADDri, instr.Op)
	require.Equal(t, NewImm(-4), instr.Operands[1])
}

func TestISelSubInt64MinUntouched(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(SUBrr, NewVRegOperand(GPR, 1), NewImm(math.MinInt64)),
	)
	NewISel(SysVTarget()).LowerArithmetic(fn)
	instr := fn.Blocks[0].Instrs[0]
	require.Equal(t, SUBrr, instr.Op)
	require.Equal(t, NewImm(math.MinInt64), instr.Operands[1])
}

func TestISelCmpCanonicalisation(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(CMPrr, NewVRegOperand(GPR, 1), NewImm(3)),
		NewInstr(CMPri, NewVRegOperand(GPR, 2), NewVRegOperand(GPR, 3)),
	)
	NewISel(SysVTarget()).LowerCompareAndBranch(fn)
	require.Equal(t, CMPri, fn.Blocks[0].Instrs[0].Op)
	require.Equal(t, CMPrr, fn.Blocks[0].Instrs[1].Op)
}

func TestISelTestImmediateBecomesCmpZero(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(TESTrr, NewVRegOperand(GPR, 1), NewImm(1)),
	)
	NewISel(SysVTarget()).LowerCompareAndBranch(fn)
	instr := fn.Blocks[0].Instrs[0]
	require.Equal(t, CMPri, instr.Op)
	require.Equal(t, NewImm(0), instr.Operands[1])
}

func TestISelInsertsMovzxAfterSetcc(t *testing.T) {
	dest := NewVRegOperand(GPR, 1)
	fn := singleBlockFn(
		NewInstr(SETcc, NewImm(0), dest),
	)
	NewISel(SysVTarget()).LowerCompareAndBranch(fn)
	require.Len(t, fn.Blocks[0].Instrs, 2)
	movzx := fn.Blocks[0].Instrs[1]
	require.Equal(t, MOVZXrr32, movzx.Op)
	require.True(t, SameRegister(movzx.Operands[0], dest))
	require.True(t, SameRegister(movzx.Operands[1], dest))
}

func TestISelSelectBecomesCmov(t *testing.T) {
	dest := NewVRegOperand(GPR, 1)
	cond := NewVRegOperand(GPR, 2)
	trueVal := NewVRegOperand(GPR, 3)
	fn := singleBlockFn(
		NewInstr(MOVri, dest, NewImm(7), trueVal),
		NewInstr(TESTrr, cond, cond),
		NewInstr(SETcc, NewImm(1), dest),
	)
	NewISel(SysVTarget()).LowerSelect(fn)

	instrs := fn.Blocks[0].Instrs
	require.Len(t, instrs, 3)
	require.Equal(t, TESTrr, instrs[0].Op)
	require.Equal(t, MOVri, instrs[1].Op)
	require.Equal(t, CMOVNErr, instrs[2].Op)
	require.True(t, SameRegister(instrs[2].Operands[0], dest))
	require.True(t, SameRegister(instrs[2].Operands[1], trueVal))
}

func TestISelMulByThreeBecomesLea(t *testing.T) {
	dst := NewVRegOperand(GPR, 1)
	factor := NewVRegOperand(GPR, 2)
	fn := singleBlockFn(
		NewInstr(MOVri, factor, NewImm(3)),
		NewInstr(IMULrr, dst, factor),
	)
	NewISel(SysVTarget()).ReduceMulToLea(fn)

	instrs := fn.Blocks[0].Instrs
	require.Len(t, instrs, 1)
	require.Equal(t, LEA, instrs[0].Op)
	mem := instrs[0].Operands[1].(Mem)
	require.Equal(t, 2, mem.Scale)
	require.True(t, mem.HasIndex)
}

func TestISelMulBySevenKeepsImul(t *testing.T) {
	dst := NewVRegOperand(GPR, 1)
	factor := NewVRegOperand(GPR, 2)
	fn := singleBlockFn(
		NewInstr(MOVri, factor, NewImm(7)),
		NewInstr(IMULrr, dst, factor),
	)
	NewISel(SysVTarget()).ReduceMulToLea(fn)
	require.Len(t, fn.Blocks[0].Instrs, 2)
	require.Equal(t, IMULrr, fn.Blocks[0].Instrs[1].Op)
}

func TestISelMulMultiUseConstantKeepsImul(t *testing.T) {
	dst := NewVRegOperand(GPR, 1)
	other := NewVRegOperand(GPR, 3)
	factor := NewVRegOperand(GPR, 2)
	fn := singleBlockFn(
		NewInstr(MOVri, factor, NewImm(5)),
		NewInstr(IMULrr, dst, factor),
		NewInstr(MOVrr, other, factor),
	)
	NewISel(SysVTarget()).ReduceMulToLea(fn)
	require.Equal(t, IMULrr, fn.Blocks[0].Instrs[1].Op)
}

func TestISelIsIdempotent(t *testing.T) {
	factor := NewVRegOperand(GPR, 4)
	fn := singleBlockFn(
		NewInstr(ADDrr, NewVRegOperand(GPR, 1), NewImm(4)),
		NewInstr(SUBrr, NewVRegOperand(GPR, 2), NewImm(9)),
		NewInstr(CMPrr, NewVRegOperand(GPR, 3), NewImm(0)),
		NewInstr(SETcc, NewImm(2), NewVRegOperand(GPR, 3)),
		NewInstr(MOVri, factor, NewImm(9)),
		NewInstr(IMULrr, NewVRegOperand(GPR, 5), factor),
	)

	sel := NewISel(SysVTarget())
	sel.Run(fn)
	once := dumpFn(fn)
	sel.Run(fn)
	require.Equal(t, once, dumpFn(fn))
}
