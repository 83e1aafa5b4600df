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
)

func vregsIn(fn *MFunction) []int {
	var ids []int
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			for _, op := range fn.Blocks[bi].Instrs[ii].Operands {
				switch o := op.(type) {
				case Reg:
					if !o.Phys {
						ids = append(ids, o.Id)
					}
				case Mem:
					if !o.Base.Phys {
						ids = append(ids, o.Base.Id)
					}
				}
			}
		}
	}
	return ids
}

func TestLiveIntervalsHalfOpenRanges(t *testing.T) {
	v1 := NewVRegOperand(GPR, 1)
	v2 := NewVRegOperand(GPR, 2)
	fn := singleBlockFn(
		NewInstr(MOVri, v1, NewImm(1)),     // i0
		NewInstr(MOVrr, v2, v1),            // i1
		NewInstr(ADDrr, v2, v1),            // i2
		NewInstr(MOVrr, NewPhysOperand(GPR, RAX), v2), // i3
	)

	li := NewLiveIntervals()
	li.Run(fn)

	i1 := li.Lookup(1)
	require.NotNil(t, i1)
	require.Equal(t, 0, i1.Start)
	require.Equal(t, 3, i1.End)

	i2 := li.Lookup(2)
	require.Equal(t, 1, i2.Start)
	require.Equal(t, 4, i2.End)

	require.Nil(t, li.Lookup(99))
}

func TestLiveIntervalsSeesMemoryBases(t *testing.T) {
	base := NewVRegOperand(GPR, 7)
	fn := singleBlockFn(
		NewInstr(MOVrr, NewPhysOperand(GPR, RAX), NewMem(base, 16)),
	)
	li := NewLiveIntervals()
	li.Run(fn)
	require.NotNil(t, li.Lookup(7))
}

func TestAllocateRewritesEveryVReg(t *testing.T) {
	v1 := NewVRegOperand(GPR, 1)
	v2 := NewVRegOperand(GPR, 2)
	fn := singleBlockFn(
		NewInstr(MOVri, v1, NewImm(1)),
		NewInstr(MOVri, v2, NewImm(2)),
		NewInstr(ADDrr, v1, v2),
		NewInstr(MOVrr, NewPhysOperand(GPR, RAX), v1),
	)

	result := Allocate(fn, SysVTarget())
	require.Empty(t, vregsIn(fn))
	require.Len(t, result.VRegToPhys, 2)
	require.Zero(t, result.SpillSlotsGPR)

	// Re-analysis after allocation sees no virtual registers at all.
	li := NewLiveIntervals()
	li.Run(fn)
	require.Zero(t, li.Count())
}

func TestAllocateSpillsWhenPoolExhausted(t *testing.T) {
	// 15 simultaneously live GPR vregs exceed the 14-register pool.
	var instrs []MInstr
	for id := 1; id <= 15; id++ {
		instrs = append(instrs, NewInstr(MOVri, NewVRegOperand(GPR, id), NewImm(int64(id))))
	}
	instrs = append(instrs, NewInstr(ADDrr, NewVRegOperand(GPR, 1), NewVRegOperand(GPR, 15)))
	fn := singleBlockFn(instrs...)

	result := Allocate(fn, SysVTarget())
	require.Empty(t, vregsIn(fn))
	require.Greater(t, result.SpillSlotsGPR, 0)

	// Spill traffic addresses negative 8-byte %rbp slots.
	foundSpill := false
	for _, instr := range fn.Blocks[0].Instrs {
		for _, op := range instr.Operands {
			if mem, ok := op.(Mem); ok && mem.Base.Phys && PhysReg(mem.Base.Id) == RBP {
				require.Negative(t, mem.Disp)
				require.Zero(t, int(-mem.Disp)%8)
				foundSpill = true
			}
		}
	}
	require.True(t, foundSpill)
}

func TestMoveResolverChainOrdersMoves(t *testing.T) {
	// v3 <- v2 and v2 <- v1: the copy into v3 must emit before v2 is
	// overwritten.
	v1 := NewVRegOperand(GPR, 1)
	v2 := NewVRegOperand(GPR, 2)
	v3 := NewVRegOperand(GPR, 3)
	fn := singleBlockFn(
		NewInstr(MOVri, v1, NewImm(1)),
		NewInstr(MOVri, v2, NewImm(2)),
		NewInstr(MOVri, v3, NewImm(3)),
		NewInstr(PX_COPY, v3, v2, v2, v1),
		NewInstr(MOVrr, NewPhysOperand(GPR, RAX), v3),
	)

	Allocate(fn, SysVTarget())

	// The pre-assignments are deterministic: v1=R10, v2=R11, v3=RDI.
	// Resolution must write RDI before R11.
	var moves []MInstr
	for _, instr := range fn.Blocks[0].Instrs {
		if instr.Op == MOVrr {
			moves = append(moves, instr)
		}
	}
	require.GreaterOrEqual(t, len(moves), 3)
	first := moves[0]
	require.Equal(t, int(RDI), first.Operands[0].(Reg).Id)
	require.Equal(t, int(R11), first.Operands[1].(Reg).Id)
	second := moves[1]
	require.Equal(t, int(R11), second.Operands[0].(Reg).Id)
	require.Equal(t, int(R10), second.Operands[1].(Reg).Id)
}

func TestMoveResolverBreaksCycles(t *testing.T) {
	v1 := NewVRegOperand(GPR, 1)
	v2 := NewVRegOperand(GPR, 2)
	fn := singleBlockFn(
		NewInstr(MOVri, v1, NewImm(1)),
		NewInstr(MOVri, v2, NewImm(2)),
		NewInstr(PX_COPY, v1, v2, v2, v1),
		NewInstr(MOVrr, NewPhysOperand(GPR, RAX), v1),
	)

	Allocate(fn, SysVTarget())
	require.Empty(t, vregsIn(fn))

	// A swap needs three moves: stash, then the two redirected copies.
	movCount := 0
	for _, instr := range fn.Blocks[0].Instrs {
		if instr.Op == MOVrr {
			movCount++
		}
	}
	require.GreaterOrEqual(t, movCount, 4) // 3 swap moves + final read
	VerifyAllocated(fn)
}

func TestVRegClassMismatchPanics(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(MOVri, NewVRegOperand(GPR, 1), NewImm(1)),
		NewInstr(MOVSDrr, NewVRegOperand(XMMCls, 1), NewVRegOperand(XMMCls, 1)),
	)
	require.Panics(t, func() { Allocate(fn, SysVTarget()) })
}
