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

func TestAssignSpillSlotsLayout(t *testing.T) {
	rbp := NewPhysOperand(GPR, RBP)
	fn := singleBlockFn(
		// GPR slot 0 placeholder with a GPR sibling.
		NewInstr(MOVrr, NewMem(rbp, -8), NewPhysOperand(GPR, RAX)),
		// XMM slot 0 placeholder with an XMM sibling.
		NewInstr(MOVSDrm, NewMem(rbp, -8), NewPhysOperand(XMMCls, XMM3)),
		// Touch a callee-saved register.
		NewInstr(MOVrr, NewPhysOperand(GPR, RBX), NewPhysOperand(GPR, RAX)),
		NewInstr(RET),
	)

	frame := FrameInfo{}
	AssignSpillSlots(fn, SysVTarget(), &frame)

	require.Equal(t, []PhysReg{RBX}, frame.UsedCalleeSaved)
	require.Equal(t, 8, frame.SpillAreaGPR)
	require.Equal(t, 8, frame.SpillAreaXMM)
	require.Zero(t, frame.FrameSize%16)

	// Callee-saved area first (8 bytes), then the GPR slot, then the XMM
	// slot.
	gprMem := fn.Blocks[0].Instrs[0].Operands[0].(Mem)
	xmmMem := fn.Blocks[0].Instrs[1].Operands[0].(Mem)
	require.Equal(t, int32(-16), gprMem.Disp)
	require.Equal(t, int32(-24), xmmMem.Disp)
	require.Zero(t, int(-gprMem.Disp)%8)
	require.Zero(t, int(-xmmMem.Disp)%8)
}

func TestPrologueEpilogueShape(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(MOVrr, NewPhysOperand(GPR, RBX), NewPhysOperand(GPR, RDI)),
		NewInstr(RET),
	)
	frame := FrameInfo{}
	AssignSpillSlots(fn, SysVTarget(), &frame)
	InsertPrologueEpilogue(fn, SysVTarget(), &frame)

	instrs := fn.Blocks[0].Instrs
	// Prologue: push-equivalent, save rbp, establish frame, reserve, save rbx.
	require.Equal(t, ADDri, instrs[0].Op)
	require.Equal(t, NewImm(-8), instrs[0].Operands[1])
	require.Equal(t, MOVrr, instrs[1].Op)
	require.Equal(t, MOVrr, instrs[2].Op)

	// Epilogue restores in reverse and pops.
	last := instrs[len(instrs)-1]
	require.Equal(t, RET, last.Op)
	require.Equal(t, ADDri, instrs[len(instrs)-2].Op)
	require.Equal(t, NewImm(8), instrs[len(instrs)-2].Operands[1])
}

func TestLeafFunctionOmitsPrologue(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(MOVrr, NewPhysOperand(GPR, RAX), NewPhysOperand(GPR, RDI)),
		NewInstr(RET),
	)
	frame := FrameInfo{}
	AssignSpillSlots(fn, SysVTarget(), &frame)
	InsertPrologueEpilogue(fn, SysVTarget(), &frame)

	require.Len(t, fn.Blocks[0].Instrs, 2)
	require.Equal(t, RET, fn.Blocks[0].Instrs[1].Op)
}

func TestCallForcesPrologue(t *testing.T) {
	fn := singleBlockFn(
		NewInstr(CALL, NewLabel("g")),
		NewInstr(RET),
	)
	frame := FrameInfo{}
	AssignSpillSlots(fn, SysVTarget(), &frame)
	InsertPrologueEpilogue(fn, SysVTarget(), &frame)

	require.Equal(t, ADDri, fn.Blocks[0].Instrs[0].Op)
}

func TestLargeFrameEmitsStrideProbes(t *testing.T) {
	fn := singleBlockFn(NewInstr(RET))
	fn.AllocaBytes = 3 * pageSize

	frame := FrameInfo{}
	AssignSpillSlots(fn, SysVTarget(), &frame)
	require.Equal(t, 3*pageSize, frame.FrameSize)
	InsertPrologueEpilogue(fn, SysVTarget(), &frame)

	probes := 0
	for _, instr := range fn.Blocks[0].Instrs {
		if instr.Op != MOVrr || len(instr.Operands) != 2 {
			continue
		}
		dst, okDst := instr.Operands[0].(Reg)
		mem, okMem := instr.Operands[1].(Mem)
		if okDst && okMem && dst.Phys && PhysReg(dst.Id) == RAX &&
			mem.Base.Phys && PhysReg(mem.Base.Id) == RSP && mem.Disp == 0 {
			probes++
		}
	}
	require.Equal(t, 3, probes)
}

func TestWin64FrameSkipsProbes(t *testing.T) {
	fn := singleBlockFn(NewInstr(RET))
	fn.AllocaBytes = 2 * pageSize

	frame := FrameInfo{}
	AssignSpillSlots(fn, Win64Target(), &frame)
	InsertPrologueEpilogue(fn, Win64Target(), &frame)

	for _, instr := range fn.Blocks[0].Instrs {
		if instr.Op != MOVrr || len(instr.Operands) != 2 {
			continue
		}
		dst, okDst := instr.Operands[0].(Reg)
		mem, okMem := instr.Operands[1].(Mem)
		if okDst && okMem && dst.Phys && PhysReg(dst.Id) == RAX &&
			mem.Base.Phys && PhysReg(mem.Base.Id) == RSP {
			t.Fatalf("unexpected probe on win64: %v", instr)
		}
	}
}
