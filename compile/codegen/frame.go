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
	"sort"

	"github.com/samber/lo"
	"viper/utils"
)

// ------------------------------------------------------------------------------
// Frame lowering
//
// Converts the placeholder %rbp displacements left by the allocator and the
// alloca lowering into the final stack layout, records the callee-saved
// registers actually touched, and synthesises the prologue/epilogue.
//
// Layout below %rbp: callee-saved area, GPR spills, XMM spills, alloca area,
// outgoing argument area. The total frame rounds up to 16 bytes.

const pageSize = 4096

// FrameInfo summarises a function's stack layout.
type FrameInfo struct {
	SpillAreaGPR    int
	SpillAreaXMM    int
	OutgoingArgArea int
	AllocaArea      int
	FrameSize       int
	UsedCalleeSaved []PhysReg
}

type slotKey struct {
	cls  RegClass
	slot int
}

func isCalleeSaved(target *TargetInfo, reg PhysReg) bool {
	return lo.Contains(target.CalleeSavedGPR, reg) || lo.Contains(target.CalleeSavedXMM, reg)
}

// deduceMemClass inspects the sibling operands of a spill-slot reference to
// decide whether the slot stores a GPR or XMM value. Defaults to GPR.
func deduceMemClass(instr *MInstr, memIndex int) RegClass {
	for idx, operand := range instr.Operands {
		if idx == memIndex {
			continue
		}
		if reg, ok := operand.(Reg); ok && reg.Phys {
			phys := PhysReg(reg.Id)
			if IsXMM(phys) {
				return XMMCls
			}
			if IsGPR(phys) {
				return GPR
			}
		}
	}
	return GPR
}

func calleeSavedOffset(index int) int32 {
	return int32(-(index + 1) * kSlotSizeBytes)
}

// AssignSpillSlots walks the function, records used callee-saved registers,
// sizes the spill and alloca areas, and rewrites every placeholder
// displacement to its final value.
func AssignSpillSlots(fn *MFunction, target *TargetInfo, frame *FrameInfo) {
	usedCalleeSaved := utils.NewSet[PhysReg]()
	gprSlots := utils.NewSet[int]()
	xmmSlots := utils.NewSet[int]()

	forEachSpillRef(fn, func(instr *MInstr, idx int, mem *Mem) {
		slotIndex := int(-mem.Disp)/kSlotSizeBytes - 1
		if deduceMemClass(instr, idx) == XMMCls {
			xmmSlots.Add(slotIndex)
		} else {
			gprSlots.Add(slotIndex)
		}
	})

	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			for _, operand := range fn.Blocks[bi].Instrs[ii].Operands {
				if reg, ok := operand.(Reg); ok && reg.Phys {
					phys := PhysReg(reg.Id)
					if phys != RBP && phys != RSP && isCalleeSaved(target, phys) {
						usedCalleeSaved.Add(phys)
					}
				}
			}
		}
	}

	frame.UsedCalleeSaved = nil
	for _, reg := range target.CalleeSavedGPR {
		if reg == RBP {
			continue // %rbp is handled by the standard prologue/epilogue
		}
		if usedCalleeSaved.Contains(reg) {
			frame.UsedCalleeSaved = append(frame.UsedCalleeSaved, reg)
		}
	}
	for _, reg := range target.CalleeSavedXMM {
		if usedCalleeSaved.Contains(reg) {
			frame.UsedCalleeSaved = append(frame.UsedCalleeSaved, reg)
		}
	}

	calleeSavedBytes := len(frame.UsedCalleeSaved) * kSlotSizeBytes

	slotOffsets := make(map[slotKey]int32)
	runningOffset := calleeSavedBytes
	for _, slot := range sortedSlots(gprSlots) {
		runningOffset += kSlotSizeBytes
		slotOffsets[slotKey{GPR, slot}] = int32(-runningOffset)
	}
	for _, slot := range sortedSlots(xmmSlots) {
		runningOffset += kSlotSizeBytes
		slotOffsets[slotKey{XMMCls, slot}] = int32(-runningOffset)
	}

	frame.SpillAreaGPR = gprSlots.Length() * kSlotSizeBytes
	frame.SpillAreaXMM = xmmSlots.Length() * kSlotSizeBytes

	allocaBase := runningOffset
	frame.AllocaArea = fn.AllocaBytes
	runningOffset += fn.AllocaBytes

	if frame.OutgoingArgArea < 0 {
		frame.OutgoingArgArea = 0
	}
	frame.OutgoingArgArea = utils.RoundUp(frame.OutgoingArgArea, 16)

	frame.FrameSize = utils.Align16(runningOffset + frame.OutgoingArgArea)

	// Rewrite placeholders to their final displacements.
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			instr := &fn.Blocks[bi].Instrs[ii]
			for idx, operand := range instr.Operands {
				mem, ok := operand.(Mem)
				if !ok || !mem.Base.Phys || PhysReg(mem.Base.Id) != RBP || mem.Disp >= 0 {
					continue
				}
				if int(-mem.Disp) >= allocaBias {
					off := int(-mem.Disp) - allocaBias
					mem.Disp = int32(-(allocaBase + off))
					instr.Operands[idx] = mem
					continue
				}
				placeholder := int(-mem.Disp)
				if placeholder%kSlotSizeBytes != 0 || placeholder <= 0 {
					continue
				}
				slotIndex := placeholder/kSlotSizeBytes - 1
				key := slotKey{deduceMemClass(instr, idx), slotIndex}
				if final, ok := slotOffsets[key]; ok {
					mem.Disp = final
					instr.Operands[idx] = mem
				}
			}
		}
	}
}

func forEachSpillRef(fn *MFunction, visit func(instr *MInstr, idx int, mem *Mem)) {
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			instr := &fn.Blocks[bi].Instrs[ii]
			for idx, operand := range instr.Operands {
				mem, ok := operand.(Mem)
				if !ok || !mem.Base.Phys || PhysReg(mem.Base.Id) != RBP {
					continue
				}
				if mem.Disp >= 0 || int(-mem.Disp) >= allocaBias {
					continue
				}
				if int(-mem.Disp)%kSlotSizeBytes != 0 {
					continue
				}
				visit(instr, idx, &mem)
			}
		}
	}
}

func sortedSlots(set *utils.Set[int]) []int {
	var slots []int
	set.ForEach(func(s int) { slots = append(slots, s) })
	sort.Ints(slots)
	return slots
}

// functionUsesFrame reports whether any operand addresses through %rbp, in
// which case the prologue must establish the frame pointer even for an
// otherwise empty frame (e.g. stack-passed incoming arguments).
func functionUsesFrame(fn *MFunction) bool {
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			for _, operand := range fn.Blocks[bi].Instrs[ii].Operands {
				if mem, ok := operand.(Mem); ok && mem.Base.Phys && PhysReg(mem.Base.Id) == RBP {
					return true
				}
			}
		}
	}
	return false
}

func functionHasCall(fn *MFunction) bool {
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			if fn.Blocks[bi].Instrs[ii].Op == CALL {
				return true
			}
		}
	}
	return false
}

// InsertPrologueEpilogue prepends the frame setup to the entry block and
// mirrors it before every RET. A leaf function with no frame, no calls and
// no callee-saved usage gets neither.
//
// Frames larger than one page are reserved in page-sized strides with a
// probing load at each step so guard-page faults surface in the prologue.
func InsertPrologueEpilogue(fn *MFunction, target *TargetInfo, frame *FrameInfo) {
	if len(fn.Blocks) == 0 {
		return
	}
	if frame.FrameSize == 0 && len(frame.UsedCalleeSaved) == 0 &&
		!functionHasCall(fn) && !functionUsesFrame(fn) {
		return
	}

	rsp := NewPhysOperand(GPR, RSP)
	rbp := NewPhysOperand(GPR, RBP)
	rax := NewPhysOperand(GPR, RAX)
	rspBase := NewPhysOperand(GPR, RSP)
	rbpBase := NewPhysOperand(GPR, RBP)

	var prologue []MInstr
	prologue = append(prologue,
		NewInstr(ADDri, rsp, NewImm(int64(-kSlotSizeBytes))),
		NewInstr(MOVrr, NewMem(rspBase, 0), rbp),
		NewInstr(MOVrr, rbp, rsp))

	if frame.FrameSize > 0 {
		if frame.FrameSize > pageSize && !target.IsWin64() {
			remaining := frame.FrameSize
			for remaining > 0 {
				step := remaining
				if step > pageSize {
					step = pageSize
				}
				prologue = append(prologue,
					NewInstr(ADDri, rsp, NewImm(int64(-step))),
					NewInstr(MOVrr, rax, NewMem(rspBase, 0)))
				remaining -= step
			}
		} else {
			prologue = append(prologue,
				NewInstr(ADDri, rsp, NewImm(int64(-frame.FrameSize))))
		}
	}

	for idx, reg := range frame.UsedCalleeSaved {
		utils.Assert(IsGPR(reg), "only GPR callee-saved registers are expected")
		prologue = append(prologue,
			NewInstr(MOVrr, NewMem(rbpBase, calleeSavedOffset(idx)), NewPhysOperand(GPR, reg)))
	}

	entry := &fn.Blocks[0]
	entry.Instrs = utils.InsertAllAt(entry.Instrs, 0, prologue)

	var epilogue []MInstr
	for idx := len(frame.UsedCalleeSaved) - 1; idx >= 0; idx-- {
		reg := frame.UsedCalleeSaved[idx]
		epilogue = append(epilogue,
			NewInstr(MOVrr, NewPhysOperand(GPR, reg), NewMem(rbpBase, calleeSavedOffset(idx))))
	}
	epilogue = append(epilogue,
		NewInstr(MOVrr, rsp, rbp),
		NewInstr(MOVrr, rbp, NewMem(rspBase, 0)),
		NewInstr(ADDri, rsp, NewImm(int64(kSlotSizeBytes))))

	for bi := range fn.Blocks {
		block := &fn.Blocks[bi]
		for ii := 0; ii < len(block.Instrs); ii++ {
			if block.Instrs[ii].Op == RET {
				block.Instrs = utils.InsertAllAt(block.Instrs, ii, epilogue)
				ii += len(epilogue)
			}
		}
	}
}
