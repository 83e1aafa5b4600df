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

// Spiller hands out stack slots in 8-byte steps relative to %rbp and builds
// the load/store moves around spilled values. Slot displacements stay
// placeholders (-(slot+1)*8) until frame lowering assigns the final layout.
type Spiller struct {
	nextSlotGPR int
	nextSlotXMM int
}

func NewSpiller() *Spiller {
	return &Spiller{}
}

func (sp *Spiller) GprSlots() int {
	return sp.nextSlotGPR
}

func (sp *Spiller) XmmSlots() int {
	return sp.nextSlotXMM
}

func (sp *Spiller) EnsureSpillSlot(cls RegClass, plan *SpillPlan) {
	if plan.Slot >= 0 {
		return
	}
	plan.NeedsSpill = true
	if cls == GPR {
		plan.Slot = sp.nextSlotGPR
		sp.nextSlotGPR++
		return
	}
	plan.Slot = sp.nextSlotXMM
	sp.nextSlotXMM++
}

func (sp *Spiller) MakeLoad(cls RegClass, dst PhysReg, plan SpillPlan) MInstr {
	if cls == GPR {
		return NewInstr(MOVrr, NewPhysOperand(cls, dst), sp.frameOperand(plan.Slot))
	}
	return NewInstr(MOVSDmr, NewPhysOperand(cls, dst), sp.frameOperand(plan.Slot))
}

func (sp *Spiller) MakeStore(cls RegClass, plan SpillPlan, src PhysReg) MInstr {
	if cls == GPR {
		return NewInstr(MOVrr, sp.frameOperand(plan.Slot), NewPhysOperand(cls, src))
	}
	return NewInstr(MOVSDrm, sp.frameOperand(plan.Slot), NewPhysOperand(cls, src))
}

// SpillValue stores a victim's register to its slot and releases the
// register back to the pool.
func (sp *Spiller) SpillValue(cls RegClass, vreg int, alloc *VirtualAllocation,
	pool *[]PhysReg, prefix *[]MInstr, result *AllocationResult) {
	sp.EnsureSpillSlot(cls, &alloc.Spill)
	*prefix = append(*prefix, sp.MakeStore(cls, alloc.Spill, alloc.Phys))
	*pool = append(*pool, alloc.Phys)
	alloc.HasPhys = false
	alloc.Spill.NeedsSpill = true
	delete(result.VRegToPhys, vreg)
}

func (sp *Spiller) frameOperand(slot int) Mem {
	base := NewPhysOperand(GPR, RBP)
	return NewMem(base, int32(-(slot+1)*8))
}
