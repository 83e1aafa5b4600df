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
	"github.com/samber/lo"
	"viper/utils"
)

// -----------------------------------------------------------------------------
// Linear Scan Register Allocation
//
// Block-local linear scan with on-demand spilling: pools are populated from
// the target ABI (caller-saved first, RSP/RBP excluded), operands are
// classified as use/def per opcode, spilled values reload through scratch
// registers, and all live values release at block boundaries. PX_COPY
// bundles are handed to the move resolver. The objective is correctness and
// predictability, not optimality.

type SpillPlan struct {
	NeedsSpill bool
	Slot       int // -1 until a stack slot is assigned
}

type VirtualAllocation struct {
	Class   RegClass
	HasPhys bool
	Phys    PhysReg
	Spill   SpillPlan
}

type AllocationResult struct {
	VRegToPhys    map[int]PhysReg
	SpillSlotsGPR int
	SpillSlotsXMM int
}

type operandRole struct {
	isUse bool
	isDef bool
}

type scratchRelease struct {
	phys PhysReg
	cls  RegClass
}

type LSRA struct {
	fn        *MFunction
	target    *TargetInfo
	intervals *LiveIntervals

	freeGPR []PhysReg
	freeXMM []PhysReg

	activeGPR []int
	activeXMM []int

	states  map[int]*VirtualAllocation
	spiller *Spiller
	result  AllocationResult
}

// Allocate runs live-interval analysis and the linear-scan allocator over
// fn, rewriting every virtual register to a physical one.
func Allocate(fn *MFunction, target *TargetInfo) AllocationResult {
	intervals := NewLiveIntervals()
	intervals.Run(fn)

	ra := NewLSRA(fn, target, intervals)
	return ra.Run()
}

func NewLSRA(fn *MFunction, target *TargetInfo, intervals *LiveIntervals) *LSRA {
	ra := &LSRA{
		fn:        fn,
		target:    target,
		intervals: intervals,
		states:    make(map[int]*VirtualAllocation),
		spiller:   NewSpiller(),
		result:    AllocationResult{VRegToPhys: make(map[int]PhysReg)},
	}
	ra.buildPools()
	return ra
}

func (ra *LSRA) Run() AllocationResult {
	mr := newMoveResolver(ra, ra.spiller)
	for bi := range ra.fn.Blocks {
		ra.processBlock(&ra.fn.Blocks[bi], mr)
		ra.releaseActiveForBlock()
	}
	ra.result.SpillSlotsGPR = ra.spiller.GprSlots()
	ra.result.SpillSlotsXMM = ra.spiller.XmmSlots()
	return ra.result
}

func (ra *LSRA) buildPools() {
	ra.freeGPR = append(ra.freeGPR, ra.target.CallerSavedGPR...)
	ra.freeGPR = append(ra.freeGPR, ra.target.CalleeSavedGPR...)
	ra.freeGPR = lo.Filter(ra.freeGPR, func(reg PhysReg, _ int) bool {
		return reg != RSP && reg != RBP
	})

	ra.freeXMM = append(ra.freeXMM, ra.target.CallerSavedXMM...)
	ra.freeXMM = append(ra.freeXMM, ra.target.CalleeSavedXMM...)
}

func (ra *LSRA) poolFor(cls RegClass) *[]PhysReg {
	if cls == GPR {
		return &ra.freeGPR
	}
	return &ra.freeXMM
}

func (ra *LSRA) activeFor(cls RegClass) *[]int {
	if cls == GPR {
		return &ra.activeGPR
	}
	return &ra.activeXMM
}

func (ra *LSRA) stateFor(cls RegClass, id int) *VirtualAllocation {
	if state, ok := ra.states[id]; ok {
		utils.Assert(state.Class == cls, "vreg %d reused with different class", id)
		return state
	}
	state := &VirtualAllocation{Class: cls, Spill: SpillPlan{Slot: -1}}
	ra.states[id] = state
	return state
}

func (ra *LSRA) addActive(cls RegClass, id int) {
	active := ra.activeFor(cls)
	if !lo.Contains(*active, id) {
		*active = append(*active, id)
	}
}

// takeRegister pops a register from the free pool, spilling the front of
// the active list when the pool is empty.
func (ra *LSRA) takeRegister(cls RegClass, prefix *[]MInstr) PhysReg {
	pool := ra.poolFor(cls)
	if len(*pool) == 0 {
		ra.spillOne(cls, prefix)
	}
	utils.Assert(len(*pool) > 0, "register pool exhausted")
	reg := (*pool)[0]
	*pool = (*pool)[1:]
	return reg
}

func (ra *LSRA) releaseRegister(phys PhysReg, cls RegClass) {
	pool := ra.poolFor(cls)
	*pool = append(*pool, phys)
}

// spillOne evicts the earliest-added still-live vreg, storing it to a stack
// slot and returning its register to the pool.
func (ra *LSRA) spillOne(cls RegClass, prefix *[]MInstr) {
	active := ra.activeFor(cls)
	if len(*active) == 0 {
		return
	}
	victimId := (*active)[0]
	*active = (*active)[1:]
	victim, ok := ra.states[victimId]
	if !ok || !victim.HasPhys {
		return
	}
	ra.spiller.SpillValue(cls, victimId, victim, ra.poolFor(cls), prefix, &ra.result)
}

func (ra *LSRA) processBlock(block *MBasicBlock, mr *MoveResolver) {
	rewritten := make([]MInstr, 0, len(block.Instrs))

	for _, instr := range block.Instrs {
		if instr.Op == PX_COPY {
			mr.Lower(&instr, &rewritten)
			continue
		}

		var prefix, suffix []MInstr
		var scratch []scratchRelease
		current := instr
		current.Operands = append([]Operand(nil), instr.Operands...)
		roles := classifyOperands(&current)

		for idx := range current.Operands {
			current.Operands[idx] = ra.handleOperand(current.Operands[idx], roles[idx], &prefix, &suffix, &scratch)
		}

		rewritten = append(rewritten, prefix...)
		rewritten = append(rewritten, current)
		rewritten = append(rewritten, suffix...)
		for _, rel := range scratch {
			ra.releaseRegister(rel.phys, rel.cls)
		}
	}

	block.Instrs = rewritten
}

func (ra *LSRA) releaseActiveForBlock() {
	for _, vreg := range ra.activeGPR {
		if state, ok := ra.states[vreg]; ok && state.HasPhys {
			ra.releaseRegister(state.Phys, GPR)
			state.HasPhys = false
		}
	}
	ra.activeGPR = ra.activeGPR[:0]

	for _, vreg := range ra.activeXMM {
		if state, ok := ra.states[vreg]; ok && state.HasPhys {
			ra.releaseRegister(state.Phys, XMMCls)
			state.HasPhys = false
		}
	}
	ra.activeXMM = ra.activeXMM[:0]
}

// classifyOperands maps each operand slot to its use/def role per opcode.
func classifyOperands(instr *MInstr) []operandRole {
	roles := make([]operandRole, len(instr.Operands))
	for i := range roles {
		roles[i] = operandRole{isUse: true}
	}
	setRole := func(idx int, role operandRole) {
		if idx < len(roles) {
			roles[idx] = role
		}
	}
	switch instr.Op {
	case MOVrr, LEA, MOVQrx, MOVUPSmr:
		setRole(0, operandRole{isDef: true})
		setRole(1, operandRole{isUse: true})
	case MOVri:
		setRole(0, operandRole{isDef: true})
	case ADDrr, SUBrr, IMULrr, FADD, FSUB, FMUL, FDIV,
		CMOVNErr, ANDrr, ORrr, XORrr, SHLrc, SHRrc, SARrc,
		ADDOvfrr, SUBOvfrr, IMULOvfrr:
		setRole(0, operandRole{isUse: true, isDef: true})
		setRole(1, operandRole{isUse: true})
	case ADDri, ANDri, ORri, XORri, SHLri, SHRri, SARri:
		setRole(0, operandRole{isUse: true, isDef: true})
	case XORrr32:
		setRole(0, operandRole{isDef: true})
		setRole(1, operandRole{isUse: true})
	case CMPrr, TESTrr, UCOMIS:
		// all uses
	case CMPri:
		setRole(0, operandRole{isUse: true})
	case SETcc:
		setRole(0, operandRole{isUse: true}) // condition immediate
		setRole(1, operandRole{isDef: true})
	case MOVZXrr32, CVTSI2SD, CVTTSD2SI, MOVSDrr, MOVSDmr, MOVUPSrm:
		setRole(0, operandRole{isDef: true})
		setRole(1, operandRole{isUse: true})
	case MOVSDrm:
		setRole(1, operandRole{isUse: true})
	}
	return roles
}

// handleOperand rewrites one operand to its physical register, inserting
// reload/store code around the instruction for spilled values.
func (ra *LSRA) handleOperand(operand Operand, role operandRole,
	prefix, suffix *[]MInstr, scratch *[]scratchRelease) Operand {
	switch op := operand.(type) {
	case Reg:
		return ra.processRegOperand(op, role, prefix, suffix, scratch)
	case Mem:
		base := ra.processRegOperand(op.Base, operandRole{isUse: true}, prefix, suffix, scratch)
		op.Base = base.(Reg)
		if op.HasIndex && !op.Index.Phys {
			index := ra.processRegOperand(op.Index, operandRole{isUse: true}, prefix, suffix, scratch)
			op.Index = index.(Reg)
		}
		return op
	default:
		return operand
	}
}

func (ra *LSRA) processRegOperand(reg Reg, role operandRole,
	prefix, suffix *[]MInstr, scratch *[]scratchRelease) Operand {
	if reg.Phys {
		return reg
	}

	state := ra.stateFor(reg.Class, reg.Id)
	if state.Spill.NeedsSpill {
		ra.spiller.EnsureSpillSlot(state.Class, &state.Spill)
		phys := ra.takeRegister(state.Class, prefix)
		if role.isUse {
			*prefix = append(*prefix, ra.spiller.MakeLoad(state.Class, phys, state.Spill))
		}
		if role.isDef {
			*suffix = append(*suffix, ra.spiller.MakeStore(state.Class, state.Spill, phys))
		}
		*scratch = append(*scratch, scratchRelease{phys: phys, cls: state.Class})
		return NewPhysOperand(state.Class, phys)
	}

	if !state.HasPhys {
		phys := ra.takeRegister(state.Class, prefix)
		state.HasPhys = true
		state.Phys = phys
		ra.addActive(state.Class, reg.Id)
		ra.result.VRegToPhys[reg.Id] = phys
	}

	return NewPhysOperand(state.Class, state.Phys)
}

func (ra *LSRA) makeMove(cls RegClass, dst, src PhysReg) MInstr {
	if cls == GPR {
		return NewInstr(MOVrr, NewPhysOperand(cls, dst), NewPhysOperand(cls, src))
	}
	return NewInstr(MOVSDrr, NewPhysOperand(cls, dst), NewPhysOperand(cls, src))
}
