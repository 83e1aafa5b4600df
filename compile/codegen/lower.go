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
	"viper/compile/il"
	"viper/utils"
)

// ------------------------------------------------------------------------------
// IL -> MIR lowering
//
// Each IL instruction is dispatched through the rule table and translated
// into one or more MIR instructions. SSA ids map 1:1 to virtual registers;
// block parameters are transferred across edges via PX_COPY pseudos that the
// register allocator resolves into moves.

// allocaBias marks %rbp displacements that refer to the alloca area rather
// than a spill-slot placeholder. Frame lowering rewrites both.
const allocaBias = 1 << 20

type blockInfo struct {
	index      int
	paramVRegs []VReg
}

type LowerILToMIR struct {
	target *TargetInfo
	roData *RoDataPool

	nextVReg     int
	valueToVReg  map[int]VReg
	blockInfo    map[string]*blockInfo
	callPlans    []*CallLoweringPlan
	allocaOffset int
}

func NewLowerILToMIR(target *TargetInfo, roData *RoDataPool) *LowerILToMIR {
	return &LowerILToMIR{target: target, roData: roData}
}

// CallPlans returns the call-lowering plans recorded by the last Lower call.
func (l *LowerILToMIR) CallPlans() []*CallLoweringPlan {
	return l.callPlans
}

func (l *LowerILToMIR) resetFunctionState() {
	l.nextVReg = 1
	l.valueToVReg = make(map[int]VReg)
	l.blockInfo = make(map[string]*blockInfo)
	l.callPlans = nil
	l.allocaOffset = 0
}

func regClassFor(kind il.Kind) RegClass {
	switch kind {
	case il.F64:
		return XMMCls
	default:
		// Integers, booleans, pointers, labels and string pointers all live
		// in the GPR file.
		return GPR
	}
}

func (l *LowerILToMIR) ensureVReg(id int, kind il.Kind) VReg {
	utils.Assert(id >= 0, "SSA value without identifier")
	if vreg, ok := l.valueToVReg[id]; ok {
		utils.Assert(vreg.Class == regClassFor(kind), "SSA id %d reused with new type", id)
		return vreg
	}
	vreg := VReg{Id: l.nextVReg, Class: regClassFor(kind)}
	l.nextVReg++
	l.valueToVReg[id] = vreg
	return vreg
}

func (l *LowerILToMIR) makeTempVReg(cls RegClass) VReg {
	vreg := VReg{Id: l.nextVReg, Class: cls}
	l.nextVReg++
	return vreg
}

// Lower translates an IL function into Machine IR.
func (l *LowerILToMIR) Lower(fn *il.Function) *MFunction {
	l.resetFunctionState()

	result := &MFunction{Name: fn.Name, IsVarArg: fn.IsVarArg}
	result.Blocks = make([]MBasicBlock, 0, len(fn.Blocks))

	for idx := range fn.Blocks {
		ilBlock := &fn.Blocks[idx]
		info := &blockInfo{index: idx}
		for p := 0; p < len(ilBlock.ParamIds) && p < len(ilBlock.ParamKinds); p++ {
			if ilBlock.ParamIds[p] >= 0 {
				info.paramVRegs = append(info.paramVRegs,
					l.ensureVReg(ilBlock.ParamIds[p], ilBlock.ParamKinds[p]))
			}
		}
		l.blockInfo[ilBlock.Name] = info
		result.AddBlock(MBasicBlock{Label: ilBlock.Name})
	}

	for idx := range fn.Blocks {
		ilBlock := &fn.Blocks[idx]
		builder := &MIRBuilder{lower: l, fn: result, block: &result.Blocks[idx], blockIdx: idx}

		if idx == 0 {
			l.marshalEntryParams(ilBlock, builder)
		}

		for i := range ilBlock.Instrs {
			instr := &ilBlock.Instrs[i]
			rule := lookupRule(instr)
			if rule == nil {
				utils.Fatal("no lowering rule for IL opcode %q", instr.Opcode)
			}
			rule.Emit(instr, builder)
		}

		l.emitEdgeCopies(ilBlock, builder)
	}

	VerifyMIR(result)
	return result
}

// marshalEntryParams copies the ABI argument registers into the entry-block
// parameter vregs. Register arguments follow the target order; overflow
// arguments load from the caller frame above the saved %rbp and return
// address.
func (l *LowerILToMIR) marshalEntryParams(entry *il.Block, builder *MIRBuilder) {
	gprUsed, xmmUsed, stackIdx := 0, 0, 0
	for p := 0; p < len(entry.ParamIds) && p < len(entry.ParamKinds); p++ {
		if entry.ParamIds[p] < 0 {
			continue
		}
		vreg := l.ensureVReg(entry.ParamIds[p], entry.ParamKinds[p])
		dest := NewVRegOperand(vreg.Class, vreg.Id)
		if vreg.Class == XMMCls {
			if xmmUsed < l.target.MaxFPArgs {
				src := NewPhysOperand(XMMCls, l.target.F64ArgOrder[xmmUsed])
				xmmUsed++
				builder.Append(NewInstr(MOVSDrr, dest, src))
			} else {
				disp := int32(16 + 8*stackIdx)
				stackIdx++
				builder.Append(NewInstr(MOVSDmr, dest, NewMem(NewPhysOperand(GPR, RBP), disp)))
			}
			continue
		}
		if gprUsed < l.target.MaxGPRArgs {
			src := NewPhysOperand(GPR, l.target.IntArgOrder[gprUsed])
			gprUsed++
			builder.Append(NewInstr(MOVrr, dest, src))
		} else {
			disp := int32(16 + 8*stackIdx)
			stackIdx++
			builder.Append(NewInstr(MOVrr, dest, NewMem(NewPhysOperand(GPR, RBP), disp)))
		}
	}
}

// emitEdgeCopies materialises the PX_COPY pseudos that ferry block arguments
// to successor parameters. The pseudo is inserted before the block's
// terminator branch run so the copies execute on the way out.
func (l *LowerILToMIR) emitEdgeCopies(source *il.Block, builder *MIRBuilder) {
	var operands []Operand
	seen := make(map[int]int) // destination vreg -> source vreg
	for _, edge := range source.Edges {
		info, ok := l.blockInfo[edge.To]
		if !ok || len(info.paramVRegs) == 0 || len(edge.ArgIds) == 0 {
			continue
		}
		params := info.paramVRegs
		for idx := 0; idx < len(params) && idx < len(edge.ArgIds); idx++ {
			src, ok := l.valueToVReg[edge.ArgIds[idx]]
			if !ok {
				continue
			}
			// Two edges into the same successor (a cbr with one target)
			// repeat the pair; emit it once. Conflicting sources for one
			// destination make the parallel copy meaningless.
			if prev, dup := seen[params[idx].Id]; dup {
				utils.Assert(prev == src.Id,
					"conflicting parallel-copy sources for v%d", params[idx].Id)
				continue
			}
			seen[params[idx].Id] = src.Id
			operands = append(operands,
				NewVRegOperand(params[idx].Class, params[idx].Id),
				NewVRegOperand(src.Class, src.Id))
		}
	}
	if len(operands) == 0 {
		return
	}

	block := builder.block
	pos := len(block.Instrs)
	for pos > 0 {
		op := block.Instrs[pos-1].Op
		if op == JMP || op == JCC || op == RET {
			pos--
			continue
		}
		break
	}
	block.Instrs = utils.InsertAt(block.Instrs, pos, NewInstr(PX_COPY, operands...))
}

// ------------------------------------------------------------------------------
// MIRBuilder
//
// Thin facade handed to the rule emit callbacks. It exposes vreg allocation,
// operand materialisation, and the append position of the current block.

type MIRBuilder struct {
	lower    *LowerILToMIR
	fn       *MFunction
	block    *MBasicBlock
	blockIdx int
}

func (b *MIRBuilder) Append(instr MInstr) {
	b.block.Append(instr)
}

func (b *MIRBuilder) Target() *TargetInfo {
	return b.lower.target
}

func (b *MIRBuilder) RoData() *RoDataPool {
	return b.lower.roData
}

func (b *MIRBuilder) RegClassFor(kind il.Kind) RegClass {
	return regClassFor(kind)
}

func (b *MIRBuilder) EnsureVReg(id int, kind il.Kind) VReg {
	return b.lower.ensureVReg(id, kind)
}

func (b *MIRBuilder) MakeTempVReg(cls RegClass) VReg {
	return b.lower.makeTempVReg(cls)
}

func (b *MIRBuilder) IsImmediate(value il.Value) bool {
	return value.IsImmediate()
}

// MakeOperandForValue builds the MIR operand for an IL value: label values
// become label operands, value references reuse their vreg, integer
// immediates become Imm, and float immediates intern into the literal pool
// as RIP-relative references.
func (b *MIRBuilder) MakeOperandForValue(value il.Value, cls RegClass) Operand {
	if value.Kind == il.Label {
		return b.MakeLabelOperand(value)
	}
	if !value.IsImmediate() {
		vreg := b.EnsureVReg(value.Id, value.Kind)
		return NewVRegOperand(vreg.Class, vreg.Id)
	}
	switch value.Kind {
	case il.I64, il.I1, il.Ptr:
		return NewImm(value.I64)
	case il.F64:
		idx := b.RoData().AddF64(value.F64)
		return NewRipLabel(b.RoData().F64Label(idx))
	}
	utils.ShouldNotReachHere()
	return nil
}

func (b *MIRBuilder) MakeLabelOperand(value il.Value) Operand {
	utils.Assert(value.Kind == il.Label, "label operand expected")
	return NewLabel(value.Label)
}

// RecordCallPlan stamps the plan with the pending CALL position and stores
// it for the ABI lowering pass.
func (b *MIRBuilder) RecordCallPlan(plan *CallLoweringPlan) {
	plan.BlockIdx = b.blockIdx
	plan.InstrIdx = len(b.block.Instrs)
	b.lower.callPlans = append(b.lower.callPlans, plan)
}

// AllocaSlot reserves size bytes of local storage and returns the biased
// %rbp displacement that frame lowering later rewrites to the final slot.
func (b *MIRBuilder) AllocaSlot(size int64) int32 {
	bytes := utils.RoundUp(int(size), 8)
	b.lower.allocaOffset += bytes
	b.fn.AllocaBytes = b.lower.allocaOffset
	return int32(-(allocaBias + b.lower.allocaOffset))
}
