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
)

// ------------------------------------------------------------------------------
// Rule emit callbacks
//
// One small function per IL opcode family; the mechanics live in EmitCommon.

func emitAdd(instr *il.Instr, builder *MIRBuilder) {
	cls := builder.RegClassFor(instr.ResultKind)
	opRR, opRI := ADDrr, ADDri
	if cls == XMMCls {
		opRR, opRI = FADD, FADD
	}
	NewEmitCommon(builder).EmitBinary(instr, opRR, opRI, cls, cls == GPR)
}

func emitSub(instr *il.Instr, builder *MIRBuilder) {
	cls := builder.RegClassFor(instr.ResultKind)
	opRR := SUBrr
	if cls == XMMCls {
		opRR = FSUB
	}
	NewEmitCommon(builder).EmitBinary(instr, opRR, opRR, cls, false)
}

func emitMul(instr *il.Instr, builder *MIRBuilder) {
	cls := builder.RegClassFor(instr.ResultKind)
	opRR := IMULrr
	if cls == XMMCls {
		opRR = FMUL
	}
	NewEmitCommon(builder).EmitBinary(instr, opRR, opRR, cls, false)
}

func emitFDiv(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitBinary(instr, FDIV, FDIV, XMMCls, false)
}

func emitAddOvf(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitBinary(instr, ADDOvfrr, ADDOvfrr, GPR, false)
}

func emitSubOvf(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitBinary(instr, SUBOvfrr, SUBOvfrr, GPR, false)
}

func emitMulOvf(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitBinary(instr, IMULOvfrr, IMULOvfrr, GPR, false)
}

func emitAnd(instr *il.Instr, builder *MIRBuilder) {
	if builder.RegClassFor(instr.ResultKind) == GPR {
		NewEmitCommon(builder).EmitBinary(instr, ANDrr, ANDri, GPR, true)
	}
}

func emitOr(instr *il.Instr, builder *MIRBuilder) {
	if builder.RegClassFor(instr.ResultKind) == GPR {
		NewEmitCommon(builder).EmitBinary(instr, ORrr, ORri, GPR, true)
	}
}

func emitXor(instr *il.Instr, builder *MIRBuilder) {
	if builder.RegClassFor(instr.ResultKind) == GPR {
		NewEmitCommon(builder).EmitBinary(instr, XORrr, XORri, GPR, true)
	}
}

func emitICmp(instr *il.Instr, builder *MIRBuilder) {
	if cond, ok := ICmpConditionCode(instr.Opcode); ok {
		NewEmitCommon(builder).EmitCmp(instr, GPR, cond)
	}
}

func emitFCmp(instr *il.Instr, builder *MIRBuilder) {
	if cond, ok := FCmpConditionCode(instr.Opcode); ok {
		NewEmitCommon(builder).EmitCmp(instr, XMMCls, cond)
	}
}

func emitCmpExplicit(instr *il.Instr, builder *MIRBuilder) {
	cls := builder.RegClassFor(instr.ResultKind)
	if len(instr.Ops) > 0 {
		cls = builder.RegClassFor(instr.Ops[0].Kind)
	}
	NewEmitCommon(builder).EmitCmp(instr, cls, 1)
}

func emitDivFamily(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitDivRem(instr, instr.Opcode)
}

func emitShiftLeft(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitShift(instr, SHLri, SHLrc)
}

func emitShiftLshr(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitShift(instr, SHRri, SHRrc)
}

func emitShiftAshr(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitShift(instr, SARri, SARrc)
}

func emitSelect(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitSelect(instr)
}

func emitBranch(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitBranch(instr)
}

func emitCondBranch(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitCondBranch(instr)
}

func emitReturn(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitReturn(instr)
}

func emitZSTrunc(instr *il.Instr, builder *MIRBuilder) {
	srcKind := instr.ResultKind
	if len(instr.Ops) > 0 {
		srcKind = instr.Ops[0].Kind
	}
	NewEmitCommon(builder).EmitCast(instr, MOVrr,
		builder.RegClassFor(instr.ResultKind), builder.RegClassFor(srcKind))
}

func emitSIToFP(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitCast(instr, CVTSI2SD, XMMCls, GPR)
}

func emitFPToSI(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitCast(instr, CVTTSD2SI, GPR, XMMCls)
}

func emitLoadAuto(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitLoad(instr, builder.RegClassFor(instr.ResultKind))
}

func emitStore(instr *il.Instr, builder *MIRBuilder) {
	NewEmitCommon(builder).EmitStore(instr)
}

// emitCall classifies the arguments into a call plan for the ABI lowering
// pass, appends the CALL, and captures the return value into the result
// vreg.
func emitCall(instr *il.Instr, builder *MIRBuilder) {
	if len(instr.Ops) == 0 {
		return
	}

	plan := &CallLoweringPlan{CalleeLabel: instr.Ops[0].Label}
	plan.IsVarArg = isVarArgCallee(plan.CalleeLabel)
	collectCallArgs(instr, builder, plan)

	if instr.ResultId >= 0 && instr.ResultKind == il.F64 {
		plan.ReturnsF64 = true
	}

	builder.RecordCallPlan(plan)
	builder.Append(NewInstr(CALL, builder.MakeLabelOperand(instr.Ops[0])))
	captureCallResult(instr, builder)
}

// emitCallIndirect is the register-target variant of emitCall.
func emitCallIndirect(instr *il.Instr, builder *MIRBuilder) {
	if len(instr.Ops) == 0 {
		return
	}

	target := builder.MakeOperandForValue(instr.Ops[0], GPR)
	plan := &CallLoweringPlan{Indirect: true}
	collectCallArgs(instr, builder, plan)

	if instr.ResultId >= 0 && instr.ResultKind == il.F64 {
		plan.ReturnsF64 = true
	}

	builder.RecordCallPlan(plan)
	builder.Append(NewInstr(CALL, target))
	captureCallResult(instr, builder)
}

func collectCallArgs(instr *il.Instr, builder *MIRBuilder, plan *CallLoweringPlan) {
	for idx := 1; idx < len(instr.Ops); idx++ {
		argVal := instr.Ops[idx]
		arg := CallArg{Kind: builder.RegClassFor(argVal.Kind)}

		if builder.IsImmediate(argVal) && argVal.Kind != il.F64 && argVal.Kind != il.Str {
			arg.IsImm = true
			arg.Imm = argVal.I64
		} else {
			operand := builder.MakeOperandForValue(argVal, builder.RegClassFor(argVal.Kind))
			switch op := operand.(type) {
			case Reg:
				arg.VReg = op.Id
			case Imm:
				arg.IsImm = true
				arg.Imm = op.Val
			case RipLabel:
				// Float literal: load it into a fresh vreg so the argument
				// move below is a plain register copy.
				tmp := NewEmitCommon(builder).Materialise(op, XMMCls)
				arg.VReg = tmp.(Reg).Id
			}
		}

		plan.Args = append(plan.Args, arg)
	}
}

func captureCallResult(instr *il.Instr, builder *MIRBuilder) {
	if instr.ResultId < 0 {
		return
	}
	destReg := builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	if destReg.Class == XMMCls {
		builder.Append(NewInstr(MOVSDrr, dest, NewPhysOperand(XMMCls, builder.Target().F64ReturnReg)))
	} else {
		builder.Append(NewInstr(MOVrr, dest, NewPhysOperand(GPR, builder.Target().IntReturnReg)))
	}
}

// emitConstStr interns the literal into the read-only pool and calls the
// runtime constructor with its address and byte length.
func emitConstStr(instr *il.Instr, builder *MIRBuilder) {
	if instr.ResultId < 0 || len(instr.Ops) == 0 {
		return
	}
	lit := instr.Ops[0].Str
	idx := builder.RoData().AddString(lit)
	label := builder.RoData().StringLabel(idx)

	ptrReg := NewPhysOperand(GPR, builder.Target().IntArgOrder[0])
	lenReg := NewPhysOperand(GPR, builder.Target().IntArgOrder[1])
	builder.Append(NewInstr(LEA, ptrReg, NewRipLabel(label)))
	builder.Append(NewInstr(MOVri, lenReg, NewImm(int64(builder.RoData().StringByteLength(idx)))))
	builder.Append(NewInstr(CALL, NewLabel("rt_str_from_lit")))

	destReg := builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	builder.Append(NewInstr(MOVrr, dest, NewPhysOperand(GPR, builder.Target().IntReturnReg)))
}

func emitTrap(instr *il.Instr, builder *MIRBuilder) {
	builder.Append(NewInstr(CALL, NewLabel("rt_trap")))
	builder.Append(NewInstr(UD2))
}

// emitAlloca reserves local storage and produces its address.
func emitAlloca(instr *il.Instr, builder *MIRBuilder) {
	if instr.ResultId < 0 || len(instr.Ops) == 0 {
		return
	}
	disp := builder.AllocaSlot(instr.Ops[0].I64)
	destReg := builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	builder.Append(NewInstr(LEA, dest, NewMem(NewPhysOperand(GPR, RBP), disp)))
}

// emitGEP computes base + index via the SIB addressing form.
func emitGEP(instr *il.Instr, builder *MIRBuilder) {
	if instr.ResultId < 0 || len(instr.Ops) < 2 {
		return
	}
	emit := NewEmitCommon(builder)
	base := emit.MaterialiseGpr(builder.MakeOperandForValue(instr.Ops[0], GPR))
	index := emit.MaterialiseGpr(builder.MakeOperandForValue(instr.Ops[1], GPR))
	destReg := builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	builder.Append(NewInstr(LEA, dest, NewMemIndex(base.(Reg), index.(Reg), 1, 0)))
}

// Exception-handling markers lower to nothing at this stage: native codegen
// carries no unwind metadata and the handler block already exists as a
// labelled MIR block.
func emitEhPush(instr *il.Instr, builder *MIRBuilder) {}

func emitEhPop(instr *il.Instr, builder *MIRBuilder) {}

func emitEhEntry(instr *il.Instr, builder *MIRBuilder) {}
