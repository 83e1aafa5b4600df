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
	"strings"

	"viper/compile/il"
)

// ------------------------------------------------------------------------------
// EmitCommon
//
// Shared lowering helpers used by the rule emit callbacks: operand
// materialisation, canonical binary ops, shifts, compares, selects, branches,
// returns, loads/stores, casts and the division pseudos. Centralising these
// keeps the opcode-specific emitters focused on opcode selection.

type EmitCommon struct {
	builder *MIRBuilder
}

func NewEmitCommon(builder *MIRBuilder) EmitCommon {
	return EmitCommon{builder: builder}
}

func fitsImm32(v int64) bool {
	return v >= math.MinInt32 && v <= math.MaxInt32
}

// Materialise forces an operand into a register of the requested class.
// Registers pass through; immediates move, labels LEA, float pool references
// load via movsd.
func (e EmitCommon) Materialise(operand Operand, cls RegClass) Operand {
	if _, ok := operand.(Reg); ok {
		return operand
	}

	tmp := e.builder.MakeTempVReg(cls)
	tmpOp := NewVRegOperand(tmp.Class, tmp.Id)

	switch src := operand.(type) {
	case Imm:
		e.builder.Append(NewInstr(MOVri, tmpOp, src))
	case LabelOp:
		e.builder.Append(NewInstr(LEA, tmpOp, src))
	case RipLabel:
		if cls == XMMCls {
			e.builder.Append(NewInstr(MOVSDmr, tmpOp, src))
		} else {
			e.builder.Append(NewInstr(LEA, tmpOp, src))
		}
	case Mem:
		if cls == XMMCls {
			e.builder.Append(NewInstr(MOVSDmr, tmpOp, src))
		} else {
			e.builder.Append(NewInstr(MOVrr, tmpOp, src))
		}
	default:
		e.builder.Append(NewInstr(MOVrr, tmpOp, operand))
	}
	return tmpOp
}

func (e EmitCommon) MaterialiseGpr(operand Operand) Operand {
	return e.Materialise(operand, GPR)
}

// moveInto copies src into dest choosing the mov form by operand kind.
func (e EmitCommon) moveInto(dest Operand, src Operand, cls RegClass) {
	switch s := src.(type) {
	case Imm:
		e.builder.Append(NewInstr(MOVri, dest, s))
	case RipLabel:
		if cls == XMMCls {
			e.builder.Append(NewInstr(MOVSDmr, dest, s))
		} else {
			e.builder.Append(NewInstr(LEA, dest, s))
		}
	default:
		if cls == XMMCls {
			e.builder.Append(NewInstr(MOVSDrr, dest, src))
		} else {
			e.builder.Append(NewInstr(MOVrr, dest, src))
		}
	}
}

// EmitBinary lowers a two-operand arithmetic or logical op: move LHS into
// the destination, then apply the op with RHS, folding immediates into the
// RI form when the encoding allows it.
func (e EmitCommon) EmitBinary(instr *il.Instr, opcRR, opcRI MOpcode, cls RegClass, requireImm32 bool) {
	if instr.ResultId < 0 || len(instr.Ops) < 2 {
		return
	}

	destReg := e.builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	lhs := e.builder.MakeOperandForValue(instr.Ops[0], cls)
	rhs := e.builder.MakeOperandForValue(instr.Ops[1], cls)

	e.moveInto(dest, lhs, cls)

	canUseImm := false
	if opcRI != opcRR {
		if imm, ok := rhs.(Imm); ok {
			canUseImm = !requireImm32 || fitsImm32(imm.Val)
		}
	}

	if canUseImm {
		e.builder.Append(NewInstr(opcRI, dest, rhs))
		return
	}

	rhsReg := e.Materialise(rhs, cls)
	e.builder.Append(NewInstr(opcRR, dest, rhsReg))
}

// EmitShift lowers shl/lshr/ashr: immediate counts are masked to 6 bits and
// use the immediate form, variable counts go through %cl.
func (e EmitCommon) EmitShift(instr *il.Instr, opcImm, opcReg MOpcode) {
	if instr.ResultId < 0 || len(instr.Ops) < 2 {
		return
	}

	destReg := e.builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	lhs := e.builder.MakeOperandForValue(instr.Ops[0], destReg.Class)
	e.moveInto(dest, lhs, destReg.Class)

	rhs := e.builder.MakeOperandForValue(instr.Ops[1], destReg.Class)
	if imm, ok := rhs.(Imm); ok {
		masked := int64(uint8(imm.Val))
		e.builder.Append(NewInstr(opcImm, dest, NewImm(masked)))
		return
	}

	cl := NewPhysOperand(GPR, RCX)
	alreadyCl := false
	if reg, ok := rhs.(Reg); ok {
		alreadyCl = reg.Phys && reg.Class == GPR && reg.Id == int(RCX)
	}
	if !alreadyCl {
		e.builder.Append(NewInstr(MOVrr, cl, rhs))
	}
	e.builder.Append(NewInstr(opcReg, dest, cl))
}

// EmitCmp lowers a comparison: flags-only when the result is unused,
// otherwise a SETcc materialises the 0/1 value into the result vreg.
func (e EmitCommon) EmitCmp(instr *il.Instr, cls RegClass, defaultCond int) {
	if len(instr.Ops) < 2 {
		return
	}

	condCode := defaultCond
	if len(instr.Ops) > 2 {
		condOperand := e.builder.MakeOperandForValue(instr.Ops[2], GPR)
		if imm, ok := condOperand.(Imm); ok {
			condCode = int(imm.Val)
		}
	}

	lhs := e.builder.MakeOperandForValue(instr.Ops[0], cls)
	rhs := e.builder.MakeOperandForValue(instr.Ops[1], cls)

	if cls == XMMCls {
		lhs = e.Materialise(lhs, cls)
		rhs = e.Materialise(rhs, cls)
		e.builder.Append(NewInstr(UCOMIS, lhs, rhs))
	} else {
		lhs = e.Materialise(lhs, cls)
		e.builder.Append(NewInstr(CMPrr, lhs, rhs))
	}

	if instr.ResultId < 0 {
		return
	}

	destReg := e.builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	e.builder.Append(NewInstr(SETcc, NewImm(int64(condCode)), dest))
}

// EmitSelect lowers select via the MOV/TEST/SETcc placeholder that
// instruction selection later rewrites into TEST/MOV/CMOVNE for the GPR
// case. The placeholder MOV carries the true value as a third operand.
func (e EmitCommon) EmitSelect(instr *il.Instr) {
	if instr.ResultId < 0 || len(instr.Ops) < 3 {
		return
	}

	destReg := e.builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	cond := e.builder.MakeOperandForValue(instr.Ops[0], GPR)
	trueVal := e.builder.MakeOperandForValue(instr.Ops[1], destReg.Class)
	falseVal := e.builder.MakeOperandForValue(instr.Ops[2], destReg.Class)

	cond = e.Materialise(cond, GPR)

	if destReg.Class == GPR {
		cmovSource := trueVal
		if _, ok := cmovSource.(Imm); ok {
			tmp := e.builder.MakeTempVReg(destReg.Class)
			cmovSource = NewVRegOperand(tmp.Class, tmp.Id)
			e.builder.Append(NewInstr(MOVri, cmovSource, trueVal))
		}

		if _, falseIsImm := falseVal.(Imm); falseIsImm {
			e.builder.Append(NewInstr(MOVri, dest, falseVal, cmovSource))
		} else {
			e.builder.Append(NewInstr(MOVrr, dest, falseVal, cmovSource))
		}
		e.builder.Append(NewInstr(TESTrr, cond, cond))
		e.builder.Append(NewInstr(SETcc, NewImm(1), dest))
		return
	}

	trueVal = e.Materialise(trueVal, destReg.Class)
	falseVal = e.Materialise(falseVal, destReg.Class)
	e.builder.Append(NewInstr(MOVSDrr, dest, falseVal, trueVal))
	e.builder.Append(NewInstr(TESTrr, cond, cond))
	e.builder.Append(NewInstr(SETcc, NewImm(1), dest))
}

func (e EmitCommon) EmitBranch(instr *il.Instr) {
	if len(instr.Ops) == 0 {
		return
	}
	e.builder.Append(NewInstr(JMP, e.builder.MakeLabelOperand(instr.Ops[0])))
}

func (e EmitCommon) EmitCondBranch(instr *il.Instr) {
	if len(instr.Ops) < 3 {
		return
	}

	cond := e.builder.MakeOperandForValue(instr.Ops[0], GPR)
	cond = e.Materialise(cond, GPR)
	trueLabel := e.builder.MakeLabelOperand(instr.Ops[1])
	falseLabel := e.builder.MakeLabelOperand(instr.Ops[2])

	e.builder.Append(NewInstr(TESTrr, cond, cond))
	e.builder.Append(NewInstr(JCC, NewImm(1), trueLabel))
	e.builder.Append(NewInstr(JMP, falseLabel))
}

// EmitReturn moves the value into the ABI return register, widening boolean
// results via MOVZX, then emits RET.
func (e EmitCommon) EmitReturn(instr *il.Instr) {
	if len(instr.Ops) == 0 {
		e.builder.Append(NewInstr(RET))
		return
	}

	retVal := instr.Ops[0]
	cls := e.builder.RegClassFor(retVal.Kind)
	src := e.builder.MakeOperandForValue(retVal, cls)

	if retVal.Kind == il.I1 {
		if imm, ok := src.(Imm); ok {
			v := int64(0)
			if imm.Val != 0 {
				v = 1
			}
			src = NewImm(v)
		}
	}

	srcReg := e.Materialise(src, cls)

	if retVal.Kind == il.I1 {
		if reg, ok := srcReg.(Reg); ok && !reg.Phys {
			zx := e.builder.MakeTempVReg(GPR)
			zxOp := NewVRegOperand(zx.Class, zx.Id)
			e.builder.Append(NewInstr(MOVZXrr32, zxOp, srcReg))
			srcReg = zxOp
		}
	}

	if cls == XMMCls {
		retReg := NewPhysOperand(XMMCls, e.builder.Target().F64ReturnReg)
		e.builder.Append(NewInstr(MOVSDrr, retReg, srcReg))
	} else {
		retReg := NewPhysOperand(GPR, e.builder.Target().IntReturnReg)
		e.builder.Append(NewInstr(MOVrr, retReg, srcReg))
	}

	e.builder.Append(NewInstr(RET))
}

// EmitLoad lowers a load through a base register plus optional displacement.
func (e EmitCommon) EmitLoad(instr *il.Instr, cls RegClass) {
	if instr.ResultId < 0 || len(instr.Ops) == 0 {
		return
	}

	baseOp := e.builder.MakeOperandForValue(instr.Ops[0], GPR)
	baseReg, ok := baseOp.(Reg)
	if !ok {
		return
	}

	var disp int32
	if len(instr.Ops) > 1 {
		disp = int32(instr.Ops[1].I64)
	}
	destReg := e.builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)
	mem := NewMem(baseReg, disp)

	if cls == GPR {
		e.builder.Append(NewInstr(MOVrr, dest, mem))
	} else {
		e.builder.Append(NewInstr(MOVSDmr, dest, mem))
	}
}

// EmitStore lowers a store of a register or immediate through a base
// register plus optional displacement.
func (e EmitCommon) EmitStore(instr *il.Instr) {
	if len(instr.Ops) < 2 {
		return
	}

	value := e.builder.MakeOperandForValue(instr.Ops[0], e.builder.RegClassFor(instr.Ops[0].Kind))
	baseOp := e.builder.MakeOperandForValue(instr.Ops[1], GPR)
	baseReg, ok := baseOp.(Reg)
	if !ok {
		return
	}
	var disp int32
	if len(instr.Ops) > 2 {
		disp = int32(instr.Ops[2].I64)
	}
	mem := NewMem(baseReg, disp)

	switch v := value.(type) {
	case Reg:
		if v.Class == XMMCls {
			e.builder.Append(NewInstr(MOVSDrm, mem, v))
		} else {
			e.builder.Append(NewInstr(MOVrr, mem, v))
		}
	case RipLabel:
		tmp := e.Materialise(v, XMMCls)
		e.builder.Append(NewInstr(MOVSDrm, mem, tmp))
	default:
		e.builder.Append(NewInstr(MOVri, mem, value))
	}
}

// EmitCast lowers zext/sext/trunc (pure moves at 64-bit width) and the
// int<->double conversions.
func (e EmitCommon) EmitCast(instr *il.Instr, opc MOpcode, dstCls, srcCls RegClass) {
	if instr.ResultId < 0 || len(instr.Ops) == 0 {
		return
	}

	src := e.builder.MakeOperandForValue(instr.Ops[0], srcCls)
	destReg := e.builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)

	if opc == MOVrr {
		e.moveInto(dest, src, dstCls)
		return
	}
	if _, ok := src.(Imm); ok {
		e.builder.Append(NewInstr(MOVri, dest, src))
		return
	}
	src = e.Materialise(src, srcCls)
	e.builder.Append(NewInstr(opc, dest, src))
}

// EmitDivRem emits the division pseudo for later guarded expansion.
func (e EmitCommon) EmitDivRem(instr *il.Instr, opcode string) {
	if instr.ResultId < 0 || len(instr.Ops) < 2 {
		return
	}

	destReg := e.builder.EnsureVReg(instr.ResultId, instr.ResultKind)
	dest := NewVRegOperand(destReg.Class, destReg.Id)

	dividend := e.builder.MakeOperandForValue(instr.Ops[0], GPR)
	divisor := e.builder.MakeOperandForValue(instr.Ops[1], GPR)

	switch dividend.(type) {
	case Reg, Imm:
	default:
		dividend = e.MaterialiseGpr(dividend)
	}
	divisor = e.MaterialiseGpr(divisor)

	var pseudo MOpcode
	switch opcode {
	case "div", "sdiv":
		pseudo = DIVS64rr
	case "rem", "srem":
		pseudo = REMS64rr
	case "udiv":
		pseudo = DIVU64rr
	default:
		pseudo = REMU64rr
	}

	e.builder.Append(NewInstr(pseudo, dest, dividend, divisor))
}

// ICmpConditionCode maps icmp_* opcodes to the backend condition encoding.
func ICmpConditionCode(opcode string) (int, bool) {
	suffix, ok := strings.CutPrefix(opcode, "icmp_")
	if !ok {
		return 0, false
	}
	switch suffix {
	case "eq":
		return 0, true
	case "ne":
		return 1, true
	case "slt":
		return 2, true
	case "sle":
		return 3, true
	case "sgt":
		return 4, true
	case "sge":
		return 5, true
	case "ugt":
		return 6, true
	case "uge":
		return 7, true
	case "ult":
		return 8, true
	case "ule":
		return 9, true
	}
	return 0, false
}

// FCmpConditionCode maps fcmp_* opcodes to the backend condition encoding.
func FCmpConditionCode(opcode string) (int, bool) {
	suffix, ok := strings.CutPrefix(opcode, "fcmp_")
	if !ok {
		return 0, false
	}
	switch suffix {
	case "eq":
		return 0, true
	case "ne":
		return 1, true
	case "lt":
		return 2, true
	case "le":
		return 3, true
	case "gt":
		return 4, true
	case "ge":
		return 5, true
	}
	return 0, false
}
