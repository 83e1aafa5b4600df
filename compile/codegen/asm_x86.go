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
)

// ------------------------------------------------------------------------------
// Assembly emission
//
// Every instruction matches against the encoding table by opcode and operand
// pattern; the matched row carries the mnemonic and the operand order that
// dictates AT&T formatting. Instructions with no matching row emit a comment
// so broken MIR is visible in the output instead of silently dropped.

type OperandKind int

const (
	KindNone OperandKind = iota
	KindReg
	KindImm
	KindMem
	KindLabel
	KindRegOrMem
	KindLabelOrRegOrMem
	KindAny
)

type OperandOrder int

const (
	OrderNone OperandOrder = iota
	OrderDirect
	OrderRR   // binary: src, dst
	OrderRI   // binary: $imm, dst
	OrderRM   // binary: mem, dst (load)
	OrderMR   // binary: src, mem (store)
	OrderShift
	OrderMovzx8 // source prints as the 8-bit register variant
	OrderXor32  // both registers print as the 32-bit variant
	OrderLea
	OrderCall
	OrderJump
	OrderJcc
	OrderSetcc
)

type EncodingRow struct {
	Op       MOpcode
	Mnemonic string
	Order    OperandOrder
	Pattern  []OperandKind
}

var encodingTable = []EncodingRow{
	{MOVrr, "movq", OrderRR, []OperandKind{KindReg, KindReg}},
	{MOVrr, "movq", OrderRR, []OperandKind{KindReg, KindMem}},
	{MOVrr, "movq", OrderRR, []OperandKind{KindMem, KindReg}},
	{MOVri, "movq", OrderRI, []OperandKind{KindReg, KindImm}},
	{MOVri, "movq", OrderRI, []OperandKind{KindMem, KindImm}},
	{CMOVNErr, "cmovne", OrderRR, []OperandKind{KindReg, KindReg}},
	{LEA, "leaq", OrderLea, []OperandKind{KindReg, KindAny}},
	{ADDrr, "addq", OrderRR, []OperandKind{KindReg, KindReg}},
	{ADDri, "addq", OrderRI, []OperandKind{KindReg, KindImm}},
	{ANDrr, "andq", OrderRR, []OperandKind{KindReg, KindReg}},
	{ANDri, "andq", OrderRI, []OperandKind{KindReg, KindImm}},
	{ORrr, "orq", OrderRR, []OperandKind{KindReg, KindReg}},
	{ORri, "orq", OrderRI, []OperandKind{KindReg, KindImm}},
	{XORrr, "xorq", OrderRR, []OperandKind{KindReg, KindReg}},
	{XORri, "xorq", OrderRI, []OperandKind{KindReg, KindImm}},
	{SUBrr, "subq", OrderRR, []OperandKind{KindReg, KindReg}},
	{SHLri, "shlq", OrderRI, []OperandKind{KindReg, KindImm}},
	{SHLrc, "shlq", OrderShift, []OperandKind{KindReg, KindReg}},
	{SHRri, "shrq", OrderRI, []OperandKind{KindReg, KindImm}},
	{SHRrc, "shrq", OrderShift, []OperandKind{KindReg, KindReg}},
	{SARri, "sarq", OrderRI, []OperandKind{KindReg, KindImm}},
	{SARrc, "sarq", OrderShift, []OperandKind{KindReg, KindReg}},
	{IMULrr, "imulq", OrderRR, []OperandKind{KindReg, KindReg}},
	{CQO, "cqto", OrderNone, nil},
	{IDIVrm, "idivq", OrderDirect, []OperandKind{KindRegOrMem}},
	{DIVrm, "divq", OrderDirect, []OperandKind{KindRegOrMem}},
	{XORrr32, "xorl", OrderXor32, []OperandKind{KindReg, KindReg}},
	{CMPrr, "cmpq", OrderRR, []OperandKind{KindReg, KindReg}},
	{CMPri, "cmpq", OrderRI, []OperandKind{KindReg, KindImm}},
	{SETcc, "set", OrderSetcc, []OperandKind{KindImm, KindRegOrMem}},
	{MOVZXrr32, "movzbq", OrderMovzx8, []OperandKind{KindReg, KindReg}},
	{TESTrr, "testq", OrderRR, []OperandKind{KindReg, KindReg}},
	{JMP, "jmp", OrderJump, []OperandKind{KindLabelOrRegOrMem}},
	{JCC, "j", OrderJcc, []OperandKind{KindImm, KindLabelOrRegOrMem}},
	{CALL, "callq", OrderCall, []OperandKind{KindAny}},
	{UD2, "ud2", OrderNone, nil},
	{RET, "ret", OrderNone, nil},
	{FADD, "addsd", OrderRR, []OperandKind{KindReg, KindReg}},
	{FSUB, "subsd", OrderRR, []OperandKind{KindReg, KindReg}},
	{FMUL, "mulsd", OrderRR, []OperandKind{KindReg, KindReg}},
	{FDIV, "divsd", OrderRR, []OperandKind{KindReg, KindReg}},
	{UCOMIS, "ucomisd", OrderRR, []OperandKind{KindReg, KindReg}},
	{CVTSI2SD, "cvtsi2sdq", OrderRR, []OperandKind{KindReg, KindReg}},
	{CVTTSD2SI, "cvttsd2siq", OrderRR, []OperandKind{KindReg, KindReg}},
	{MOVQrx, "movq", OrderRR, []OperandKind{KindReg, KindReg}},
	{MOVSDrr, "movsd", OrderRR, []OperandKind{KindReg, KindReg}},
	{MOVSDrm, "movsd", OrderRR, []OperandKind{KindMem, KindReg}},
	{MOVSDmr, "movsd", OrderRR, []OperandKind{KindReg, KindMem}},
	{MOVUPSrm, "movups", OrderRR, []OperandKind{KindMem, KindReg}},
	{MOVUPSmr, "movups", OrderRR, []OperandKind{KindReg, KindMem}},
}

func matchesOperandKind(kind OperandKind, operand Operand) bool {
	switch kind {
	case KindNone:
		return false
	case KindReg:
		_, ok := operand.(Reg)
		return ok
	case KindImm:
		_, ok := operand.(Imm)
		return ok
	case KindMem:
		switch operand.(type) {
		case Mem, RipLabel:
			return true
		}
		return false
	case KindLabel:
		_, ok := operand.(LabelOp)
		return ok
	case KindRegOrMem:
		switch operand.(type) {
		case Reg, Mem:
			return true
		}
		return false
	case KindLabelOrRegOrMem:
		switch operand.(type) {
		case LabelOp, RipLabel, Reg, Mem:
			return true
		}
		return false
	case KindAny:
		return true
	}
	return false
}

func matchesPattern(pattern []OperandKind, operands []Operand) bool {
	if len(pattern) != len(operands) {
		return false
	}
	for i, kind := range pattern {
		if !matchesOperandKind(kind, operands[i]) {
			return false
		}
	}
	return true
}

// FindEncoding returns the first row matching the opcode and operand shape.
func FindEncoding(op MOpcode, operands []Operand) *EncodingRow {
	for i := range encodingTable {
		row := &encodingTable[i]
		if row.Op != op {
			continue
		}
		if matchesPattern(row.Pattern, operands) {
			return row
		}
	}
	return nil
}

// AsmEmitter turns allocated Machine IR into AT&T assembly text. It borrows
// the module's literal pool; the pool outlives the emitter.
type AsmEmitter struct {
	pool *RoDataPool
}

func NewAsmEmitter(pool *RoDataPool) *AsmEmitter {
	return &AsmEmitter{pool: pool}
}

func (asm *AsmEmitter) RoDataPool() *RoDataPool {
	return asm.pool
}

// EmitFunction writes .text, the global symbol, the entry block without a
// redundant label, then every remaining block behind its label.
func (asm *AsmEmitter) EmitFunction(sb *strings.Builder, fn *MFunction) {
	sb.WriteString(".text\n")
	sb.WriteString(".globl " + fn.Name + "\n")
	sb.WriteString(fn.Name + ":\n")

	for i := range fn.Blocks {
		block := &fn.Blocks[i]
		isEntry := i == 0 && block.Label == fn.Name
		if isEntry {
			for ii := range block.Instrs {
				asm.emitInstruction(sb, &block.Instrs[ii])
			}
		} else {
			asm.emitBlock(sb, block)
		}
		if i+1 < len(fn.Blocks) {
			sb.WriteByte('\n')
		}
	}
}

// EmitRoData appends the module's .rodata section when non-empty.
func (asm *AsmEmitter) EmitRoData(sb *strings.Builder) {
	if asm.pool != nil && !asm.pool.Empty() {
		asm.pool.Emit(sb)
	}
}

func (asm *AsmEmitter) emitBlock(sb *strings.Builder, block *MBasicBlock) {
	if block.Label != "" {
		sb.WriteString(SanitizeLabel(block.Label) + ":\n")
	}
	for ii := range block.Instrs {
		asm.emitInstruction(sb, &block.Instrs[ii])
	}
}

func (asm *AsmEmitter) emitInstruction(sb *strings.Builder, instr *MInstr) {
	if instr.Op == LABEL {
		if len(instr.Operands) == 0 {
			sb.WriteString(".L?\n")
			return
		}
		if label, ok := instr.Operands[0].(LabelOp); ok {
			sb.WriteString(SanitizeLabel(label.Name) + ":\n")
		} else {
			sb.WriteString("# <invalid label>\n")
		}
		return
	}

	if instr.Op == PX_COPY {
		// A surviving parallel copy is a diagnostic, not executable code.
		sb.WriteString("  # px_copy")
		for i, operand := range instr.Operands {
			if i == 0 {
				sb.WriteString(" " + formatOperand(operand))
			} else {
				sb.WriteString(", " + formatOperand(operand))
			}
		}
		sb.WriteByte('\n')
		return
	}

	row := FindEncoding(instr.Op, instr.Operands)
	if row == nil {
		sb.WriteString("  # <unknown opcode " + instr.Op.String() + ">\n")
		return
	}

	asm.emitFromRow(sb, row, instr.Operands)
}

func (asm *AsmEmitter) emitFromRow(sb *strings.Builder, row *EncodingRow, operands []Operand) {
	sb.WriteString("  " + row.Mnemonic)

	writeBinary := func(src, dst string) {
		sb.WriteString(" " + src + ", " + dst + "\n")
	}

	switch row.Order {
	case OrderNone:
		sb.WriteByte('\n')

	case OrderDirect:
		if len(operands) == 0 {
			sb.WriteByte('\n')
			return
		}
		parts := make([]string, 0, len(operands))
		for _, operand := range operands {
			parts = append(parts, formatOperand(operand))
		}
		sb.WriteString(" " + strings.Join(parts, ", ") + "\n")

	case OrderRR, OrderRI, OrderRM, OrderMR:
		if len(operands) < 2 {
			sb.WriteString(" #<missing>\n")
			return
		}
		writeBinary(formatOperand(operands[1]), formatOperand(operands[0]))

	case OrderShift:
		if len(operands) < 2 {
			sb.WriteString(" #<missing>\n")
			return
		}
		writeBinary(formatShiftCount(operands[1]), formatOperand(operands[0]))

	case OrderMovzx8:
		if len(operands) < 2 {
			sb.WriteString(" #<missing>\n")
			return
		}
		dst, okDst := operands[0].(Reg)
		src, okSrc := operands[1].(Reg)
		if !okDst || !okSrc {
			sb.WriteString(" #<invalid>\n")
			return
		}
		writeBinary(formatReg8(src), formatReg(dst))

	case OrderXor32:
		if len(operands) < 2 {
			sb.WriteString(" #<missing>\n")
			return
		}
		dst, okDst := operands[0].(Reg)
		src, okSrc := operands[1].(Reg)
		if !okDst || !okSrc {
			sb.WriteString(" #<invalid>\n")
			return
		}
		writeBinary(formatReg32(src), formatReg32(dst))

	case OrderLea:
		if len(operands) < 2 {
			sb.WriteString(" #<missing>\n")
			return
		}
		writeBinary(formatLeaSource(operands[1]), formatOperand(operands[0]))

	case OrderCall:
		if len(operands) == 0 {
			sb.WriteString(" #<missing>\n")
			return
		}
		sb.WriteString(" " + formatCallTarget(operands[0]) + "\n")

	case OrderJump:
		if len(operands) == 0 {
			sb.WriteString(" #<missing>\n")
			return
		}
		target := operands[0]
		if _, ok := target.(LabelOp); ok {
			sb.WriteString(" " + formatOperand(target) + "\n")
		} else {
			sb.WriteString(" *" + formatOperand(target) + "\n")
		}

	case OrderJcc:
		var cond int64
		var target Operand
		haveCond := false
		for _, operand := range operands {
			if imm, ok := operand.(Imm); ok && !haveCond {
				cond = imm.Val
				haveCond = true
				continue
			}
			if target == nil {
				target = operand
			}
		}
		sb.WriteString(conditionSuffix(cond) + " ")
		if target == nil {
			sb.WriteString("#<missing>\n")
			return
		}
		if _, ok := target.(LabelOp); ok {
			sb.WriteString(formatOperand(target) + "\n")
		} else {
			sb.WriteString("*" + formatOperand(target) + "\n")
		}

	case OrderSetcc:
		var cond int64
		var dest Operand
		haveCond := false
		for _, operand := range operands {
			if imm, ok := operand.(Imm); ok && !haveCond {
				cond = imm.Val
				haveCond = true
				continue
			}
			if dest == nil {
				switch operand.(type) {
				case Reg, Mem:
					dest = operand
				}
			}
		}
		sb.WriteString(conditionSuffix(cond) + " ")
		if dest == nil {
			sb.WriteString("#<missing>\n")
			return
		}
		if reg, ok := dest.(Reg); ok {
			sb.WriteString(formatReg8(reg) + "\n")
		} else {
			sb.WriteString(formatOperand(dest) + "\n")
		}

	default:
		sb.WriteByte('\n')
	}
}
