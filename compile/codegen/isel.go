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

	"viper/utils"
)

// ------------------------------------------------------------------------------
// Instruction selection
//
// Canonicalises operand forms so later passes see a small, legal alphabet:
// immediate folding for add/sub and cmp, boolean normalisation after setcc,
// the CMOV rewrite of the select placeholder, and strength reduction of
// multiplies by 3/5/9 into LEA. Every transformation is a fixed point: a
// second run leaves the function unchanged.

type ISel struct {
	target *TargetInfo
}

func NewISel(target *TargetInfo) *ISel {
	return &ISel{target: target}
}

// Run applies all selection passes in order.
func (sel *ISel) Run(fn *MFunction) {
	sel.LowerArithmetic(fn)
	sel.LowerCompareAndBranch(fn)
	sel.LowerSelect(fn)
	sel.ReduceMulToLea(fn)
}

// LowerArithmetic folds immediate right operands into the RI encodings. A
// SUB with immediate becomes an ADD of the negated constant, except for
// INT64_MIN whose negation would overflow.
func (sel *ISel) LowerArithmetic(fn *MFunction) {
	for bi := range fn.Blocks {
		block := &fn.Blocks[bi]
		for ii := range block.Instrs {
			instr := &block.Instrs[ii]
			if len(instr.Operands) < 2 {
				continue
			}
			switch instr.Op {
			case ADDrr:
				if isImmOperand(instr.Operands[1]) {
					instr.Op = ADDri
				}
			case SUBrr:
				if imm, ok := instr.Operands[1].(Imm); ok {
					if imm.Val == math.MinInt64 {
						break
					}
					instr.Operands[1] = NewImm(-imm.Val)
					instr.Op = ADDri
				}
			}
		}
	}
}

// LowerCompareAndBranch canonicalises compare encodings, guarantees the
// MOVZX widening after every SETcc, and rewrites TEST with an immediate
// operand into CMP against zero.
func (sel *ISel) LowerCompareAndBranch(fn *MFunction) {
	for bi := range fn.Blocks {
		block := &fn.Blocks[bi]
		for ii := 0; ii < len(block.Instrs); ii++ {
			instr := &block.Instrs[ii]
			switch instr.Op {
			case CMPrr, CMPri:
				canonicaliseCmp(instr)
			case SETcc:
				ensureMovzxAfterSetcc(block, ii)
			case TESTrr:
				if len(instr.Operands) >= 2 && isImmOperand(instr.Operands[1]) {
					instr.Op = CMPri
					instr.Operands[1] = NewImm(0)
				}
			}
		}
	}
}

// LowerSelect rewrites the three-instruction select placeholder into
// TEST/MOV/CMOVNE when the destination is a GPR.
func (sel *ISel) LowerSelect(fn *MFunction) {
	for bi := range fn.Blocks {
		block := &fn.Blocks[bi]
		for ii := 0; ii < len(block.Instrs); ii++ {
			if lowerGprSelect(block, ii) {
				ii += 2
				continue
			}
			if block.Instrs[ii].Op == SETcc {
				ensureMovzxAfterSetcc(block, ii)
			}
		}
	}
}

// ReduceMulToLea rewrites IMULrr by a single-use constant 3, 5 or 9 into
// LEA dst, (dst,dst,scale) and erases the feeding MOVri. Overflow-checked
// multiplies are untouched (they are a different opcode).
func (sel *ISel) ReduceMulToLea(fn *MFunction) {
	uses := countVRegUses(fn)
	for bi := range fn.Blocks {
		block := &fn.Blocks[bi]
		for ii := 0; ii < len(block.Instrs); ii++ {
			instr := &block.Instrs[ii]
			if instr.Op != IMULrr || len(instr.Operands) < 2 {
				continue
			}
			dst, ok := instr.Operands[0].(Reg)
			if !ok || dst.Class != GPR {
				continue
			}
			src, ok := instr.Operands[1].(Reg)
			if !ok || src.Phys {
				continue
			}
			// The multiplier must be a single-use constant defined by the
			// closest preceding MOVri of 3, 5 or 9.
			defIdx := -1
			var factor int64
			for j := ii - 1; j >= 0; j-- {
				prev := &block.Instrs[j]
				if len(prev.Operands) == 0 {
					continue
				}
				reg, isReg := prev.Operands[0].(Reg)
				if !isReg || reg.Phys || reg.Id != src.Id {
					continue
				}
				if prev.Op == MOVri && len(prev.Operands) == 2 {
					if imm, isImm := prev.Operands[1].(Imm); isImm {
						defIdx = j
						factor = imm.Val
					}
				}
				break
			}
			if defIdx < 0 || uses[src.Id] != 2 { // the MOVri def plus this use
				continue
			}
			var scale int
			switch factor {
			case 3:
				scale = 2
			case 5:
				scale = 4
			case 9:
				scale = 8
			default:
				continue
			}
			instr.Op = LEA
			instr.Operands = []Operand{dst, NewMemIndex(dst, dst, scale, 0)}
			block.Instrs = append(block.Instrs[:defIdx], block.Instrs[defIdx+1:]...)
			ii--
		}
	}
}

func countVRegUses(fn *MFunction) map[int]int {
	uses := make(map[int]int)
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			for _, op := range fn.Blocks[bi].Instrs[ii].Operands {
				switch o := op.(type) {
				case Reg:
					if !o.Phys {
						uses[o.Id]++
					}
				case Mem:
					if !o.Base.Phys {
						uses[o.Base.Id]++
					}
					if o.HasIndex && !o.Index.Phys {
						uses[o.Index.Id]++
					}
				}
			}
		}
	}
	return uses
}

func canonicaliseCmp(instr *MInstr) {
	if len(instr.Operands) < 2 {
		return
	}
	if instr.Op == CMPrr && isImmOperand(instr.Operands[1]) {
		instr.Op = CMPri
	}
	if instr.Op == CMPri && !isImmOperand(instr.Operands[1]) {
		instr.Op = CMPrr
	}
}

// ensureMovzxAfterSetcc inserts the byte-to-quad widening after a setcc
// unless the next instruction already is that widening.
func ensureMovzxAfterSetcc(block *MBasicBlock, index int) {
	if index >= len(block.Instrs) {
		return
	}
	setcc := &block.Instrs[index]
	var dest Operand
	for _, op := range setcc.Operands {
		if _, ok := op.(Reg); ok {
			dest = op
			break
		}
	}
	if dest == nil {
		return
	}

	if index+1 < len(block.Instrs) {
		next := &block.Instrs[index+1]
		if next.Op == MOVZXrr32 && len(next.Operands) >= 2 &&
			SameRegister(next.Operands[0], dest) && SameRegister(next.Operands[1], dest) {
			return
		}
	}

	block.Instrs = utils.InsertAt(block.Instrs, index+1, NewInstr(MOVZXrr32, dest, dest))
}

// lowerGprSelect matches the MOV(3 operands)/TEST/SETcc placeholder and
// rebuilds it as TEST cond + MOV dst, false + CMOVNE dst, true.
func lowerGprSelect(block *MBasicBlock, index int) bool {
	if index+2 >= len(block.Instrs) {
		return false
	}

	movInstr := &block.Instrs[index]
	if !((movInstr.Op == MOVrr || movInstr.Op == MOVri) && len(movInstr.Operands) >= 3) {
		return false
	}

	destReg, ok := movInstr.Operands[0].(Reg)
	if !ok || destReg.Class != GPR {
		return false
	}

	falseVal := movInstr.Operands[1]
	trueVal := movInstr.Operands[2]
	if isImmOperand(trueVal) {
		return false
	}

	testInstr := &block.Instrs[index+1]
	if testInstr.Op != TESTrr || len(testInstr.Operands) < 2 {
		return false
	}
	if !SameRegister(testInstr.Operands[0], testInstr.Operands[1]) {
		return false
	}

	setccInstr := &block.Instrs[index+2]
	if setccInstr.Op != SETcc {
		return false
	}
	destReferenced := false
	for _, op := range setccInstr.Operands {
		if SameRegister(op, movInstr.Operands[0]) {
			destReferenced = true
			break
		}
	}
	if !destReferenced {
		return false
	}

	movOp := MOVrr
	if isImmOperand(falseVal) {
		movOp = MOVri
	}
	replacement := []MInstr{
		NewInstr(TESTrr, testInstr.Operands[0], testInstr.Operands[1]),
		NewInstr(movOp, movInstr.Operands[0], falseVal),
		NewInstr(CMOVNErr, movInstr.Operands[0], trueVal),
	}

	// Drop the zero-extension LowerCompareAndBranch placed after the
	// placeholder SETcc; it would truncate the selected value to 8 bits.
	tail := index + 3
	if tail < len(block.Instrs) {
		next := &block.Instrs[tail]
		if next.Op == MOVZXrr32 && len(next.Operands) >= 2 &&
			SameRegister(next.Operands[0], movInstr.Operands[0]) &&
			SameRegister(next.Operands[1], movInstr.Operands[0]) {
			tail++
		}
	}
	rest := make([]MInstr, len(block.Instrs[tail:]))
	copy(rest, block.Instrs[tail:])
	block.Instrs = append(block.Instrs[:index], append(replacement, rest...)...)
	return true
}
