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

// ------------------------------------------------------------------------------
// Peepholes
//
// Strictly equivalent local rewrites:
//   MOVri reg, 0 -> XORrr32 reg, reg   (shorter; xorl zero-extends to 64 bit)
//   CMPri reg, 0 -> TESTrr reg, reg
// Both are guarded against downstream flag readers: the MOV rewrite would
// clobber flags MOV preserves, and the CMP rewrite changes nothing for the
// z/s/c-based conditions but is skipped for parity and overflow consumers.
// The pass skips a rewrite whenever it cannot prove safety.

func isZeroImm(operand Operand) bool {
	imm, ok := operand.(Imm)
	return ok && imm.Val == 0
}

func isGprRegOperand(operand Operand) bool {
	reg, ok := operand.(Reg)
	return ok && reg.Class == GPR
}

// definesFlags reports whether an opcode overwrites the status flags.
func definesFlags(op MOpcode) bool {
	switch op {
	case ADDrr, ADDri, SUBrr, IMULrr, ANDrr, ANDri, ORrr, ORri,
		XORrr, XORri, XORrr32, SHLri, SHLrc, SHRri, SHRrc, SARri, SARrc,
		CMPrr, CMPri, TESTrr, UCOMIS, IDIVrm, DIVrm,
		ADDOvfrr, SUBOvfrr, IMULOvfrr:
		return true
	}
	return false
}

// flagConsumersAfter collects the condition codes consumed between index
// and the next flag definition in the block.
func flagConsumersAfter(block *MBasicBlock, index int) []int64 {
	var conds []int64
	for i := index + 1; i < len(block.Instrs); i++ {
		instr := &block.Instrs[i]
		switch instr.Op {
		case JCC, SETcc:
			if len(instr.Operands) > 0 {
				if imm, ok := instr.Operands[0].(Imm); ok {
					conds = append(conds, imm.Val)
				}
			}
		case CMOVNErr:
			conds = append(conds, 1)
		}
		if definesFlags(instr.Op) {
			return conds
		}
	}
	return conds
}

// condDistinctFromZeroSemantics reports whether a condition reads flag
// state that TEST and CMP-against-zero do not agree on.
func condDistinctFromZeroSemantics(cond int64) bool {
	switch cond {
	case 10, 11, 12, 13: // p, np, o, no
		return true
	}
	return false
}

// RunPeepholes applies the local rewrites over fn and returns the number of
// rewrites performed.
func RunPeepholes(fn *MFunction) int {
	rewrites := 0
	for bi := range fn.Blocks {
		block := &fn.Blocks[bi]
		for ii := range block.Instrs {
			instr := &block.Instrs[ii]
			switch instr.Op {
			case MOVri:
				if len(instr.Operands) != 2 {
					break
				}
				if !isGprRegOperand(instr.Operands[0]) || !isZeroImm(instr.Operands[1]) {
					break
				}
				// MOV does not touch flags; XOR does. Skip when anything
				// still reads the pre-MOV flag state.
				if len(flagConsumersAfter(block, ii)) > 0 {
					break
				}
				reg := instr.Operands[0]
				instr.Op = XORrr32
				instr.Operands = []Operand{reg, reg}
				rewrites++
			case CMPri:
				if len(instr.Operands) != 2 {
					break
				}
				if !isGprRegOperand(instr.Operands[0]) || !isZeroImm(instr.Operands[1]) {
					break
				}
				skip := false
				for _, cond := range flagConsumersAfter(block, ii) {
					if condDistinctFromZeroSemantics(cond) {
						skip = true
						break
					}
				}
				if skip {
					break
				}
				reg := instr.Operands[0]
				instr.Op = TESTrr
				instr.Operands = []Operand{reg, reg}
				rewrites++
			}
		}
	}
	return rewrites
}
