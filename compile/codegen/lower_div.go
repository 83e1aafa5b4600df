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

import "fmt"

// ------------------------------------------------------------------------------
// Guarded division expansion
//
// Expands the DIVS64rr/REMS64rr/DIVU64rr/REMU64rr pseudos into explicit
// zero-checked CQO+IDIV (or XOR+DIV) sequences. The zero check branches to a
// lazily created trap block shared per function; the remainder of the
// original block moves into a fresh continuation block so program order
// survives the inserted control flow.

const trapDivLabel = ".Ltrap_div0"

// LowerDivRem rewrites every division pseudo in fn.
func LowerDivRem(fn *MFunction) {
	trapIndex := -1
	sequenceId := 0

	ensureTrapBlock := func() {
		if trapIndex >= 0 {
			return
		}
		for idx := range fn.Blocks {
			if fn.Blocks[idx].Label == trapDivLabel {
				trapIndex = idx
				return
			}
		}
		trap := MBasicBlock{Label: trapDivLabel}
		trap.Append(NewInstr(CALL, NewLabel("rt_trap_div0")))
		fn.Blocks = append(fn.Blocks, trap)
		trapIndex = len(fn.Blocks) - 1
	}

	for blockIdx := 0; blockIdx < len(fn.Blocks); blockIdx++ {
		for instrIdx := 0; instrIdx < len(fn.Blocks[blockIdx].Instrs); instrIdx++ {
			candidate := fn.Blocks[blockIdx].Instrs[instrIdx]
			var signed, isDiv bool
			switch candidate.Op {
			case DIVS64rr:
				signed, isDiv = true, true
			case REMS64rr:
				signed, isDiv = true, false
			case DIVU64rr:
				signed, isDiv = false, true
			case REMU64rr:
				signed, isDiv = false, false
			default:
				continue
			}

			if len(candidate.Operands) < 3 {
				continue // expectation: dest, dividend, divisor
			}
			if _, ok := candidate.Operands[0].(Reg); !ok {
				continue
			}
			dividend := candidate.Operands[1]
			divisor := candidate.Operands[2]
			switch dividend.(type) {
			case Reg, Imm:
			default:
				continue
			}
			if _, ok := divisor.(Reg); !ok {
				continue
			}

			ensureTrapBlock()

			block := &fn.Blocks[blockIdx]
			after := MBasicBlock{Label: makeContinuationLabel(fn, block, sequenceId)}
			sequenceId++
			after.Instrs = append(after.Instrs, block.Instrs[instrIdx+1:]...)
			block.Instrs = block.Instrs[:instrIdx]

			dest := candidate.Operands[0]
			rax := NewPhysOperand(GPR, RAX)
			rdx := NewPhysOperand(GPR, RDX)

			block.Append(NewInstr(TESTrr, divisor, divisor))
			block.Append(NewInstr(JCC, NewImm(0), NewLabel(trapDivLabel)))

			if _, ok := dividend.(Imm); ok {
				block.Append(NewInstr(MOVri, rax, dividend))
			} else {
				block.Append(NewInstr(MOVrr, rax, dividend))
			}

			if signed {
				block.Append(NewInstr(CQO))
				block.Append(NewInstr(IDIVrm, divisor))
			} else {
				block.Append(NewInstr(XORrr32, rdx, rdx))
				block.Append(NewInstr(DIVrm, divisor))
			}

			result := rax
			if !isDiv {
				result = rdx
			}
			block.Append(NewInstr(MOVrr, dest, result))
			block.Append(NewInstr(JMP, NewLabel(after.Label)))

			// Splice the continuation right after the current block so the
			// fall-through layout stays readable.
			fn.Blocks = append(fn.Blocks, MBasicBlock{})
			copy(fn.Blocks[blockIdx+2:], fn.Blocks[blockIdx+1:])
			fn.Blocks[blockIdx+1] = after
			if trapIndex > blockIdx {
				trapIndex++
			}

			break // continue scanning in the continuation block
		}
	}
}

func makeContinuationLabel(fn *MFunction, block *MBasicBlock, sequence int) string {
	base := block.Label
	if base == "" {
		base = fn.Name
	}
	if base == "" {
		base = ".Ldiv"
	}
	return fmt.Sprintf("%s.div.%d.after", base, sequence)
}
