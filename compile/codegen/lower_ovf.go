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

import "viper/utils"

// ------------------------------------------------------------------------------
// Overflow-checked arithmetic expansion
//
// Rewrites ADDOvfrr/SUBOvfrr/IMULOvfrr into the real arithmetic instruction
// followed by a jump-on-overflow to a shared per-function trap block that
// calls rt_trap. The trap block is created up front so block storage is not
// reallocated while rewriting.

// condOverflow is the condition encoding for the "o" suffix.
const condOverflow = 12

// LowerOverflowOps expands every overflow-checked pseudo in fn.
func LowerOverflowOps(fn *MFunction) {
	trapLabel := ".Ltrap_ovf_" + fn.Name

	hasOvf := false
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			switch fn.Blocks[bi].Instrs[ii].Op {
			case ADDOvfrr, SUBOvfrr, IMULOvfrr:
				hasOvf = true
			}
		}
	}
	if !hasOvf {
		return
	}

	trapExists := false
	for bi := range fn.Blocks {
		if fn.Blocks[bi].Label == trapLabel {
			trapExists = true
			break
		}
	}
	if !trapExists {
		trap := MBasicBlock{Label: trapLabel}
		trap.Append(NewInstr(CALL, NewLabel("rt_trap")))
		fn.Blocks = append(fn.Blocks, trap)
	}

	blockCount := len(fn.Blocks) - 1 // exclude the trap block just appended
	for bi := 0; bi < blockCount; bi++ {
		block := &fn.Blocks[bi]
		for ii := 0; ii < len(block.Instrs); ii++ {
			instr := &block.Instrs[ii]
			var realOpc MOpcode
			switch instr.Op {
			case ADDOvfrr:
				realOpc = ADDrr
			case SUBOvfrr:
				realOpc = SUBrr
			case IMULOvfrr:
				realOpc = IMULrr
			default:
				continue
			}
			if len(instr.Operands) < 2 {
				continue
			}

			instr.Op = realOpc
			jo := NewInstr(JCC, NewImm(condOverflow), NewLabel(trapLabel))
			block.Instrs = utils.InsertAt(block.Instrs, ii+1, jo)
			ii++
		}
	}
}
