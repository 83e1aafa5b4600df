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
// MIR verification
//
// Structural invariants checked after construction and after allocation.
// Violations are contract errors and abort via assertion.

// VerifyMIR checks freshly lowered MIR: PX_COPY operands pair up, branch
// targets resolve to block labels in the same function, and memory bases
// stay in the GPR class.
func VerifyMIR(fn *MFunction) {
	labels := utils.NewSet[string]()
	for bi := range fn.Blocks {
		labels.Add(fn.Blocks[bi].Label)
	}

	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			instr := &fn.Blocks[bi].Instrs[ii]
			switch instr.Op {
			case PX_COPY:
				utils.Assert(len(instr.Operands)%2 == 0,
					"PX_COPY operands must pair up in %s", fn.Name)
				verifyParallelCopyDests(instr, fn.Name)
			case JMP, JCC:
				for _, operand := range instr.Operands {
					if label, ok := operand.(LabelOp); ok {
						utils.Assert(labels.Contains(label.Name),
							"branch to unknown label %q in %s", label.Name, fn.Name)
					}
				}
			}
			for _, operand := range instr.Operands {
				if mem, ok := operand.(Mem); ok {
					utils.Assert(mem.Base.Class == GPR,
						"memory base must be a GPR in %s", fn.Name)
				}
			}
		}
	}
}

// verifyParallelCopyDests checks that no virtual register is written twice
// by one PX_COPY bundle; parallel-copy semantics require distinct
// destinations.
func verifyParallelCopyDests(instr *MInstr, fnName string) {
	maxId := 0
	for i := 0; i+1 < len(instr.Operands); i += 2 {
		if reg, ok := instr.Operands[i].(Reg); ok && !reg.Phys && reg.Id > maxId {
			maxId = reg.Id
		}
	}
	written := utils.NewBitMap(maxId + 1)
	for i := 0; i+1 < len(instr.Operands); i += 2 {
		reg, ok := instr.Operands[i].(Reg)
		if !ok || reg.Phys {
			continue
		}
		utils.Assert(!written.IsSet(reg.Id),
			"PX_COPY writes v%d twice in %s", reg.Id, fnName)
		written.Set(reg.Id)
	}
}

// VerifyAllocated checks post-allocation MIR: no operand references a
// virtual register and no PX_COPY pseudo survives. The bitmap collects any
// surviving vreg ids for the diagnostic.
func VerifyAllocated(fn *MFunction) {
	maxId := 0
	collect := func(reg Reg) {
		if !reg.Phys && reg.Id > maxId {
			maxId = reg.Id
		}
	}
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			for _, operand := range fn.Blocks[bi].Instrs[ii].Operands {
				switch op := operand.(type) {
				case Reg:
					collect(op)
				case Mem:
					collect(op.Base)
					if op.HasIndex {
						collect(op.Index)
					}
				}
			}
		}
	}

	surviving := utils.NewBitMap(maxId + 1)
	found := false
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			instr := &fn.Blocks[bi].Instrs[ii]
			utils.Assert(instr.Op != PX_COPY, "PX_COPY survived allocation in %s", fn.Name)
			for _, operand := range instr.Operands {
				switch op := operand.(type) {
				case Reg:
					if !op.Phys {
						surviving.Set(op.Id)
						found = true
					}
				case Mem:
					if !op.Base.Phys {
						surviving.Set(op.Base.Id)
						found = true
					}
					if op.HasIndex && !op.Index.Phys {
						surviving.Set(op.Index.Id)
						found = true
					}
				}
			}
		}
	}
	utils.Assert(!found, "virtual registers survived allocation in %s: %s", fn.Name, surviving)
}
