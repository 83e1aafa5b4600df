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
	"fmt"

	"github.com/samber/lo"
	"viper/utils"
)

// ------------------------------------------------------------------------------
// Call lowering
//
// Each call site gets a plan during IL->MIR lowering; this pass materialises
// the ABI-conforming argument moves around the recorded CALL: register
// arguments in target order, overflow arguments in 8-byte stack slots, and
// dynamic padding so the stack is 16-byte aligned at the call instruction.

const kSlotSizeBytes = 8

const (
	scratchGPR = R11
	scratchXMM = XMM15
)

// EnableCallAlignmentChecks inserts a UD2-guarded %rsp alignment self-test
// before every call. Debug aid, off by default.
var EnableCallAlignmentChecks = false

// varArgCallees names the runtime entry points with variadic signatures;
// SysV requires %rax to carry the count of XMM registers used.
var varArgCallees = []string{"rt_snprintf", "rt_sb_printf"}

func isVarArgCallee(name string) bool {
	return lo.Contains(varArgCallees, name) || lo.Contains(varArgCallees, runtimeSymbol(name))
}

// CallArg describes one classified call argument.
type CallArg struct {
	Kind  RegClass
	IsImm bool
	Imm   int64
	VReg  int
}

// CallLoweringPlan records a call site's arguments and placement.
type CallLoweringPlan struct {
	CalleeLabel string
	Args        []CallArg
	IsVarArg    bool
	ReturnsF64  bool
	Indirect    bool

	BlockIdx int
	InstrIdx int
}

var callAlignmentCheckCounter = 0

// LowerCalls expands every recorded call plan in fn. Plans are processed per
// block in descending instruction order so earlier insertions do not shift
// later call positions.
func LowerCalls(fn *MFunction, plans []*CallLoweringPlan, target *TargetInfo, frame *FrameInfo) {
	for i := len(plans) - 1; i >= 0; i-- {
		lowerOneCall(fn, plans[i], target, frame)
	}
}

func lowerOneCall(fn *MFunction, plan *CallLoweringPlan, target *TargetInfo, frame *FrameInfo) {
	block := &fn.Blocks[plan.BlockIdx]
	utils.Assert(plan.InstrIdx < len(block.Instrs), "call plan index out of range")
	utils.Assert(block.Instrs[plan.InstrIdx].Op == CALL, "call plan does not point at a CALL")

	// Pre-scan: total bytes of stack-passed arguments for this call.
	gprSeen, xmmSeen, stackBytesTotal := 0, 0, 0
	for _, arg := range plan.Args {
		if arg.Kind == GPR {
			if gprSeen < target.MaxGPRArgs {
				gprSeen++
			} else {
				stackBytesTotal += kSlotSizeBytes
			}
		} else {
			if xmmSeen < target.MaxFPArgs {
				xmmSeen++
			} else {
				stackBytesTotal += kSlotSizeBytes
			}
		}
	}
	stackBytesTotal += target.ShadowSpace

	// The outgoing argument area is reserved inside the frame and the frame
	// rounds to the full stack alignment, so %rsp is already aligned at the
	// call boundary and the dynamic padding resolves to zero. The
	// insert/restore mechanism below stays for layouts where the reserved
	// area stops absorbing the alignment residue.
	reserved := utils.RoundUp(stackBytesTotal, target.StackAlignment)
	padBytes := reserved % target.StackAlignment

	rsp := NewPhysOperand(GPR, RSP)
	var seq []MInstr
	if padBytes != 0 {
		seq = append(seq, NewInstr(ADDri, rsp, NewImm(int64(-padBytes))))
	}

	gprUsed, xmmUsed, stackBytes := 0, 0, target.ShadowSpace
	for _, arg := range plan.Args {
		if arg.Kind == GPR {
			if gprUsed < target.MaxGPRArgs {
				dest := NewPhysOperand(GPR, target.IntArgOrder[gprUsed])
				gprUsed++
				switch {
				case arg.IsImm:
					seq = append(seq, NewInstr(MOVri, dest, NewImm(arg.Imm)))
				case isI1Value(block, plan.InstrIdx, arg.VReg):
					seq = append(seq, NewInstr(MOVZXrr32, dest, NewVRegOperand(GPR, arg.VReg)))
				default:
					seq = append(seq, NewInstr(MOVrr, dest, NewVRegOperand(GPR, arg.VReg)))
				}
			} else {
				dest := NewMem(NewPhysOperand(GPR, RSP), int32(stackBytes))
				stackBytes += kSlotSizeBytes
				scratch := NewPhysOperand(GPR, scratchGPR)
				switch {
				case arg.IsImm:
					seq = append(seq,
						NewInstr(MOVri, scratch, NewImm(arg.Imm)),
						NewInstr(MOVrr, dest, scratch))
				case isI1Value(block, plan.InstrIdx, arg.VReg):
					seq = append(seq,
						NewInstr(MOVZXrr32, scratch, NewVRegOperand(GPR, arg.VReg)),
						NewInstr(MOVrr, dest, scratch))
				default:
					seq = append(seq, NewInstr(MOVrr, dest, NewVRegOperand(GPR, arg.VReg)))
				}
			}
			continue
		}

		if xmmUsed < target.MaxFPArgs {
			dest := NewPhysOperand(XMMCls, target.F64ArgOrder[xmmUsed])
			xmmUsed++
			if arg.IsImm {
				scratch := NewPhysOperand(GPR, scratchGPR)
				seq = append(seq,
					NewInstr(MOVri, scratch, NewImm(arg.Imm)),
					NewInstr(CVTSI2SD, dest, scratch))
			} else {
				seq = append(seq, NewInstr(MOVSDrr, dest, NewVRegOperand(XMMCls, arg.VReg)))
			}
		} else {
			dest := NewMem(NewPhysOperand(GPR, RSP), int32(stackBytes))
			stackBytes += kSlotSizeBytes
			if arg.IsImm {
				scratchG := NewPhysOperand(GPR, scratchGPR)
				scratchX := NewPhysOperand(XMMCls, scratchXMM)
				seq = append(seq,
					NewInstr(MOVri, scratchG, NewImm(arg.Imm)),
					NewInstr(CVTSI2SD, scratchX, scratchG),
					NewInstr(MOVSDrm, dest, scratchX))
			} else {
				seq = append(seq, NewInstr(MOVSDrm, dest, NewVRegOperand(XMMCls, arg.VReg)))
			}
		}
	}

	if frame.OutgoingArgArea < utils.RoundUp(stackBytes, kSlotSizeBytes) {
		frame.OutgoingArgArea = utils.RoundUp(stackBytes, kSlotSizeBytes)
	}

	// SysV varargs: %rax carries the number of XMM registers used.
	if plan.IsVarArg && !target.IsWin64() {
		rax := NewPhysOperand(GPR, RAX)
		seq = append(seq, NewInstr(MOVri, rax, NewImm(int64(xmmUsed))))
	}

	if EnableCallAlignmentChecks {
		okLabel := fmt.Sprintf(".Lcall_ok_%d", callAlignmentCheckCounter)
		callAlignmentCheckCounter++
		rax := NewPhysOperand(GPR, RAX)
		seq = append(seq,
			NewInstr(MOVrr, rax, rsp),
			NewInstr(ANDri, rax, NewImm(15)),
			NewInstr(TESTrr, rax, rax),
			NewInstr(JCC, NewImm(0), NewLabel(okLabel)),
			NewInstr(UD2),
			NewInstr(LABEL, NewLabel(okLabel)))
	}

	block.Instrs = utils.InsertAllAt(block.Instrs, plan.InstrIdx, seq)

	if padBytes != 0 {
		afterCall := plan.InstrIdx + len(seq) + 1
		block.Instrs = utils.InsertAt(block.Instrs, afterCall,
			NewInstr(ADDri, rsp, NewImm(int64(padBytes))))
	}
}

// isI1Value scans backwards from searchLimit for a SETcc defining vreg; any
// other definition ends the search. SETcc producers need the MOVZX widening
// when passed as arguments.
//
// The opcode role table decides whether an instruction actually writes its
// leading operand: flags-only instructions such as TEST and CMP re-read
// their operands, so a TESTrr over the boolean (a select or cbr emits one)
// must not terminate the search.
func isI1Value(block *MBasicBlock, searchLimit int, vreg int) bool {
	if searchLimit > len(block.Instrs) {
		searchLimit = len(block.Instrs)
	}
	for i := searchLimit - 1; i >= 0; i-- {
		instr := &block.Instrs[i]
		if len(instr.Operands) == 0 {
			continue
		}
		if instr.Op == SETcc {
			if len(instr.Operands) > 1 {
				if reg, ok := instr.Operands[1].(Reg); ok && !reg.Phys && reg.Id == vreg {
					return true
				}
			}
			continue
		}
		roles := classifyOperands(instr)
		if !roles[0].isDef {
			continue
		}
		if reg, ok := instr.Operands[0].(Reg); ok && !reg.Phys && reg.Id == vreg {
			return false
		}
	}
	return false
}
