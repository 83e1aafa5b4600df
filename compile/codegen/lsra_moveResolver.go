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
// Parallel-copy resolution
//
// A PX_COPY bundle declares (dst, src) pairs to execute as if simultaneously.
// The resolver lowers it to scalar moves: pairs whose destination is not a
// pending source emit first; when no pair can emit, a cycle exists and is
// broken by moving the cycle's source into a scratch register and redirecting
// the pending readers. Memory-to-memory transfers route through a scratch.

type copySourceKind int

const (
	copyFromReg copySourceKind = iota
	copyFromMem
)

type copySource struct {
	kind copySourceKind
	reg  PhysReg
	slot int
}

type copyDestKind int

const (
	copyToReg copyDestKind = iota
	copyToMem
)

type copyTask struct {
	cls      RegClass
	destKind copyDestKind
	destReg  PhysReg
	destSlot int
	src      copySource
}

type MoveResolver struct {
	ra      *LSRA
	spiller *Spiller
}

func newMoveResolver(ra *LSRA, spiller *Spiller) *MoveResolver {
	return &MoveResolver{ra: ra, spiller: spiller}
}

// Lower expands one PX_COPY pseudo into executable moves appended to out.
func (mr *MoveResolver) Lower(instr *MInstr, out *[]MInstr) {
	var prefix []MInstr
	var scratch []scratchRelease
	var tasks []copyTask

	for i := 0; i+1 < len(instr.Operands); i += 2 {
		dstReg, ok1 := instr.Operands[i].(Reg)
		srcReg, ok2 := instr.Operands[i+1].(Reg)
		if !ok1 || !ok2 {
			continue // register pairs only
		}

		task := copyTask{cls: dstReg.Class}

		if dstReg.Phys {
			task.destKind = copyToReg
			task.destReg = PhysReg(dstReg.Id)
		} else {
			dstState := mr.ra.stateFor(dstReg.Class, dstReg.Id)
			if dstState.Spill.NeedsSpill {
				mr.spiller.EnsureSpillSlot(dstState.Class, &dstState.Spill)
				task.destKind = copyToMem
				task.destSlot = dstState.Spill.Slot
			} else {
				if !dstState.HasPhys {
					phys := mr.ra.takeRegister(dstState.Class, &prefix)
					dstState.HasPhys = true
					dstState.Phys = phys
					mr.ra.addActive(dstState.Class, dstReg.Id)
					mr.ra.result.VRegToPhys[dstReg.Id] = phys
				}
				task.destKind = copyToReg
				task.destReg = dstState.Phys
			}
		}

		if srcReg.Phys {
			task.src = copySource{kind: copyFromReg, reg: PhysReg(srcReg.Id)}
		} else {
			srcState := mr.ra.stateFor(srcReg.Class, srcReg.Id)
			if srcState.Spill.NeedsSpill {
				mr.spiller.EnsureSpillSlot(srcState.Class, &srcState.Spill)
				scratchReg := mr.ra.takeRegister(srcState.Class, &prefix)
				prefix = append(prefix, mr.spiller.MakeLoad(srcState.Class, scratchReg, srcState.Spill))
				scratch = append(scratch, scratchRelease{phys: scratchReg, cls: srcState.Class})
				task.src = copySource{kind: copyFromReg, reg: scratchReg}
			} else {
				if !srcState.HasPhys {
					phys := mr.ra.takeRegister(srcState.Class, &prefix)
					srcState.HasPhys = true
					srcState.Phys = phys
					mr.ra.addActive(srcState.Class, srcReg.Id)
					mr.ra.result.VRegToPhys[srcReg.Id] = phys
				}
				task.src = copySource{kind: copyFromReg, reg: srcState.Phys}
			}
		}

		tasks = append(tasks, task)
	}

	*out = append(*out, prefix...)

	var generated []MInstr
	for len(tasks) > 0 {
		progress := false
		for i := 0; i < len(tasks); i++ {
			task := tasks[i]
			canEmit := false
			switch {
			case task.destKind == copyToMem:
				canEmit = true
			default:
				// A pair may emit once its destination is not the source of
				// any unresolved pair.
				destIsSource := false
				for j, other := range tasks {
					if j == i {
						continue
					}
					if other.src.kind == copyFromReg && other.src.reg == task.destReg {
						destIsSource = true
						break
					}
				}
				canEmit = !destIsSource ||
					(task.src.kind == copyFromReg && task.destReg == task.src.reg)
			}

			if !canEmit {
				continue
			}

			mr.emitCopyTask(task, &generated)
			tasks = append(tasks[:i], tasks[i+1:]...)
			progress = true
			break
		}

		if progress {
			continue
		}

		// Cycle: pick a reg->reg pair, stash its source in a scratch and
		// redirect every pending reader of that source.
		cycleIdx := -1
		for i, t := range tasks {
			if t.destKind == copyToReg && t.src.kind == copyFromReg {
				cycleIdx = i
				break
			}
		}
		if cycleIdx < 0 {
			break
		}

		cycleTask := tasks[cycleIdx]
		srcReg := cycleTask.src.reg

		var tmpPrefix []MInstr
		temp := mr.ra.takeRegister(cycleTask.cls, &tmpPrefix)
		generated = append(generated, tmpPrefix...)
		generated = append(generated, mr.ra.makeMove(cycleTask.cls, temp, srcReg))
		for i := range tasks {
			if tasks[i].src.kind == copyFromReg && tasks[i].src.reg == srcReg {
				tasks[i].src.reg = temp
			}
		}
		scratch = append(scratch, scratchRelease{phys: temp, cls: cycleTask.cls})
	}

	*out = append(*out, generated...)

	for _, rel := range scratch {
		mr.ra.releaseRegister(rel.phys, rel.cls)
	}
}

func (mr *MoveResolver) emitCopyTask(task copyTask, generated *[]MInstr) {
	if task.destKind == copyToMem {
		if task.src.kind == copyFromReg {
			*generated = append(*generated,
				mr.spiller.MakeStore(task.cls, SpillPlan{NeedsSpill: true, Slot: task.destSlot}, task.src.reg))
		} else {
			var tmpPrefix []MInstr
			tmp := mr.ra.takeRegister(task.cls, &tmpPrefix)
			*generated = append(*generated, tmpPrefix...)
			*generated = append(*generated,
				mr.spiller.MakeLoad(task.cls, tmp, SpillPlan{NeedsSpill: true, Slot: task.src.slot}),
				mr.spiller.MakeStore(task.cls, SpillPlan{NeedsSpill: true, Slot: task.destSlot}, tmp))
			mr.ra.releaseRegister(tmp, task.cls)
		}
		return
	}

	if task.src.kind == copyFromReg {
		*generated = append(*generated, mr.ra.makeMove(task.cls, task.destReg, task.src.reg))
	} else {
		*generated = append(*generated,
			mr.spiller.MakeLoad(task.cls, task.destReg, SpillPlan{NeedsSpill: true, Slot: task.src.slot}))
	}
}
