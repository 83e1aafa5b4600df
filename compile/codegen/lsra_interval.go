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
// Live interval analysis
//
// A single forward pass numbers every instruction across the function's
// blocks and records the half-open [start, end) touch range of each virtual
// register, including vregs appearing as memory-operand bases.

type LiveInterval struct {
	VReg  int
	Class RegClass
	Start int
	End   int
}

func (i *LiveInterval) String() string {
	return fmt.Sprintf("v%d: [i%d,i%d)", i.VReg, i.Start, i.End)
}

type LiveIntervals struct {
	intervals map[int]*LiveInterval
}

func NewLiveIntervals() *LiveIntervals {
	return &LiveIntervals{intervals: make(map[int]*LiveInterval)}
}

// Run rebuilds the analysis for fn.
func (li *LiveIntervals) Run(fn *MFunction) {
	li.intervals = make(map[int]*LiveInterval)

	index := 0
	touch := func(id int, cls RegClass) {
		interval, ok := li.intervals[id]
		if !ok {
			li.intervals[id] = &LiveInterval{VReg: id, Class: cls, Start: index, End: index + 1}
			return
		}
		if index < interval.Start {
			interval.Start = index
		}
		if index+1 > interval.End {
			interval.End = index + 1
		}
	}

	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Instrs {
			for _, operand := range fn.Blocks[bi].Instrs[ii].Operands {
				switch op := operand.(type) {
				case Reg:
					if !op.Phys {
						touch(op.Id, op.Class)
					}
				case Mem:
					if !op.Base.Phys {
						touch(op.Base.Id, op.Base.Class)
					}
					if op.HasIndex && !op.Index.Phys {
						touch(op.Index.Id, op.Index.Class)
					}
				}
			}
			index++
		}
	}
}

// Lookup returns the interval for a vreg, or nil when the vreg never
// appears.
func (li *LiveIntervals) Lookup(vreg int) *LiveInterval {
	return li.intervals[vreg]
}

// Count returns the number of distinct virtual registers observed.
func (li *LiveIntervals) Count() int {
	return len(li.intervals)
}
