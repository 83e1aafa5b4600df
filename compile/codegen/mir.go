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
	"strings"
)

// ------------------------------------------------------------------------------
// Machine IR (MIR)
//
// MIR is the backend's working representation: opcodes close to x86-64
// instructions over operands that may still reference virtual registers.
// Virtual register ids are dense and unique within a function; allocation
// rewrites every occurrence in place to a physical register.

type RegClass int

const (
	GPR RegClass = iota
	XMMCls
)

func (c RegClass) String() string {
	if c == GPR {
		return "gpr"
	}
	return "xmm"
}

// VReg identifies a virtual register allocated by the MIR builder.
type VReg struct {
	Id    int
	Class RegClass
}

// Operand is the sum type over register, immediate, memory, label and
// RIP-relative label operands.
type Operand interface {
	String() string
}

// Reg references a virtual or physical register. Id is a PhysReg value when
// Phys is set, a virtual id otherwise.
type Reg struct {
	Phys  bool
	Class RegClass
	Id    int
}

// Imm is an integer immediate.
type Imm struct {
	Val int64
}

// Mem is a base(+index*scale)+disp memory reference. The base register is
// always in the GPR class.
type Mem struct {
	Base     Reg
	Index    Reg
	HasIndex bool
	Scale    int
	Disp     int32
}

// LabelOp is a symbolic reference used by branches and calls.
type LabelOp struct {
	Name string
}

// RipLabel is a RIP-relative memory reference.
type RipLabel struct {
	Name string
}

func (r Reg) String() string {
	if r.Phys {
		return RegName(PhysReg(r.Id))
	}
	return fmt.Sprintf("%%v%d", r.Id)
}

func (i Imm) String() string {
	return fmt.Sprintf("$%d", i.Val)
}

func (m Mem) String() string {
	str := ""
	if m.Disp != 0 {
		str += fmt.Sprintf("%d", m.Disp)
	}
	str += "(" + m.Base.String()
	if m.HasIndex {
		str += fmt.Sprintf(",%s,%d", m.Index.String(), m.Scale)
	}
	return str + ")"
}

func (l LabelOp) String() string {
	return l.Name
}

func (l RipLabel) String() string {
	return l.Name + "(%rip)"
}

type MOpcode int

const (
	MOVrr MOpcode = iota // move register to register (also reg<->mem forms)
	MOVri                // move immediate to register or memory
	CMOVNErr
	LEA
	ADDrr
	ADDri
	ANDrr
	ANDri
	ORrr
	ORri
	XORrr
	XORri
	SUBrr
	SHLri
	SHLrc
	SHRri
	SHRrc
	SARri
	SARrc
	IMULrr
	DIVS64rr // signed division pseudo (dest, dividend, divisor)
	REMS64rr // signed remainder pseudo
	DIVU64rr // unsigned division pseudo
	REMU64rr // unsigned remainder pseudo
	CQO
	IDIVrm
	DIVrm
	XORrr32
	CMPrr
	CMPri
	SETcc
	MOVZXrr32
	TESTrr
	JMP
	JCC
	LABEL
	CALL
	UD2
	RET
	PX_COPY // parallel-copy pseudo, dst/src pairs
	FADD
	FSUB
	FMUL
	FDIV
	UCOMIS
	CVTSI2SD
	CVTTSD2SI
	MOVQrx
	MOVSDrr
	MOVSDrm // store scalar double to memory
	MOVSDmr // load scalar double from memory
	MOVUPSrm
	MOVUPSmr
	ADDOvfrr  // overflow-checked add pseudo
	SUBOvfrr  // overflow-checked sub pseudo
	IMULOvfrr // overflow-checked imul pseudo
)

var mopcodeNames = map[MOpcode]string{
	MOVrr: "MOVrr", MOVri: "MOVri", CMOVNErr: "CMOVNErr", LEA: "LEA",
	ADDrr: "ADDrr", ADDri: "ADDri", ANDrr: "ANDrr", ANDri: "ANDri",
	ORrr: "ORrr", ORri: "ORri", XORrr: "XORrr", XORri: "XORri",
	SUBrr: "SUBrr", SHLri: "SHLri", SHLrc: "SHLrc", SHRri: "SHRri",
	SHRrc: "SHRrc", SARri: "SARri", SARrc: "SARrc", IMULrr: "IMULrr",
	DIVS64rr: "DIVS64rr", REMS64rr: "REMS64rr", DIVU64rr: "DIVU64rr",
	REMU64rr: "REMU64rr", CQO: "CQO", IDIVrm: "IDIVrm", DIVrm: "DIVrm",
	XORrr32: "XORrr32", CMPrr: "CMPrr", CMPri: "CMPri", SETcc: "SETcc",
	MOVZXrr32: "MOVZXrr32", TESTrr: "TESTrr", JMP: "JMP", JCC: "JCC",
	LABEL: "LABEL", CALL: "CALL", UD2: "UD2", RET: "RET", PX_COPY: "PX_COPY",
	FADD: "FADD", FSUB: "FSUB", FMUL: "FMUL", FDIV: "FDIV", UCOMIS: "UCOMIS",
	CVTSI2SD: "CVTSI2SD", CVTTSD2SI: "CVTTSD2SI", MOVQrx: "MOVQrx",
	MOVSDrr: "MOVSDrr", MOVSDrm: "MOVSDrm", MOVSDmr: "MOVSDmr",
	MOVUPSrm: "MOVUPSrm", MOVUPSmr: "MOVUPSmr",
	ADDOvfrr: "ADDOvfrr", SUBOvfrr: "SUBOvfrr", IMULOvfrr: "IMULOvfrr",
}

func (op MOpcode) String() string {
	if name, ok := mopcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("MOpcode(%d)", int(op))
}

// MInstr is an opcode plus an ordered operand list. The destination, when
// present, is operand 0.
type MInstr struct {
	Op       MOpcode
	Operands []Operand
}

func NewInstr(op MOpcode, operands ...Operand) MInstr {
	return MInstr{Op: op, Operands: operands}
}

func (i MInstr) String() string {
	parts := make([]string, 0, len(i.Operands))
	for _, op := range i.Operands {
		parts = append(parts, op.String())
	}
	return i.Op.String() + " " + strings.Join(parts, ", ")
}

// MBasicBlock is a labelled instruction sequence.
type MBasicBlock struct {
	Label  string
	Instrs []MInstr
}

func (b *MBasicBlock) Append(instr MInstr) {
	b.Instrs = append(b.Instrs, instr)
}

func (b *MBasicBlock) String() string {
	str := b.Label + ":\n"
	for _, instr := range b.Instrs {
		str += "  " + instr.String() + "\n"
	}
	return str
}

// MFunction is a symbol name plus ordered blocks and metadata.
type MFunction struct {
	Name        string
	Blocks      []MBasicBlock
	IsVarArg    bool
	AllocaBytes int // bytes of IL-level locals reserved via alloca

	labelCounter int
}

func (fn *MFunction) AddBlock(block MBasicBlock) *MBasicBlock {
	fn.Blocks = append(fn.Blocks, block)
	return &fn.Blocks[len(fn.Blocks)-1]
}

// MakeLocalLabel mints a function-local unique label with the given prefix.
func (fn *MFunction) MakeLocalLabel(prefix string) string {
	fn.labelCounter++
	return fmt.Sprintf(".L%s_%s_%d", prefix, fn.Name, fn.labelCounter)
}

func (fn *MFunction) String() string {
	str := fn.Name + ":\n"
	for i := range fn.Blocks {
		str += fn.Blocks[i].String()
	}
	return str
}

// ------------------------------------------------------------------------------
// Operand constructors

func NewVRegOperand(cls RegClass, id int) Reg {
	return Reg{Phys: false, Class: cls, Id: id}
}

func NewPhysOperand(cls RegClass, reg PhysReg) Reg {
	return Reg{Phys: true, Class: cls, Id: int(reg)}
}

func NewImm(v int64) Imm {
	return Imm{Val: v}
}

func NewMem(base Reg, disp int32) Mem {
	return Mem{Base: base, Disp: disp, Scale: 1}
}

func NewMemIndex(base, index Reg, scale int, disp int32) Mem {
	return Mem{Base: base, Index: index, HasIndex: true, Scale: scale, Disp: disp}
}

func NewLabel(name string) LabelOp {
	return LabelOp{Name: name}
}

func NewRipLabel(name string) RipLabel {
	return RipLabel{Name: name}
}

// SameRegister reports whether both operands reference the same register.
func SameRegister(a, b Operand) bool {
	ra, ok1 := a.(Reg)
	rb, ok2 := b.(Reg)
	if !ok1 || !ok2 {
		return false
	}
	return ra.Phys == rb.Phys && ra.Class == rb.Class && ra.Id == rb.Id
}

func isImmOperand(op Operand) bool {
	_, ok := op.(Imm)
	return ok
}
