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

import "runtime"

// Reference
// https://web.stanford.edu/class/cs107/resources/x86-64-reference.pdf
// https://gitlab.com/x86-psABIs/x86-64-ABI

type PhysReg int

const (
	RAX PhysReg = iota
	RBX
	RCX
	RDX
	RSI
	RDI
	RSP
	RBP
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
	NumPhysRegs
)

// TargetInfo is the static ABI description consumed by allocation, call and
// frame lowering. Instances are immutable after construction.
type TargetInfo struct {
	Name string

	CallerSavedGPR []PhysReg
	CalleeSavedGPR []PhysReg
	CallerSavedXMM []PhysReg
	CalleeSavedXMM []PhysReg

	IntArgOrder []PhysReg
	F64ArgOrder []PhysReg

	IntReturnReg PhysReg
	F64ReturnReg PhysReg

	StackAlignment int
	HasRedZone     bool
	MaxGPRArgs     int
	MaxFPArgs      int
	ShadowSpace    int
}

func (t *TargetInfo) IsWin64() bool {
	return t.Name == "win64"
}

var sysvTargetInstance = TargetInfo{
	Name: "sysv",
	// Allocation pools pop from the front, so argument and division
	// registers sit late in the list: values then tend to land in registers
	// the call and idiv sequences do not clobber.
	CallerSavedGPR: []PhysReg{
		R10, R11, RDI, RSI, RCX, R8, R9, RAX, RDX,
	},
	CalleeSavedGPR: []PhysReg{
		RBX, R12, R13, R14, R15, RBP,
	},
	CallerSavedXMM: []PhysReg{
		XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14, XMM15,
		XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7,
	},
	CalleeSavedXMM: []PhysReg{},
	IntArgOrder: []PhysReg{
		RDI, RSI, RDX, RCX, R8, R9,
	},
	F64ArgOrder: []PhysReg{
		XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6, XMM7,
	},
	IntReturnReg:   RAX,
	F64ReturnReg:   XMM0,
	StackAlignment: 16,
	HasRedZone:     true,
	MaxGPRArgs:     6,
	MaxFPArgs:      8,
	ShadowSpace:    0,
}

var win64TargetInstance = TargetInfo{
	Name: "win64",
	CallerSavedGPR: []PhysReg{
		R10, R11, RCX, RDX, R8, R9, RAX,
	},
	CalleeSavedGPR: []PhysReg{
		RBX, RBP, RDI, RSI, R12, R13, R14, R15,
	},
	CallerSavedXMM: []PhysReg{
		XMM4, XMM5, XMM0, XMM1, XMM2, XMM3,
	},
	CalleeSavedXMM: []PhysReg{
		XMM6, XMM7, XMM8, XMM9, XMM10, XMM11, XMM12, XMM13, XMM14, XMM15,
	},
	IntArgOrder: []PhysReg{
		RCX, RDX, R8, R9,
	},
	F64ArgOrder: []PhysReg{
		XMM0, XMM1, XMM2, XMM3,
	},
	IntReturnReg:   RAX,
	F64ReturnReg:   XMM0,
	StackAlignment: 16,
	HasRedZone:     false,
	MaxGPRArgs:     4,
	MaxFPArgs:      4,
	ShadowSpace:    32,
}

// SysVTarget returns the System V AMD64 target description.
func SysVTarget() *TargetInfo {
	return &sysvTargetInstance
}

// Win64Target returns the Windows x64 target description.
func Win64Target() *TargetInfo {
	return &win64TargetInstance
}

// HostTarget returns the platform-appropriate target description.
func HostTarget() *TargetInfo {
	if runtime.GOOS == "windows" {
		return &win64TargetInstance
	}
	return &sysvTargetInstance
}

func IsGPR(reg PhysReg) bool {
	return reg >= RAX && reg <= R15
}

func IsXMM(reg PhysReg) bool {
	return reg >= XMM0 && reg <= XMM15
}

var regNames = [NumPhysRegs]string{
	"%rax", "%rbx", "%rcx", "%rdx", "%rsi", "%rdi", "%rsp", "%rbp",
	"%r8", "%r9", "%r10", "%r11", "%r12", "%r13", "%r14", "%r15",
	"%xmm0", "%xmm1", "%xmm2", "%xmm3", "%xmm4", "%xmm5", "%xmm6", "%xmm7",
	"%xmm8", "%xmm9", "%xmm10", "%xmm11", "%xmm12", "%xmm13", "%xmm14", "%xmm15",
}

var regNames8 = [16]string{
	"%al", "%bl", "%cl", "%dl", "%sil", "%dil", "%spl", "%bpl",
	"%r8b", "%r9b", "%r10b", "%r11b", "%r12b", "%r13b", "%r14b", "%r15b",
}

var regNames32 = [16]string{
	"%eax", "%ebx", "%ecx", "%edx", "%esi", "%edi", "%esp", "%ebp",
	"%r8d", "%r9d", "%r10d", "%r11d", "%r12d", "%r13d", "%r14d", "%r15d",
}

// RegName returns the AT&T name of a physical register.
func RegName(reg PhysReg) string {
	if reg >= 0 && reg < NumPhysRegs {
		return regNames[reg]
	}
	return "%unknown"
}

// RegName8 returns the low-byte name of a GPR, e.g. RAX -> %al.
func RegName8(reg PhysReg) string {
	if IsGPR(reg) {
		return regNames8[reg]
	}
	return RegName(reg)
}

// RegName32 returns the 32-bit name of a GPR, e.g. RAX -> %eax.
func RegName32(reg PhysReg) string {
	if IsGPR(reg) {
		return regNames32[reg]
	}
	return RegName(reg)
}
