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
	"strings"

	"viper/compile/il"
)

// ------------------------------------------------------------------------------
// Backend facade
//
// Per-function pipeline, run in a fixed sequence:
//   IL->MIR lowering -> call lowering -> instruction selection ->
//   guarded div/ovf expansion -> linear-scan allocation -> frame lowering ->
//   peepholes -> emission
// The module entry points thread one read-only data pool through every
// function and append the .rodata section at the end.

type CodegenOptions struct {
	ATTSyntax     bool
	OptimizeLevel int
	Target        *TargetInfo
}

func DefaultOptions() CodegenOptions {
	return CodegenOptions{ATTSyntax: true, OptimizeLevel: 1}
}

type CodegenResult struct {
	AsmText     string
	Diagnostics string
}

func syntaxWarning(options CodegenOptions) string {
	if !options.ATTSyntax {
		return "only AT&T syntax emission is implemented\n"
	}
	return ""
}

// runFunctionPipeline lowers one IL function to allocated, framed MIR.
func runFunctionPipeline(ilFunc *il.Function, lowering *LowerILToMIR,
	target *TargetInfo, options CodegenOptions) (*MFunction, FrameInfo) {
	fn := lowering.Lower(ilFunc)

	frame := FrameInfo{}
	LowerCalls(fn, lowering.CallPlans(), target, &frame)

	isel := NewISel(target)
	isel.Run(fn)

	LowerDivRem(fn)
	LowerOverflowOps(fn)

	allocResult := Allocate(fn, target)
	VerifyAllocated(fn)

	AssignSpillSlots(fn, target, &frame)
	if allocResult.SpillSlotsGPR*kSlotSizeBytes > frame.SpillAreaGPR {
		frame.SpillAreaGPR = allocResult.SpillSlotsGPR * kSlotSizeBytes
	}
	if allocResult.SpillSlotsXMM*kSlotSizeBytes > frame.SpillAreaXMM {
		frame.SpillAreaXMM = allocResult.SpillSlotsXMM * kSlotSizeBytes
	}

	InsertPrologueEpilogue(fn, target, &frame)

	if options.OptimizeLevel >= 1 {
		RunPeepholes(fn)
	}

	return fn, frame
}

func emitModuleImpl(funcs []il.Function, globals []il.Global, options CodegenOptions) CodegenResult {
	var asmOut, diagOut strings.Builder

	diagOut.WriteString(syntaxWarning(options))

	target := options.Target
	if target == nil {
		target = SysVTarget()
	}

	pool := NewRoDataPool()
	lowering := NewLowerILToMIR(target, pool)
	emitter := NewAsmEmitter(pool)

	for _, g := range globals {
		pool.AddGlobal(g.Name, g.Data)
	}

	for index := range funcs {
		fn, _ := runFunctionPipeline(&funcs[index], lowering, target, options)
		emitter.EmitFunction(&asmOut, fn)
		if index+1 < len(funcs) {
			asmOut.WriteByte('\n')
		}
	}

	emitter.EmitRoData(&asmOut)

	return CodegenResult{AsmText: asmOut.String(), Diagnostics: diagOut.String()}
}

// EmitModule translates every function in declaration order and appends the
// module's read-only data section.
func EmitModule(mod *il.Module, options CodegenOptions) CodegenResult {
	return emitModuleImpl(mod.Funcs, mod.Globals, options)
}

// EmitFunction is the single-function convenience wrapper.
func EmitFunction(fn *il.Function, options CodegenOptions) CodegenResult {
	return emitModuleImpl([]il.Function{*fn}, nil, options)
}
