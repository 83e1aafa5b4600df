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
// Lowering rule table
//
// Each rule binds an IL opcode (exact or prefix match) to an operand shape
// and an emit callback. Dispatch probes the exact-match index first, then
// scans the prefix rules. The table is built once and never mutated.

type OperandKindPattern int

const (
	PatAny OperandKindPattern = iota
	PatValue
	PatLabel
	PatImm
)

const variadicArity = 0xFF

// OperandShape constrains arity and per-position operand kinds.
type OperandShape struct {
	MinArity int
	MaxArity int
	Kinds    []OperandKindPattern
}

type RuleSpec struct {
	Opcode string
	Shape  OperandShape
	Prefix bool
	Emit   func(*il.Instr, *MIRBuilder)
	Name   string
}

func binaryShape() OperandShape {
	return OperandShape{MinArity: 2, MaxArity: 2, Kinds: []OperandKindPattern{PatAny, PatAny}}
}

func unaryShape() OperandShape {
	return OperandShape{MinArity: 1, MaxArity: 1, Kinds: []OperandKindPattern{PatValue}}
}

var loweringRules = []RuleSpec{
	// Arithmetic
	{Opcode: "add", Shape: binaryShape(), Emit: emitAdd, Name: "add"},
	{Opcode: "sub", Shape: binaryShape(), Emit: emitSub, Name: "sub"},
	{Opcode: "mul", Shape: binaryShape(), Emit: emitMul, Name: "mul"},
	{Opcode: "fdiv", Shape: binaryShape(), Emit: emitFDiv, Name: "fdiv"},
	{Opcode: "add.ovf", Shape: binaryShape(), Emit: emitAddOvf, Name: "add.ovf"},
	{Opcode: "sub.ovf", Shape: binaryShape(), Emit: emitSubOvf, Name: "sub.ovf"},
	{Opcode: "mul.ovf", Shape: binaryShape(), Emit: emitMulOvf, Name: "mul.ovf"},
	// Bitwise
	{Opcode: "and", Shape: binaryShape(), Emit: emitAnd, Name: "and"},
	{Opcode: "or", Shape: binaryShape(), Emit: emitOr, Name: "or"},
	{Opcode: "xor", Shape: binaryShape(), Emit: emitXor, Name: "xor"},
	// Comparison families (prefix match)
	{Opcode: "icmp_", Prefix: true, Emit: emitICmp, Name: "icmp",
		Shape: OperandShape{MinArity: 2, MaxArity: 3,
			Kinds: []OperandKindPattern{PatValue, PatAny, PatImm}}},
	{Opcode: "fcmp_", Prefix: true, Emit: emitFCmp, Name: "fcmp",
		Shape: OperandShape{MinArity: 2, MaxArity: 3,
			Kinds: []OperandKindPattern{PatValue, PatAny, PatImm}}},
	{Opcode: "cmp", Emit: emitCmpExplicit, Name: "cmp",
		Shape: OperandShape{MinArity: 2, MaxArity: 3,
			Kinds: []OperandKindPattern{PatValue, PatAny, PatImm}}},
	// Division family
	{Opcode: "div", Shape: binaryShape(), Emit: emitDivFamily, Name: "div"},
	{Opcode: "sdiv", Shape: binaryShape(), Emit: emitDivFamily, Name: "sdiv"},
	{Opcode: "udiv", Shape: binaryShape(), Emit: emitDivFamily, Name: "udiv"},
	{Opcode: "rem", Shape: binaryShape(), Emit: emitDivFamily, Name: "rem"},
	{Opcode: "srem", Shape: binaryShape(), Emit: emitDivFamily, Name: "srem"},
	{Opcode: "urem", Shape: binaryShape(), Emit: emitDivFamily, Name: "urem"},
	// Shifts
	{Opcode: "shl", Shape: binaryShape(), Emit: emitShiftLeft, Name: "shl"},
	{Opcode: "lshr", Shape: binaryShape(), Emit: emitShiftLshr, Name: "lshr"},
	{Opcode: "ashr", Shape: binaryShape(), Emit: emitShiftAshr, Name: "ashr"},
	// Control flow
	{Opcode: "select", Emit: emitSelect, Name: "select",
		Shape: OperandShape{MinArity: 3, MaxArity: 3,
			Kinds: []OperandKindPattern{PatValue, PatAny, PatAny}}},
	{Opcode: "br", Emit: emitBranch, Name: "br",
		Shape: OperandShape{MinArity: 1, MaxArity: 1, Kinds: []OperandKindPattern{PatLabel}}},
	{Opcode: "cbr", Emit: emitCondBranch, Name: "cbr",
		Shape: OperandShape{MinArity: 3, MaxArity: 3,
			Kinds: []OperandKindPattern{PatValue, PatLabel, PatLabel}}},
	{Opcode: "ret", Emit: emitReturn, Name: "ret",
		Shape: OperandShape{MinArity: 0, MaxArity: 1, Kinds: []OperandKindPattern{PatAny}}},
	// Calls
	{Opcode: "call", Emit: emitCall, Name: "call",
		Shape: OperandShape{MinArity: 1, MaxArity: variadicArity,
			Kinds: []OperandKindPattern{PatLabel}}},
	{Opcode: "call.indirect", Emit: emitCallIndirect, Name: "call.indirect",
		Shape: OperandShape{MinArity: 1, MaxArity: variadicArity,
			Kinds: []OperandKindPattern{PatValue}}},
	// Memory
	{Opcode: "load", Emit: emitLoadAuto, Name: "load",
		Shape: OperandShape{MinArity: 1, MaxArity: 2,
			Kinds: []OperandKindPattern{PatValue, PatImm}}},
	{Opcode: "store", Emit: emitStore, Name: "store",
		Shape: OperandShape{MinArity: 2, MaxArity: 3,
			Kinds: []OperandKindPattern{PatAny, PatValue, PatImm}}},
	{Opcode: "alloca", Emit: emitAlloca, Name: "alloca",
		Shape: OperandShape{MinArity: 1, MaxArity: 1, Kinds: []OperandKindPattern{PatImm}}},
	{Opcode: "gep", Shape: binaryShape(), Emit: emitGEP, Name: "gep"},
	// Conversions
	{Opcode: "zext", Shape: unaryShape(), Emit: emitZSTrunc, Name: "zext"},
	{Opcode: "sext", Shape: unaryShape(), Emit: emitZSTrunc, Name: "sext"},
	{Opcode: "trunc", Shape: unaryShape(), Emit: emitZSTrunc, Name: "trunc"},
	{Opcode: "sitofp", Shape: unaryShape(), Emit: emitSIToFP, Name: "sitofp"},
	{Opcode: "fptosi", Shape: unaryShape(), Emit: emitFPToSI, Name: "fptosi"},
	// Exception handling markers (no-ops at this stage)
	{Opcode: "eh.push", Emit: emitEhPush, Name: "eh.push",
		Shape: OperandShape{MinArity: 1, MaxArity: 1, Kinds: []OperandKindPattern{PatLabel}}},
	{Opcode: "eh.pop", Emit: emitEhPop, Name: "eh.pop",
		Shape: OperandShape{MinArity: 0, MaxArity: 0}},
	{Opcode: "eh.entry", Emit: emitEhEntry, Name: "eh.entry",
		Shape: OperandShape{MinArity: 0, MaxArity: 0}},
	// Miscellaneous
	{Opcode: "trap", Emit: emitTrap, Name: "trap",
		Shape: OperandShape{MinArity: 0, MaxArity: 1, Kinds: []OperandKindPattern{PatAny}}},
	{Opcode: "const_str", Emit: emitConstStr, Name: "const_str",
		Shape: OperandShape{MinArity: 1, MaxArity: 1, Kinds: []OperandKindPattern{PatAny}}},
}

var exactRules map[string]*RuleSpec
var prefixRules []*RuleSpec

func init() {
	exactRules = make(map[string]*RuleSpec, len(loweringRules))
	for i := range loweringRules {
		rule := &loweringRules[i]
		if rule.Prefix {
			prefixRules = append(prefixRules, rule)
		} else {
			exactRules[rule.Opcode] = rule
		}
	}
}

func operandKindOf(value il.Value) OperandKindPattern {
	switch {
	case value.Kind == il.Label:
		return PatLabel
	case value.IsImmediate():
		return PatImm
	default:
		return PatValue
	}
}

// MatchesRuleSpec reports whether a rule can handle the instruction: opcode
// match (exact or prefix), arity within bounds, and per-position kinds.
func MatchesRuleSpec(rule *RuleSpec, instr *il.Instr) bool {
	if rule.Prefix {
		if !strings.HasPrefix(instr.Opcode, rule.Opcode) {
			return false
		}
	} else if instr.Opcode != rule.Opcode {
		return false
	}
	n := len(instr.Ops)
	if n < rule.Shape.MinArity || n > rule.Shape.MaxArity {
		return false
	}
	for i, pat := range rule.Shape.Kinds {
		if i >= n || pat == PatAny {
			continue
		}
		if operandKindOf(instr.Ops[i]) != pat {
			return false
		}
	}
	return true
}

// lookupRule probes the exact-match table first, then the prefix rules.
func lookupRule(instr *il.Instr) *RuleSpec {
	if rule, ok := exactRules[instr.Opcode]; ok && MatchesRuleSpec(rule, instr) {
		return rule
	}
	for _, rule := range prefixRules {
		if MatchesRuleSpec(rule, instr) {
			return rule
		}
	}
	return nil
}
