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
// Operand and data formatting (AT&T syntax)

// SanitizeLabel makes an arbitrary name assembler-safe: [A-Za-z0-9_.$] pass
// through, '-' drops, anything else becomes '_', and a leading digit gets an
// 'L' prefix. The optional suffix appends verbatim for uniquifying.
func SanitizeLabel(name string, suffix ...string) string {
	var out strings.Builder
	for i := 0; i < len(name); i++ {
		ch := name[i]
		isAlpha := (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
		isDigit := ch >= '0' && ch <= '9'
		switch {
		case isAlpha || isDigit || ch == '_' || ch == '.' || ch == '$':
			out.WriteByte(ch)
		case ch == '-':
			// drop
		default:
			out.WriteByte('_')
		}
	}
	result := out.String()
	if result == "" || (result[0] >= '0' && result[0] <= '9') {
		result = "L" + result
	}
	for _, s := range suffix {
		result += s
	}
	return result
}

// runtimeAliases maps canonical IL runtime names onto linker symbols.
var runtimeAliases = map[string]string{
	"Viper.Terminal.PrintI64": "rt_print_i64",
	"Viper.Terminal.PrintF64": "rt_print_f64",
	"Viper.Terminal.PrintStr": "rt_print_str",
	"Viper.String.FromLit":    "rt_str_from_lit",
	"Viper.Fmt.Snprintf":      "rt_snprintf",
	"Viper.SB.Printf":         "rt_sb_printf",
	"Viper.Trap":              "rt_trap",
	"Viper.Trap.DivZero":      "rt_trap_div0",
}

// runtimeSymbol translates a canonical IL name to its runtime symbol, or
// returns the name unchanged.
func runtimeSymbol(name string) string {
	if sym, ok := runtimeAliases[name]; ok {
		return sym
	}
	return name
}

func formatImm(v int64) string {
	return fmt.Sprintf("$%d", v)
}

func formatReg(reg Reg) string {
	if reg.Phys {
		return RegName(PhysReg(reg.Id))
	}
	// Virtual registers surviving to emission print as %vN for diagnosis.
	return fmt.Sprintf("%%v%d", reg.Id)
}

func formatReg8(reg Reg) string {
	if !reg.Phys {
		return fmt.Sprintf("%%v%d.b", reg.Id)
	}
	return RegName8(PhysReg(reg.Id))
}

func formatReg32(reg Reg) string {
	if !reg.Phys {
		return fmt.Sprintf("%%v%d.d", reg.Id)
	}
	return RegName32(PhysReg(reg.Id))
}

func formatMem(mem Mem) string {
	var out strings.Builder
	if mem.Disp != 0 {
		fmt.Fprintf(&out, "%d", mem.Disp)
	}
	out.WriteByte('(')
	out.WriteString(formatReg(mem.Base))
	if mem.HasIndex {
		fmt.Fprintf(&out, ",%s,%d", formatReg(mem.Index), mem.Scale)
	}
	out.WriteByte(')')
	return out.String()
}

func formatOperand(operand Operand) string {
	switch op := operand.(type) {
	case Reg:
		return formatReg(op)
	case Imm:
		return formatImm(op.Val)
	case Mem:
		return formatMem(op)
	case LabelOp:
		return SanitizeLabel(op.Name)
	case RipLabel:
		return SanitizeLabel(op.Name) + "(%rip)"
	}
	return "<unknown>"
}

// formatShiftCount prints %cl for the RCX shift-count operand.
func formatShiftCount(operand Operand) string {
	if reg, ok := operand.(Reg); ok {
		if reg.Phys && reg.Class == GPR && PhysReg(reg.Id) == RCX {
			return "%cl"
		}
	}
	return formatOperand(operand)
}

// formatLeaSource renders the effective-address source of an LEA; bare
// labels become RIP-relative.
func formatLeaSource(operand Operand) string {
	if label, ok := operand.(LabelOp); ok {
		return SanitizeLabel(label.Name) + "(%rip)"
	}
	return formatOperand(operand)
}

// formatCallTarget prefixes indirect targets with '*' and remaps canonical
// runtime names.
func formatCallTarget(operand Operand) string {
	switch op := operand.(type) {
	case LabelOp:
		return SanitizeLabel(runtimeSymbol(op.Name))
	case Reg:
		return "*" + formatReg(op)
	case Mem:
		return "*" + formatMem(op)
	case RipLabel:
		return "*" + SanitizeLabel(op.Name) + "(%rip)"
	}
	return formatOperand(operand)
}

// conditionSuffix maps the backend condition encoding onto AT&T suffixes.
func conditionSuffix(code int64) string {
	switch code {
	case 0:
		return "e"
	case 1:
		return "ne"
	case 2:
		return "l"
	case 3:
		return "le"
	case 4:
		return "g"
	case 5:
		return "ge"
	case 6:
		return "a"
	case 7:
		return "ae"
	case 8:
		return "b"
	case 9:
		return "be"
	case 10:
		return "p"
	case 11:
		return "np"
	case 12:
		return "o"
	case 13:
		return "no"
	}
	return "e"
}

func isPrintableByte(ch byte) bool {
	return ch >= 0x20 && ch <= 0x7e
}

func escapeASCII(bytes string) string {
	var out strings.Builder
	for i := 0; i < len(bytes); i++ {
		ch := bytes[i]
		if ch == '\\' || ch == '"' {
			out.WriteByte('\\')
		}
		out.WriteByte(ch)
	}
	return out.String()
}

// FormatRodataBytes renders a data blob as .ascii runs for printable spans
// and .byte lines (up to 16 bytes each) for the rest.
func FormatRodataBytes(bytes string) string {
	var out strings.Builder
	if len(bytes) == 0 {
		out.WriteString("  # empty literal\n")
		return out.String()
	}

	index := 0
	for index < len(bytes) {
		if isPrintableByte(bytes[index]) {
			begin := index
			for index < len(bytes) && isPrintableByte(bytes[index]) {
				index++
			}
			out.WriteString("  .ascii \"")
			out.WriteString(escapeASCII(bytes[begin:index]))
			out.WriteString("\"\n")
			continue
		}

		out.WriteString("  .byte ")
		emitted := 0
		for index < len(bytes) && emitted < 16 {
			if isPrintableByte(bytes[index]) {
				break
			}
			if emitted != 0 {
				out.WriteString(", ")
			}
			fmt.Fprintf(&out, "%d", bytes[index])
			index++
			emitted++
		}
		out.WriteByte('\n')
	}
	return out.String()
}
