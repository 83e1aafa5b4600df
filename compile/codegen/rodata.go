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
	"math"
	"strings"
)

// RoDataPool interns string and 64-bit float literals for the module's
// .rodata section. Strings dedupe by content; floats dedupe by bit pattern so
// +0.0 and -0.0 stay distinct. Entries keep their insertion index, which
// forms the stable .LC_str_N / .LC_f64_N label names.
type RoDataPool struct {
	strings      []string
	stringLookup map[string]int

	f64s      []uint64
	f64Lookup map[uint64]int

	globalNames []string
	globalData  map[string]string
}

func NewRoDataPool() *RoDataPool {
	return &RoDataPool{
		stringLookup: make(map[string]int),
		f64Lookup:    make(map[uint64]int),
		globalData:   make(map[string]string),
	}
}

// AddString interns a byte-string literal and returns its pool index.
func (pool *RoDataPool) AddString(bytes string) int {
	if idx, ok := pool.stringLookup[bytes]; ok {
		return idx
	}
	idx := len(pool.strings)
	pool.stringLookup[bytes] = idx
	pool.strings = append(pool.strings, bytes)
	return idx
}

// AddF64 interns a 64-bit float literal and returns its pool index.
func (pool *RoDataPool) AddF64(value float64) int {
	bits := math.Float64bits(value)
	if idx, ok := pool.f64Lookup[bits]; ok {
		return idx
	}
	idx := len(pool.f64s)
	pool.f64Lookup[bits] = idx
	pool.f64s = append(pool.f64s, bits)
	return idx
}

// AddGlobal registers a named string global emitted after pooled literals.
func (pool *RoDataPool) AddGlobal(name, data string) {
	if _, ok := pool.globalData[name]; ok {
		return
	}
	pool.globalNames = append(pool.globalNames, name)
	pool.globalData[name] = data
}

func (pool *RoDataPool) StringLabel(index int) string {
	return fmt.Sprintf(".LC_str_%d", index)
}

func (pool *RoDataPool) F64Label(index int) string {
	return fmt.Sprintf(".LC_f64_%d", index)
}

// StringByteLength returns the byte length of a pooled string literal.
func (pool *RoDataPool) StringByteLength(index int) int {
	return len(pool.strings[index])
}

func (pool *RoDataPool) Empty() bool {
	return len(pool.strings) == 0 && len(pool.f64s) == 0 && len(pool.globalNames) == 0
}

// Emit writes the .rodata section: string literals first, then pooled
// doubles aligned to 8 bytes, then named globals.
func (pool *RoDataPool) Emit(sb *strings.Builder) {
	if pool.Empty() {
		return
	}
	sb.WriteString(".section .rodata\n")
	for i, lit := range pool.strings {
		sb.WriteString(pool.StringLabel(i) + ":\n")
		sb.WriteString(FormatRodataBytes(lit))
	}
	if len(pool.f64s) > 0 {
		sb.WriteString("  .p2align 3\n")
	}
	for i, bits := range pool.f64s {
		sb.WriteString(pool.F64Label(i) + ":\n")
		sb.WriteString(fmt.Sprintf("  .quad 0x%016x\n", bits))
	}
	for _, name := range pool.globalNames {
		sb.WriteString(SanitizeLabel(name) + ":\n")
		sb.WriteString(FormatRodataBytes(pool.globalData[name]))
	}
}
