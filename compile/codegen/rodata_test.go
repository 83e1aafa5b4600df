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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoDataPoolDeduplicatesStrings(t *testing.T) {
	pool := NewRoDataPool()
	a := pool.AddString("hello")
	b := pool.AddString("hello")
	c := pool.AddString("world")
	require.Equal(t, a, b)
	require.NotEqual(t, a, c)
	require.Equal(t, ".LC_str_0", pool.StringLabel(a))
	require.Equal(t, ".LC_str_1", pool.StringLabel(c))
	require.Equal(t, 5, pool.StringByteLength(a))
}

func TestRoDataPoolKeepsSignedZerosDistinct(t *testing.T) {
	pool := NewRoDataPool()
	pos := pool.AddF64(0.0)
	neg := pool.AddF64(negativeZero())
	require.NotEqual(t, pos, neg)
	require.Equal(t, pool.AddF64(0.0), pos)
}

func negativeZero() float64 {
	z := 0.0
	return -z
}

func TestRoDataPoolEmitOrderAndFormat(t *testing.T) {
	pool := NewRoDataPool()
	pool.AddString("hi\x01\x02there")
	pool.AddF64(1.0)

	var sb strings.Builder
	pool.Emit(&sb)
	out := sb.String()

	requireOrdered(t, out,
		".section .rodata",
		".LC_str_0:",
		`.ascii "hi"`,
		".byte 1, 2",
		`.ascii "there"`,
		".p2align 3",
		".LC_f64_0:",
		".quad 0x3ff0000000000000")
}

func TestRoDataPoolEmptyEmitsNothing(t *testing.T) {
	pool := NewRoDataPool()
	var sb strings.Builder
	pool.Emit(&sb)
	require.Empty(t, sb.String())
}

func TestFormatRodataBytesEscapes(t *testing.T) {
	out := FormatRodataBytes(`say "hi" \now`)
	require.Contains(t, out, `.ascii "say \"hi\" \\now"`)
}

func TestSanitizeLabel(t *testing.T) {
	require.Equal(t, "abc_1.x$", SanitizeLabel("abc_1.x$"))
	require.Equal(t, "ab", SanitizeLabel("a-b"))
	require.Equal(t, "a_b", SanitizeLabel("a b"))
	require.Equal(t, "L9lives", SanitizeLabel("9lives"))
	require.Equal(t, "L", SanitizeLabel("-"))
	require.Equal(t, "foo_1", SanitizeLabel("foo", "_1"))
}
