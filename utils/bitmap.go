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

package utils

import "fmt"

type BitMap struct {
	data []uint8
	size int
}

func NewBitMap(size int) *BitMap {
	return &BitMap{
		data: make([]uint8, (size+7)/8),
		size: size,
	}
}

func (bm *BitMap) Set(i int) {
	ei := i / 8
	bm.data[ei] = bm.data[ei] | (1 << uint8(i%8))
}

func (bm *BitMap) IsSet(i int) bool {
	return (bm.data[i/8] & (1 << uint8(i%8))) != uint8(0)
}

func (bm *BitMap) String() string {
	str := ""
	for i := 0; i < bm.size; i++ {
		if bm.IsSet(i) {
			str += fmt.Sprintf("%d ", i)
		}
	}
	return str
}
