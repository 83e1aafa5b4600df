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
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"viper/compile"
	"viper/compile/codegen"
)

var (
	flagOutput   string
	flagAssemble bool
	flagIntel    bool
	flagOptLevel int
	flagWin64    bool
)

var rootCmd = &cobra.Command{
	Use:   "viperbc <file.vil>",
	Short: "viperbc compiles Viper IL into x86-64 assembly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		options := codegen.DefaultOptions()
		options.ATTSyntax = !flagIntel
		options.OptimizeLevel = flagOptLevel
		if flagWin64 {
			options.Target = codegen.Win64Target()
		}
		return compile.CompileFile(args[0], flagOutput, options, flagAssemble)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output assembly path")
	rootCmd.Flags().BoolVar(&flagAssemble, "assemble", false, "assemble the output with gcc")
	rootCmd.Flags().BoolVar(&flagIntel, "intel", false, "request Intel syntax (unsupported, AT&T is emitted)")
	rootCmd.Flags().IntVarP(&flagOptLevel, "opt", "O", 1, "optimization level (0 disables peepholes)")
	rootCmd.Flags().BoolVar(&flagWin64, "win64", false, "target the Windows x64 ABI description")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
