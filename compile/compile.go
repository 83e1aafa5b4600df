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
package compile

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"viper/compile/codegen"
	"viper/compile/il"
	"viper/utils"
)

// ------------------------------------------------------------------------------
// Compilation driver
//
// Parses textual IL, runs the x86-64 backend, and writes the assembly. With
// assemble enabled the generated .s is handed to gcc for an object file.

// CompileText translates IL source text into assembly.
func CompileText(source string, options codegen.CodegenOptions) (codegen.CodegenResult, error) {
	mod, err := il.ParseModule(source)
	if err != nil {
		return codegen.CodegenResult{}, err
	}
	return codegen.EmitModule(mod, options), nil
}

// CompileFile translates an IL file into outPath (defaulting to the input
// name with a .s extension) and optionally assembles it.
func CompileFile(path, outPath string, options codegen.CodegenOptions, assemble bool) error {
	source, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	result, err := CompileText(string(source), options)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if result.Diagnostics != "" {
		fmt.Fprint(os.Stderr, result.Diagnostics)
	}

	if outPath == "" {
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		outPath = filepath.Join(filepath.Dir(path), base+".s")
	}
	if err := os.WriteFile(outPath, []byte(result.AsmText), 0644); err != nil {
		return err
	}

	if assemble {
		assembleFile(outPath)
	}
	return nil
}

func assembleFile(asmPath string) {
	wd := filepath.Dir(asmPath)
	name := filepath.Base(asmPath)
	switch runtime.GOOS {
	case "windows":
		utils.ExecuteCmd(wd, "cmd.exe", "/c", "gcc", "-g", "-c", name)
	case "darwin", "linux":
		utils.ExecuteCmd(wd, "gcc", "-g", "-c", name)
	default:
		utils.Unimplement()
	}
}
