// Copyright (c) 2024 The Falcon Contributors
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
	"bytes"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"kefir/internal/config"
)

func TestCompileModuleEmitsAssemblyForDemoModule(t *testing.T) {
	mod := demoModule()

	var buf bytes.Buffer
	err := compileModule(config.Default(), mod, &buf, logrus.New())
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, ".att_syntax")
	require.Contains(t, out, ".globl id")
	require.Contains(t, out, "id:")
	require.Contains(t, out, "ret")
}

func TestCompileModuleHonorsIntelSyntaxConfig(t *testing.T) {
	mod := demoModule()
	cfg := config.Default()
	cfg.Syntax = config.SyntaxIntelNoPrefix

	var buf bytes.Buffer
	require.NoError(t, compileModule(cfg, mod, &buf, logrus.New()))
	require.Contains(t, buf.String(), ".intel_syntax noprefix")
}

func TestCompileModuleRejectsUnresolvableSyntax(t *testing.T) {
	mod := demoModule()
	cfg := config.Default()
	cfg.Syntax = "bogus"

	var buf bytes.Buffer
	err := compileModule(cfg, mod, &buf, logrus.New())
	require.Error(t, err)
}

func TestRunWritesAssemblyToRequestedFile(t *testing.T) {
	dir := t.TempDir()
	outPath := dir + "/out.s"

	require.NoError(t, run([]string{outPath}))

	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "id:")
}
