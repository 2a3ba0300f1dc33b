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

package optir

import (
	"fmt"
	"io"
	"strings"
)

// DumpDot writes a Graphviz description of fn to w. Unlike a
// diagnostic tool that shells out to `dot` to rasterize the graph,
// this only ever produces text; rendering is the caller's business.
func (fn *Func) DumpDot(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph G {\n")
	b.WriteString("  graph [ rankdir = TB ];\n")
	for _, block := range fn.blocks {
		for i, succ := range block.Succs {
			if i == 1 {
				fmt.Fprintf(&b, "  b%d -> b%d [label=\"F\"]\n", block.ID, succ)
			} else {
				fmt.Fprintf(&b, "  b%d -> b%d\n", block.ID, succ)
			}
		}
	}
	for _, block := range fn.blocks {
		label := strings.ReplaceAll(blockLabel(fn, block), "\n", "\\l")
		label = strings.ReplaceAll(label, "<", "\\<")
		label = strings.ReplaceAll(label, ">", "\\>")
		fmt.Fprintf(&b, "b%d [shape=record,label=\"{ %s }\"]\n", block.ID, label)
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func blockLabel(fn *Func, block *Block) string {
	var b strings.Builder
	fmt.Fprintf(&b, "b%d: preds=%v\n", block.ID, block.Preds)
	for _, id := range block.Insts {
		inst, err := fn.Inst(id)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "%v\n", inst)
	}
	fmt.Fprintf(&b, "%v", block.Kind)
	return b.String()
}
