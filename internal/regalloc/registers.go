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

package regalloc

// generalPurposeRegs lists the 64-bit GPRs available to the allocator,
// in assignment-preference order. RSP/RBP are excluded (frame
// management owns them); RAX/RCX/RDX are listed last among the
// caller-saved group since lowering already pins them for mul/div/
// shift and stands a better chance of a cheap coalesce if the
// allocator tries other registers first.
var generalPurposeRegs = []string{
	"rbx", "r12", "r13", "r14", "r15", // callee-saved
	"rsi", "rdi", "r8", "r9", "r10", "r11", // caller-saved
	"rax", "rcx", "rdx",
}

// floatingPointRegs lists the allocatable XMM registers; all are
// caller-saved under System V.
var floatingPointRegs = []string{
	"xmm0", "xmm1", "xmm2", "xmm3", "xmm4", "xmm5", "xmm6", "xmm7",
	"xmm8", "xmm9", "xmm10", "xmm11", "xmm12", "xmm13", "xmm14", "xmm15",
}

// calleeSavedRegs are the GPRs the function itself must preserve
// across its own calls if it overwrites them, requiring a prologue/
// epilogue save.
var calleeSavedRegs = map[string]bool{
	"rbx": true, "r12": true, "r13": true, "r14": true, "r15": true, "rbp": true,
}

func isCalleeSaved(reg string) bool { return calleeSavedRegs[reg] }

func registerPool(float bool) []string {
	if float {
		return floatingPointRegs
	}
	return generalPurposeRegs
}
