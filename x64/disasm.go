package x64

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassemble renders code as one GNU-syntax-ish instruction per line,
// for compiled-block dumps (runtime debug tooling) and for this package's
// own tests, which check emitted shapes by decoding rather than by
// comparing raw byte literals. Grounded on the same x86asm.Decode /
// x86asm.GoSyntax pairing other_examples/f76e4e6d_aclements-go-misc's
// DisasmX86_64 uses.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for pc := 0; pc < len(code); {
		inst, err := x86asm.Decode(code[pc:], 64)
		if err != nil || inst.Len == 0 {
			fmt.Fprintf(&sb, "%04x\t.byte 0x%02x\n", pc, code[pc])
			pc++
			continue
		}
		fmt.Fprintf(&sb, "%04x\t%s\n", pc, x86asm.GoSyntax(inst, uint64(pc), nil))
		pc += inst.Len
	}
	return sb.String()
}
