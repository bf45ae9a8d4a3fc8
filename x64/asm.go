// Package x64 lowers the shared IR (dynatrans/ir) into host x86-64 machine
// code, grounded on golang-asm's obj/x86 assembler-as-a-library API (the
// same dependency wazero's legacy JIT engine and go-interpreter/wagon's
// vendored copy both use for exactly this purpose: building obj.Prog
// instruction lists and assembling them to bytes without shelling out to
// an external assembler).
package x64

import (
	"fmt"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"
)

// Assembler is a thin wrapper around golang-asm's per-architecture
// builder: NewProg builds one obj.Prog, Add appends it to the
// instruction stream, Assemble lowers the stream to machine code bytes.
type Assembler struct {
	b *asm.Builder
}

// NewAssembler allocates a builder sized for roughly sizeHint bytes of
// emitted code, matching wazero's "arbitrary number... indicates the
// cache size in the builder" sizing comment.
func NewAssembler(sizeHint int) (*Assembler, error) {
	b, err := asm.NewBuilder("amd64", sizeHint)
	if err != nil {
		return nil, fmt.Errorf("x64: failed to create assembler: %w", err)
	}
	return &Assembler{b: b}, nil
}

// NewProg allocates an obj.Prog bound to this builder.
func (a *Assembler) NewProg() *obj.Prog { return a.b.NewProg() }

// Add appends prog to the instruction stream in program order.
func (a *Assembler) Add(prog *obj.Prog) { a.b.AddInstruction(prog) }

// Assemble lowers every added instruction to its final machine-code
// encoding and returns the resulting byte stream. Each obj.Prog's Pc
// field is filled in as a side effect, which patch.go relies on to
// compute patch-site byte offsets after assembly.
func (a *Assembler) Assemble() []byte { return a.b.Assemble() }

// regOperand builds a TYPE_REG operand.
func regOperand(r int16) obj.Addr { return obj.Addr{Type: obj.TYPE_REG, Reg: r} }

// constant builds a TYPE_CONST immediate operand.
func constant(v int64) obj.Addr { return obj.Addr{Type: obj.TYPE_CONST, Offset: v} }

// memory builds a TYPE_MEM operand: [base+offset].
func memory(base int16, offset int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: base, Offset: offset}
}

// scaledMemory builds a TYPE_MEM operand with a scaled index: [base+index*scale+offset].
func scaledMemory(base, index int16, scale int16, offset int64) obj.Addr {
	return obj.Addr{Type: obj.TYPE_MEM, Reg: base, Index: index, Scale: scale, Offset: offset}
}

// branch builds an unresolved TYPE_BRANCH operand; the caller later points
// it at a real instruction via SetTarget once the target is emitted.
func branch() obj.Addr { return obj.Addr{Type: obj.TYPE_BRANCH} }

// twoOperand emits a single two-operand instruction (the common
// `as dst, src` shape golang-asm expects: From is the source, To is the
// destination), matching wazero's handleAdd/handleSub idiom exactly.
func (a *Assembler) twoOperand(as obj.As, from, to obj.Addr) *obj.Prog {
	p := a.NewProg()
	p.As = as
	p.From = from
	p.To = to
	a.Add(p)
	return p
}

// oneOperand emits a single one-operand instruction (e.g. NOT, NEG, a
// bare jump target not yet resolved).
func (a *Assembler) oneOperand(as obj.As, to obj.Addr) *obj.Prog {
	p := a.NewProg()
	p.As = as
	p.To = to
	a.Add(p)
	return p
}

// rawByte emits a single BYTE $v pseudo-instruction: like the plan9 `BYTE
// $imm` directive, the immediate is the instruction's only operand (From,
// no To), guaranteeing exactly one byte of machine code regardless of v —
// used by terminal.go to reserve patch sites whose length must be exact.
func (a *Assembler) rawByte(v byte) *obj.Prog {
	p := a.NewProg()
	p.As = x86.ABYTE
	p.From = constant(int64(v))
	a.Add(p)
	return p
}
