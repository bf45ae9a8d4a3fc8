package ir

// InstIndex is a handle into a Block's instruction arena. Using an index
// instead of a pointer avoids the cyclic-pointer-graph problem spec.md §9
// calls out: instructions reference other instructions (as Value Opaque
// args) and pseudo-ops form bidirectional links back to their producer.
// An index is copyable, comparable, and trivially invalidated (set to
// NoInst) without leaving a dangling pointer.
type InstIndex int32

const maxArgs = 4

// Inst is one microinstruction: an opcode plus up to maxArgs arguments
// (spec.md §3 — "max arity = 4 suffices for this ISA set; enforced by the
// opcode table"). UseCount and the four pseudo-op back-links are mutated
// by the pseudo-op linker (§4.2) and by the register allocator's DCE pass.
type Inst struct {
	Op       Op
	Args     [maxArgs]Value
	UseCount int

	// Pseudo-op back-links: at most one of each kind may point back to a
	// pseudo-op instruction consuming this Inst's side product, per
	// spec.md §4.2's "enforcing at most one of each kind per producer".
	CarryInst    InstIndex
	OverflowInst InstIndex
	GEInst       InstIndex
	NZCVInst     InstIndex

	// void marks an instruction the allocator has Invalidate()'d: args
	// cleared, result type forced to TypeVoid. A void instruction is
	// never re-read; it exists only so other instructions' InstIndex
	// handles into the arena stay valid.
	void bool
}

func newInst(op Op, args ...Value) Inst {
	if len(args) != op.NumArgs() {
		panic(InvariantViolation{Where: "newInst", Why: "argument count does not match opcode arity for " + op.String()})
	}
	inst := Inst{Op: op, CarryInst: NoInst, OverflowInst: NoInst, GEInst: NoInst, NZCVInst: NoInst}
	copy(inst.Args[:], args)
	return inst
}

// Invalidate clears an instruction's arguments and marks it Void, the Go
// rendition of the allocator's dead-instruction erasure (spec.md §3's
// Inst lifetime note). The arena slot and its InstIndex remain valid —
// anything still referencing it sees a Void, zero-argument instruction.
func (i *Inst) Invalidate() {
	i.void = true
	i.Args = [maxArgs]Value{}
	i.Op = OpIdentity
}

func (i *Inst) IsVoid() bool { return i.void }

// Use increments the use count and, for a pseudo-op consumer, records the
// back-link on its producer. It enforces spec.md §4.2's "at most one of
// each kind per producer" and the NZCV whitelist.
func (b *Block) use(producer InstIndex, consumer InstIndex, kind Op) {
	p := b.Inst(producer)
	p.UseCount++
	switch kind {
	case OpGetCarryFromOp:
		if p.CarryInst != NoInst {
			panic(InvariantViolation{Where: "Block.use", Why: "producer already has a carry pseudo-op"})
		}
		p.CarryInst = consumer
	case OpGetOverflowFromOp:
		if p.OverflowInst != NoInst {
			panic(InvariantViolation{Where: "Block.use", Why: "producer already has an overflow pseudo-op"})
		}
		p.OverflowInst = consumer
	case OpGetGEFromOp:
		if p.GEInst != NoInst {
			panic(InvariantViolation{Where: "Block.use", Why: "producer already has a GE pseudo-op"})
		}
		p.GEInst = consumer
	case OpGetNZCVFromOp:
		if !p.Op.CanHaveNZCVPseudoOp() {
			panic(InvariantViolation{Where: "Block.use", Why: "opcode " + p.Op.String() + " cannot carry an NZCV pseudo-op"})
		}
		if p.NZCVInst != NoInst {
			panic(InvariantViolation{Where: "Block.use", Why: "producer already has an NZCV pseudo-op"})
		}
		p.NZCVInst = consumer
	}
}

// undoUse is the inverse of use, called when a pseudo-op consumer is
// itself erased (e.g. during DCE) so the producer's back-link is cleared.
func (b *Block) undoUse(producer InstIndex, kind Op) {
	p := b.Inst(producer)
	if p.UseCount > 0 {
		p.UseCount--
	}
	switch kind {
	case OpGetCarryFromOp:
		p.CarryInst = NoInst
	case OpGetOverflowFromOp:
		p.OverflowInst = NoInst
	case OpGetGEFromOp:
		p.GEInst = NoInst
	case OpGetNZCVFromOp:
		p.NZCVInst = NoInst
	}
}

// IsDead reports whether an instruction may be eliminated: zero uses and
// no observable side effect (spec.md §4.1).
func (i *Inst) IsDead() bool { return i.UseCount == 0 && !i.Op.MayHaveSideEffects() && !i.void }
