package ir

// Cond is a guest condition code, ISA-generic in the IR itself (0 always
// means "always/AL"; ISA packages define their own richer enumerations
// and only ever hand the IR the matching small integer).
type Cond uint8

const CondAL Cond = 0

// Block is an ordered sequence of Inst plus the bookkeeping spec.md §3
// describes: entry/end location, cycle count, entry condition, the
// partial-conditional-block fields used by the lifter's conditional-block
// state machine (§4.4), and the Terminal set exactly once before emission.
type Block struct {
	Entry LocationDescriptor
	End   LocationDescriptor

	insts []Inst

	CycleCount int

	Cond                     Cond
	ConditionFailedLocation  LocationDescriptor
	ConditionFailedCycleCount int

	terminal    Terminal
	hasTerminal bool
}

func NewBlock(entry LocationDescriptor) *Block {
	return &Block{Entry: entry, End: entry, Cond: CondAL}
}

// Inst resolves an InstIndex within this block's arena.
func (b *Block) Inst(idx InstIndex) *Inst {
	if idx < 0 || int(idx) >= len(b.insts) {
		panic(InvariantViolation{Where: "Block.Inst", Why: "instruction index out of range"})
	}
	return &b.insts[idx]
}

// Insts exposes the arena in program order for emitters/allocators that
// need to walk the block linearly (spec.md §4.7, "walks the block linearly").
func (b *Block) Insts() []Inst { return b.insts }

func (b *Block) Len() int { return len(b.insts) }

func (b *Block) bumpUse(idx InstIndex) {
	b.insts[idx].UseCount++
}

// emitRaw appends a fresh Inst and bumps use-counts on any Opaque args it
// references (ordinary data-use bookkeeping, distinct from the pseudo-op
// back-link bookkeeping in use()/undoUse()).
func (b *Block) emitRaw(inst Inst) InstIndex {
	idx := InstIndex(len(b.insts))
	b.insts = append(b.insts, inst)
	for _, arg := range inst.Args[:inst.Op.NumArgs()] {
		if arg.kind == KindOpaque {
			b.bumpUse(arg.inst)
		}
	}
	return idx
}

// Emit appends a new microinstruction and returns a Value referencing it.
// This is the primary lifter entry point (spec.md §4.2/§4.5): every
// GetRegister/ReadMemory/arithmetic call in the frontend packages goes
// through this.
func (b *Block) Emit(op Op, args ...Value) Value {
	idx := b.emitRaw(newInst(op, args...))
	if op != OpIdentity && op.Type() == TypeVoid {
		return Value{kind: KindEmpty, inst: NoInst}
	}
	return Opaque(idx)
}

// EmitVoid is Emit for opcodes with no result value (register/memory
// writes, PC writes, supervisor calls) — a thin naming convenience so
// call sites read as statements rather than discarded-value expressions.
func (b *Block) EmitVoid(op Op, args ...Value) {
	b.emitRaw(newInst(op, args...))
}

// EmitPseudoOp attaches a carry/overflow/GE/NZCV pseudo-op to producer,
// enforcing the "at most one of each kind, NZCV whitelist only" invariant
// from spec.md §4.2 via Block.use.
func (b *Block) EmitPseudoOp(kind Op, producer Value) Value {
	if producer.kind != KindOpaque {
		panic(InvariantViolation{Where: "Block.EmitPseudoOp", Why: "pseudo-op producer must be an Opaque value"})
	}
	idx := InstIndex(len(b.insts))
	inst := newInst(kind, producer)
	b.insts = append(b.insts, inst)
	b.use(producer.inst, idx, kind)
	return Opaque(idx)
}

// ReplaceUsesWith rewrites the instruction at idx in place into
// Identity(newValue) — existing Value handles referencing idx stay valid
// and now resolve through the Identity alias, per spec.md §4.2. Use-count
// bookkeeping for the replaced instruction's own former arguments is left
// for the next DCE pass, matching the spec's stated deferral.
func (b *Block) ReplaceUsesWith(idx InstIndex, newValue Value) {
	inst := b.Inst(idx)
	inst.Op = OpIdentity
	inst.Args = [maxArgs]Value{}
	inst.Args[0] = newValue
}

// SetTerminal sets the block's terminal exactly once (spec.md §3 invariant).
func (b *Block) SetTerminal(t Terminal) {
	if b.hasTerminal {
		panic(InvariantViolation{Where: "Block.SetTerminal", Why: "terminal already set for this block"})
	}
	b.terminal = t
	b.hasTerminal = true
}

func (b *Block) HasTerminal() bool { return b.hasTerminal }

func (b *Block) Terminal() Terminal {
	if !b.hasTerminal {
		panic(InvariantViolation{Where: "Block.Terminal", Why: "terminal read before it was set"})
	}
	return b.terminal
}

// DCE removes dead instructions in a single linear pass, clearing args (so
// later instructions referencing a now-dead one via Identity still see a
// consistent, if void, slot) and propagating pseudo-op undoUse calls when
// a pseudo-op consumer itself turns out dead. It runs after the frontend
// lifter completes a block and before the register allocator walks it
// (spec.md §4.1's DCE rule).
func (b *Block) DCE() {
	for i := len(b.insts) - 1; i >= 0; i-- {
		inst := &b.insts[i]
		if inst.void || !inst.IsDead() {
			continue
		}
		for _, arg := range inst.Args[:inst.Op.NumArgs()] {
			if arg.kind == KindOpaque && int(arg.inst) < i {
				b.undoUse(arg.inst, inst.Op)
			}
		}
		inst.Invalidate()
	}
}
