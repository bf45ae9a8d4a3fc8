package ir

// TerminalKind discriminates the Terminal sum type from spec.md §3.
type TerminalKind uint8

const (
	TerminalInterpret TerminalKind = iota
	TerminalReturnToDispatch
	TerminalLinkBlock
	TerminalLinkBlockFast
	TerminalPopRSBHint
	TerminalIf
	TerminalCheckHalt
	TerminalCheckBit
)

// Terminal is the block's exit action. It is a tagged struct rather than
// an interface-per-variant hierarchy — recursion (If/CheckHalt wrapping an
// inner Terminal) is bounded by IR depth, which is statically small per
// spec.md §9's "Polymorphic terminal" note, so a pointer-to-self field is
// simpler than a dispatch-table-of-visitors for two recursive cases.
type Terminal struct {
	Kind TerminalKind

	// Interpret
	InterpretNext           LocationDescriptor
	InterpretNumInstructions int

	// LinkBlock / LinkBlockFast
	Next LocationDescriptor

	// If: IfValue is a U1 Value computed earlier in the owning block (the
	// "host flag evaluation of a guest condition" spec.md §3 describes,
	// rendered directly as the boolean IR value that produced it rather
	// than a separate guest-condition-code enum plus an implicit flags
	// source — simpler and equally general across ISAs).
	IfValue Value
	Then    *Terminal
	Else    *Terminal

	// CheckHalt
	Inner *Terminal
}

func Interpret(next LocationDescriptor) Terminal {
	return Terminal{Kind: TerminalInterpret, InterpretNext: next, InterpretNumInstructions: 1}
}

func ReturnToDispatch() Terminal { return Terminal{Kind: TerminalReturnToDispatch} }

func LinkBlock(next LocationDescriptor) Terminal {
	return Terminal{Kind: TerminalLinkBlock, Next: next}
}

func LinkBlockFast(next LocationDescriptor) Terminal {
	return Terminal{Kind: TerminalLinkBlockFast, Next: next}
}

func PopRSBHint() Terminal { return Terminal{Kind: TerminalPopRSBHint} }

func If(cond Value, then, els Terminal) Terminal {
	return Terminal{Kind: TerminalIf, IfValue: cond, Then: &then, Else: &els}
}

func CheckHalt(inner Terminal) Terminal {
	return Terminal{Kind: TerminalCheckHalt, Inner: &inner}
}

// CheckBit is reserved; per spec.md §3, emitting it from the CHIP-8
// frontend is a fatal internal error (there is no CHIP-8 semantic for it).
func CheckBit() Terminal { return Terminal{Kind: TerminalCheckBit} }

func (k TerminalKind) String() string {
	switch k {
	case TerminalInterpret:
		return "Interpret"
	case TerminalReturnToDispatch:
		return "ReturnToDispatch"
	case TerminalLinkBlock:
		return "LinkBlock"
	case TerminalLinkBlockFast:
		return "LinkBlockFast"
	case TerminalPopRSBHint:
		return "PopRSBHint"
	case TerminalIf:
		return "If"
	case TerminalCheckHalt:
		return "CheckHalt"
	case TerminalCheckBit:
		return "CheckBit"
	default:
		return "?"
	}
}
