package runtime

import (
	"errors"
	"os"
	"runtime/debug"
	"strconv"
	"unsafe"

	"dynatrans/armthumb"
	"dynatrans/cache"
	"dynatrans/chip8"
	"dynatrans/ir"
	"dynatrans/x64"
)

// callCompiled is implemented in exec_amd64.s: it establishes the three
// reserved-register invariants x64/regalloc.go's emitters assume
// (stateReg=R12, spillBaseReg=R13, pageTableReg=R14) and calls entry.
func callCompiled(entry, state, spillBase, pageTable uintptr)

var (
	errMissingCallback = errors.New("dynatrans/runtime: required callback is nil")
	errNoTerminal      = errors.New("dynatrans/runtime: lifted block has no terminal")
)

// validate checks the Callbacks fields the run loop and every
// compiled fast path unconditionally depend on; InterpreterFallback and
// the two 8/16-bit memory pairs are reached directly from compiled code
// (runtime/shim_amd64.s), so a nil value here would fault the first time
// any block takes a slow path rather than failing fast at construction.
func (cb *Callbacks) validate() error {
	if cb.MemoryReadCode == nil || cb.MemoryRead8 == nil || cb.MemoryRead16 == nil ||
		cb.MemoryWrite8 == nil || cb.MemoryWrite16 == nil ||
		cb.CallSVC == nil || cb.ExceptionRaised == nil || cb.InterpreterFallback == nil {
		return errMissingCallback
	}
	return nil
}

// JITState is the C12 executor: one guest context's register/cycle/RSB
// state, its block cache, and the decoder/lifter pair selected by
// Config.ISA. Not safe for concurrent use from multiple goroutines — per
// spec.md §5, a context is single-threaded; InvalidateCacheRanges from
// another thread requires the caller to quiesce Run first.
type JITState struct {
	State *State

	cfg   Config
	cache *cache.BlockCache

	chip8Decoder *chip8.Decoder
	thumbDecoder *armthumb.Decoder

	spillBase     uintptr
	pageTableAddr uintptr
}

// NewJITState builds a context ready to Run. The shared return stub and
// host MXCSR snapshot are process-global (every context's compiled code
// returns through the same small trampoline), captured fresh here since
// doing it lazily-once would need a sync.Once this package has no other
// use for.
func NewJITState(cfg Config) (*JITState, error) {
	if err := cfg.Callbacks.validate(); err != nil {
		return nil, err
	}
	captureHostMXCSR()

	state := NewState()
	state.config = &cfg

	js := &JITState{
		State:     state,
		cfg:       cfg,
		spillBase: uintptr(unsafe.Pointer(&state.Spill[0])),
	}
	if len(cfg.PageTable) > 0 {
		js.pageTableAddr = uintptr(unsafe.Pointer(&cfg.PageTable[0]))
	}

	state.MemoryReadShim = stubAddr(memoryReadEntry)
	state.MemoryWriteShim = stubAddr(memoryWriteEntry)
	state.SupervisorShim = stubAddr(supervisorEntry)
	state.ExceptionShim = stubAddr(exceptionEntry)
	state.InterpreterShim = stubAddr(interpretEntry)
	state.ReturnStub = returnStubAddr()

	js.cache = cache.NewBlockCache(state.ReturnStub)

	switch cfg.ISA {
	case ISAThumb:
		d, err := armthumb.NewThumbDecoder()
		if err != nil {
			return nil, err
		}
		js.thumbDecoder = d
	default:
		d, err := chip8.NewChip8Decoder()
		if err != nil {
			return nil, err
		}
		js.chip8Decoder = d
	}
	return js, nil
}

// lift translates the guest code at loc into one IR block, dispatching
// to the configured frontend.
func (js *JITState) lift(loc ir.LocationDescriptor) (*ir.Block, error) {
	readCode := func(pc uint32) (uint16, error) {
		return uint16(js.cfg.Callbacks.MemoryReadCode(pc)), nil
	}
	if js.cfg.ISA == ISAThumb {
		return armthumb.Lift(js.thumbDecoder, loc, readCode)
	}
	return chip8.Lift(js.chip8Decoder, loc, readCode)
}

// compile lifts and lowers the block at loc, installing it in the cache
// under loc's hash — the normal path lookupOrCompile takes on a miss.
func (js *JITState) compile(loc ir.LocationDescriptor) (*cache.BlockDescriptor, error) {
	block, err := js.lift(loc)
	if err != nil {
		return nil, err
	}
	if !block.HasTerminal() {
		return nil, errNoTerminal
	}
	c, err := x64.NewCompiler(block)
	if err != nil {
		return nil, err
	}
	compiled, err := c.Lower()
	if err != nil {
		return nil, err
	}
	js.cfg.logger()("dynatrans: compiled block at pc=%#x (%d bytes)\n", loc.PC(), len(compiled.Code))
	desc, err := js.cache.InstallCompiled(loc.Hash(), loc, block.End, compiled)
	if err != nil {
		return nil, err
	}
	PerfMapRegister(desc.CodeBase, uint64(len(desc.Code)), loc)
	return desc, nil
}

// lookupOrCompile returns loc's cached block, compiling it on a miss —
// spec.md §4.9's C11 primary lookup path.
func (js *JITState) lookupOrCompile(loc ir.LocationDescriptor) (*cache.BlockDescriptor, error) {
	if desc, ok := js.cache.Lookup(loc.Hash()); ok {
		return desc, nil
	}
	return js.compile(loc)
}

// DisassembleAt lifts and lowers the block at loc (reusing a cached
// compile if present) and renders its host machine code, for CLI/debug
// tooling built on top of this package.
func (js *JITState) DisassembleAt(loc ir.LocationDescriptor) (string, error) {
	desc, err := js.lookupOrCompile(loc)
	if err != nil {
		return "", err
	}
	return x64.Disassemble(desc.Code), nil
}

func getDefaultRecoverFunc(js *JITState) func() {
	return func() {
		if r := recover(); r != nil {
			js.cfg.logger()("dynatrans: run loop recovered from panic at pc=%#x: %v\n", js.State.PC, r)
		}
	}
}

// Run executes guest code starting at entry until the halt flag is set,
// a block misses the cache and fails to compile, or the ticks budget (as
// reported by Callbacks.GetTicksRemaining, when set, else the ticks
// argument) is exhausted. Mirrors vm/run.go's RunProgram: GOGC is
// disabled for the duration (compiled code and the bridge functions
// allocate only on cold paths, never per guest instruction) and a
// deferred recover turns a host-callback panic into a logged diagnostic
// instead of taking the whole process down.
func (js *JITState) Run(entry ir.LocationDescriptor, ticks uint64) error {
	key, ok := os.LookupEnv("GOGC")
	if !ok {
		key = "100"
	}
	gcPercent, err := strconv.ParseInt(key, 10, 32)
	if err != nil {
		gcPercent = 100
	}

	defer getDefaultRecoverFunc(js)()
	defer debug.SetGCPercent(int(gcPercent))
	debug.SetGCPercent(-1)

	budget := int64(ticks)
	if js.cfg.Callbacks.GetTicksRemaining != nil {
		budget = int64(js.cfg.Callbacks.GetTicksRemaining())
	}

	loc := entry
	for budget > 0 && !js.State.Halt.Load() {
		desc, err := js.lookupOrCompile(loc)
		if err != nil {
			return err
		}
		js.State.Cycles = budget

		callCompiled(desc.CodeBase, uintptr(unsafe.Pointer(js.State)), js.spillBase, js.pageTableAddr)

		consumed := budget - js.State.Cycles
		if js.cfg.Callbacks.AddTicks != nil && consumed > 0 {
			js.cfg.Callbacks.AddTicks(uint64(consumed))
		}
		budget = js.State.Cycles

		loc = loc.SetPC(js.State.PC)
	}
	return nil
}
