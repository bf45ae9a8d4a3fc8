package runtime

import (
	"fmt"
	"os"
	"sync"

	"dynatrans/ir"
)

// perfMapFile mirrors original_source/src/backend_x64/perf_map.cpp's
// static, lazily-opened std::FILE* exactly: a single process-wide sidecar
// shared by every JITState, opened only once a caller actually asks to
// register a block and only when PERF_BUILDID_DIR is set — matching
// `perf`'s own convention for opting a process into the /tmp/perf-PID.map
// protocol (see Linux's Documentation/admin-guide/perf/jit-interface.rst).
var (
	perfMapMu   sync.Mutex
	perfMapFile *os.File
)

// perfMapOpen creates (or truncates) /tmp/perf-<pid>.map, matching the
// original's fmt::format("/tmp/perf-{:d}.map", pid) naming. Unbuffered
// writes (one per PerfMapRegister call) stand in for the original's
// setvbuf(file, nullptr, _IONBF, 0) — Go has no unbuffered *os.File mode,
// so each line is written with a single Write call instead of relying on
// buffering to ever flush.
func perfMapOpen() {
	f, err := os.Create(fmt.Sprintf("/tmp/perf-%d.map", os.Getpid()))
	if err != nil {
		return
	}
	perfMapFile = f
}

// PerfMapRegister appends one "<entry> <size> <name>" line for a newly
// compiled block, in the exact hex-hex-string format perf's jit dump
// reader expects (original's "{:016x} {:016x} {:s}\n"). While no sidecar
// file is open, each call checks PERF_BUILDID_DIR and, if it is set,
// tries to open the file; the call is a no-op if the variable is unset or
// the open fails, same as the original's "if (!file) return" early-out.
func PerfMapRegister(entrypoint uintptr, size uint64, loc ir.LocationDescriptor) {
	perfMapMu.Lock()
	defer perfMapMu.Unlock()

	if perfMapFile == nil {
		if _, ok := os.LookupEnv("PERF_BUILDID_DIR"); !ok {
			return
		}
		perfMapOpen()
		if perfMapFile == nil {
			return
		}
	}

	name := fmt.Sprintf("dynatrans_block_%08x", loc.PC())
	fmt.Fprintf(perfMapFile, "%016x %016x %s\n", entrypoint, size, name)
}

// PerfMapClear closes and immediately reopens (truncating) the sidecar
// file, matching the original's PerfMapClear, so perf's symbol table for
// the process starts fresh rather than pointing at addresses the code
// buffer has since reused for different blocks. cache.BlockCache.ClearCache
// does not call it.
func PerfMapClear() {
	perfMapMu.Lock()
	defer perfMapMu.Unlock()

	if perfMapFile == nil {
		return
	}
	perfMapFile.Close()
	perfMapFile = nil
	perfMapOpen()
}
