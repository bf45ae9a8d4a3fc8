package runtime

// hostMXCSR is written once by captureHostMXCSR (shim_amd64.s) before the
// first compiled block ever runs, and read by returnStubEntry every time
// compiled code hands control back to the run loop. CHIP-8 has no
// floating-point state and this backend's ARM/Thumb subset excludes VFP
// (SPEC_FULL.md's ARM/Thumb scope), so there is no per-block guest MXCSR
// to switch in; restoring the host's own value on the way out is enough
// to guarantee compiled code never leaves stray FP exception masks set
// for ordinary Go code running after it.
var hostMXCSR uint32

// captureHostMXCSR and returnStubEntry are implemented in shim_amd64.s.
func captureHostMXCSR()

// returnStubAddr is returnStubEntry's code address, the value every
// runtime.State's ReturnStub field is set to.
func returnStubAddr() uintptr {
	return stubAddr(returnStubEntry)
}

func returnStubEntry()
