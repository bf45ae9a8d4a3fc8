package runtime

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

func TestPageTableMapUnmap(t *testing.T) {
	pt := NewPageTable()
	require.Len(t, pt, numPageTableEntries)

	const addr = 0x1234000
	var page [4096]byte
	host := uintptr(unsafe.Pointer(&page))

	pt.Map(addr, host)
	require.Equal(t, host, pt[addr>>pageBits])

	pt.Unmap(addr)
	require.Zero(t, pt[addr>>pageBits])
}

func TestConfigLoggerDefaultsToNoop(t *testing.T) {
	var c Config
	require.NotPanics(t, func() {
		c.logger()("unused %d", 1)
	})
}

func TestConfigLoggerUsesProvided(t *testing.T) {
	var got string
	c := Config{Logger: func(format string, args ...any) { got = format }}
	c.logger()("hit")
	require.Equal(t, "hit", got)
}
