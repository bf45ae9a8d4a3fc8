package runtime

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"dynatrans/ir"
)

func TestPerfMapRegisterNoopWithoutEnv(t *testing.T) {
	os.Unsetenv("PERF_BUILDID_DIR")
	PerfMapRegister(0x1000, 64, ir.NewChip8Location(0x200))
	require.Nil(t, perfMapFile)
}

func TestPerfMapRegisterWritesLineWhenEnabled(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PERF_BUILDID_DIR", dir)
	t.Cleanup(func() {
		perfMapMu.Lock()
		if perfMapFile != nil {
			perfMapFile.Close()
			perfMapFile = nil
		}
		perfMapMu.Unlock()
	})

	PerfMapRegister(0xABCD0000, 128, ir.NewChip8Location(0x300))
	require.NotNil(t, perfMapFile)

	path := fmt.Sprintf("/tmp/perf-%d.map", os.Getpid())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "dynatrans_block_00000300")
	require.Contains(t, string(data), "00000000abcd0000")
}
