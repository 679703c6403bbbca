package blockdevice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInfo_BlockCount(t *testing.T) {
	info := Info{ReadSize: 256, ProgSize: 256, EraseSize: 512, TotalSize: 512 * 1024}
	require.Equal(t, uint32(1024), info.BlockCount())

	require.Equal(t, uint32(0), Info{}.BlockCount())
}
