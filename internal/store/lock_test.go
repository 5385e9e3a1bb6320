package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/bg073/jarvis-rag/internal/errors"
)

func TestDirLock_SecondHolderIsRejected(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")

	first := NewDirLock(dir)
	require.NoError(t, first.TryLock())
	assert.Equal(t, filepath.Join(dir, ".jarvis-rag.lock"), first.Path())

	second := NewDirLock(dir)
	err := second.TryLock()
	require.Error(t, err)
	assert.Equal(t, ragerrors.ErrCodeDataDirLocked, ragerrors.GetCode(err))

	require.NoError(t, first.Unlock())
	require.NoError(t, first.Unlock())

	require.NoError(t, second.TryLock())
	require.NoError(t, second.Unlock())
}
