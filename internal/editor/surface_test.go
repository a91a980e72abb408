package editor

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFileSurfaceReportsUserEditsOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "surface.html")
	fs, err := NewFileSurface(path, 150*time.Millisecond, zap.NewNop())
	require.NoError(t, err)
	defer fs.Close()

	var edits, blurs atomic.Int32
	fs.Bind(func() { edits.Add(1) }, func() { blurs.Add(1) })

	fs.SetHTML("<p>rendered</p>")
	assert.Equal(t, "<p>rendered</p>", fs.HTML())
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), edits.Load(), "own writes are not edits")
	assert.False(t, fs.Focused())

	require.NoError(t, os.WriteFile(path, []byte("<p>typed</p>"), 0o644))
	require.Eventually(t, func() bool { return edits.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, fs.Focused())

	require.Eventually(t, func() bool { return blurs.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, fs.Focused())
}

func TestFileSurfaceCreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "surface.html")
	fs, err := NewFileSurface(path, time.Second, nil)
	require.NoError(t, err)
	defer fs.Close()

	_, err = os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, "", fs.HTML())
	assert.NoError(t, fs.Close())
	assert.NoError(t, fs.Close())
}
