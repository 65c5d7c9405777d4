package swingsense

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestListCamerasSkipsNonDevices(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "video0"), []byte("not a camera"), 0644))

	cameras, err := ListCameras(filepath.Join(dir, "video*"))
	require.NoError(t, err)
	require.Empty(t, cameras)
}

func TestListCamerasBadPattern(t *testing.T) {
	_, err := ListCameras("[")
	require.Error(t, err)
}
