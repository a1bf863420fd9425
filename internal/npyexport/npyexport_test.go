package npyexport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sweeps.npy")
	w, err := Create(path, 5)
	require.NoError(t, err)

	rows := [][]float32{
		{-90, -90, -20, -90, -90},
		{-91, -89, -21, -88, -92},
		{-50, -51, -52, -53, -54},
	}
	for _, row := range rows {
		require.NoError(t, w.AppendRow(row))
	}
	assert.Equal(t, 3, w.Rows())
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := npyio.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, r.Header.Descr.Shape)

	var data []float32
	require.NoError(t, r.Read(&data))
	require.Len(t, data, 15)
	for i, row := range rows {
		assert.Equal(t, row, data[i*5:(i+1)*5], "row %d", i)
	}
}

func TestEmptyFileIsValid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.npy")
	w, err := Create(path, 100)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Zero(t, info.Size()%64, "header must be a multiple of 64 bytes")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	r, err := npyio.NewReader(f)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 100}, r.Header.Descr.Shape)
}

func TestRowWidthChecked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.npy")
	w, err := Create(path, 4)
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.AppendRow([]float32{1, 2, 3}))
	assert.Zero(t, w.Rows())

	_, err = Create(filepath.Join(t.TempDir(), "zero.npy"), 0)
	assert.Error(t, err)
}
