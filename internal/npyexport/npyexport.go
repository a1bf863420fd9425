// Package npyexport writes sweep traces in numpy's *.npy format. The file's
// shape grows as rows are appended, so a recording can be opened in numpy at
// any time without a finalize step.
package npyexport

import (
	"fmt"
	"os"
	"unsafe"
)

// npy file header must be a multiple of 64 bytes
const headerUnits = 64

// Writer appends fixed-width rows of little-endian float32 to one npy file.
type Writer struct {
	f        *os.File
	cols     int
	shapePtr int
	rows     int
}

// Create opens path for writing and emits an npy header describing a
// (0, cols) array of '<f4'. Each AppendRow then adds one row.
func Create(path string, cols int) (*Writer, error) {
	if cols <= 0 {
		return nil, fmt.Errorf("npyexport: cols must be positive, have %d", cols)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f, cols: cols}

	header := []byte{0x93, 0x4e, 0x55, 0x4d, 0x50, 0x59, 0x01, 0, 0, 0}
	header = append(header, []byte("{'descr': '<f4', 'fortran_order': False, 'shape': (")...)
	w.shapePtr = len(header)
	header = append(header, []byte(fmt.Sprintf("0         , %d),}", cols))...)

	// Put header size into bytes 8-9, little-endian. It's a multiple of 64 bytes
	const preheaderSize = 10
	nunits := (len(header) + headerUnits) / headerUnits
	headerSize := nunits*headerUnits - preheaderSize
	header[8] = byte(headerSize % 256)
	header[9] = byte(headerSize / 256)

	// Pad with spaces plus one newline to the promised size
	npad := headerSize + preheaderSize - (1 + len(header))
	for i := 0; i < npad; i++ {
		header = append(header, 0x20)
	}
	header = append(header, 0x0a)
	if _, err := f.Write(header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// AppendRow writes one sweep and backpatches the shape in the header.
func (w *Writer) AppendRow(samples []float32) error {
	if len(samples) != w.cols {
		return fmt.Errorf("npyexport: row has %d samples, file expects %d", len(samples), w.cols)
	}
	if _, err := w.f.Write(float32ToBytes(samples)); err != nil {
		return err
	}
	w.rows++
	if _, err := w.f.WriteAt([]byte(fmt.Sprintf("%-10d", w.rows)), int64(w.shapePtr)); err != nil {
		return err
	}
	return nil
}

// Rows reports how many rows have been written so far.
func (w *Writer) Rows() int { return w.rows }

func (w *Writer) Close() error { return w.f.Close() }

// float32ToBytes converts a []float32 to []byte using unsafe.Slice
func float32ToBytes(sliceIn []float32) []byte {
	if len(sliceIn) == 0 {
		return []byte{}
	}
	outlength := uintptr(len(sliceIn)) * unsafe.Sizeof(sliceIn[0]) / unsafe.Sizeof(byte(0))
	return unsafe.Slice((*byte)(unsafe.Pointer(&sliceIn[0])), outlength)
}
