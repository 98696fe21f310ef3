package memory

import (
	"encoding/binary"
	"io"
)

type writeAdapter struct {
	sub    io.WriterAt
	offset int64
}

func (w writeAdapter) Write(b []byte) (int, error) {
	return w.sub.WriteAt(b, w.offset)
}

type readAdapter struct {
	sub    io.ReaderAt
	offset int64
}

func (ra readAdapter) Read(b []byte) (int, error) {
	return ra.sub.ReadAt(b, ra.offset)
}

// CopyOut encodes val little-endian at addr.
func (a *Arena) CopyOut(addr uintptr, val interface{}) error {
	return binary.Write(writeAdapter{sub: a, offset: int64(addr)}, binary.LittleEndian, val)
}

// CopyIn decodes the little-endian value stored at addr into val.
func (a *Arena) CopyIn(addr uintptr, val interface{}) error {
	return binary.Read(readAdapter{sub: a, offset: int64(addr)}, binary.LittleEndian, val)
}
