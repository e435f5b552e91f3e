package engine

import (
	"bytes"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/whistler"
)

// WazeroMemory wraps wazero memory to implement whistler.Memory
type WazeroMemory struct {
	mem api.Memory
}

// Read returns a view of memory, not a copy. The view is invalidated when
// memory grows.
func (m *WazeroMemory) Read(offset uint32, length uint32) ([]byte, error) {
	data, ok := m.mem.Read(offset, length)
	if !ok {
		return nil, fmt.Errorf("read out of bounds: offset=%d, length=%d", offset, length)
	}
	return data, nil
}

func (m *WazeroMemory) Write(offset uint32, data []byte) error {
	ok := m.mem.Write(offset, data)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=%d", offset, len(data))
	}
	return nil
}

func (m *WazeroMemory) ReadU32(offset uint32) (uint32, error) {
	val, ok := m.mem.ReadUint32Le(offset)
	if !ok {
		return 0, fmt.Errorf("read out of bounds: offset=%d, length=4", offset)
	}
	return val, nil
}

func (m *WazeroMemory) WriteU32(offset uint32, value uint32) error {
	ok := m.mem.WriteUint32Le(offset, value)
	if !ok {
		return fmt.Errorf("write out of bounds: offset=%d, length=4", offset)
	}
	return nil
}

// ReadCString reads a NUL-terminated string of at most limit bytes.
func (m *WazeroMemory) ReadCString(offset, limit uint32) (string, error) {
	size := m.Size()
	if offset >= size {
		return "", fmt.Errorf("read out of bounds: offset=%d", offset)
	}
	n := min(limit, size-offset)
	data, err := m.Read(offset, n)
	if err != nil {
		return "", err
	}
	end := bytes.IndexByte(data, 0)
	if end < 0 {
		return "", fmt.Errorf("string at %d not terminated within %d bytes", offset, n)
	}
	return string(data[:end]), nil
}

func (m *WazeroMemory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

var (
	_ whistler.Memory      = (*WazeroMemory)(nil)
	_ whistler.MemorySizer = (*WazeroMemory)(nil)
)
