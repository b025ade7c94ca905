// Package i2c reads registers from devices on a Linux I2C bus.
package i2c

import (
	"errors"
	"fmt"
	"sync"
)

// ErrBusClosed is returned by operations on a closed bus.
var ErrBusClosed = errors.New("i2c: bus closed")

// Bus reads a block of bytes from a device register.
type Bus interface {
	// ReadRegister writes reg to the device at addr, then reads len(buf)
	// bytes into buf.
	ReadRegister(addr uint16, reg byte, buf []byte) error
	Close() error
}

// DevicePath returns the character device for bus number n.
func DevicePath(n int) string {
	return fmt.Sprintf("/dev/i2c-%d", n)
}

// MockBus is a Bus backed by a register map, for tests.
type MockBus struct {
	mu sync.Mutex

	// Registers holds the bytes returned for each address and register.
	Registers map[uint16]map[byte][]byte
	// Errors makes reads of a register fail.
	Errors map[byte]error

	Reads  []byte
	Closed bool
}

// NewMockBus returns an empty mock bus.
func NewMockBus() *MockBus {
	return &MockBus{
		Registers: make(map[uint16]map[byte][]byte),
		Errors:    make(map[byte]error),
	}
}

// Set stores the response for one register.
func (m *MockBus) Set(addr uint16, reg byte, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Registers[addr] == nil {
		m.Registers[addr] = make(map[byte][]byte)
	}
	m.Registers[addr][reg] = append([]byte(nil), data...)
}

func (m *MockBus) ReadRegister(addr uint16, reg byte, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Closed {
		return ErrBusClosed
	}
	m.Reads = append(m.Reads, reg)
	if err := m.Errors[reg]; err != nil {
		return err
	}
	data, ok := m.Registers[addr][reg]
	if !ok {
		return fmt.Errorf("i2c: no device at 0x%02x register 0x%02x", addr, reg)
	}
	for i := range buf {
		buf[i] = 0
	}
	copy(buf, data)
	return nil
}

func (m *MockBus) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}
