//go:build linux

package i2c

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ioctl request selecting the target device address (linux/i2c-dev.h).
const i2cSlave = 0x0703

type devBus struct {
	mu   sync.Mutex
	path string
	fd   int
	addr int
}

// Open opens /dev/i2c-n.
func Open(n int) (Bus, error) {
	path := DevicePath(n)
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &devBus{path: path, fd: fd, addr: -1}, nil
}

func (b *devBus) ReadRegister(addr uint16, reg byte, buf []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return ErrBusClosed
	}

	if b.addr != int(addr) {
		if err := unix.IoctlSetInt(b.fd, i2cSlave, int(addr)); err != nil {
			return fmt.Errorf("select 0x%02x on %s: %w", addr, b.path, err)
		}
		b.addr = int(addr)
	}
	if _, err := unix.Write(b.fd, []byte{reg}); err != nil {
		return fmt.Errorf("write register 0x%02x: %w", reg, err)
	}
	n, err := unix.Read(b.fd, buf)
	if err != nil {
		return fmt.Errorf("read register 0x%02x: %w", reg, err)
	}
	if n != len(buf) {
		return fmt.Errorf("read register 0x%02x: short read %d of %d bytes", reg, n, len(buf))
	}
	return nil
}

func (b *devBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	return err
}
