//go:build !linux

package i2c

import (
	"errors"
	"fmt"
)

// Open fails on platforms without i2c-dev.
func Open(n int) (Bus, error) {
	return nil, fmt.Errorf("open %s: %w", DevicePath(n), errors.ErrUnsupported)
}
