// Package pms decodes the Plantower PMS5003 particulate sensor stream.
package pms

import (
	"encoding/binary"
	"errors"
	"io"
)

// Frame layout constants.
const (
	HeaderByte0 = 0x42
	HeaderByte1 = 0x4D

	// PayloadLength is the value of the length field: thirteen data words
	// plus the checksum word.
	PayloadLength = 28

	// FrameSize is the full on-wire frame size including the header.
	FrameSize = 2 + 2 + PayloadLength

	restSize  = FrameSize - 2
	dataWords = 13

	// maxHunt bounds the bytes scanned for a header in one Decode call.
	maxHunt = 4 * FrameSize
)

// ErrNoFrame reports that no valid frame was assembled. It covers every
// protocol outcome: no header, bad length, bad checksum, short read and a
// quiet line. It is an expected result, not a fault.
var ErrNoFrame = errors.New("pms: no frame")

// errQuiet is returned internally when the stream stops delivering bytes.
var errQuiet = errors.New("pms: stream quiet")

// Frame is one checksum-validated PMS5003 measurement.
// PM1, PM25 and PM10 are the atmospheric mass concentrations in µg/m³.
type Frame struct {
	PM1  uint16
	PM25 uint16
	PM10 uint16

	PM1CF1  uint16
	PM25CF1 uint16
	PM10CF1 uint16

	// Particles per 0.1 L above each diameter in µm.
	N0_3 uint16
	N0_5 uint16
	N1_0 uint16
	N2_5 uint16
	N5_0 uint16
	N10  uint16
}

// Checksum returns the 16-bit truncated sum of the header and the given
// bytes, which must be the part of the frame between the header and the
// checksum field.
func Checksum(body []byte) uint16 {
	sum := uint32(HeaderByte0) + uint32(HeaderByte1)
	for _, b := range body {
		sum += uint32(b)
	}
	return uint16(sum)
}

// parseRest validates the 30 bytes that follow the header.
func parseRest(rest []byte) (Frame, bool) {
	if len(rest) != restSize {
		return Frame{}, false
	}
	if binary.BigEndian.Uint16(rest[0:2]) != PayloadLength {
		return Frame{}, false
	}
	if Checksum(rest[:restSize-2]) != binary.BigEndian.Uint16(rest[restSize-2:]) {
		return Frame{}, false
	}

	var w [dataWords]uint16
	for i := range w {
		off := 2 + 2*i
		w[i] = binary.BigEndian.Uint16(rest[off : off+2])
	}
	return Frame{
		PM1CF1:  w[0],
		PM25CF1: w[1],
		PM10CF1: w[2],
		PM1:     w[3],
		PM25:    w[4],
		PM10:    w[5],
		N0_3:    w[6],
		N0_5:    w[7],
		N1_0:    w[8],
		N2_5:    w[9],
		N5_0:    w[10],
		N10:     w[11],
	}, true
}

// Encode returns the on-wire form of f with a valid length and checksum.
func (f Frame) Encode() []byte {
	buf := make([]byte, FrameSize)
	buf[0], buf[1] = HeaderByte0, HeaderByte1
	binary.BigEndian.PutUint16(buf[2:4], PayloadLength)
	words := []uint16{
		f.PM1CF1, f.PM25CF1, f.PM10CF1,
		f.PM1, f.PM25, f.PM10,
		f.N0_3, f.N0_5, f.N1_0, f.N2_5, f.N5_0, f.N10,
		0,
	}
	for i, v := range words {
		binary.BigEndian.PutUint16(buf[4+2*i:], v)
	}
	binary.BigEndian.PutUint16(buf[FrameSize-2:], Checksum(buf[2:FrameSize-2]))
	return buf
}

// Decode scans r for one frame. Bytes before a header are discarded and a
// partially read frame is never kept between calls. Protocol outcomes yield
// ErrNoFrame; any other read failure is returned as a *TransportError.
func Decode(r io.Reader) (Frame, error) {
	var one [1]byte
	rest := make([]byte, restSize)

	havePrefix := false
	for scanned := 0; scanned < maxHunt; {
		if !havePrefix {
			if err := readFull(r, one[:]); err != nil {
				return Frame{}, classify(err)
			}
			scanned++
			if one[0] != HeaderByte0 {
				continue
			}
		}
		havePrefix = false

		if err := readFull(r, one[:]); err != nil {
			return Frame{}, classify(err)
		}
		scanned++
		switch one[0] {
		case HeaderByte1:
		case HeaderByte0:
			// 0x42 0x42: the second byte may start the real header.
			havePrefix = true
			continue
		default:
			continue
		}

		if err := readFull(r, rest); err != nil {
			return Frame{}, classify(err)
		}
		f, ok := parseRest(rest)
		if !ok {
			return Frame{}, ErrNoFrame
		}
		return f, nil
	}
	return Frame{}, ErrNoFrame
}

// readFull fills buf, returning errQuiet when the reader delivers nothing.
func readFull(r io.Reader, buf []byte) error {
	for off := 0; off < len(buf); {
		n, err := r.Read(buf[off:])
		off += n
		if off == len(buf) {
			return nil
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errQuiet
			}
			return err
		}
		if n == 0 {
			return errQuiet
		}
	}
	return nil
}

func classify(err error) error {
	if errors.Is(err, errQuiet) {
		return ErrNoFrame
	}
	return &TransportError{Op: "read", Err: err}
}
