// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

import "encoding/binary"

// readU8 reads a single byte at off. Callers must bounds-check first.
func readU8(buf []byte, off uint32) uint8 {
	return buf[off]
}

// readU16 reads a little-endian uint16 at off.
func readU16(buf []byte, off uint32) uint16 {
	return binary.LittleEndian.Uint16(buf[off:])
}

// readU32 reads a little-endian uint32 at off.
func readU32(buf []byte, off uint32) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}

// readU64 reads a little-endian uint64 at off.
func readU64(buf []byte, off uint32) uint64 {
	return binary.LittleEndian.Uint64(buf[off:])
}

// writeU8 writes a single byte at off.
func writeU8(buf []byte, off uint32, v uint8) {
	buf[off] = v
}

// writeU16 writes a little-endian uint16 at off.
func writeU16(buf []byte, off uint32, v uint16) {
	binary.LittleEndian.PutUint16(buf[off:], v)
}

// writeU32 writes a little-endian uint32 at off.
func writeU32(buf []byte, off uint32, v uint32) {
	binary.LittleEndian.PutUint32(buf[off:], v)
}

// writeU64 writes a little-endian uint64 at off.
func writeU64(buf []byte, off uint32, v uint64) {
	binary.LittleEndian.PutUint64(buf[off:], v)
}

// fits reports whether [off, off+size) lies within a buffer of the given
// length, guarding against the off+size addition overflowing uint32.
func fits(bufLen, off, size uint32) bool {
	total := off + size
	if (total > off) != (size > 0) {
		return false
	}
	return off <= bufLen && total <= bufLen
}

// checkBounds returns ErrOutsideBoundary unless [off, off+size) fits inside
// a buffer of length bufLen.
func checkBounds(bufLen, off, size uint32) error {
	if !fits(bufLen, off, size) {
		return ErrOutsideBoundary
	}
	return nil
}

// readBytesAt returns an owned copy of buf[off : off+size], bounds-checked
// against bufLen.
func readBytesAt(buf []byte, off, size uint32) ([]byte, error) {
	if err := checkBounds(uint32(len(buf)), off, size); err != nil {
		return nil, err
	}
	out := make([]byte, size)
	copy(out, buf[off:off+size])
	return out, nil
}

// roundUp rounds n up to the nearest multiple of alignment. alignment of 0
// is treated as 1 (no rounding).
func roundUp(n, alignment uint32) uint32 {
	if alignment == 0 {
		return n
	}
	return ((n + alignment - 1) / alignment) * alignment
}

// maxU32 returns the larger of x or y.
func maxU32(x, y uint32) uint32 {
	if x < y {
		return y
	}
	return x
}

// isBitSet returns true when any bit of the mask bit is set in characteristics.
func isBitSet(characteristics uint32, bit uint32) bool {
	return characteristics&bit != 0
}
