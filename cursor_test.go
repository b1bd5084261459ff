// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

import "testing"

func TestReadWriteRoundTrip(t *testing.T) {
	buf := make([]byte, 16)

	writeU8(buf, 0, 0x7F)
	writeU16(buf, 1, 0xBEEF)
	writeU32(buf, 3, 0xDEADBEEF)
	writeU64(buf, 7, 0x0123456789ABCDEF)

	tests := []struct {
		name string
		got  uint64
		want uint64
	}{
		{"u8", uint64(readU8(buf, 0)), 0x7F},
		{"u16", uint64(readU16(buf, 1)), 0xBEEF},
		{"u32", uint64(readU32(buf, 3)), 0xDEADBEEF},
		{"u64", readU64(buf, 7), 0x0123456789ABCDEF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Fatalf("got %#x, want %#x", tt.got, tt.want)
			}
		})
	}
}

func TestFits(t *testing.T) {
	tests := []struct {
		name          string
		bufLen, off, size uint32
		want          bool
	}{
		{"exact fit", 10, 0, 10, true},
		{"within bounds", 10, 2, 4, true},
		{"runs past end", 10, 8, 4, false},
		{"offset past end", 10, 11, 0, false},
		{"overflow", 10, 0xFFFFFFFF, 2, false},
		{"zero size at end", 10, 10, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := fits(tt.bufLen, tt.off, tt.size); got != tt.want {
				t.Fatalf("fits(%d,%d,%d) = %v, want %v", tt.bufLen, tt.off, tt.size, got, tt.want)
			}
		})
	}
}

func TestCheckBounds(t *testing.T) {
	if err := checkBounds(10, 5, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := checkBounds(10, 5, 6); err != ErrOutsideBoundary {
		t.Fatalf("got %v, want ErrOutsideBoundary", err)
	}
}

func TestReadBytesAt(t *testing.T) {
	buf := []byte{1, 2, 3, 4, 5}

	got, err := readBytesAt(buf, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []byte{2, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("got len %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d: got %d, want %d", i, got[i], want[i])
		}
	}

	// Mutating the input after the fact must not affect the copy.
	buf[1] = 0xFF
	if got[0] != 2 {
		t.Fatalf("readBytesAt did not copy: got %d after mutation", got[0])
	}

	if _, err := readBytesAt(buf, 3, 10); err != ErrOutsideBoundary {
		t.Fatalf("got %v, want ErrOutsideBoundary", err)
	}
}

func TestRoundUp(t *testing.T) {
	tests := []struct {
		n, alignment, want uint32
	}{
		{0, 0x200, 0},
		{1, 0x200, 0x200},
		{0x200, 0x200, 0x200},
		{0x201, 0x200, 0x400},
		{5, 0, 5},
	}
	for _, tt := range tests {
		if got := roundUp(tt.n, tt.alignment); got != tt.want {
			t.Fatalf("roundUp(%d,%d) = %d, want %d", tt.n, tt.alignment, got, tt.want)
		}
	}
}

func TestIsBitSet(t *testing.T) {
	if !isBitSet(ImageScnCntCode|ImageScnCntInitializedData, ImageScnCntCode) {
		t.Fatal("expected CNT_CODE bit to be set")
	}
	if isBitSet(ImageScnCntInitializedData, ImageScnCntCode) {
		t.Fatal("did not expect CNT_CODE bit to be set")
	}
}
