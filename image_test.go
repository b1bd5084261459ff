// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

import "testing"

// buildMinimalPE32 builds a one-section PE32 image matching S3: a .text
// section (CNT_CODE) at VA 0x1000, virtual_size 0x10, size_of_raw_data
// 0x200, pointer_to_raw_data 0x400.
func buildMinimalPE32(t *testing.T) []byte {
	t.Helper()

	const peHeaderOffset = 0x80
	h := samplePE32Header(16)
	h.NumberOfSections = 1

	headerSize := serializeHeaderSize(&h)
	coffHeaderOffset := uint32(peHeaderOffset + 4)
	sectionOffset := coffHeaderOffset + headerSize

	const pointerToRawData = 0x400
	const sizeOfRawData = 0x200
	totalSize := pointerToRawData + sizeOfRawData

	buf := make([]byte, totalSize)
	writeU32(buf, PESignatureOffset, peHeaderOffset)
	writeU32(buf, peHeaderOffset, PESignature)
	serializeHeader(&h, buf, coffHeaderOffset)

	sec := SectionHeader{
		VirtualAddress:   0x1000,
		VirtualSize:      0x10,
		SizeOfRawData:    sizeOfRawData,
		PointerToRawData: pointerToRawData,
		Characteristics:  ImageScnCntCode,
	}
	copy(sec.Name[:], ".text")
	serializeSectionHeader(sec, buf, sectionOffset)

	for i := uint32(0); i < sizeOfRawData; i++ {
		buf[pointerToRawData+i] = byte(i)
	}

	return buf
}

func TestLoadEmptyBuffer(t *testing.T) {
	if _, err := Load(nil, Options{}); err != ErrInvalidPESize {
		t.Fatalf("got %v, want ErrInvalidPESize", err)
	}
}

func TestLoadBadSignature(t *testing.T) {
	buf := make([]byte, 0x44)
	writeU32(buf, PESignatureOffset, 0x40)
	copy(buf[0x40:0x44], []byte("MZ\x00\x00"))

	if _, err := Load(buf, Options{}); err != ErrBadSignature {
		t.Fatalf("got %v, want ErrBadSignature", err)
	}
}

// TestLoadPEHeaderOffsetOverflow covers a peHeaderOffset near the uint32
// maximum: peHeaderOffset+4 must not wrap around and pass the bounds check
// on a small buffer.
func TestLoadPEHeaderOffsetOverflow(t *testing.T) {
	buf := make([]byte, 0x40)
	writeU32(buf, PESignatureOffset, 0xFFFFFFFF)

	if _, err := Load(buf, Options{}); err != ErrInvalidPESize {
		t.Fatalf("got %v, want ErrInvalidPESize", err)
	}
}

func TestLoadStoreRoundTripMinimalPE32(t *testing.T) {
	buf := buildMinimalPE32(t)

	img, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(img.Sections) != 1 {
		t.Fatalf("got %d sections, want 1", len(img.Sections))
	}

	size, err := img.Store(nil)
	if err != nil {
		t.Fatalf("Store(nil) failed: %v", err)
	}
	if size != uint32(len(buf)) {
		t.Fatalf("got size %d, want %d", size, len(buf))
	}

	out := make([]byte, size)
	n, err := img.Store(out)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if n != size {
		t.Fatalf("Store wrote %d bytes, want %d", n, size)
	}
	for i := range buf {
		if out[i] != buf[i] {
			t.Fatalf("byte %d mismatch: got %#x, want %#x", i, out[i], buf[i])
		}
	}
}

func TestStoreSizeQueryMatchesWrite(t *testing.T) {
	buf := buildMinimalPE32(t)
	img, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	n, err := img.Store(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	small := make([]byte, n-1)
	if _, err := img.Store(small); err != ErrOutputBufferTooSmall {
		t.Fatalf("got %v, want ErrOutputBufferTooSmall", err)
	}

	written, err := img.Store(make([]byte, n))
	if err != nil {
		t.Fatalf("Store with the queried size failed: %v", err)
	}
	if written != n {
		t.Fatalf("Store wrote %d bytes, size query returned %d", written, n)
	}
}

func TestLoadIdempotent(t *testing.T) {
	buf := buildMinimalPE32(t)

	img1, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	size, _ := img1.Store(nil)
	out := make([]byte, size)
	img1.Store(out)

	img2, err := Load(out, Options{})
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if img2.Header.Machine != img1.Header.Machine || len(img2.Sections) != len(img1.Sections) {
		t.Fatal("re-loading a stored image did not reproduce the same model")
	}
}

func TestSectionsBeforeHeader(t *testing.T) {
	// S6: a section's raw data physically precedes the header region.
	const peHeaderOffset = 0x200
	h := samplePE32Header(16)
	h.NumberOfSections = 1
	headerSize := serializeHeaderSize(&h)
	coffHeaderOffset := uint32(peHeaderOffset + 4)
	sectionOffset := coffHeaderOffset + headerSize

	headerRegionEnd := sectionOffset + SectionHeaderSize
	totalSize := headerRegionEnd + 0x100

	buf := make([]byte, totalSize)
	writeU32(buf, PESignatureOffset, peHeaderOffset)
	writeU32(buf, peHeaderOffset, PESignature)
	serializeHeader(&h, buf, coffHeaderOffset)

	sec := SectionHeader{
		VirtualAddress:   0x1000,
		VirtualSize:      0x10,
		SizeOfRawData:    0x10,
		PointerToRawData: 0x10, // well before peHeaderOffset
	}
	copy(sec.Name[:], ".dat")
	serializeSectionHeader(sec, buf, sectionOffset)

	img, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	size, err := img.Store(nil)
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if size < headerRegionEnd {
		t.Fatalf("got size %d, want at least %d (header region end)", size, headerRegionEnd)
	}
}

func TestGetHeaderIsACopy(t *testing.T) {
	buf := buildMinimalPE32(t)
	img, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	h := img.GetHeader()
	h.DataDirectories[0].VirtualAddress = 0xFFFFFFFF

	if img.Header.DataDirectories[0].VirtualAddress == 0xFFFFFFFF {
		t.Fatal("mutating GetHeader's result leaked into the Image")
	}
}

func TestSetHeaderRejectsSectionCountChange(t *testing.T) {
	buf := buildMinimalPE32(t)
	img, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	h := img.GetHeader()
	h.NumberOfSections = 2
	if err := img.SetHeader(h); err != ErrInvalidMutation {
		t.Fatalf("got %v, want ErrInvalidMutation", err)
	}
}

func TestSetHeaderRejectsDirectoryCountMismatch(t *testing.T) {
	buf := buildMinimalPE32(t)
	img, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	h := img.GetHeader()
	h.NumberOfRvaAndSizes = 20 // does not match len(DataDirectories)
	if err := img.SetHeader(h); err != ErrInvalidMutation {
		t.Fatalf("got %v, want ErrInvalidMutation", err)
	}
}

func TestSetHeaderAccepted(t *testing.T) {
	buf := buildMinimalPE32(t)
	img, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	h := img.GetHeader()
	h.CheckSum = 0x1234
	if err := img.SetHeader(h); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img.Header.CheckSum != 0x1234 {
		t.Fatal("SetHeader did not apply the change")
	}
}

func TestDirectoryBindingResolvesToContainingSection(t *testing.T) {
	// S4-style: a directory RVA inside a second section.
	const peHeaderOffset = 0x80
	h := samplePE32PlusHeader(16)
	h.NumberOfSections = 2
	h.DataDirectories[1] = DataDirectory{VirtualAddress: 0x2010, Size: 0x20}

	headerSize := serializeHeaderSize(&h)
	coffHeaderOffset := uint32(peHeaderOffset + 4)
	sectionOffset := coffHeaderOffset + headerSize

	const pointerToRawData1 = 0x400
	const sizeOfRawData1 = 0x200
	const pointerToRawData2 = 0x600
	const sizeOfRawData2 = 0x200
	totalSize := pointerToRawData2 + sizeOfRawData2

	buf := make([]byte, totalSize)
	writeU32(buf, PESignatureOffset, peHeaderOffset)
	writeU32(buf, peHeaderOffset, PESignature)
	serializeHeader(&h, buf, coffHeaderOffset)

	sec1 := SectionHeader{VirtualAddress: 0x1000, VirtualSize: 0x10, SizeOfRawData: sizeOfRawData1, PointerToRawData: pointerToRawData1, Characteristics: ImageScnCntCode}
	copy(sec1.Name[:], ".text")
	serializeSectionHeader(sec1, buf, sectionOffset)

	sec2 := SectionHeader{VirtualAddress: 0x2000, VirtualSize: 0x100, SizeOfRawData: sizeOfRawData2, PointerToRawData: pointerToRawData2, Characteristics: ImageScnCntInitializedData}
	copy(sec2.Name[:], ".data")
	serializeSectionHeader(sec2, buf, sectionOffset+SectionHeaderSize)

	img, err := Load(buf, Options{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	binding := img.DirectoryBindings[1]
	if !binding.Bound || binding.SectionIndex != 1 {
		t.Fatalf("got binding %+v, want bound to section 1", binding)
	}
	if binding.OffsetInSection != 0x10 {
		t.Fatalf("got offset %#x, want 0x10", binding.OffsetInSection)
	}
}
