// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

// SectionHeader is the on-disk, fixed 40-byte IMAGE_SECTION_HEADER.
type SectionHeader struct {
	Name                 [8]byte
	VirtualSize          uint32
	VirtualAddress       uint32
	SizeOfRawData        uint32
	PointerToRawData     uint32
	PointerToRelocations uint32
	PointerToLineNumbers uint32
	NumberOfRelocations  uint16
	NumberOfLineNumbers  uint16
	Characteristics      uint32
}

// NameString returns the section name with trailing NUL padding stripped.
func (h SectionHeader) NameString() string {
	n := 0
	for n < len(h.Name) && h.Name[n] != 0 {
		n++
	}
	return string(h.Name[:n])
}

// Section is one section header plus its owned raw on-disk payload.
type Section struct {
	Header SectionHeader
	Data   []byte
}

// deserializeSectionHeader reads one 40-byte section header at offset.
func deserializeSectionHeader(buf []byte, offset uint32) (SectionHeader, error) {
	var h SectionHeader
	if err := checkBounds(uint32(len(buf)), offset, SectionHeaderSize); err != nil {
		return h, err
	}
	copy(h.Name[:], buf[offset:offset+8])
	h.VirtualSize = readU32(buf, offset+8)
	h.VirtualAddress = readU32(buf, offset+12)
	h.SizeOfRawData = readU32(buf, offset+16)
	h.PointerToRawData = readU32(buf, offset+20)
	h.PointerToRelocations = readU32(buf, offset+24)
	h.PointerToLineNumbers = readU32(buf, offset+28)
	h.NumberOfRelocations = readU16(buf, offset+32)
	h.NumberOfLineNumbers = readU16(buf, offset+34)
	h.Characteristics = readU32(buf, offset+36)
	return h, nil
}

// serializeSectionHeader writes h's 40 bytes at offset.
func serializeSectionHeader(h SectionHeader, buf []byte, offset uint32) {
	copy(buf[offset:offset+8], h.Name[:])
	writeU32(buf, offset+8, h.VirtualSize)
	writeU32(buf, offset+12, h.VirtualAddress)
	writeU32(buf, offset+16, h.SizeOfRawData)
	writeU32(buf, offset+20, h.PointerToRawData)
	writeU32(buf, offset+24, h.PointerToRelocations)
	writeU32(buf, offset+28, h.PointerToLineNumbers)
	writeU16(buf, offset+32, h.NumberOfRelocations)
	writeU16(buf, offset+34, h.NumberOfLineNumbers)
	writeU32(buf, offset+36, h.Characteristics)
}

// deserializeSection reads a section header at headerOffset and then, if
// SizeOfRawData is non-zero, copies its raw payload out of buf.
// PointerToRawData of zero, or a SizeOfRawData that would run past the end
// of buf, is tolerated the same way a loader tolerates a section with no
// backing file data: Data comes back nil rather than erroring, since a
// missing payload is not itself a framing error in the header region.
func deserializeSection(buf []byte, headerOffset uint32) (Section, error) {
	h, err := deserializeSectionHeader(buf, headerOffset)
	if err != nil {
		return Section{}, err
	}

	var data []byte
	if h.SizeOfRawData > 0 && h.PointerToRawData != 0 {
		if d, err := readBytesAt(buf, h.PointerToRawData, h.SizeOfRawData); err == nil {
			data = d
		}
	}

	return Section{Header: h, Data: data}, nil
}

// containsRVA reports whether rva (when size is 0) or the whole range
// [rva, rva+size) falls within this section's virtual range, using the
// on-disk VirtualSize (not rounded to SectionAlignment).
func (s Section) containsRVA(rva, size uint32) bool {
	if size == 0 {
		return rva >= s.Header.VirtualAddress && rva < s.Header.VirtualAddress+s.Header.VirtualSize
	}
	end := rva + size
	if end < rva {
		return false
	}
	return rva >= s.Header.VirtualAddress && end <= s.Header.VirtualAddress+s.Header.VirtualSize
}
