// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

import "fmt"

// DataDirectory is one (RVA, size) pair describing a well-known table such
// as imports, exports, resources or certificates.
type DataDirectory struct {
	VirtualAddress uint32
	Size           uint32
}

// Header holds the COFF common fields and the optional header, collapsed
// into a single tagged-union style struct: Magic selects whether the
// address-sized fields were read/written as 32-bit (PE32) or 64-bit
// (PE32+) quantities. BaseOfData only exists on disk for PE32; it is left
// zero and ignored when Magic is PE32PlusMagic.
type Header struct {
	// COFF common fields.
	Machine              uint16
	NumberOfSections     uint16
	TimeDateStamp        uint32
	PointerToSymbolTable uint32
	NumberOfSymbols      uint32
	SizeOfOptionalHeader uint16
	Characteristics      uint16

	// Optional header, common to both variants.
	Magic                       uint16
	MajorLinkerVersion          uint8
	MinorLinkerVersion          uint8
	SizeOfCode                  uint32
	SizeOfInitializedData       uint32
	SizeOfUninitializedData     uint32
	AddressOfEntryPoint         uint32
	BaseOfCode                  uint32
	BaseOfData                  uint32 // PE32 only.
	ImageBase                   uint64 // narrowed to 4 bytes on disk for PE32.
	SectionAlignment            uint32
	FileAlignment               uint32
	MajorOperatingSystemVersion uint16
	MinorOperatingSystemVersion uint16
	MajorImageVersion           uint16
	MinorImageVersion           uint16
	MajorSubsystemVersion       uint16
	MinorSubsystemVersion       uint16
	Win32VersionValue           uint32
	SizeOfImage                 uint32
	SizeOfHeaders               uint32
	CheckSum                    uint32
	Subsystem                   uint16
	DllCharacteristics          uint16
	SizeOfStackReserve          uint64 // narrowed to 4 bytes on disk for PE32.
	SizeOfStackCommit           uint64 // narrowed to 4 bytes on disk for PE32.
	SizeOfHeapReserve           uint64 // narrowed to 4 bytes on disk for PE32.
	SizeOfHeapCommit            uint64 // narrowed to 4 bytes on disk for PE32.
	LoaderFlags                 uint32
	NumberOfRvaAndSizes         uint32

	// DataDirectories has length NumberOfRvaAndSizes exactly - it is
	// never clamped or padded to the traditional 16 entries.
	DataDirectories []DataDirectory
}

// clone returns a deep copy of the header, including its own copy of the
// data-directory slice, so a caller mutating the result can never reach
// into the Image's live state without going through SetHeader.
func (h Header) clone() Header {
	out := h
	if h.DataDirectories != nil {
		out.DataDirectories = make([]DataDirectory, len(h.DataDirectories))
		copy(out.DataDirectories, h.DataDirectories)
	}
	return out
}

// deserializeHeader reads the COFF header, the variant optional header
// selected by the magic field, and the variable-length data-directory
// array, starting at offset in buf. It returns the header and the total
// number of bytes consumed.
func deserializeHeader(buf []byte, offset uint32) (Header, uint32, error) {
	var h Header
	bufLen := uint32(len(buf))

	if bufLen < offset || bufLen-offset < coffHeaderSize {
		return h, 0, ErrBufferTooSmallForCOFF
	}

	h.Machine = readU16(buf, offset+0)
	h.NumberOfSections = readU16(buf, offset+2)
	h.TimeDateStamp = readU32(buf, offset+4)
	h.PointerToSymbolTable = readU32(buf, offset+8)
	h.NumberOfSymbols = readU32(buf, offset+12)
	h.SizeOfOptionalHeader = readU16(buf, offset+16)
	h.Characteristics = readU16(buf, offset+18)

	opt := offset + coffHeaderSize
	if bufLen-opt < 2 {
		return h, 0, ErrBufferTooSmallForCOFF
	}
	h.Magic = readU16(buf, opt)

	switch h.Magic {
	case PE32Magic:
		if bufLen-offset < coffHeaderSize+peOptionalHeaderSize {
			return h, 0, ErrBufferTooSmallForPE
		}
		deserializePE32Fields(buf, opt, &h)
	case PE32PlusMagic:
		if bufLen-offset < coffHeaderSize+peplusOptionalHeaderSize {
			return h, 0, ErrBufferTooSmallForPEPlus
		}
		deserializePE32PlusFields(buf, opt, &h)
	default:
		return h, 0, ErrUnknownMagic
	}

	var dirOff, fixedSize uint32
	if h.Magic == PE32Magic {
		fixedSize = peOptionalHeaderSize
	} else {
		fixedSize = peplusOptionalHeaderSize
	}
	dirOff = opt + fixedSize

	// No upper bound is enforced on NumberOfRvaAndSizes beyond what the
	// buffer can actually hold - a count the remaining bytes cannot hold is
	// rejected with an error rather than trusted.
	avail := uint32(0)
	if bufLen > dirOff {
		avail = (bufLen - dirOff) / DataDirectorySize
	}
	n := h.NumberOfRvaAndSizes
	if n > avail {
		return h, 0, fmt.Errorf("%w: data directories (%d entries) exceed remaining buffer", ErrOutsideBoundary, n)
	}

	h.DataDirectories = make([]DataDirectory, n)
	for i := uint32(0); i < n; i++ {
		base := dirOff + i*DataDirectorySize
		h.DataDirectories[i] = DataDirectory{
			VirtualAddress: readU32(buf, base),
			Size:           readU32(buf, base+4),
		}
	}

	return h, coffHeaderSize + fixedSize + n*DataDirectorySize, nil
}

func deserializePE32Fields(buf []byte, opt uint32, h *Header) {
	h.MajorLinkerVersion = readU8(buf, opt+2)
	h.MinorLinkerVersion = readU8(buf, opt+3)
	h.SizeOfCode = readU32(buf, opt+4)
	h.SizeOfInitializedData = readU32(buf, opt+8)
	h.SizeOfUninitializedData = readU32(buf, opt+12)
	h.AddressOfEntryPoint = readU32(buf, opt+16)
	h.BaseOfCode = readU32(buf, opt+20)
	h.BaseOfData = readU32(buf, opt+24)
	h.ImageBase = uint64(readU32(buf, opt+28))
	h.SectionAlignment = readU32(buf, opt+32)
	h.FileAlignment = readU32(buf, opt+36)
	h.MajorOperatingSystemVersion = readU16(buf, opt+40)
	h.MinorOperatingSystemVersion = readU16(buf, opt+42)
	h.MajorImageVersion = readU16(buf, opt+44)
	h.MinorImageVersion = readU16(buf, opt+46)
	h.MajorSubsystemVersion = readU16(buf, opt+48)
	h.MinorSubsystemVersion = readU16(buf, opt+50)
	h.Win32VersionValue = readU32(buf, opt+52)
	h.SizeOfImage = readU32(buf, opt+56)
	h.SizeOfHeaders = readU32(buf, opt+60)
	h.CheckSum = readU32(buf, opt+64)
	h.Subsystem = readU16(buf, opt+68)
	h.DllCharacteristics = readU16(buf, opt+70)
	h.SizeOfStackReserve = uint64(readU32(buf, opt+72))
	h.SizeOfStackCommit = uint64(readU32(buf, opt+76))
	h.SizeOfHeapReserve = uint64(readU32(buf, opt+80))
	h.SizeOfHeapCommit = uint64(readU32(buf, opt+84))
	h.LoaderFlags = readU32(buf, opt+88)
	h.NumberOfRvaAndSizes = readU32(buf, opt+92)
}

func deserializePE32PlusFields(buf []byte, opt uint32, h *Header) {
	h.MajorLinkerVersion = readU8(buf, opt+2)
	h.MinorLinkerVersion = readU8(buf, opt+3)
	h.SizeOfCode = readU32(buf, opt+4)
	h.SizeOfInitializedData = readU32(buf, opt+8)
	h.SizeOfUninitializedData = readU32(buf, opt+12)
	h.AddressOfEntryPoint = readU32(buf, opt+16)
	h.BaseOfCode = readU32(buf, opt+20)
	h.BaseOfData = 0
	h.ImageBase = readU64(buf, opt+24)
	h.SectionAlignment = readU32(buf, opt+32)
	h.FileAlignment = readU32(buf, opt+36)
	h.MajorOperatingSystemVersion = readU16(buf, opt+40)
	h.MinorOperatingSystemVersion = readU16(buf, opt+42)
	h.MajorImageVersion = readU16(buf, opt+44)
	h.MinorImageVersion = readU16(buf, opt+46)
	h.MajorSubsystemVersion = readU16(buf, opt+48)
	h.MinorSubsystemVersion = readU16(buf, opt+50)
	h.Win32VersionValue = readU32(buf, opt+52)
	h.SizeOfImage = readU32(buf, opt+56)
	h.SizeOfHeaders = readU32(buf, opt+60)
	h.CheckSum = readU32(buf, opt+64)
	h.Subsystem = readU16(buf, opt+68)
	h.DllCharacteristics = readU16(buf, opt+70)
	h.SizeOfStackReserve = readU64(buf, opt+72)
	h.SizeOfStackCommit = readU64(buf, opt+80)
	h.SizeOfHeapReserve = readU64(buf, opt+88)
	h.SizeOfHeapCommit = readU64(buf, opt+96)
	h.LoaderFlags = readU32(buf, opt+104)
	h.NumberOfRvaAndSizes = readU32(buf, opt+108)
}

// serializeHeaderSize returns the number of bytes serializeHeader would
// write, without writing anything.
func serializeHeaderSize(h *Header) uint32 {
	switch h.Magic {
	case PE32Magic:
		return coffHeaderSize + peOptionalHeaderSize + uint32(len(h.DataDirectories))*DataDirectorySize
	case PE32PlusMagic:
		return coffHeaderSize + peplusOptionalHeaderSize + uint32(len(h.DataDirectories))*DataDirectorySize
	default:
		// The top-level caller is responsible for pre-validating magic;
		// mirrors the reference codec's "return 0 without error" rule.
		return 0
	}
}

// serializeHeader writes h to buf at offset and returns the number of
// bytes written. buf must be at least offset+serializeHeaderSize(h) long.
func serializeHeader(h *Header, buf []byte, offset uint32) uint32 {
	size := serializeHeaderSize(h)
	if size == 0 {
		return 0
	}

	writeU16(buf, offset+0, h.Machine)
	writeU16(buf, offset+2, h.NumberOfSections)
	writeU32(buf, offset+4, h.TimeDateStamp)
	writeU32(buf, offset+8, h.PointerToSymbolTable)
	writeU32(buf, offset+12, h.NumberOfSymbols)
	writeU16(buf, offset+16, h.SizeOfOptionalHeader)
	writeU16(buf, offset+18, h.Characteristics)

	opt := offset + coffHeaderSize
	var fixedSize uint32
	if h.Magic == PE32Magic {
		serializePE32Fields(buf, opt, h)
		fixedSize = peOptionalHeaderSize
	} else {
		serializePE32PlusFields(buf, opt, h)
		fixedSize = peplusOptionalHeaderSize
	}

	dirOff := opt + fixedSize
	for i, d := range h.DataDirectories {
		base := dirOff + uint32(i)*DataDirectorySize
		writeU32(buf, base, d.VirtualAddress)
		writeU32(buf, base+4, d.Size)
	}

	return size
}

func serializePE32Fields(buf []byte, opt uint32, h *Header) {
	writeU16(buf, opt+0, h.Magic)
	writeU8(buf, opt+2, h.MajorLinkerVersion)
	writeU8(buf, opt+3, h.MinorLinkerVersion)
	writeU32(buf, opt+4, h.SizeOfCode)
	writeU32(buf, opt+8, h.SizeOfInitializedData)
	writeU32(buf, opt+12, h.SizeOfUninitializedData)
	writeU32(buf, opt+16, h.AddressOfEntryPoint)
	writeU32(buf, opt+20, h.BaseOfCode)
	writeU32(buf, opt+24, h.BaseOfData)
	writeU32(buf, opt+28, uint32(h.ImageBase))
	writeU32(buf, opt+32, h.SectionAlignment)
	writeU32(buf, opt+36, h.FileAlignment)
	writeU16(buf, opt+40, h.MajorOperatingSystemVersion)
	writeU16(buf, opt+42, h.MinorOperatingSystemVersion)
	writeU16(buf, opt+44, h.MajorImageVersion)
	writeU16(buf, opt+46, h.MinorImageVersion)
	writeU16(buf, opt+48, h.MajorSubsystemVersion)
	writeU16(buf, opt+50, h.MinorSubsystemVersion)
	writeU32(buf, opt+52, h.Win32VersionValue)
	writeU32(buf, opt+56, h.SizeOfImage)
	writeU32(buf, opt+60, h.SizeOfHeaders)
	writeU32(buf, opt+64, h.CheckSum)
	writeU16(buf, opt+68, h.Subsystem)
	writeU16(buf, opt+70, h.DllCharacteristics)
	writeU32(buf, opt+72, uint32(h.SizeOfStackReserve))
	writeU32(buf, opt+76, uint32(h.SizeOfStackCommit))
	writeU32(buf, opt+80, uint32(h.SizeOfHeapReserve))
	writeU32(buf, opt+84, uint32(h.SizeOfHeapCommit))
	writeU32(buf, opt+88, h.LoaderFlags)
	writeU32(buf, opt+92, h.NumberOfRvaAndSizes)
}

func serializePE32PlusFields(buf []byte, opt uint32, h *Header) {
	writeU16(buf, opt+0, h.Magic)
	writeU8(buf, opt+2, h.MajorLinkerVersion)
	writeU8(buf, opt+3, h.MinorLinkerVersion)
	writeU32(buf, opt+4, h.SizeOfCode)
	writeU32(buf, opt+8, h.SizeOfInitializedData)
	writeU32(buf, opt+12, h.SizeOfUninitializedData)
	writeU32(buf, opt+16, h.AddressOfEntryPoint)
	writeU32(buf, opt+20, h.BaseOfCode)
	writeU64(buf, opt+24, h.ImageBase)
	writeU32(buf, opt+32, h.SectionAlignment)
	writeU32(buf, opt+36, h.FileAlignment)
	writeU16(buf, opt+40, h.MajorOperatingSystemVersion)
	writeU16(buf, opt+42, h.MinorOperatingSystemVersion)
	writeU16(buf, opt+44, h.MajorImageVersion)
	writeU16(buf, opt+46, h.MinorImageVersion)
	writeU16(buf, opt+48, h.MajorSubsystemVersion)
	writeU16(buf, opt+50, h.MinorSubsystemVersion)
	writeU32(buf, opt+52, h.Win32VersionValue)
	writeU32(buf, opt+56, h.SizeOfImage)
	writeU32(buf, opt+60, h.SizeOfHeaders)
	writeU32(buf, opt+64, h.CheckSum)
	writeU16(buf, opt+68, h.Subsystem)
	writeU16(buf, opt+70, h.DllCharacteristics)
	writeU64(buf, opt+72, h.SizeOfStackReserve)
	writeU64(buf, opt+80, h.SizeOfStackCommit)
	writeU64(buf, opt+88, h.SizeOfHeapReserve)
	writeU64(buf, opt+96, h.SizeOfHeapCommit)
	writeU32(buf, opt+104, h.LoaderFlags)
	writeU32(buf, opt+108, h.NumberOfRvaAndSizes)
}
