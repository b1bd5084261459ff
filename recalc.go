// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

// Recalculate re-derives every geometry field from the current section
// list: virtual addresses, raw-data pointers, size_of_image,
// size_of_headers, size_of_code, size_of_initialized_data,
// size_of_uninitialized_data, base_of_code, base_of_data, and the
// data-directory RVA/size pairs that track their bound sections. Call it
// after editing Image.Sections (adding, removing, reordering, or resizing
// any of them) and before Store, so the on-disk layout stays consistent
// with the edited section list.
//
// Applying Recalculate twice in a row without any intervening edit
// produces identical headers: every Header field it touches is derived
// from the current section list and the header's own alignment fields.
// Section raw-data pointers are laid out starting from the SizeOfHeaders
// value present on entry, so a call that changes SizeOfHeaders can shift
// PointerToRawData on the following call.
func (img *Image) Recalculate() error {
	if len(img.Sections) == 0 {
		return ErrNoSections
	}

	h := &img.Header
	fileAlign := h.FileAlignment
	sectionAlign := h.SectionAlignment
	startOfSections := img.Sections[0].Header.VirtualAddress

	nextV := startOfSections
	nextP := h.SizeOfHeaders

	var baseOfCode, baseOfData uint32
	var haveBaseOfCode, haveBaseOfData bool
	var sizeOfCode, sizeOfInitializedData, sizeOfUninitializedData uint32

	for i := range img.Sections {
		sec := &img.Sections[i].Header

		if sec.SizeOfRawData > 0 && sec.VirtualSize <= sec.SizeOfRawData {
			sec.SizeOfRawData = roundUp(sec.VirtualSize, fileAlign)
		}

		sec.VirtualAddress = nextV
		if sec.SizeOfRawData > 0 {
			sec.PointerToRawData = nextP
		}

		nextV += roundUp(sec.VirtualSize, sectionAlign)
		nextP += roundUp(sec.SizeOfRawData, fileAlign)

		isCode := isBitSet(sec.Characteristics, ImageScnCntCode)
		if isCode {
			if !haveBaseOfCode {
				baseOfCode = sec.VirtualAddress
				haveBaseOfCode = true
			}
			if img.Sections[i].Header.NameString() != ".bind" {
				sizeOfCode += roundUp(sec.VirtualSize, fileAlign)
			}
		} else if !haveBaseOfData {
			baseOfData = sec.VirtualAddress
			haveBaseOfData = true
		}

		if isBitSet(sec.Characteristics, ImageScnCntInitializedData) {
			if h.Magic == PE32Magic {
				sizeOfInitializedData += maxU32(roundUp(sec.VirtualSize, fileAlign), sec.SizeOfRawData)
			} else {
				sizeOfInitializedData += roundUp(sec.SizeOfRawData, fileAlign)
			}
		}
		if isBitSet(sec.Characteristics, ImageScnCntUninitializedData) {
			sizeOfUninitializedData += roundUp(sec.VirtualSize, fileAlign)
		}
	}

	last := img.Sections[len(img.Sections)-1].Header
	h.SizeOfImage = roundUp(last.VirtualAddress+last.VirtualSize, sectionAlign)

	headerSize := serializeHeaderSize(h)
	h.SizeOfHeaders = roundUp(img.PEHeaderOffset+4+headerSize+uint32(len(img.Sections))*SectionHeaderSize, fileAlign)

	if sizeOfCode > 0 {
		h.BaseOfCode = baseOfCode
	}
	if h.Magic == PE32Magic && haveBaseOfData {
		h.BaseOfData = baseOfData
	}
	h.SizeOfCode = roundUp(sizeOfCode, fileAlign)
	h.SizeOfInitializedData = roundUp(sizeOfInitializedData, fileAlign)
	h.SizeOfUninitializedData = roundUp(sizeOfUninitializedData, fileAlign)

	for d := range h.DataDirectories {
		if d == CertificateTableDirectoryIndex {
			continue
		}
		binding := img.DirectoryBindings[d]
		if !binding.Bound {
			h.DataDirectories[d] = DataDirectory{}
			continue
		}
		sec := img.Sections[binding.SectionIndex].Header
		h.DataDirectories[d] = DataDirectory{
			VirtualAddress: sec.VirtualAddress + binding.OffsetInSection,
			Size:           binding.Size,
		}
	}

	if len(img.CertificateTable.Certificates) > 0 && int(CertificateTableDirectoryIndex) < len(h.DataDirectories) {
		var total uint32
		for _, c := range img.CertificateTable.Certificates {
			total += c.Length
		}
		h.DataDirectories[CertificateTableDirectoryIndex] = DataDirectory{
			VirtualAddress: img.CertificateTableOffset,
			Size:           total,
		}
	}

	return nil
}
