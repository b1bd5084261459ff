// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

import "github.com/saferwall/ppelib/log"

// DirectoryBinding resolves a data-directory entry to the section that
// contains it. It is stored as an index rather than a pointer/reference so
// that reordering Image.Sections never leaves a dangling back-reference -
// indices are re-resolved against the live section list whenever needed.
type DirectoryBinding struct {
	Bound           bool
	SectionIndex    int
	OffsetInSection uint32
	Size            uint32
}

// Image is the top-level, in-memory object model for one PE file: the
// bytes preceding the PE signature, the parsed header, the ordered
// sections, each directory's resolved section binding, the certificate
// table and any bytes found past the last section on disk.
type Image struct {
	Stub []byte

	PEHeaderOffset uint32
	Header         Header
	Sections       []Section

	// DirectoryBindings runs parallel to Header.DataDirectories.
	DirectoryBindings []DirectoryBinding

	// CertificateTableOffset is the file offset data_directories[4]
	// addresses - unlike every other directory this is a file offset, not
	// an RVA, so it is kept verbatim rather than resolved to a section.
	CertificateTableOffset uint32
	CertificateTable       CertificateTable

	TrailingData []byte

	// Anomalies records geometry-level observations that did not stop
	// parsing but are worth surfacing to a caller inspecting the result.
	// The only observation recorded is a data directory that could not be
	// bound to any section; overlapping sections and sections preceding
	// the header are not detected.
	Anomalies []string

	Options Options
	log     *log.Helper
}

// Options configures parsing behavior. The zero value is usable.
type Options struct {
	// Logger receives diagnostic messages during Load. A nil Logger
	// writes error-level messages to os.Stderr and drops the rest.
	Logger log.Logger

	// MaxCertificates bounds how many WIN_CERTIFICATE entries Load will
	// walk out of the certificate table before giving up with
	// ErrMalformedCertificate. Zero means unbounded.
	MaxCertificates int

	// DisableCertificateParse skips the best-effort pkcs7.Parse of each
	// certificate's payload, leaving Certificate.Parsed nil even for
	// well-formed PKCS#7 data. The raw bytes are always preserved either
	// way; this only controls the informational parse step.
	DisableCertificateParse bool
}

func (o Options) helper() *log.Helper {
	logger := o.Logger
	if logger == nil {
		logger = log.NewFilter(log.NewStdLogger(nil), log.FilterLevel(log.LevelError))
	}
	return log.NewHelper(logger)
}

// Load parses buf into an Image. It never mutates or retains buf itself -
// every field it needs is copied out, so the caller may discard or reuse
// buf immediately after Load returns.
func Load(buf []byte, opts Options) (*Image, error) {
	img := &Image{Options: opts, log: opts.helper()}
	bufLen := uint32(len(buf))

	if !fits(bufLen, PESignatureOffset, 4) {
		return nil, ErrInvalidPESize
	}
	peHeaderOffset := readU32(buf, PESignatureOffset)
	img.PEHeaderOffset = peHeaderOffset

	// peHeaderOffset is attacker-controlled; fits guards the addition
	// against uint32 overflow instead of computing peHeaderOffset+4 first.
	if !fits(bufLen, peHeaderOffset, 4) {
		return nil, ErrInvalidPESize
	}
	if readU32(buf, peHeaderOffset) != PESignature {
		return nil, ErrBadSignature
	}

	coffHeaderOffset := peHeaderOffset + 4
	if !fits(bufLen, coffHeaderOffset, coffHeaderSize) {
		return nil, ErrBufferTooSmallForCOFF
	}

	header, headerSize, err := deserializeHeader(buf, coffHeaderOffset)
	if err != nil {
		return nil, err
	}
	img.Header = header

	sectionOffset := coffHeaderOffset + headerSize
	var endOfSections uint32
	img.Sections = make([]Section, 0, header.NumberOfSections)
	for i := uint32(0); i < uint32(header.NumberOfSections); i++ {
		off := sectionOffset + i*SectionHeaderSize
		s, err := deserializeSection(buf, off)
		if err != nil {
			return nil, err
		}
		img.Sections = append(img.Sections, s)
		end := s.Header.PointerToRawData + s.Header.SizeOfRawData
		if end < s.Header.PointerToRawData {
			continue
		}
		endOfSections = maxU32(endOfSections, end)
	}

	img.resolveDirectoryBindings()

	if int(CertificateTableDirectoryIndex) < len(header.DataDirectories) {
		certDir := header.DataDirectories[CertificateTableDirectoryIndex]
		img.CertificateTableOffset = certDir.VirtualAddress
		if certDir.Size != 0 {
			table, err := deserializeCertificateTable(buf, certDir.VirtualAddress, certDir.Size, opts)
			if err != nil {
				return nil, err
			}
			img.CertificateTable = table
		}
	}

	stub, err := readBytesAt(buf, 0, peHeaderOffset)
	if err != nil {
		return nil, err
	}
	img.Stub = stub

	if bufLen > endOfSections {
		trailing, err := readBytesAt(buf, endOfSections, bufLen-endOfSections)
		if err != nil {
			return nil, err
		}
		img.TrailingData = trailing
	}

	img.log.Debugf("loaded image: %d sections, %d bytes stub", len(img.Sections), len(img.Stub))

	return img, nil
}

// resolveDirectoryBindings implements the §4.5 rule: outer loop over
// sections, inner loop over directories, last matching section wins. The
// certificate-table directory is skipped here since it uses file-offset
// semantics, not RVA-to-section binding.
func (img *Image) resolveDirectoryBindings() {
	img.DirectoryBindings = make([]DirectoryBinding, len(img.Header.DataDirectories))

	for i, sec := range img.Sections {
		va := sec.Header.VirtualAddress
		end := va + sec.Header.SizeOfRawData
		for d, dir := range img.Header.DataDirectories {
			if d == CertificateTableDirectoryIndex {
				continue
			}
			if dir.Size == 0 && dir.VirtualAddress == 0 {
				continue
			}
			if va <= dir.VirtualAddress && end >= dir.VirtualAddress {
				img.DirectoryBindings[d] = DirectoryBinding{
					Bound:           true,
					SectionIndex:    i,
					OffsetInSection: dir.VirtualAddress - va,
					Size:            dir.Size,
				}
			}
		}
	}

	for d, dir := range img.Header.DataDirectories {
		if d == CertificateTableDirectoryIndex {
			continue
		}
		if !img.DirectoryBindings[d].Bound && (dir.VirtualAddress != 0 || dir.Size != 0) {
			img.Anomalies = append(img.Anomalies, "data directory has no containing section")
		}
	}
}

// GetHeader returns a deep copy of the image's header: mutating the
// result never reaches back into the Image's own state.
func (img *Image) GetHeader() Header {
	return img.Header.clone()
}

// SetHeader replaces the image's header with a copy of h, rejecting
// changes to fields that would desynchronize the rest of the model.
// Unlike the reference implementation's "set the error but copy anyway"
// behavior for NumberOfRvaAndSizes/SizeOfHeaders mismatches, this is a
// hard error: on failure the Image is left completely unmodified.
func (img *Image) SetHeader(h Header) error {
	if h.Magic != img.Header.Magic {
		return ErrInvalidMutation
	}
	if h.NumberOfSections != img.Header.NumberOfSections {
		return ErrInvalidMutation
	}
	if int(h.NumberOfRvaAndSizes) != len(h.DataDirectories) {
		return ErrInvalidMutation
	}
	if h.SizeOfHeaders != img.Header.SizeOfHeaders {
		return ErrInvalidMutation
	}

	img.Header = h.clone()
	img.resolveDirectoryBindings()
	return nil
}

// storeLayout captures the pass-one size computation shared between the
// size-query and write passes of Store.
type storeLayout struct {
	size           uint32
	headerSize     uint32
	endOfSections  uint32
	certTableSize  uint32
}

func (img *Image) planStore() storeLayout {
	var l storeLayout
	l.headerSize = serializeHeaderSize(&img.Header)

	size := img.PEHeaderOffset + 4 + l.headerSize
	size += uint32(len(img.Sections)) * SectionHeaderSize

	for _, s := range img.Sections {
		end := s.Header.PointerToRawData + s.Header.SizeOfRawData
		if end < s.Header.PointerToRawData {
			continue
		}
		l.endOfSections = maxU32(l.endOfSections, end)
	}
	if l.endOfSections > size {
		size = l.endOfSections
	}

	size += uint32(len(img.TrailingData))

	l.certTableSize = serializedCertificateTableSize(img.CertificateTable)
	if l.certTableSize > 0 {
		certEnd := img.CertificateTableOffset + l.certTableSize
		if certEnd > size {
			size = certEnd
		}
	}

	l.size = size
	return l
}

// Store serializes img. When buf is nil it returns the number of bytes a
// full serialization would occupy without writing anything. When buf is
// non-nil it must be at least that many bytes long; Store zeroes it and
// writes the full image, returning the number of bytes written.
func (img *Image) Store(buf []byte) (uint32, error) {
	layout := img.planStore()

	if buf == nil {
		return layout.size, nil
	}
	if uint32(len(buf)) < layout.size {
		return 0, ErrOutputBufferTooSmall
	}

	for i := range buf[:layout.size] {
		buf[i] = 0
	}

	copy(buf[0:img.PEHeaderOffset], img.Stub)
	writeU32(buf, img.PEHeaderOffset, PESignature)

	coffHeaderOffset := img.PEHeaderOffset + 4
	serializeHeader(&img.Header, buf, coffHeaderOffset)

	sectionOffset := coffHeaderOffset + layout.headerSize
	for i, s := range img.Sections {
		serializeSectionHeader(s.Header, buf, sectionOffset+uint32(i)*SectionHeaderSize)
		if len(s.Data) > 0 {
			copy(buf[s.Header.PointerToRawData:s.Header.PointerToRawData+s.Header.SizeOfRawData], s.Data)
		}
	}

	if len(img.TrailingData) > 0 {
		copy(buf[layout.endOfSections:], img.TrailingData)
	}

	if layout.certTableSize > 0 {
		if _, err := serializeCertificateTable(img.CertificateTable, buf, img.CertificateTableOffset); err != nil {
			return 0, err
		}
	}

	return layout.size, nil
}

// SizeBreakdown reports how Store's computed size is distributed across
// the header region, the section table, section payloads, the
// certificate table and trailing data - a diagnostic aid, not part of the
// wire format.
type SizeBreakdown struct {
	HeaderRegion     uint32
	SectionTable     uint32
	SectionPayloads  uint32
	CertificateTable uint32
	TrailingData     uint32
	Total            uint32
}

// SizeBreakdown computes a SizeBreakdown for the image's current state.
func (img *Image) SizeBreakdown() SizeBreakdown {
	layout := img.planStore()
	var b SizeBreakdown
	b.HeaderRegion = img.PEHeaderOffset + 4 + layout.headerSize
	b.SectionTable = uint32(len(img.Sections)) * SectionHeaderSize
	for _, s := range img.Sections {
		b.SectionPayloads += s.Header.SizeOfRawData
	}
	b.CertificateTable = layout.certTableSize
	b.TrailingData = uint32(len(img.TrailingData))
	b.Total = layout.size
	return b
}
