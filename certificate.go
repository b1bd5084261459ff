// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

import "go.mozilla.org/pkcs7"

// WIN_CERTIFICATE Revision values.
const (
	WinCertRevision1_0 = 0x0100
	WinCertRevision2_0 = 0x0200
)

// WIN_CERTIFICATE CertificateType values.
const (
	WinCertTypeX509           = 0x0001
	WinCertTypePKCSSignedData = 0x0002
	WinCertTypeReserved1      = 0x0003
	WinCertTypeTSStackSigned  = 0x0004
)

// Certificate is one WIN_CERTIFICATE entry from the attribute-certificate
// table: the 8-byte header plus its raw payload, verbatim. When the
// payload is a PKCS#7 SignedData blob, Parsed carries the structurally
// parsed form - this module never validates the signing chain or computes
// an Authenticode hash, since neither is part of binary framing.
type Certificate struct {
	Length          uint32
	Revision        uint16
	CertificateType uint16
	Data            []byte

	// Parsed is non-nil only when CertificateType is
	// WinCertTypePKCSSignedData and Data parses as well-formed PKCS#7.
	// A parse failure is not itself a framing error: Parsed stays nil and
	// Data is preserved exactly as read.
	Parsed *pkcs7.PKCS7
}

// CertificateTable is the parsed attribute-certificate directory: a
// sequence of 8-byte-aligned WIN_CERTIFICATE entries addressed by file
// offset (not RVA, unlike every other data directory).
type CertificateTable struct {
	Certificates []Certificate
}

// deserializeCertificateTable walks the certificate table directory
// starting at fileOffset for tableSize bytes. Each entry is padded to an
// 8-byte boundary on disk; Length covers the header plus payload but
// excludes that padding. An entry whose declared Length is smaller than
// the 8-byte header, or that would run past fileOffset+tableSize, is a
// malformed table and aborts the whole walk rather than silently
// truncating it.
func deserializeCertificateTable(buf []byte, fileOffset, tableSize uint32, opts Options) (CertificateTable, error) {
	var table CertificateTable
	if tableSize == 0 {
		return table, nil
	}
	if err := checkBounds(uint32(len(buf)), fileOffset, tableSize); err != nil {
		return table, err
	}

	end := fileOffset + tableSize
	pos := fileOffset
	for pos < end {
		if opts.MaxCertificates > 0 && len(table.Certificates) >= opts.MaxCertificates {
			return CertificateTable{}, ErrMalformedCertificate
		}
		if end-pos < certificateHeaderSize {
			return CertificateTable{}, ErrMalformedCertificate
		}

		length := readU32(buf, pos)
		revision := readU16(buf, pos+4)
		certType := readU16(buf, pos+6)

		if length < certificateHeaderSize {
			return CertificateTable{}, ErrMalformedCertificate
		}
		if end-pos < length {
			return CertificateTable{}, ErrMalformedCertificate
		}

		payload, err := readBytesAt(buf, pos+certificateHeaderSize, length-certificateHeaderSize)
		if err != nil {
			return CertificateTable{}, ErrMalformedCertificate
		}

		cert := Certificate{
			Length:          length,
			Revision:        revision,
			CertificateType: certType,
			Data:            payload,
		}
		if certType == WinCertTypePKCSSignedData && !opts.DisableCertificateParse {
			if p, err := pkcs7.Parse(payload); err == nil {
				cert.Parsed = p
			}
		}
		table.Certificates = append(table.Certificates, cert)

		pos += roundUp(length, certificateAlignment)
	}

	return table, nil
}

// serializedCertificateTableSize returns the total on-disk size of the
// table, including per-entry padding to an 8-byte boundary.
func serializedCertificateTableSize(table CertificateTable) uint32 {
	var size uint32
	for _, c := range table.Certificates {
		size += roundUp(c.Length, certificateAlignment)
	}
	return size
}

// serializeCertificateTable writes table at offset in buf and returns the
// number of bytes written (including inter-entry padding). A certificate
// whose Length is too small to hold its own 8-byte header is rejected
// rather than written, since the deserializer itself never produces one -
// the caller may have hand-built the table.
func serializeCertificateTable(table CertificateTable, buf []byte, offset uint32) (uint32, error) {
	pos := offset
	for _, c := range table.Certificates {
		if c.Length < certificateHeaderSize {
			return 0, ErrMalformedCertificate
		}
		writeU32(buf, pos, c.Length)
		writeU16(buf, pos+4, c.Revision)
		writeU16(buf, pos+6, c.CertificateType)
		copy(buf[pos+certificateHeaderSize:pos+c.Length], c.Data)
		pos += roundUp(c.Length, certificateAlignment)
	}
	return pos - offset, nil
}
