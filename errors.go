// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package ppelib

import "errors"

// Errors returned by the codec. There is no process-wide "last error"
// channel here: every entry point returns one of these (or a wrapped
// variant carrying boundary detail) as an ordinary Go error.
var (
	// ErrOutsideBoundary is returned when a read or write would fall
	// outside the bounds of the buffer it operates on.
	ErrOutsideBoundary = errors.New("reading data outside boundary")

	// ErrInvalidPESize is returned when the buffer is smaller than the
	// minimum needed to locate the PE signature offset, or too small to
	// hold the signature at that offset.
	ErrInvalidPESize = errors.New("not a PE file (file too small)")

	// ErrBadSignature is returned when the 4 bytes at the PE header
	// offset are not "PE\x00\x00".
	ErrBadSignature = errors.New("not a PE file (PE00 signature missing)")

	// ErrBufferTooSmallForCOFF is returned when the buffer cannot hold
	// the fixed-size COFF common header.
	ErrBufferTooSmallForCOFF = errors.New("buffer too small for common COFF headers")

	// ErrUnknownMagic is returned when the optional header magic is
	// neither PE32Magic nor PE32PlusMagic.
	ErrUnknownMagic = errors.New("unknown PE magic")

	// ErrBufferTooSmallForPE is returned when the buffer cannot hold the
	// PE32 optional header fixed fields.
	ErrBufferTooSmallForPE = errors.New("buffer too small for PE headers")

	// ErrBufferTooSmallForPEPlus is returned when the buffer cannot hold
	// the PE32+ optional header fixed fields.
	ErrBufferTooSmallForPEPlus = errors.New("buffer too small for PE+ headers")

	// ErrOutputBufferTooSmall is returned by Store when the caller's
	// buffer is smaller than the computed size.
	ErrOutputBufferTooSmall = errors.New("target buffer too small")

	// ErrMalformedCertificate is returned when a WIN_CERTIFICATE entry's
	// length is too small to hold its own header, or the table overruns
	// the directory's declared size.
	ErrMalformedCertificate = errors.New("malformed certificate entry")

	// ErrInvalidMutation is returned by SetHeader when the caller tries
	// to change a field that must not change after Load.
	ErrInvalidMutation = errors.New("invalid header mutation")

	// ErrNoSections is returned by Recalculate when the image has no
	// sections to derive geometry from.
	ErrNoSections = errors.New("cannot recalculate an image with no sections")
)
