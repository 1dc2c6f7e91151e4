package rpmfact

import (
	"encoding/binary"
	"fmt"
	"io"
)

// rpmLead is the 96-byte fixed header every RPM begins with.
type rpmLead struct {
	Magic         uint32
	MajorVersion  uint8
	MinorVersion  uint8
	Type          uint16
	Architecture  uint16
	Name          [66]byte
	OSNum         uint16
	SignatureType uint16
	Reserved      [16]byte
}

// bytesHeaderSectionMagic identifies the start of an RPM header-structure
// header (signature or metadata section).
var bytesHeaderSectionMagic = [3]byte{0x8e, 0xad, 0xe8}

type headerSectionHeader struct {
	Magic      [3]byte
	Version    uint8
	Reserved   [4]byte
	EntryCount uint32
	DataSize   uint32
}

type indexEntry struct {
	Tag    uint32
	Type   uint32
	Offset uint32
	Count  uint32
}

const indexEntrySize = 16 // 4 uint32 fields, big-endian, no padding

// HeaderByteRange reads just enough of an RPM (lead, then signature
// section, then the start of the metadata header section) to report the
// [start, end) byte offsets of the metadata header within the file — the
// "header range" embedded in primary.xml. It does not decode any tag
// values; Extract does that separately via go-rpmutils.
func HeaderByteRange(r io.ReadSeeker) (start, end int64, err error) {
	var lead rpmLead
	if err := binary.Read(r, binary.BigEndian, &lead); err != nil {
		return 0, 0, fmt.Errorf("rpmfact: reading lead: %w", err)
	}

	sigSize, err := skipHeaderSection(r, true)
	if err != nil {
		return 0, 0, fmt.Errorf("rpmfact: reading signature section: %w", err)
	}

	headerStart, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, 0, err
	}
	_ = sigSize

	metaSize, err := skipHeaderSection(r, false)
	if err != nil {
		return 0, 0, fmt.Errorf("rpmfact: reading metadata section: %w", err)
	}
	headerEnd := headerStart + metaSize

	return headerStart, headerEnd, nil
}

// skipHeaderSection consumes one RPM header-structure section from r
// (magic + index + data store, with optional 8-byte alignment padding
// afterwards) and returns the number of bytes the section spans from its
// own magic to the end of its data store (i.e. excluding padding).
func skipHeaderSection(r io.ReadSeeker, readAligned bool) (int64, error) {
	sectionStart, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	var hdr headerSectionHeader
	if err := binary.Read(r, binary.BigEndian, &hdr); err != nil {
		return 0, err
	}
	if hdr.Magic != bytesHeaderSectionMagic {
		return 0, fmt.Errorf("header structure magic mismatch: got % x", hdr.Magic)
	}

	indexBytes := int64(hdr.EntryCount) * indexEntrySize
	if _, err := r.Seek(indexBytes, io.SeekCurrent); err != nil {
		return 0, err
	}
	if _, err := r.Seek(int64(hdr.DataSize), io.SeekCurrent); err != nil {
		return 0, err
	}

	sectionEnd, err := r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}

	if readAligned {
		if modulo := sectionEnd % 8; modulo != 0 {
			if _, err := r.Seek(8-modulo, io.SeekCurrent); err != nil {
				return 0, err
			}
		}
	}

	return sectionEnd - sectionStart, nil
}
