package bloblog

import (
	"encoding/binary"
	"hash/crc32"
	"math"
)

// Header is the fixed 32-byte prologue of a blob log file. It carries
// the format magic number and estimated TTL/timestamp ranges for the
// records that follow. The ranges are guesses supplied at open time;
// the exact ranges live in the Footer.
type Header struct {
	ttl    TTLRange
	ts     TimeRange
	hasTTL bool
	hasTS  bool
}

// HasTTL reports whether the header carries a TTL range.
func (h *Header) HasTTL() bool { return h.hasTTL }

// HasTimestamp reports whether the header carries a timestamp range.
func (h *Header) HasTimestamp() bool { return h.hasTS }

// TTL returns the estimated TTL range. It must only be called when
// HasTTL returns true.
func (h *Header) TTL() TTLRange { return h.ttl }

// TimestampRange returns the estimated timestamp range. It must only
// be called when HasTimestamp returns true.
func (h *Header) TimestampRange() TimeRange { return h.ts }

// SetTTL sets the estimated TTL range.
func (h *Header) SetTTL(r TTLRange) {
	h.ttl, h.hasTTL = r, true
}

// SetTimestampRange sets the estimated timestamp range.
func (h *Header) SetTimestampRange(r TimeRange) {
	h.ts, h.hasTS = r, true
}

// EncodeTo encodes the header into dst which must be at least
// HeaderSize bytes long. Absent ranges are zero-filled.
func (h *Header) EncodeTo(dst []byte) {
	var flags uint32
	if h.hasTTL {
		flags |= flagHasTTL
	}
	if h.hasTS {
		flags |= flagHasTimestamp
	}

	binary.LittleEndian.PutUint32(dst[0:4], headerMagicNumber)
	binary.LittleEndian.PutUint32(dst[4:8], flags)
	binary.LittleEndian.PutUint32(dst[8:12], h.ttl.Min)
	binary.LittleEndian.PutUint32(dst[12:16], h.ttl.Max)
	binary.LittleEndian.PutUint64(dst[16:24], h.ts.Min)
	binary.LittleEndian.PutUint64(dst[24:32], h.ts.Max)
}

// DecodeFrom decodes the header from the first HeaderSize bytes of
// src. It returns ErrMalformedHeader when src is too short or the
// magic number does not match.
func (h *Header) DecodeFrom(src []byte) error {
	if len(src) < HeaderSize {
		return ErrMalformedHeader
	}
	if binary.LittleEndian.Uint32(src[0:4]) != headerMagicNumber {
		return ErrMalformedHeader
	}

	flags := binary.LittleEndian.Uint32(src[4:8])
	h.hasTTL = flags&flagHasTTL != 0
	h.hasTS = flags&flagHasTimestamp != 0

	h.ttl = TTLRange{}
	if h.hasTTL {
		h.ttl.Min = binary.LittleEndian.Uint32(src[8:12])
		h.ttl.Max = binary.LittleEndian.Uint32(src[12:16])
	}
	h.ts = TimeRange{}
	if h.hasTS {
		h.ts.Min = binary.LittleEndian.Uint64(src[16:24])
		h.ts.Max = binary.LittleEndian.Uint64(src[24:32])
	}
	return nil
}

// --------------------------------------------------------------------

// Footer is the fixed 56-byte epilogue of a blob log file, written
// once when the file is closed. Unlike the header's guesses it holds
// the exact record count and TTL/sequence-number/timestamp ranges.
type Footer struct {
	blobCount uint64
	ttl       TTLRange
	sn        SequenceRange
	ts        TimeRange
	hasTTL    bool
	hasTS     bool
}

// BlobCount returns the number of records written to the file.
func (f *Footer) BlobCount() uint64 { return f.blobCount }

// HasTTL reports whether the footer carries a TTL range.
func (f *Footer) HasTTL() bool { return f.hasTTL }

// HasTimestamp reports whether the footer carries a timestamp range.
func (f *Footer) HasTimestamp() bool { return f.hasTS }

// TTL returns the exact TTL range. It must only be called when HasTTL
// returns true.
func (f *Footer) TTL() TTLRange { return f.ttl }

// TimestampRange returns the exact timestamp range. It must only be
// called when HasTimestamp returns true.
func (f *Footer) TimestampRange() TimeRange { return f.ts }

// SequenceRange returns the inclusive min/max sequence number of the
// records in the file. It is always present.
func (f *Footer) SequenceRange() SequenceRange { return f.sn }

// SetBlobCount sets the record count.
func (f *Footer) SetBlobCount(n uint64) { f.blobCount = n }

// SetTTL sets the exact TTL range.
func (f *Footer) SetTTL(r TTLRange) {
	f.ttl, f.hasTTL = r, true
}

// SetTimestampRange sets the exact timestamp range.
func (f *Footer) SetTimestampRange(r TimeRange) {
	f.ts, f.hasTS = r, true
}

// SetSequenceRange sets the sequence number range.
func (f *Footer) SetSequenceRange(r SequenceRange) { f.sn = r }

// EncodeTo encodes the footer into dst which must be at least
// FooterSize bytes long. Absent ranges are zero-filled.
func (f *Footer) EncodeTo(dst []byte) {
	var flags uint32
	if f.hasTTL {
		flags |= flagHasTTL
	}
	if f.hasTS {
		flags |= flagHasTimestamp
	}

	binary.LittleEndian.PutUint32(dst[0:4], footerMagicNumber)
	binary.LittleEndian.PutUint32(dst[4:8], flags)
	binary.LittleEndian.PutUint64(dst[8:16], f.blobCount)
	binary.LittleEndian.PutUint32(dst[16:20], f.ttl.Min)
	binary.LittleEndian.PutUint32(dst[20:24], f.ttl.Max)
	binary.LittleEndian.PutUint64(dst[24:32], f.sn.Min)
	binary.LittleEndian.PutUint64(dst[32:40], f.sn.Max)
	binary.LittleEndian.PutUint64(dst[40:48], f.ts.Min)
	binary.LittleEndian.PutUint64(dst[48:56], f.ts.Max)
}

// DecodeFrom decodes the footer from the first FooterSize bytes of
// src. It returns ErrMalformedFooter when src is too short or the
// magic number does not match, the documented signal that the file was
// never closed cleanly and must be recovered by a sequential scan.
func (f *Footer) DecodeFrom(src []byte) error {
	if len(src) < FooterSize {
		return ErrMalformedFooter
	}
	if binary.LittleEndian.Uint32(src[0:4]) != footerMagicNumber {
		return ErrMalformedFooter
	}

	flags := binary.LittleEndian.Uint32(src[4:8])
	f.hasTTL = flags&flagHasTTL != 0
	f.hasTS = flags&flagHasTimestamp != 0

	f.blobCount = binary.LittleEndian.Uint64(src[8:16])
	f.ttl = TTLRange{}
	if f.hasTTL {
		f.ttl.Min = binary.LittleEndian.Uint32(src[16:20])
		f.ttl.Max = binary.LittleEndian.Uint32(src[20:24])
	}
	f.sn.Min = binary.LittleEndian.Uint64(src[24:32])
	f.sn.Max = binary.LittleEndian.Uint64(src[32:40])
	f.ts = TimeRange{}
	if f.hasTS {
		f.ts.Min = binary.LittleEndian.Uint64(src[40:48])
		f.ts.Max = binary.LittleEndian.Uint64(src[48:56])
	}
	return nil
}

// --------------------------------------------------------------------

// Record is a single decoded blob log record. Instances are meant to
// be reused across reads: the key and blob backing buffers grow on
// demand and are never shrunk within a record's lifetime.
type Record struct {
	payloadChecksum uint32
	headerChecksum  uint32
	keySize         uint32
	blobSize        uint64
	ttl             uint32
	time            uint64
	rtype           RecordType
	subtype         RecordSubType
	sn              uint64

	key  []byte
	blob []byte

	keyBuf  []byte
	blobBuf []byte
}

// Key returns the record key. It is only set at DepthHeaderFooterKey
// and deeper. The returned slice is a temporary buffer and must be
// copied if used beyond the next read or Clear.
func (r *Record) Key() []byte { return r.key }

// Blob returns the record blob. It is only set at
// DepthHeaderFooterKeyBlob. The returned slice is a temporary buffer
// and must be copied if used beyond the next read or Clear.
func (r *Record) Blob() []byte { return r.blob }

// KeySize returns the declared key length in bytes.
func (r *Record) KeySize() uint32 { return r.keySize }

// BlobSize returns the declared blob length in bytes.
func (r *Record) BlobSize() uint64 { return r.blobSize }

// TTL returns the record TTL. It is only meaningful when SubType
// returns SubTypeTTL.
func (r *Record) TTL() uint32 { return r.ttl }

// Timestamp returns the record timestamp. It is only meaningful when
// SubType returns SubTypeTimestamp.
func (r *Record) Timestamp() uint64 { return r.time }

// Type returns the record type tag.
func (r *Record) Type() RecordType { return r.rtype }

// SubType returns the record sub-type tag.
func (r *Record) SubType() RecordSubType { return r.subtype }

// SequenceNumber returns the sequence number of the originating write,
// decoded from the record footer.
func (r *Record) SequenceNumber() uint64 { return r.sn }

// Clear resets all scalar fields and truncates the key/blob spans,
// retaining their backing buffers for reuse.
func (r *Record) Clear() {
	*r = Record{keyBuf: r.keyBuf, blobBuf: r.blobBuf}
}

// DecodeHeaderFrom decodes the fixed record header from the first
// RecordHeaderSize bytes of src. The header checksum is verified
// before the length fields are trusted: a corrupted length would
// otherwise drive the size of subsequent buffer allocations and reads.
func (r *Record) DecodeHeaderFrom(src []byte) error {
	if len(src) < RecordHeaderSize {
		return ErrMalformedRecord
	}

	r.headerChecksum = binary.LittleEndian.Uint32(src[4:8])
	if crc32.Checksum(src[8:RecordHeaderSize], castagnoli) != r.headerChecksum {
		return ErrHeaderChecksum
	}

	r.payloadChecksum = binary.LittleEndian.Uint32(src[0:4])
	r.keySize = binary.LittleEndian.Uint32(src[8:12])
	r.blobSize = binary.LittleEndian.Uint64(src[12:20])
	r.ttl = binary.LittleEndian.Uint32(src[20:24])
	r.time = binary.LittleEndian.Uint64(src[24:32])
	r.rtype = RecordType(src[32])
	r.subtype = RecordSubType(src[33])

	// Fragment tags are reserved by the format but unsupported, fail closed.
	if r.rtype != RecordTypeFull {
		return ErrUnknownRecordType
	}
	if !r.subtype.isValid() {
		return ErrUnknownRecordSubType
	}

	// A checksum-valid header can still declare a length no stream can
	// hold. Lengths beyond the addressable range must be rejected here,
	// before they can size a buffer or a read.
	if r.blobSize > math.MaxInt64 {
		return ErrMalformedRecord
	}
	return nil
}

// ensureKeyBuffer grows the key scratch buffer to at least n bytes and
// returns it sliced to exactly n.
func (r *Record) ensureKeyBuffer(n int) []byte {
	if cap(r.keyBuf) < n {
		r.keyBuf = make([]byte, n)
	}
	return r.keyBuf[:n]
}

// ensureBlobBuffer grows the blob scratch buffer to at least n bytes
// and returns it sliced to exactly n.
func (r *Record) ensureBlobBuffer(n int) []byte {
	if cap(r.blobBuf) < n {
		r.blobBuf = make([]byte, n)
	}
	return r.blobBuf[:n]
}
