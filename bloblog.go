package bloblog

import (
	"errors"
	"hash/crc32"
)

// Magic numbers identifying the head and the tail of a blob log file.
// The two constants are distinct on purpose: a valid header with a bad
// footer magic means the file was never closed cleanly and must be
// recovered through a full sequential scan.
const (
	headerMagicNumber uint32 = 0x1a7b42f9
	footerMagicNumber uint32 = 0x2b8c53e0
)

// Fixed sizes of the on-disk structures, in bytes.
const (
	HeaderSize       = 4 + 4 + 4*2 + 8*2               // 32
	FooterSize       = 4 + 4 + 8 + 4*2 + 8*2 + 8*2     // 56
	RecordHeaderSize = 4 + 4 + 4 + 8 + 4 + 8 + 1 + 1   // 34
	RecordFooterSize = 8                               // sequence number
)

// blockSize is the size of the reader's reusable scratch buffer.
const blockSize = 1 << 12

// Presence bits of the header/footer flags word.
const (
	flagHasTTL       = 1 << 0
	flagHasTimestamp = 1 << 1
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrEndOfLog is returned by the reader once all records have been
// consumed. It is the expected terminal signal of a scan, not a failure.
var ErrEndOfLog = errors.New("bloblog: end of log")

var (
	// ErrMalformedHeader is returned when a file header is too short or
	// carries the wrong magic number.
	ErrMalformedHeader = errors.New("bloblog: malformed header")

	// ErrMalformedFooter is returned when a file footer is too short or
	// carries the wrong magic number. The file was likely never closed
	// cleanly and requires a full sequential scan to recover.
	ErrMalformedFooter = errors.New("bloblog: malformed footer")

	// ErrMalformedRecord is returned when a record header is shorter
	// than its fixed size or declares an unrepresentable blob length.
	ErrMalformedRecord = errors.New("bloblog: malformed record header")

	// ErrHeaderChecksum is returned when a record header fails its
	// checksum. The record's length fields cannot be trusted.
	ErrHeaderChecksum = errors.New("bloblog: record header checksum mismatch")

	// ErrPayloadChecksum is returned when the materialized key and blob
	// bytes fail the record's payload checksum.
	ErrPayloadChecksum = errors.New("bloblog: record payload checksum mismatch")

	// ErrUnknownRecordType is returned when a record carries an
	// unsupported type tag, including the reserved fragment tags.
	ErrUnknownRecordType = errors.New("bloblog: unknown record type")

	// ErrUnknownRecordSubType is returned when a record carries an
	// undefined sub-type tag.
	ErrUnknownRecordSubType = errors.New("bloblog: unknown record sub-type")
)

var (
	errClosed            = errors.New("bloblog: is closed")
	errHeaderAfterRecord = errors.New("bloblog: header read after records")
)

// IOError wraps a stream failure encountered while reading a record.
type IOError struct {
	// Err is the underlying stream error.
	Err error

	// Consumed is the number of bytes of the current record that were
	// consumed before the failure, so that recovery tooling can compute
	// the size of the unconsumed tail. Spans skipped by seeking count
	// in full even when the seek lands past the end of a truncated
	// stream; sequential-only streams report exact counts.
	Consumed uint64
}

func (e *IOError) Error() string { return "bloblog: " + e.Err.Error() }

// --------------------------------------------------------------------

// RecordType is the fragmentation tag of a record. Only full records
// are supported; the fragment tags are reserved by the format for a
// fragmented-write mode and are rejected by the reader.
type RecordType uint8

// Known record types.
const (
	RecordTypeFull RecordType = iota
	RecordTypeFirst
	RecordTypeMiddle
	RecordTypeLast
)

// RecordSubType governs the interpretation of a record's TTL and
// timestamp fields.
type RecordSubType uint8

// Known record sub-types.
const (
	SubTypeRegular RecordSubType = iota
	SubTypeTTL
	SubTypeTimestamp
)

func (s RecordSubType) isValid() bool {
	return s <= SubTypeTimestamp
}

// ReadDepth selects how much of each record the reader materializes,
// trading I/O volume for detail. Index scans that only need keys and
// locations can avoid paying for blob-body I/O.
type ReadDepth uint8

// Supported read depths.
const (
	// DepthHeaderFooter decodes the record header and the trailing
	// sequence number, skipping the key and blob bytes.
	DepthHeaderFooter ReadDepth = iota

	// DepthHeaderFooterKey additionally materializes the key.
	DepthHeaderFooterKey

	// DepthHeaderFooterKeyBlob materializes the key and the blob and
	// verifies the payload checksum.
	DepthHeaderFooterKeyBlob
)

// RecoveryPolicy selects how the reader treats failures at the tail of
// a scan.
//
// Under StrictRecovery only a clean end-of-stream at a record boundary
// maps to ErrEndOfLog; a partial record header, a truncated body or
// footer, and every checksum or tag failure surface as hard errors.
//
// Under TolerantRecovery a truncated record anywhere maps to
// ErrEndOfLog, and a checksum or tag failure degrades to ErrEndOfLog
// when the stream holds no further bytes after the failing record (the
// log was being appended to when the writing process crashed). A
// corrupt record followed by more data still surfaces as a hard error.
type RecoveryPolicy uint8

// Supported recovery policies.
const (
	StrictRecovery RecoveryPolicy = iota
	TolerantRecovery
)

// --------------------------------------------------------------------

// TTLRange is an inclusive min/max TTL pair.
type TTLRange struct {
	Min, Max uint32
}

// TimeRange is an inclusive min/max timestamp pair.
type TimeRange struct {
	Min, Max uint64
}

// SequenceRange is an inclusive min/max sequence number pair.
type SequenceRange struct {
	Min, Max uint64
}
