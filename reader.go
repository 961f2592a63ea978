package bloblog

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"io/ioutil"
)

// Reader sequentially decodes records from a blob log file. It owns
// the underlying stream exclusively and reuses a block-sized scratch
// buffer across reads, so instances are not safe for concurrent use;
// concurrent scans require independent readers over independent stream
// handles.
type Reader struct {
	src io.Reader
	buf []byte

	// next unread byte offset within the record region, for
	// diagnostics and truncated-tail accounting. The file header is
	// not included.
	next uint64
}

// NewReader wraps a stream and returns a Reader. When src implements
// io.Seeker, unmaterialized key/blob spans are skipped by seeking,
// otherwise they are discarded by reading.
func NewReader(src io.Reader) *Reader {
	return &Reader{
		src: src,
		buf: make([]byte, blockSize),
	}
}

// NextByteOffset returns the offset of the next unread byte within the
// record region. After N successful reads it equals the sum of each
// record's encoded size.
func (r *Reader) NextByteOffset() uint64 { return r.next }

// ReadHeader reads and decodes the file header. It must be the first
// operation on a freshly opened reader.
func (r *Reader) ReadHeader(h *Header) error {
	if r.next != 0 {
		return errHeaderAfterRecord
	}
	if _, err := io.ReadFull(r.src, r.buf[:HeaderSize]); err != nil {
		return &IOError{Err: err}
	}
	return h.DecodeFrom(r.buf[:HeaderSize])
}

// ReadRecord decodes the next record into rec at the requested depth.
// It returns ErrEndOfLog once the stream is exhausted; policy governs
// whether a truncated or corrupt final record degrades to ErrEndOfLog
// as well (see RecoveryPolicy).
//
// The record region of a cleanly closed file is followed by the file
// footer, which the sequential path does not consume: callers scanning
// such files should stop after Footer.BlobCount records. Files that
// were never finalized scan to ErrEndOfLog.
//
// After any failure other than ErrEndOfLog the reader is faulted:
// callers must not continue scanning without repositioning the stream.
func (r *Reader) ReadRecord(rec *Record, depth ReadDepth, policy RecoveryPolicy) error {
	rec.Clear()

	// The offset advances by the fixed header size on every attempt so
	// that truncated-tail detection can compute the unconsumed bytes.
	n, err := io.ReadFull(r.src, r.buf[:RecordHeaderSize])
	r.next += RecordHeaderSize
	if err == io.EOF {
		return ErrEndOfLog // clean end at a record boundary
	} else if err != nil {
		if policy == TolerantRecovery {
			return ErrEndOfLog
		}
		return &IOError{Err: err, Consumed: uint64(n)}
	}

	if err := rec.DecodeHeaderFrom(r.buf[:RecordHeaderSize]); err != nil {
		if policy == TolerantRecovery && r.exhausted() {
			return ErrEndOfLog
		}
		return err
	}

	kbSize := uint64(rec.keySize) + rec.blobSize
	consumed := uint64(0)
	fail := func(err error) error {
		r.next += consumed
		if policy == TolerantRecovery && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			return ErrEndOfLog
		}
		return &IOError{Err: err, Consumed: RecordHeaderSize + consumed}
	}

	switch depth {
	case DepthHeaderFooter:
		if err := r.skip(kbSize, &consumed); err != nil {
			return fail(err)
		}
	case DepthHeaderFooterKey:
		rec.key = rec.ensureKeyBuffer(int(rec.keySize))
		if err := readFull(r.src, rec.key, &consumed); err != nil {
			rec.key = nil
			return fail(err)
		}
		if err := r.skip(rec.blobSize, &consumed); err != nil {
			return fail(err)
		}
	case DepthHeaderFooterKeyBlob:
		rec.key = rec.ensureKeyBuffer(int(rec.keySize))
		if err := readFull(r.src, rec.key, &consumed); err != nil {
			rec.key = nil
			return fail(err)
		}
		rec.blob = rec.ensureBlobBuffer(int(rec.blobSize))
		if err := readFull(r.src, rec.blob, &consumed); err != nil {
			rec.blob = nil
			return fail(err)
		}
	default:
		panic("bloblog: invalid read depth")
	}

	if err := readFull(r.src, r.buf[:RecordFooterSize], &consumed); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return fail(err)
	}
	rec.sn = binary.LittleEndian.Uint64(r.buf[:RecordFooterSize])
	r.next += consumed

	if depth == DepthHeaderFooterKeyBlob {
		sum := crc32.Update(crc32.Update(0, castagnoli, rec.key), castagnoli, rec.blob)
		if sum != rec.payloadChecksum {
			if policy == TolerantRecovery && r.exhausted() {
				return ErrEndOfLog
			}
			return ErrPayloadChecksum
		}
	}
	return nil
}

// skip advances the stream by n bytes without materializing them.
func (r *Reader) skip(n uint64, consumed *uint64) error {
	if n == 0 {
		return nil
	}
	if s, ok := r.src.(io.Seeker); ok {
		if _, err := s.Seek(int64(n), io.SeekCurrent); err != nil {
			return err
		}
		*consumed += n
		return nil
	}

	m, err := io.CopyN(ioutil.Discard, r.src, int64(n))
	*consumed += uint64(m)
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// exhausted reports whether the stream holds no further bytes. It may
// consume one byte and is therefore only used after a corruption
// failure, when the reader is faulted and the caller must reposition
// the stream to continue either way.
func (r *Reader) exhausted() bool {
	var p [1]byte
	_, err := io.ReadFull(r.src, p[:])
	return err == io.EOF
}

func readFull(src io.Reader, p []byte, consumed *uint64) error {
	n, err := io.ReadFull(src, p)
	*consumed += uint64(n)
	if err == io.EOF && len(p) != 0 {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// --------------------------------------------------------------------

// ReadFooter reads and decodes the footer from the tail of a blob log
// file. This is the fast path for finalized file metadata: an
// ErrMalformedFooter result means the file was never closed cleanly
// and its metadata must be recovered by a full sequential scan.
func ReadFooter(src io.ReaderAt, size int64) (*Footer, error) {
	if size < FooterSize {
		return nil, ErrMalformedFooter
	}

	buf := make([]byte, FooterSize)
	if _, err := src.ReadAt(buf, size-FooterSize); err != nil {
		return nil, &IOError{Err: err}
	}

	footer := new(Footer)
	if err := footer.DecodeFrom(buf); err != nil {
		return nil, err
	}
	return footer, nil
}
