package bloblog

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// WriterOptions define writer specific options.
type WriterOptions struct {
	// TTL is an optional estimate of the min/max TTL across the
	// records that will be appended. It is recorded in the file header;
	// the exact range is always written to the footer.
	TTL *TTLRange

	// TimestampRange is an optional estimate of the min/max timestamp
	// across the records that will be appended.
	TimestampRange *TimeRange
}

func (o *WriterOptions) norm() *WriterOptions {
	var oo WriterOptions
	if o != nil {
		oo = *o
	}
	return &oo
}

// Writer instances append records to a blob log. The file header is
// written lazily before the first record and the footer on Close.
type Writer struct {
	w io.Writer
	o *WriterOptions

	footer  Footer
	started bool

	tmp []byte // scratch buffer
}

// NewWriter wraps a writer and returns a Writer.
func NewWriter(w io.Writer, o *WriterOptions) *Writer {
	return &Writer{
		w:   w,
		o:   o.norm(),
		tmp: make([]byte, FooterSize),
	}
}

// Append appends a regular record.
func (w *Writer) Append(key, blob []byte, sn uint64) error {
	return w.append(key, blob, sn, 0, 0, SubTypeRegular)
}

// AppendTTL appends a record carrying a TTL.
func (w *Writer) AppendTTL(key, blob []byte, sn uint64, ttl uint32) error {
	return w.append(key, blob, sn, ttl, 0, SubTypeTTL)
}

// AppendTimestamp appends a record carrying a timestamp.
func (w *Writer) AppendTimestamp(key, blob []byte, sn, ts uint64) error {
	return w.append(key, blob, sn, 0, ts, SubTypeTimestamp)
}

// Close finalizes the log by writing the footer with the exact record
// count and ranges. The writer must not be used after this method is
// called.
func (w *Writer) Close() error {
	if w.tmp == nil {
		return errClosed
	}
	if err := w.writeHeader(); err != nil {
		return err
	}

	w.footer.EncodeTo(w.tmp[:FooterSize])
	if _, err := w.w.Write(w.tmp[:FooterSize]); err != nil {
		return err
	}
	w.tmp = nil
	return nil
}

func (w *Writer) append(key, blob []byte, sn uint64, ttl uint32, ts uint64, sub RecordSubType) error {
	if w.tmp == nil {
		return errClosed
	}
	if uint64(len(key)) > math.MaxUint32 {
		return fmt.Errorf("bloblog: key of %d bytes exceeds the format limit", len(key))
	}
	if err := w.writeHeader(); err != nil {
		return err
	}

	payloadSum := crc32.Update(crc32.Checksum(key, castagnoli), castagnoli, blob)

	hdr := w.tmp[:RecordHeaderSize]
	binary.LittleEndian.PutUint32(hdr[0:4], payloadSum)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(key)))
	binary.LittleEndian.PutUint64(hdr[12:20], uint64(len(blob)))
	binary.LittleEndian.PutUint32(hdr[20:24], ttl)
	binary.LittleEndian.PutUint64(hdr[24:32], ts)
	hdr[32] = byte(RecordTypeFull)
	hdr[33] = byte(sub)
	binary.LittleEndian.PutUint32(hdr[4:8], crc32.Checksum(hdr[8:RecordHeaderSize], castagnoli))

	if _, err := w.w.Write(hdr); err != nil {
		return err
	}
	if _, err := w.w.Write(key); err != nil {
		return err
	}
	if _, err := w.w.Write(blob); err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(w.tmp[:RecordFooterSize], sn)
	if _, err := w.w.Write(w.tmp[:RecordFooterSize]); err != nil {
		return err
	}

	w.track(sn, ttl, ts, sub)
	return nil
}

func (w *Writer) writeHeader() error {
	if w.started {
		return nil
	}

	var h Header
	if w.o.TTL != nil {
		h.SetTTL(*w.o.TTL)
	}
	if w.o.TimestampRange != nil {
		h.SetTimestampRange(*w.o.TimestampRange)
	}
	h.EncodeTo(w.tmp[:HeaderSize])

	if _, err := w.w.Write(w.tmp[:HeaderSize]); err != nil {
		return err
	}
	w.started = true
	return nil
}

// track folds a written record into the footer bookkeeping.
func (w *Writer) track(sn uint64, ttl uint32, ts uint64, sub RecordSubType) {
	if w.footer.blobCount == 0 {
		w.footer.sn = SequenceRange{Min: sn, Max: sn}
	} else {
		if sn < w.footer.sn.Min {
			w.footer.sn.Min = sn
		}
		if sn > w.footer.sn.Max {
			w.footer.sn.Max = sn
		}
	}
	w.footer.blobCount++

	switch sub {
	case SubTypeTTL:
		if !w.footer.hasTTL {
			w.footer.SetTTL(TTLRange{Min: ttl, Max: ttl})
		} else {
			if ttl < w.footer.ttl.Min {
				w.footer.ttl.Min = ttl
			}
			if ttl > w.footer.ttl.Max {
				w.footer.ttl.Max = ttl
			}
		}
	case SubTypeTimestamp:
		if !w.footer.hasTS {
			w.footer.SetTimestampRange(TimeRange{Min: ts, Max: ts})
		} else {
			if ts < w.footer.ts.Min {
				w.footer.ts.Min = ts
			}
			if ts > w.footer.ts.Max {
				w.footer.ts.Max = ts
			}
		}
	}
}
