package bloblog_test

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/bsm/bloblog"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

// sequentialOnly hides the io.Seeker implementation of the wrapped
// stream, forcing the reader down the discard-based skip path.
type sequentialOnly struct{ r io.Reader }

func (s sequentialOnly) Read(p []byte) (int, error) { return s.r.Read(p) }

var _ = Describe("Reader", func() {
	var full []byte    // a complete log: header, 3 records, footer
	var records []byte // the log without its trailing footer

	// Record region layout of the seeded log:
	//
	//   R0:   0.. 45 (key=3, blob=0,   sn=11)
	//   R1:  45..187 (key=0, blob=100, sn=12)
	//   R2: 187..239 (key=5, blob=5,   sn=13)
	//
	// offset by HeaderSize (32) within the file.
	const r1Off = bloblog.HeaderSize + 45
	const r2Off = bloblog.HeaderSize + 45 + 142

	BeforeEach(func() {
		buf := new(bytes.Buffer)
		Expect(seedLog(buf, nil, seedRecords()...)).To(Succeed())

		full = buf.Bytes()
		records = full[:len(full)-bloblog.FooterSize]
	})

	scan := func(src io.Reader, depth bloblog.ReadDepth, policy bloblog.RecoveryPolicy) (*bloblog.Reader, []bloblog.Record, error) {
		rd := bloblog.NewReader(src)

		var hdr bloblog.Header
		if err := rd.ReadHeader(&hdr); err != nil {
			return rd, nil, err
		}

		var recs []bloblog.Record
		for {
			var rec bloblog.Record
			if err := rd.ReadRecord(&rec, depth, policy); err != nil {
				return rd, recs, err
			}
			recs = append(recs, rec)
		}
	}

	It("should read the header", func() {
		rd := bloblog.NewReader(bytes.NewReader(full))

		var hdr bloblog.Header
		Expect(rd.ReadHeader(&hdr)).To(Succeed())
		Expect(hdr.HasTTL()).To(BeFalse())
		Expect(hdr.HasTimestamp()).To(BeFalse())
		Expect(rd.NextByteOffset()).To(Equal(uint64(0)))
	})

	It("should reject a header read after records", func() {
		rd := bloblog.NewReader(bytes.NewReader(records))

		var hdr bloblog.Header
		Expect(rd.ReadHeader(&hdr)).To(Succeed())

		var rec bloblog.Record
		Expect(rd.ReadRecord(&rec, bloblog.DepthHeaderFooter, bloblog.StrictRecovery)).To(Succeed())
		Expect(rd.ReadHeader(&hdr)).To(MatchError(`bloblog: header read after records`))
	})

	It("should reject a foreign header", func() {
		corrupt := append([]byte{}, full...)
		corrupt[0]++

		rd := bloblog.NewReader(bytes.NewReader(corrupt))

		var hdr bloblog.Header
		Expect(rd.ReadHeader(&hdr)).To(MatchError(bloblog.ErrMalformedHeader))
	})

	It("should scan records at full depth", func() {
		_, recs, err := scan(bytes.NewReader(records), bloblog.DepthHeaderFooterKeyBlob, bloblog.StrictRecovery)
		Expect(err).To(MatchError(bloblog.ErrEndOfLog))
		Expect(recs).To(HaveLen(3))

		Expect(recs[0].Key()).To(Equal([]byte("one")))
		Expect(recs[0].BlobSize()).To(Equal(uint64(0)))
		Expect(recs[0].SequenceNumber()).To(Equal(uint64(11)))

		Expect(recs[1].KeySize()).To(Equal(uint32(0)))
		Expect(recs[1].Blob()).To(Equal(bytes.Repeat([]byte{'x'}, 100)))
		Expect(recs[1].SequenceNumber()).To(Equal(uint64(12)))

		Expect(recs[2].Key()).To(Equal([]byte("three")))
		Expect(recs[2].Blob()).To(Equal([]byte("12345")))
		Expect(recs[2].SequenceNumber()).To(Equal(uint64(13)))

		footer, err := bloblog.ReadFooter(bytes.NewReader(full), int64(len(full)))
		Expect(err).NotTo(HaveOccurred())
		Expect(footer.BlobCount()).To(Equal(uint64(3)))
	})

	It("should scan sequential-only streams", func() {
		_, recs, err := scan(sequentialOnly{r: bytes.NewReader(records)}, bloblog.DepthHeaderFooter, bloblog.StrictRecovery)
		Expect(err).To(MatchError(bloblog.ErrEndOfLog))
		Expect(recs).To(HaveLen(3))
		Expect(recs[2].SequenceNumber()).To(Equal(uint64(13)))
	})

	It("should track the next byte offset", func() {
		rd := bloblog.NewReader(bytes.NewReader(records))

		var hdr bloblog.Header
		Expect(rd.ReadHeader(&hdr)).To(Succeed())

		sum := uint64(0)
		for _, sz := range [][2]int{{3, 0}, {0, 100}, {5, 5}} {
			var rec bloblog.Record
			Expect(rd.ReadRecord(&rec, bloblog.DepthHeaderFooter, bloblog.StrictRecovery)).To(Succeed())
			sum += uint64(recordSize(sz[0], sz[1]))
			Expect(rd.NextByteOffset()).To(Equal(sum))
		}
		Expect(rd.NextByteOffset()).To(Equal(uint64(239)))

		// the terminal attempt still accounts for the attempted header read
		var rec bloblog.Record
		Expect(rd.ReadRecord(&rec, bloblog.DepthHeaderFooter, bloblog.StrictRecovery)).To(MatchError(bloblog.ErrEndOfLog))
		Expect(rd.NextByteOffset()).To(Equal(uint64(239 + bloblog.RecordHeaderSize)))
	})

	It("should decode the same scalars at every depth", func() {
		_, shallow, err := scan(bytes.NewReader(records), bloblog.DepthHeaderFooter, bloblog.StrictRecovery)
		Expect(err).To(MatchError(bloblog.ErrEndOfLog))

		_, deep, err := scan(bytes.NewReader(records), bloblog.DepthHeaderFooterKeyBlob, bloblog.StrictRecovery)
		Expect(err).To(MatchError(bloblog.ErrEndOfLog))

		Expect(shallow).To(HaveLen(len(deep)))
		for i := range shallow {
			Expect(shallow[i].Key()).To(BeEmpty())
			Expect(shallow[i].Blob()).To(BeEmpty())
			Expect(shallow[i].SequenceNumber()).To(Equal(deep[i].SequenceNumber()))
			Expect(shallow[i].KeySize()).To(Equal(deep[i].KeySize()))
			Expect(shallow[i].BlobSize()).To(Equal(deep[i].BlobSize()))
			Expect(shallow[i].SubType()).To(Equal(deep[i].SubType()))
		}
	})

	It("should materialize keys but not blobs at key depth", func() {
		_, recs, err := scan(bytes.NewReader(records), bloblog.DepthHeaderFooterKey, bloblog.StrictRecovery)
		Expect(err).To(MatchError(bloblog.ErrEndOfLog))
		Expect(recs).To(HaveLen(3))
		Expect(recs[2].Key()).To(Equal([]byte("three")))
		Expect(recs[2].Blob()).To(BeEmpty())
		Expect(recs[2].BlobSize()).To(Equal(uint64(5)))
	})

	Describe("truncated tail", func() {
		var trunc []byte

		// cut mid-way through the third record's blob bytes
		BeforeEach(func() {
			trunc = records[:r2Off+bloblog.RecordHeaderSize+5+2]
		})

		It("should degrade to a clean end of log when tolerant", func() {
			_, recs, err := scan(bytes.NewReader(trunc), bloblog.DepthHeaderFooterKeyBlob, bloblog.TolerantRecovery)
			Expect(err).To(MatchError(bloblog.ErrEndOfLog))
			Expect(recs).To(HaveLen(2))
			Expect(recs[1].SequenceNumber()).To(Equal(uint64(12)))
		})

		It("should fail hard when strict", func() {
			_, recs, err := scan(bytes.NewReader(trunc), bloblog.DepthHeaderFooterKeyBlob, bloblog.StrictRecovery)
			Expect(recs).To(HaveLen(2))
			Expect(err).To(BeAssignableToTypeOf(&bloblog.IOError{}))
			Expect(err.(*bloblog.IOError).Consumed).To(Equal(uint64(bloblog.RecordHeaderSize + 5 + 2)))
		})

		It("should count seek-skipped bytes as consumed", func() {
			_, recs, err := scan(bytes.NewReader(trunc), bloblog.DepthHeaderFooter, bloblog.StrictRecovery)
			Expect(recs).To(HaveLen(2))
			Expect(err).To(BeAssignableToTypeOf(&bloblog.IOError{}))

			// the skip seeks over the full declared span even though the
			// stream ends two bytes into the blob
			Expect(err.(*bloblog.IOError).Consumed).To(Equal(uint64(bloblog.RecordHeaderSize + 5 + 5)))
		})

		It("should handle truncation within a record header", func() {
			short := records[:r2Off+10]

			_, recs, err := scan(bytes.NewReader(short), bloblog.DepthHeaderFooter, bloblog.TolerantRecovery)
			Expect(err).To(MatchError(bloblog.ErrEndOfLog))
			Expect(recs).To(HaveLen(2))

			_, recs, err = scan(bytes.NewReader(short), bloblog.DepthHeaderFooter, bloblog.StrictRecovery)
			Expect(recs).To(HaveLen(2))
			Expect(err).To(BeAssignableToTypeOf(&bloblog.IOError{}))
		})
	})

	Describe("corruption", func() {
		It("should catch a corrupted length field before it is used", func() {
			corrupt := append([]byte{}, records...)
			corrupt[r1Off+12+6] ^= 0xff // blob size decodes to a huge value, checksum left stale

			_, recs, err := scan(bytes.NewReader(corrupt), bloblog.DepthHeaderFooterKeyBlob, bloblog.StrictRecovery)
			Expect(recs).To(HaveLen(1))
			Expect(err).To(MatchError(bloblog.ErrHeaderChecksum))

			// mid-file corruption stays fatal even when tolerant
			_, recs, err = scan(bytes.NewReader(corrupt), bloblog.DepthHeaderFooterKeyBlob, bloblog.TolerantRecovery)
			Expect(recs).To(HaveLen(1))
			Expect(err).To(MatchError(bloblog.ErrHeaderChecksum))
		})

		It("should reject an oversized length field without crashing", func() {
			corrupt := append([]byte{}, records...)
			binary.LittleEndian.PutUint64(corrupt[r1Off+12:r1Off+20], 1<<63)
			resignRecordHeader(corrupt[r1Off : r1Off+bloblog.RecordHeaderSize])

			for _, depth := range []bloblog.ReadDepth{
				bloblog.DepthHeaderFooter,
				bloblog.DepthHeaderFooterKey,
				bloblog.DepthHeaderFooterKeyBlob,
			} {
				_, recs, err := scan(bytes.NewReader(corrupt), depth, bloblog.StrictRecovery)
				Expect(recs).To(HaveLen(1), "at depth %d", depth)
				Expect(err).To(MatchError(bloblog.ErrMalformedRecord), "at depth %d", depth)
			}
		})

		It("should catch corrupted payload bytes at full depth", func() {
			corrupt := append([]byte{}, records...)
			corrupt[r1Off+bloblog.RecordHeaderSize+50] ^= 0x01 // a blob byte of the second record

			_, recs, err := scan(bytes.NewReader(corrupt), bloblog.DepthHeaderFooterKeyBlob, bloblog.StrictRecovery)
			Expect(recs).To(HaveLen(1))
			Expect(err).To(MatchError(bloblog.ErrPayloadChecksum))
		})

		It("should not verify payload bytes at shallower depths", func() {
			corrupt := append([]byte{}, records...)
			corrupt[r1Off+bloblog.RecordHeaderSize+50] ^= 0x01

			_, recs, err := scan(bytes.NewReader(corrupt), bloblog.DepthHeaderFooter, bloblog.StrictRecovery)
			Expect(err).To(MatchError(bloblog.ErrEndOfLog))
			Expect(recs).To(HaveLen(3))
		})

		It("should degrade a checksum-failing final record when tolerant", func() {
			corrupt := append([]byte{}, records...)
			corrupt[r2Off+bloblog.RecordHeaderSize+5+2] ^= 0x01 // a blob byte of the last record

			_, recs, err := scan(bytes.NewReader(corrupt), bloblog.DepthHeaderFooterKeyBlob, bloblog.TolerantRecovery)
			Expect(err).To(MatchError(bloblog.ErrEndOfLog))
			Expect(recs).To(HaveLen(2))

			_, recs, err = scan(bytes.NewReader(corrupt), bloblog.DepthHeaderFooterKeyBlob, bloblog.StrictRecovery)
			Expect(recs).To(HaveLen(2))
			Expect(err).To(MatchError(bloblog.ErrPayloadChecksum))
		})
	})
})

var _ = Describe("ReadFooter", func() {
	var full []byte

	BeforeEach(func() {
		buf := new(bytes.Buffer)
		Expect(seedLog(buf, nil, seedRecords()...)).To(Succeed())
		full = buf.Bytes()
	})

	It("should read the footer of a cleanly closed log", func() {
		footer, err := bloblog.ReadFooter(bytes.NewReader(full), int64(len(full)))
		Expect(err).NotTo(HaveOccurred())
		Expect(footer.BlobCount()).To(Equal(uint64(3)))
		Expect(footer.SequenceRange()).To(Equal(bloblog.SequenceRange{Min: 11, Max: 13}))
		Expect(footer.HasTTL()).To(BeFalse())
		Expect(footer.HasTimestamp()).To(BeFalse())
	})

	It("should flag an unclean close", func() {
		crashed := full[:len(full)-bloblog.FooterSize] // the footer was never written

		_, err := bloblog.ReadFooter(bytes.NewReader(crashed), int64(len(crashed)))
		Expect(err).To(MatchError(bloblog.ErrMalformedFooter))
	})

	It("should reject files smaller than a footer", func() {
		_, err := bloblog.ReadFooter(bytes.NewReader(full[:20]), 20)
		Expect(err).To(MatchError(bloblog.ErrMalformedFooter))
	})
})
