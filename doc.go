/*
Package bloblog implements the append-log file format used to store
large values ("blobs") out-of-line from a primary key-value index.
Each log file consists of a fixed header, a sequence of length-prefixed
records and a fixed footer summarizing the file's contents.

Data Structure Documentation

File

	File layout:
	+-----------------+----------+---------+----------+-----------------+
	| header (32 B)   | record 1 |   ...   | record n | footer (56 B)   |
	+-----------------+----------+---------+----------+-----------------+

Header

The header carries the format magic number and estimated TTL/timestamp
ranges. Absent ranges are zero-filled and flagged absent.

	+-----------+-----------+-------------+-------------+------------+------------+
	| magic (4) | flags (4) | ttl min (4) | ttl max (4) | ts min (8) | ts max (8) |
	+-----------+-----------+-------------+-------------+------------+------------+

Footer

The footer carries a distinct magic number, the exact record count and
the exact TTL, sequence-number and timestamp ranges. A missing or
corrupt footer marks a file that was never closed cleanly; such files
must be recovered through a full sequential scan.

	+-----------+-----------+-----------+---------------+--------------------+---------------+
	| magic (4) | flags (4) | count (8) | ttl range (8) | sn range (16)      | ts range (16) |
	+-----------+-----------+-----------+---------------+--------------------+---------------+

Record

Each record holds one blob. The header checksum covers the 26 bytes
following it and is verified before the length fields are trusted; the
payload checksum covers the concatenated key and blob bytes and is only
verified when both are materialized.

	+------------------+-----------------+--------------+---------------+---------+----------+----------+-------------+
	| payload cksum (4)| header cksum (4)| key size (4) | blob size (8) | ttl (4) | time (8) | type (1) | subtype (1) |
	+------------------+-----------------+--------------+---------------+---------+----------+----------+-------------+
	| key (key size)   | blob (blob size)| sequence number (8)          |
	+------------------+-----------------+------------------------------+

All integers are little-endian fixed width; checksums are 32-bit CRCs
(Castagnoli).
*/
package bloblog
