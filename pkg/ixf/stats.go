package ixf

import (
	"strconv"

	"github.com/RoaringBitmap/roaring"
)

// Stats counts the outcome of a parse.
type Stats struct {
	Healthy   int64
	Corrupted int64
	BytesRead int64
	// HeaderBytes is the part of BytesRead taken by the header, table and
	// column descriptor records.
	HeaderBytes int64
	// CorruptedRows holds the zero-based indexes of attempted rows that
	// were dropped.
	CorruptedRows *roaring.Bitmap
}

// Total is the number of attempted rows.
func (s Stats) Total() int64 {
	return s.Healthy + s.Corrupted
}

// Rate is the corrupted share of attempted rows, in percent.
func (s Stats) Rate() float64 {
	total := s.Total()
	if total == 0 {
		return 0
	}
	return float64(s.Corrupted) * 100 / float64(total)
}

// AvgRowBytes is the mean number of bytes consumed per attempted row.
func (s Stats) AvgRowBytes() float64 {
	total := s.Total()
	if total == 0 || s.BytesRead <= s.HeaderBytes {
		return 0
	}
	return float64(s.BytesRead-s.HeaderBytes) / float64(total)
}

func formatRate(r float64) string {
	return strconv.FormatFloat(r, 'f', -1, 64)
}

func (s *Stats) markHealthy() {
	s.Healthy++
}

func (s *Stats) markCorrupted() {
	s.CorruptedRows.Add(uint32(s.Total()))
	s.Corrupted++
}

func (s Stats) clone() Stats {
	c := s
	c.CorruptedRows = s.CorruptedRows.Clone()
	return c
}
