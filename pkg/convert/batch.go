package convert

import (
	"github.com/ismailhammounou/db2ixf/pkg/ixf"
)

const (
	// DefaultTargetBufferSize is the adaptive batch memory target.
	DefaultTargetBufferSize int64 = 4 * 1024 * 1024

	probeBatchSize = 1000
	minBatchSize   = 1
	maxBatchSize   = 1_000_000
)

// Sizer decides how many rows go into the next record batch.
//
// A fixed sizer always returns its size. An adaptive sizer probes with a
// small first batch, then divides the target buffer size by the average
// number of bytes a row took so far.
type Sizer struct {
	fixed  int
	target int64
}

// FixedBatch returns a sizer that always returns n.
func FixedBatch(n int) Sizer {
	if n < minBatchSize {
		n = minBatchSize
	}
	return Sizer{fixed: n}
}

// AdaptiveBatch returns a sizer aiming at target bytes per batch.
func AdaptiveBatch(target int64) Sizer {
	if target <= 0 {
		target = DefaultTargetBufferSize
	}
	return Sizer{target: target}
}

// Next returns the size of the next batch given the stats so far.
func (s Sizer) Next(stats ixf.Stats) int {
	if s.fixed > 0 {
		return s.fixed
	}
	avg := stats.AvgRowBytes()
	if avg <= 0 {
		return probeBatchSize
	}
	n := int(float64(s.target) / avg)
	switch {
	case n < minBatchSize:
		return minBatchSize
	case n > maxBatchSize:
		return maxBatchSize
	}
	return n
}
