package convert

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ismailhammounou/db2ixf/pkg/ixf"
)

func TestSizer(t *testing.T) {
	tests := []struct {
		name  string
		sizer Sizer
		stats ixf.Stats
		want  int
	}{
		{"fixed", FixedBatch(500), ixf.Stats{Healthy: 10, BytesRead: 1 << 20}, 500},
		{"fixed floor", FixedBatch(0), ixf.Stats{}, 1},
		{"probe", AdaptiveBatch(1 << 20), ixf.Stats{}, probeBatchSize},
		{"adaptive", AdaptiveBatch(1000), ixf.Stats{Healthy: 10, BytesRead: 1100, HeaderBytes: 100}, 10},
		{"adaptive default target", AdaptiveBatch(0), ixf.Stats{Healthy: 4, BytesRead: 4096}, int(DefaultTargetBufferSize / 1024)},
		{"huge rows", AdaptiveBatch(10), ixf.Stats{Healthy: 1, BytesRead: 1 << 20}, minBatchSize},
		{"tiny rows", AdaptiveBatch(1 << 40), ixf.Stats{Healthy: 100, BytesRead: 100}, maxBatchSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.sizer.Next(tt.stats))
		})
	}
}
