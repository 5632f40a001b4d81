// Package upload implements adaptive chunk orchestration and stale-session
// reaping for resumable uploads.
package upload

import (
	"math"
	"time"

	"github.com/tusflow/tusflow/internal/config"
)

// emaAlpha is the smoothing factor for the network speed estimate.
const emaAlpha = 0.2

// InitialNetworkSpeed is the throughput assumed for a session before any
// chunk has been measured, in bytes per second.
const InitialNetworkSpeed = 1024 * 1024

// Chunker computes the adaptive part size for a session from its smoothed
// throughput estimate and the configured sizing constraints.
type Chunker struct {
	minSize         int64
	maxSize         int64
	memoryLimit     int64
	networkOverhead float64
	maxParts        int64
}

// NewChunker creates a Chunker from the chunk sizing and upload limits.
func NewChunker(chunk config.ChunkConfig, upload config.UploadConfig) *Chunker {
	return &Chunker{
		minSize:         chunk.MinSize,
		maxSize:         chunk.MaxSize,
		memoryLimit:     chunk.MemoryLimit,
		networkOverhead: chunk.NetworkOverhead,
		maxParts:        upload.MaxParts,
	}
}

// OptimalChunkSize returns the part size for an upload of totalSize bytes at
// the given estimated throughput. The size targets two seconds of transfer,
// bounded above by the maximum part size and the per-request memory budget,
// and below by the minimum part size and the size needed to stay within the
// backend's part count limit.
func (c *Chunker) OptimalChunkSize(totalSize int64, networkSpeed float64) int64 {
	target := int64(2 * networkSpeed)

	memoryBound := int64(float64(c.memoryLimit) / c.networkOverhead)

	size := target
	if size > c.maxSize {
		size = c.maxSize
	}
	if size > memoryBound {
		size = memoryBound
	}

	if size < c.minSize {
		size = c.minSize
	}

	if totalSize > 0 {
		floor := int64(math.Ceil(float64(totalSize) / float64(c.maxParts)))
		if size < floor {
			size = floor
		}
	}

	return size
}

// UpdateNetworkSpeed folds a new throughput sample into the smoothed
// estimate via an exponential moving average. A previous estimate of zero is
// replaced by the sample outright.
func UpdateNetworkSpeed(previous float64, bytes int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return previous
	}
	sample := float64(bytes) / elapsed.Seconds()
	if previous <= 0 {
		return sample
	}
	return emaAlpha*sample + (1-emaAlpha)*previous
}
