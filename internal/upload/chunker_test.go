package upload

import (
	"math"
	"testing"
	"time"

	"github.com/tusflow/tusflow/internal/config"
)

func defaultChunker() *Chunker {
	cfg := config.Default()
	return NewChunker(cfg.Chunk, cfg.Upload)
}

func TestOptimalChunkSizeClampsToMinimum(t *testing.T) {
	c := defaultChunker()

	// A slow link would want tiny parts; the backend minimum wins.
	got := c.OptimalChunkSize(100*1024*1024, 10*1024)
	if got != 5*1024*1024 {
		t.Fatalf("got %d, want 5MiB minimum", got)
	}
}

func TestOptimalChunkSizeBoundedByMemoryBudget(t *testing.T) {
	c := defaultChunker()

	// A fast link wants huge parts; the memory budget divided by the
	// network overhead factor caps them below the 50MiB maximum.
	memLimit := float64(50 * 1024 * 1024)
	want := int64(memLimit / 1.2)
	got := c.OptimalChunkSize(10<<30, 100*1024*1024)
	if got != want {
		t.Fatalf("got %d, want %d (memory bound)", got, want)
	}
}

func TestOptimalChunkSizeRespectsPartCountLimit(t *testing.T) {
	c := defaultChunker()

	// A 1 TiB upload cannot fit in 10000 parts of the memory-bounded size,
	// so the per-part floor wins.
	total := int64(1) << 40
	want := int64(math.Ceil(float64(total) / 10000))
	got := c.OptimalChunkSize(total, 100*1024*1024)
	if got != want {
		t.Fatalf("got %d, want %d (part count floor)", got, want)
	}
}

func TestOptimalChunkSizeTargetsTwoSecondsOfTransfer(t *testing.T) {
	c := defaultChunker()

	// 10 MiB/s sits inside all bounds: two seconds of transfer is 20 MiB.
	got := c.OptimalChunkSize(1<<30, 10*1024*1024)
	if got != 20*1024*1024 {
		t.Fatalf("got %d, want 20MiB", got)
	}
}

func TestUpdateNetworkSpeed(t *testing.T) {
	// First sample replaces a zero estimate outright.
	got := UpdateNetworkSpeed(0, 1024*1024, time.Second)
	if got != 1024*1024 {
		t.Fatalf("got %f, want 1MiB/s", got)
	}

	// Subsequent samples are smoothed: 0.2*sample + 0.8*previous.
	got = UpdateNetworkSpeed(1000, 2000, time.Second)
	if got != 0.2*2000+0.8*1000 {
		t.Fatalf("got %f, want 1200", got)
	}

	// A zero elapsed time cannot produce a sample.
	got = UpdateNetworkSpeed(1000, 2000, 0)
	if got != 1000 {
		t.Fatalf("got %f, want previous estimate", got)
	}
}
