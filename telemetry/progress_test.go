package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

type fakeCounter struct {
	count atomic.Int64
	total int64
}

func (c *fakeCounter) Count() int64 { return c.count.Load() }
func (c *fakeCounter) Total() int64 { return c.total }

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestProgressSample(t *testing.T) {
	c := &fakeCounter{total: 200}
	c.count.Store(50)
	p := NewProgress(c, time.Second, quiet, nil)

	row := p.Sample(p.start.Add(2 * time.Second))
	if row.Processed != 25 || row.Total != 100 {
		t.Errorf("processed/total = %d/%d, want particles not records", row.Processed, row.Total)
	}
	if row.Percent != 25 {
		t.Errorf("percent = %v, want 25", row.Percent)
	}
	if row.Rate != 12.5 {
		t.Errorf("rate = %v, want 12.5", row.Rate)
	}
	if got := row.String(); got != "Processed 25/100 [25.0%] [12 particles/sec]" {
		t.Errorf("line = %q", got)
	}
}

func TestProgressSampleEmptyQueue(t *testing.T) {
	p := NewProgress(&fakeCounter{}, 0, nil, nil)
	row := p.Sample(p.start)
	if row.Percent != 0 || row.Rate != 0 {
		t.Errorf("empty queue row = %+v", row)
	}
}

func TestProgressRunWritesRows(t *testing.T) {
	dir := t.TempDir()
	om, err := NewOutputManager(dir)
	if err != nil {
		t.Fatal(err)
	}

	c := &fakeCounter{total: 10}
	p := NewProgress(c, 2*time.Millisecond, quiet, om)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()
	for i := 0; i < 10; i++ {
		c.count.Add(1)
		time.Sleep(3 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if err := om.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "progress.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) < 2 {
		t.Fatalf("expected progress rows, got %q", data)
	}
	last := lines[len(lines)-1]
	if !strings.HasPrefix(strings.SplitN(last, ",", 2)[1], "5,5,") {
		t.Errorf("final row %q should report 5/5 particles", last)
	}
}
