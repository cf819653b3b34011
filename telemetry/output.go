package telemetry

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gocarina/gocsv"

	"github.com/pthm-cable/tracker/config"
	"github.com/pthm-cable/tracker/device"
	"github.com/pthm-cable/tracker/particle"
)

// trackBatch is how many track rows are buffered before hitting tracks.csv.
const trackBatch = 1024

// TrackRow is one completed record in tracks.csv.
type TrackRow struct {
	ID      uint32 `csv:"id"`
	Dir     int8   `csv:"dir"`
	Offset  int32  `csv:"offset"`
	StartX  int32  `csv:"start_x"`
	StartY  int32  `csv:"start_y"`
	StartZ  int32  `csv:"start_z"`
	EndX    int32  `csv:"end_x"`
	EndY    int32  `csv:"end_y"`
	EndZ    int32  `csv:"end_z"`
	Steps   uint32 `csv:"steps"`
	Visited uint32 `csv:"visited"`
}

// NewTrackRow flattens a completed record.
func NewTrackRow(r particle.Record) TrackRow {
	return TrackRow{
		ID:      r.ID,
		Dir:     r.Dir,
		Offset:  r.Offset,
		StartX:  r.Start[0],
		StartY:  r.Start[1],
		StartZ:  r.Start[2],
		EndX:    r.Pos[0],
		EndY:    r.Pos[1],
		EndZ:    r.Pos[2],
		Steps:   r.Steps,
		Visited: r.Visited,
	}
}

// VisitRow is one visited voxel in visits.csv.
type VisitRow struct {
	X      int32  `csv:"x"`
	Y      int32  `csv:"y"`
	Z      int32  `csv:"z"`
	Visits uint32 `csv:"visits"`
}

// csvFile is an output file whose header is written with the first rows.
type csvFile struct {
	f             *os.File
	w             *bufio.Writer
	headerWritten bool
}

func createCSV(dir, name string) (*csvFile, error) {
	f, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", name, err)
	}
	return &csvFile{f: f, w: bufio.NewWriter(f)}, nil
}

func (c *csvFile) write(rows any) error {
	if !c.headerWritten {
		if err := gocsv.Marshal(rows, c.w); err != nil {
			return err
		}
		c.headerWritten = true
		return nil
	}
	return gocsv.MarshalWithoutHeaders(rows, c.w)
}

func (c *csvFile) close() error {
	err := c.w.Flush()
	if cerr := c.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// OutputManager handles run output in one directory. It is a pipeline sink
// writing tracks.csv and is safe for concurrent use. A nil OutputManager
// discards everything.
type OutputManager struct {
	dir string

	mu       sync.Mutex
	tracks   *csvFile
	progress *csvFile
	perf     *csvFile
	pending  []TrackRow
	written  int64
	closed   bool
}

// NewOutputManager creates a new output manager and initializes the output directory.
// Returns nil if dir is empty (output disabled).
func NewOutputManager(dir string) (*OutputManager, error) {
	if dir == "" {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	om := &OutputManager{dir: dir, pending: make([]TrackRow, 0, trackBatch)}
	var err error
	if om.tracks, err = createCSV(dir, "tracks.csv"); err != nil {
		return nil, err
	}
	if om.progress, err = createCSV(dir, "progress.csv"); err != nil {
		om.tracks.close()
		return nil, err
	}
	if om.perf, err = createCSV(dir, "perf.csv"); err != nil {
		om.tracks.close()
		om.progress.close()
		return nil, err
	}
	return om, nil
}

// Emit implements pipeline.Sink by buffering a row for tracks.csv.
func (om *OutputManager) Emit(r particle.Record) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	om.pending = append(om.pending, NewTrackRow(r))
	if len(om.pending) >= trackBatch {
		return om.flushTracks()
	}
	return nil
}

// flushTracks writes buffered track rows. Callers hold om.mu.
func (om *OutputManager) flushTracks() error {
	if len(om.pending) == 0 {
		return nil
	}
	if err := om.tracks.write(om.pending); err != nil {
		return fmt.Errorf("writing tracks: %w", err)
	}
	om.written += int64(len(om.pending))
	om.pending = om.pending[:0]
	return nil
}

// TracksWritten returns the number of track rows handed to tracks.csv.
func (om *OutputManager) TracksWritten() int64 {
	if om == nil {
		return 0
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	return om.written
}

// WriteProgress appends a row to progress.csv.
func (om *OutputManager) WriteProgress(row ProgressRow) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	if err := om.progress.write([]ProgressRow{row}); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	return nil
}

// WritePerf appends one device's driver timing to perf.csv.
func (om *OutputManager) WritePerf(dev int, stats PerfStats) error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	if err := om.perf.write([]PerfRow{stats.Row(dev)}); err != nil {
		return fmt.Errorf("writing perf: %w", err)
	}
	return nil
}

// WriteVisits writes every voxel with a non-zero count to visits.csv.
func (om *OutputManager) WriteVisits(dims [3]int32, visits []uint32) error {
	if om == nil {
		return nil
	}
	var rows []VisitRow
	for v, n := range visits {
		if n == 0 {
			continue
		}
		c := device.Coords(dims, uint32(v))
		rows = append(rows, VisitRow{X: c[0], Y: c[1], Z: c[2], Visits: n})
	}

	f, err := createCSV(om.dir, "visits.csv")
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		if err := f.write(rows); err != nil {
			f.close()
			return fmt.Errorf("writing visits: %w", err)
		}
	}
	return f.close()
}

// WriteConfig saves the current configuration as YAML.
func (om *OutputManager) WriteConfig(cfg *config.Config) error {
	if om == nil {
		return nil
	}
	return cfg.WriteYAML(filepath.Join(om.dir, "config.yaml"))
}

// WriteSummary saves the run summary as JSON.
func (om *OutputManager) WriteSummary(s *Summary) error {
	if om == nil {
		return nil
	}
	_, err := SaveSummary(s, om.dir)
	return err
}

// WriteHallOfFame saves the longest tracks as JSON.
func (om *OutputManager) WriteHallOfFame(hof *HallOfFame) error {
	if om == nil || hof == nil {
		return nil
	}
	data, err := hof.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling hall of fame: %w", err)
	}
	if err := os.WriteFile(filepath.Join(om.dir, "longest_tracks.json"), data, 0644); err != nil {
		return fmt.Errorf("writing longest_tracks.json: %w", err)
	}
	return nil
}

// Dir returns the output directory path.
func (om *OutputManager) Dir() string {
	if om == nil {
		return ""
	}
	return om.dir
}

// Close flushes and closes all output files. Later calls do nothing.
func (om *OutputManager) Close() error {
	if om == nil {
		return nil
	}
	om.mu.Lock()
	defer om.mu.Unlock()
	if om.closed {
		return nil
	}
	om.closed = true

	firstErr := om.flushTracks()
	for _, f := range []*csvFile{om.tracks, om.progress, om.perf} {
		if err := f.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
