package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"tilecraft.ai/internal/protocol"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	p := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// PlacementEntry is one dispatched packet as recorded in the journal.
type PlacementEntry struct {
	Seq    uint64          `json:"seq"`
	Time   time.Time       `json:"time"`
	World  string          `json:"world,omitempty"`
	Kind   string          `json:"kind,omitempty"`
	Packet protocol.Packet `json:"packet"`
}

// PlacementLogger writes one JSONL entry per dispatched packet (compressed).
type PlacementLogger struct {
	w *JSONLZstdWriter

	mu  sync.Mutex
	seq uint64
}

// NewPlacementLogger continues the sequence of any journal already under
// dataDir, so runs that share an hourly file never repeat a seq.
func NewPlacementLogger(dataDir string) *PlacementLogger {
	dir := filepath.Join(dataDir, "placements")
	return &PlacementLogger{
		w:   NewJSONLZstdWriter(dir, "placements"),
		seq: LastSeq(dir),
	}
}

// LastSeq returns the highest sequence number in the newest journal file
// under dir that holds any entry, or 0 when there is none. A damaged tail
// counts the entries read before it.
func LastSeq(dir string) uint64 {
	files, err := ListFiles(dir)
	if err != nil {
		return 0
	}
	for i := len(files) - 1; i >= 0; i-- {
		var last uint64
		_ = ScanEntries(files[i], func(e PlacementEntry) error {
			if e.Seq > last {
				last = e.Seq
			}
			return nil
		})
		if last > 0 {
			return last
		}
	}
	return 0
}

// WritePacket assigns the next sequence number and time if unset.
func (l *PlacementLogger) WritePacket(e PlacementEntry) error {
	l.mu.Lock()
	if e.Seq == 0 {
		l.seq++
		e.Seq = l.seq
	} else if e.Seq > l.seq {
		l.seq = e.Seq
	}
	l.mu.Unlock()
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	return l.w.Write(e)
}

func (l *PlacementLogger) Close() error { return l.w.Close() }

// ListFiles returns the journal files under dir in chronological order.
func ListFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		n := e.Name()
		if e.IsDir() || !strings.HasPrefix(n, "placements-") || !strings.HasSuffix(n, ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, n))
	}
	// The hour stamp sorts lexically.
	sort.Strings(out)
	return out, nil
}

// ReadEntries decodes every entry of one journal file.
func ReadEntries(path string) ([]PlacementEntry, error) {
	var out []PlacementEntry
	err := ScanEntries(path, func(e PlacementEntry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

// ScanEntries calls fn for every entry in path, stopping at the first error.
// A torn last line (writer killed mid-flush) ends the scan without error.
func ScanEntries(path string, fn func(PlacementEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 128*1024)
	line := 0
	for {
		b, err := br.ReadBytes('\n')
		if len(b) > 0 && b[len(b)-1] == '\n' {
			line++
			var e PlacementEntry
			if jerr := json.Unmarshal(b, &e); jerr != nil {
				return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, jerr)
			}
			if ferr := fn(e); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
}
