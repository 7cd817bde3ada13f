// Package trace records per-generation progress of a strategy run as JSON
// lines. A trace is a run report; it does not carry enough state to resume.
package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cwbudde/evostrat/internal/opt"
)

// Float is a float64 that encodes non-finite values as JSON null and
// decodes null as NaN.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(v, 'g', -1, 64)), nil
}

func (f *Float) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*f = Float(math.NaN())
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("invalid float %q: %w", data, err)
	}
	*f = Float(v)
	return nil
}

// Entry is one line of a trace.
type Entry struct {
	Generation     int       `json:"generation"`
	BestFitness    Float     `json:"best_fitness"`
	MeanFitness    Float     `json:"mean_fitness"`
	Sigma          Float     `json:"sigma"`
	PopulationSize int       `json:"population_size"`
	Restarts       int       `json:"restarts"`
	Timestamp      time.Time `json:"timestamp"`
}

// FromGeneration converts a driver summary into a trace entry stamped now.
func FromGeneration(g opt.Generation) Entry {
	return Entry{
		Generation:     g.Index,
		BestFitness:    Float(g.BestFitness),
		MeanFitness:    Float(g.MeanFitness),
		Sigma:          Float(g.Sigma),
		PopulationSize: g.PopulationSize,
		Restarts:       g.Restarts,
		Timestamp:      time.Now(),
	}
}

// Writer writes entries as JSON lines. It buffers output and is safe for
// concurrent use.
type Writer struct {
	mu     sync.Mutex
	closer io.Closer
	writer *bufio.Writer
	path   string
}

// NewWriter writes to w. Close flushes but does not close w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{writer: bufio.NewWriterSize(w, 64*1024)}
}

// Create opens path for writing, creating parent directories. If append
// is true, entries are added to an existing file.
func Create(path string, append bool) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	var file *os.File
	var err error
	if append {
		file, err = os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	} else {
		file, err = os.Create(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	w := NewWriter(file)
	w.closer = file
	w.path = path
	return w, nil
}

// Write appends an entry to the buffer.
func (tw *Writer) Write(entry Entry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Flush writes buffered entries through.
func (tw *Writer) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	return nil
}

// Close flushes and, for writers made by Create, closes the file.
func (tw *Writer) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		if tw.closer != nil {
			tw.closer.Close()
		}
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if tw.closer == nil {
		return nil
	}
	if err := tw.closer.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the file path for writers made by Create.
func (tw *Writer) Path() string {
	return tw.path
}

// Reader reads entries from JSON lines.
type Reader struct {
	scanner *bufio.Scanner
	line    int
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Read returns the next entry, or io.EOF. Blank lines are skipped.
func (tr *Reader) Read() (*Entry, error) {
	for tr.scanner.Scan() {
		tr.line++
		line := bytes.TrimSpace(tr.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("line %d: failed to unmarshal trace entry: %w", tr.line, err)
		}
		return &entry, nil
	}
	if err := tr.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace line: %w", err)
	}
	return nil, io.EOF
}

// ReadAll reads the remaining entries.
func (tr *Reader) ReadAll() ([]Entry, error) {
	var entries []Entry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, nil
}

// ReadFile reads every entry of the trace at path.
func ReadFile(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer file.Close()
	return NewReader(file).ReadAll()
}
