package trace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Ext is the file extension of trace files.
const Ext = ".jsonl"

// Info summarizes a trace file on disk.
type Info struct {
	Path        string
	Generations int
	BestFitness Float
	Restarts    int
	Size        int64
	ModTime     time.Time
}

// Summarize reads the trace at path and reports its last entry.
func Summarize(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat trace file: %w", err)
	}
	entries, err := ReadFile(path)
	if err != nil {
		return Info{}, fmt.Errorf("%s: %w", path, err)
	}

	info := Info{Path: path, Size: st.Size(), ModTime: st.ModTime()}
	if n := len(entries); n > 0 {
		last := entries[n-1]
		info.Generations = last.Generation
		info.BestFitness = last.BestFitness
		info.Restarts = last.Restarts
	}
	return info, nil
}

// List summarizes every trace file directly under dir, oldest first.
// A missing directory yields no traces.
func List(dir string) ([]Info, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+Ext))
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(matches))
	for _, path := range matches {
		info, err := Summarize(path)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ModTime.Before(infos[j].ModTime) })
	return infos, nil
}
