package app

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/afero"
)

// JournalEntry is one audit line appended on every state save
type JournalEntry struct {
	TS         string   `json:"ts"`
	WorkflowID string   `json:"workflow_id"`
	PhaseLabel string   `json:"phase_label"`
	Phases     []string `json:"phases"`
	ElapsedMs  int64    `json:"elapsed_ms"`
	Error      string   `json:"error"`
}

// NormalizeJournalEntry fills missing fields so every line has the same schema
func NormalizeJournalEntry(e *JournalEntry) JournalEntry {
	out := JournalEntry{}
	if e != nil {
		out = *e
	}
	if out.TS == "" {
		out.TS = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if out.PhaseLabel == "" {
		out.PhaseLabel = "unknown"
	}
	if out.Phases == nil {
		out.Phases = []string{}
	}
	return out
}

// ReadJournal returns all entries of a journal file, oldest first.
// A missing file yields no entries.
func ReadJournal(fs afero.Fs, path string) ([]JournalEntry, error) {
	f, err := fs.Open(path)
	if err != nil {
		if exists, _ := afero.Exists(fs, path); !exists {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var entries []JournalEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e JournalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return entries, fmt.Errorf("journal %s line %d: %w", path, line, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
