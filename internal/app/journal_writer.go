package app

import (
	"encoding/json"
	"errors"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/asw/internal/infra/persistence/file"
)

// JournalWriter appends normalized JSONL entries to a workflow journal
type JournalWriter struct {
	fs   afero.Fs
	path string
}

// NewJournalWriter creates a new JournalWriter instance
func NewJournalWriter(fs afero.Fs, path string) *JournalWriter {
	return &JournalWriter{fs: fs, path: path}
}

// Append writes a normalized journal entry to the journal file
func (w *JournalWriter) Append(entry *JournalEntry) error {
	e := NormalizeJournalEntry(entry)
	if err := validateJournal(e); err != nil {
		return err
	}

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return file.AppendLine(w.fs, w.path, b)
}

// Path returns the journal file path
func (w *JournalWriter) Path() string {
	return w.path
}

// validateJournal checks the fields every entry must carry
func validateJournal(e JournalEntry) error {
	if e.WorkflowID == "" {
		return errors.New("journal entry without workflow_id")
	}
	if e.TS == "" {
		return errors.New("ts is empty")
	}
	return nil
}
