package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rcliao/pageledger/internal/identity"
	"github.com/rcliao/pageledger/internal/model"
)

// Export document formats. A document without a version is format 0: ids
// were raw content keys and there were no settings references.
const (
	FormatLegacy        = 0
	FormatNamedIDs      = 1
	ExportFormatVersion = 2
)

// Document is the portable form of the history ledger.
type Document struct {
	Version    *int            `json:"version,omitempty"`
	ExportDate time.Time       `json:"exportDate"`
	EntryCount int             `json:"entryCount"`
	Entries    []DocumentEntry `json:"entries"`
}

// DocumentEntry pairs an entry with its resolved settings.
type DocumentEntry struct {
	Entry    model.HistoryEntry `json:"entry"`
	Settings *model.Settings    `json:"settings,omitempty"`
}

// ImportMode selects how Import treats existing entries.
type ImportMode int

const (
	// Merge adds unknown entries and only updates memos on known ones.
	Merge ImportMode = iota
	// Replace deletes the ledger first.
	Replace
)

// ParseImportMode accepts "merge" or "replace".
func ParseImportMode(s string) (ImportMode, error) {
	switch s {
	case "merge", "":
		return Merge, nil
	case "replace":
		return Replace, nil
	}
	return Merge, fmt.Errorf("invalid import mode %q (valid: merge, replace)", s)
}

// ImportResult reports an import. A failed import changed nothing.
type ImportResult struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ImportedCount int    `json:"imported"`
	UpdatedCount  int    `json:"updated"`
}

func failed(format string, args ...any) ImportResult {
	return ImportResult{Message: fmt.Sprintf(format, args...)}
}

// Export snapshots every entry with its resolved settings.
func (s *Store) Export(ctx context.Context) (*Document, error) {
	v := ExportFormatVersion
	doc := &Document{Version: &v, ExportDate: s.stamp(), Entries: []DocumentEntry{}}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return doc, nil
	}

	entries, err := loadEntries(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	for _, e := range entries {
		st, err := resolveSettings(ctx, s.db, e)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", e.ID, err)
		}
		doc.Entries = append(doc.Entries, DocumentEntry{Entry: e, Settings: st})
	}
	doc.EntryCount = len(doc.Entries)
	return doc, nil
}

// EncodeDocument writes doc as indented JSON.
func EncodeDocument(w io.Writer, doc *Document) error {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	_, err = w.Write(b)
	return err
}

// DecodeDocument parses an export document.
func DecodeDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Entries == nil {
		return nil, fmt.Errorf("missing entries")
	}
	return &doc, nil
}

// ImportData decodes data and imports it. Decode failures come back as an
// unsuccessful result, never as an error.
func (s *Store) ImportData(ctx context.Context, data []byte, mode ImportMode) ImportResult {
	doc, err := DecodeDocument(data)
	if err != nil {
		return failed("invalid export document: %v", err)
	}
	return s.Import(ctx, doc, mode)
}

// Import applies doc in a single transaction. Replace leaves exactly the
// document's entries; Merge never overwrites an existing entry beyond its memo.
func (s *Store) Import(ctx context.Context, doc *Document, mode ImportMode) ImportResult {
	entries, err := normalizeDocument(doc, s.stamp())
	if err != nil {
		return failed("invalid export document: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return failed("store not initialized")
	}

	before := s.view.Load().ordered
	var res ImportResult
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		if mode == Replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
				return err
			}
		}

		inserted := make(map[string]bool)
		for _, de := range entries {
			_, exists, err := getEntry(ctx, tx, de.Entry.ID)
			if err != nil {
				return err
			}
			if exists {
				if de.Entry.Memo != nil {
					if _, err := tx.ExecContext(ctx, `UPDATE history SET memo = ? WHERE id = ?`, *de.Entry.Memo, de.Entry.ID); err != nil {
						return err
					}
					res.UpdatedCount++
				}
				continue
			}
			if err := insertEntry(ctx, tx, de.Entry, de.Settings); err != nil {
				return fmt.Errorf("insert %s: %w", de.Entry.ID, err)
			}
			inserted[de.Entry.ID] = true
			res.ImportedCount++
		}

		return collapseRefs(ctx, tx, inserted)
	})
	if err != nil {
		s.log.Warn("import failed", "mode", mode, "error", err)
		return failed("import failed: %v", err)
	}

	all, err := loadEntries(ctx, s.db)
	if err != nil {
		s.log.Warn("reload after import", "error", err)
	} else {
		s.view.Store(newView(all))
	}
	s.releaseCredentials(before)
	s.changed(true)

	res.Success = true
	res.Message = fmt.Sprintf("imported %d entries", res.ImportedCount)
	if res.UpdatedCount > 0 {
		res.Message += fmt.Sprintf(", updated %d memos", res.UpdatedCount)
	}
	return res
}

// normalizeDocument upgrades older formats to current ids and fills
// neutral defaults.
func normalizeDocument(doc *Document, now time.Time) ([]DocumentEntry, error) {
	if doc == nil {
		return nil, fmt.Errorf("empty document")
	}
	version := FormatLegacy
	if doc.Version != nil {
		version = *doc.Version
	}
	if version < FormatLegacy || version > ExportFormatVersion {
		return nil, fmt.Errorf("unsupported format version %d", version)
	}

	out := make([]DocumentEntry, 0, len(doc.Entries))
	for i, de := range doc.Entries {
		e := de.Entry
		if e.DisplayName == "" {
			return nil, fmt.Errorf("entry %d: missing display name", i)
		}
		raw := e.ContentKey
		if raw == "" && version == FormatLegacy {
			raw = e.ID
		}
		if raw == "" {
			return nil, fmt.Errorf("entry %d: missing content key", i)
		}
		e.ContentKey = identity.ExtractContentKey(raw)
		if version == FormatLegacy || e.ID == "" {
			e.ID = identity.DeriveEntryID(e.DisplayName, e.ContentKey)
		}
		if version < ExportFormatVersion {
			e.SettingsRef = ""
		}
		if e.AccessCount < 1 {
			e.AccessCount = 1
		}
		if e.LastAccess.IsZero() {
			e.LastAccess = now
		}
		e.LastAccess = e.LastAccess.UTC()
		out = append(out, DocumentEntry{Entry: e, Settings: de.Settings})
	}
	return out, nil
}
