package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
)

// Format selects the export encoding
type Format string

const (
	// FormatJSONL writes one JSON object per line
	FormatJSONL Format = "jsonl"
	// FormatCSV writes a header row followed by one row per entry
	FormatCSV Format = "csv"
)

// ParseFormat converts a string to a Format, defaulting to JSON lines
func ParseFormat(str string) (Format, error) {
	switch Format(str) {
	case "", FormatJSONL:
		return FormatJSONL, nil
	case FormatCSV:
		return FormatCSV, nil
	}
	return "", fmt.Errorf("invalid export format: %s", str)
}

// ContentType returns the MIME type of the format
func (f Format) ContentType() string {
	if f == FormatCSV {
		return "text/csv"
	}
	return "application/x-ndjson"
}

// Record is the flat export shape of an audit entry
type Record struct {
	Sequence  uint64            `json:"sequence"`
	Timestamp string            `json:"timestamp"`
	Actor     string            `json:"actor"`
	EventType string            `json:"event_type"`
	SubjectID string            `json:"subject_id"`
	Detail    map[string]string `json:"detail,omitempty"`
	PrevHash  string            `json:"prev_hash"`
	Hash      string            `json:"hash"`
}

var csvHeader = []string{"sequence", "timestamp", "actor", "event_type", "subject_id", "detail", "prev_hash", "hash"}

// NewRecord flattens an entry for export
func NewRecord(e models.AuditEntry) Record {
	return Record{
		Sequence:  e.Sequence,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:     e.Actor,
		EventType: string(e.EventType),
		SubjectID: e.SubjectID,
		Detail:    e.Detail,
		PrevHash:  e.PrevHash,
		Hash:      e.Hash,
	}
}

// Export writes every entry matching the filter to w in append order
func (l *Ledger) Export(ctx context.Context, w io.Writer, format Format, filter models.AuditFilter) (int, error) {
	entries, err := l.Query(ctx, filter)
	if err != nil {
		return 0, err
	}
	if err := WriteEntries(w, format, entries); err != nil {
		return 0, err
	}
	return len(entries), nil
}

// WriteEntries encodes entries to w in the given format
func WriteEntries(w io.Writer, format Format, entries []models.AuditEntry) error {
	switch format {
	case FormatCSV:
		cw := csv.NewWriter(w)
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("failed to write csv header: %w", err)
		}
		for _, e := range entries {
			r := NewRecord(e)
			detail := ""
			if len(r.Detail) > 0 {
				raw, err := json.Marshal(r.Detail)
				if err != nil {
					return fmt.Errorf("failed to encode detail of entry %d: %w", r.Sequence, err)
				}
				detail = string(raw)
			}
			row := []string{
				strconv.FormatUint(r.Sequence, 10),
				r.Timestamp,
				r.Actor,
				r.EventType,
				r.SubjectID,
				detail,
				r.PrevHash,
				r.Hash,
			}
			if err := cw.Write(row); err != nil {
				return fmt.Errorf("failed to write csv row %d: %w", r.Sequence, err)
			}
		}
		cw.Flush()
		return cw.Error()
	case FormatJSONL, "":
		enc := json.NewEncoder(w)
		for _, e := range entries {
			if err := enc.Encode(NewRecord(e)); err != nil {
				return fmt.Errorf("failed to write entry %d: %w", e.Sequence, err)
			}
		}
		return nil
	}
	return fmt.Errorf("invalid export format: %s", format)
}
