// Package audit implements the append-only audit ledger of the automation engine.
//
// Every security decision, job transition, external call and error is appended as an
// AuditEntry. Entries are numbered sequentially, carry strictly increasing timestamps
// and are linked by a SHA-256 hash chain so that a stored ledger can be verified.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Kensan196948G/ServiceGrid-sub004/internal/db/models"
	"github.com/Kensan196948G/ServiceGrid-sub004/internal/logger"
)

// ErrChainBroken is returned by Verify when a stored entry does not match its hash
var ErrChainBroken = errors.New("audit hash chain broken")

// timestampResolution keeps timestamps stable across a database round trip
const timestampResolution = time.Microsecond

// Sink persists entries as they are appended
type Sink interface {
	Write(ctx context.Context, entry models.AuditEntry) error
}

// Reader serves queries from persistent storage. A ledger with a Reader keeps no
// entries in process memory.
type Reader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error)
}

// Appender is the write side of the ledger as seen by other components
type Appender interface {
	Append(ctx context.Context, entry models.AuditEntry) (models.AuditEntry, error)
}

// Ledger is the append-only audit record. The zero value is not usable; use New.
type Ledger struct {
	mu       sync.Mutex
	entries  []models.AuditEntry
	seq      uint64
	lastHash string
	lastTS   time.Time

	sink   Sink
	reader Reader
	now    func() time.Time
}

// Option configures a Ledger
type Option func(*Ledger)

// WithSink writes every entry to s inside the append critical section
func WithSink(s Sink) Option {
	return func(l *Ledger) { l.sink = s }
}

// WithReader serves Query and Verify from r
func WithReader(r Reader) Option {
	return func(l *Ledger) { l.reader = r }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithResume continues numbering and hashing after a previously stored entry
func WithResume(last *models.AuditEntry) Option {
	return func(l *Ledger) {
		if last == nil {
			return
		}
		l.seq = last.Sequence
		l.lastHash = last.Hash
		l.lastTS = last.Timestamp
	}
}

// New creates a ledger
func New(opts ...Option) *Ledger {
	l := &Ledger{now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an entry and returns it with sequence, timestamp and hashes filled in.
// The caller's Actor, EventType, SubjectID and Detail are kept; everything else is
// assigned here. Either the entry is fully recorded or nothing is.
func (l *Ledger) Append(ctx context.Context, entry models.AuditEntry) (models.AuditEntry, error) {
	if _, err := models.ParseAuditEventType(string(entry.EventType)); err != nil {
		return models.AuditEntry{}, err
	}
	if entry.Actor == "" {
		return models.AuditEntry{}, fmt.Errorf("audit entry actor cannot be empty")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ts := l.now().UTC().Truncate(timestampResolution)
	if !ts.After(l.lastTS) {
		ts = l.lastTS.Add(timestampResolution)
	}

	entry.Sequence = l.seq + 1
	entry.Timestamp = ts
	entry.Detail = copyDetail(entry.Detail)
	entry.PrevHash = l.lastHash
	entry.Hash = computeHash(entry)

	if l.sink != nil {
		if err := l.sink.Write(ctx, entry); err != nil {
			logger.ErrorWithFields("audit sink write failed", map[string]interface{}{
				"sequence":   entry.Sequence,
				"event_type": entry.EventType,
				"subject_id": entry.SubjectID,
				"error":      err.Error(),
			})
			return models.AuditEntry{}, fmt.Errorf("failed to persist audit entry: %w", err)
		}
	}

	l.seq = entry.Sequence
	l.lastHash = entry.Hash
	l.lastTS = ts
	if l.reader == nil {
		l.entries = append(l.entries, entry)
	}
	return cloneEntry(entry), nil
}

// Query returns entries matching the filter in append order
func (l *Ledger) Query(ctx context.Context, filter models.AuditFilter) ([]models.AuditEntry, error) {
	if l.reader != nil {
		return l.reader.List(ctx, filter)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.AuditEntry, 0)
	for _, e := range l.entries {
		if !filter.Matches(e) {
			continue
		}
		out = append(out, cloneEntry(e))
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Len returns the number of entries held in process memory
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Verify recomputes the hash chain over every readable entry
func (l *Ledger) Verify(ctx context.Context) error {
	entries, err := l.Query(ctx, models.AuditFilter{})
	if err != nil {
		return err
	}
	return VerifyChain(entries)
}

// VerifyChain checks that entries are contiguous, ordered and correctly hashed
func VerifyChain(entries []models.AuditEntry) error {
	for i, e := range entries {
		if e.Hash != computeHash(e) {
			return fmt.Errorf("%w: entry %d hash mismatch", ErrChainBroken, e.Sequence)
		}
		if i == 0 {
			continue
		}
		prev := entries[i-1]
		if e.Sequence != prev.Sequence+1 {
			return fmt.Errorf("%w: gap between %d and %d", ErrChainBroken, prev.Sequence, e.Sequence)
		}
		if e.PrevHash != prev.Hash {
			return fmt.Errorf("%w: entry %d does not link to %d", ErrChainBroken, e.Sequence, prev.Sequence)
		}
		if !e.Timestamp.After(prev.Timestamp) {
			return fmt.Errorf("%w: entry %d timestamp not increasing", ErrChainBroken, e.Sequence)
		}
	}
	return nil
}

func computeHash(e models.AuditEntry) string {
	payload := map[string]interface{}{
		"sequence":   e.Sequence,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"actor":      e.Actor,
		"event_type": string(e.EventType),
		"subject_id": e.SubjectID,
		"detail":     e.Detail,
		"prev_hash":  e.PrevHash,
	}
	raw, _ := json.Marshal(payload)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func copyDetail(d map[string]string) map[string]string {
	if len(d) == 0 {
		return nil
	}
	out := make(map[string]string, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

func cloneEntry(e models.AuditEntry) models.AuditEntry {
	e.Detail = copyDetail(e.Detail)
	return e
}
