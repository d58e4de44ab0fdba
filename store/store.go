// Package store is the relay node's relational-contract persistence layer.
// It maps the four logical tables named in the wire spec — signal_relays,
// relay_rules, signal_buffer, relay_stats — onto a storage.Store key-value
// backend, one JSON row per "<table>/<id>" key. Any storage.Store
// implementation (storage.MemStore or a durable backend) can serve it.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nohuiam/synapse-relay/errors"
	"github.com/nohuiam/synapse-relay/pkg/timestamp"
	"github.com/nohuiam/synapse-relay/storage"
	"github.com/nohuiam/synapse-relay/types"
)

const (
	tableRelays = "signal_relays"
	tableRules  = "relay_rules"
	tableBuffer = "signal_buffer"
	tableStats  = "relay_stats"
)

// Store is the relay node's persistence layer.
type Store struct {
	backend storage.Store

	// mu serializes multi-row statements (the expire sweep) so they run as
	// a single logical transaction against the key-value backend.
	mu sync.Mutex

	nextStatsID atomic.Int64
	nextRuleID  atomic.Int64
}

// New wraps backend in the relational contract.
func New(backend storage.Store) *Store {
	return &Store{backend: backend}
}

func rowKey(table, id string) string { return table + "/" + id }

func (s *Store) put(ctx context.Context, table, id string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WrapInvalid(err, "store", "put", "marshal row")
	}
	if err := s.backend.Put(ctx, rowKey(table, id), data); err != nil {
		return errors.Wrap(err, "store", "put", "write row")
	}
	return nil
}

// scan invokes fn for every row currently stored under table. A row that
// fails to decode is skipped rather than aborting the whole scan — a
// concurrent delete racing the list call is expected, not an error.
func (s *Store) scan(ctx context.Context, table string, fn func([]byte)) error {
	keys, err := s.backend.List(ctx, table+"/")
	if err != nil {
		return errors.Wrap(err, "store", "scan", "list keys")
	}
	for _, k := range keys {
		data, err := s.backend.Get(ctx, k)
		if err != nil {
			continue
		}
		fn(data)
	}
	return nil
}

// --- RelayRecord (signal_relays) ---

// InsertRelayRecord writes one immutable historical row, assigning a UUID
// if rec.ID is empty.
func (s *Store) InsertRelayRecord(ctx context.Context, rec types.RelayRecord) (types.RelayRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return rec, s.put(ctx, tableRelays, rec.ID, rec)
}

// ListRelayRecords returns every record with relayed_at in [since, until],
// sorted by relayed_at ascending. until == 0 means no upper bound.
func (s *Store) ListRelayRecords(ctx context.Context, since, until int64) ([]types.RelayRecord, error) {
	var out []types.RelayRecord
	err := s.scan(ctx, tableRelays, func(data []byte) {
		var rec types.RelayRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return
		}
		if rec.RelayedAt < since {
			return
		}
		if until > 0 && rec.RelayedAt > until {
			return
		}
		out = append(out, rec)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].RelayedAt < out[j].RelayedAt })
	return out, err
}

// --- RelayRule (relay_rules) ---

// SaveRule inserts or overwrites a rule row, assigning an id if rule.ID is
// zero.
func (s *Store) SaveRule(ctx context.Context, rule types.RelayRule) (types.RelayRule, error) {
	if rule.ID == 0 {
		rule.ID = s.nextRuleID.Add(1)
	}
	return rule, s.put(ctx, tableRules, strconv.FormatInt(rule.ID, 10), rule)
}

// DeleteRule removes a rule row. Idempotent.
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	if err := s.backend.Delete(ctx, rowKey(tableRules, strconv.FormatInt(id, 10))); err != nil {
		return errors.Wrap(err, "store", "DeleteRule", "delete row")
	}
	return nil
}

// ListRules returns every persisted rule, sorted by priority descending.
func (s *Store) ListRules(ctx context.Context) ([]types.RelayRule, error) {
	var out []types.RelayRule
	err := s.scan(ctx, tableRules, func(data []byte) {
		var rule types.RelayRule
		if err := json.Unmarshal(data, &rule); err != nil {
			return
		}
		out = append(out, rule)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out, err
}

// --- BufferedSignal (signal_buffer) ---

// BufferSignal writes a new pending row, assigning a UUID if sig.ID is
// empty and defaulting Status to pending.
func (s *Store) BufferSignal(ctx context.Context, sig types.BufferedSignal) (types.BufferedSignal, error) {
	if sig.ID == "" {
		sig.ID = uuid.NewString()
	}
	if sig.Status == "" {
		sig.Status = types.StatusPending
	}
	return sig, s.put(ctx, tableBuffer, sig.ID, sig)
}

// GetBufferedSignal fetches one row by id.
func (s *Store) GetBufferedSignal(ctx context.Context, id string) (*types.BufferedSignal, error) {
	data, err := s.backend.Get(ctx, rowKey(tableBuffer, id))
	if err != nil {
		return nil, errors.Wrap(err, "store", "GetBufferedSignal", "lookup row")
	}
	var sig types.BufferedSignal
	if err := json.Unmarshal(data, &sig); err != nil {
		return nil, errors.WrapInvalid(err, "store", "GetBufferedSignal", "decode row")
	}
	return &sig, nil
}

// UpdateBufferedSignal overwrites an existing row in place.
func (s *Store) UpdateBufferedSignal(ctx context.Context, sig types.BufferedSignal) error {
	return s.put(ctx, tableBuffer, sig.ID, sig)
}

// DeleteBufferedSignal removes a row. Idempotent.
func (s *Store) DeleteBufferedSignal(ctx context.Context, id string) error {
	if err := s.backend.Delete(ctx, rowKey(tableBuffer, id)); err != nil {
		return errors.Wrap(err, "store", "DeleteBufferedSignal", "delete row")
	}
	return nil
}

// BufferFilter narrows ListBufferedSignals and ClearBufferedSignals. IDs,
// when non-empty, takes precedence over every other field.
type BufferFilter struct {
	IDs          []string
	TargetServer string
	SignalType   *uint16
	MaxAgeHours  *float64
	Status       *types.BufferedSignalStatus
}

func (f BufferFilter) matches(sig types.BufferedSignal, now int64) bool {
	if f.TargetServer != "" && sig.TargetServer != f.TargetServer {
		return false
	}
	if f.SignalType != nil && sig.SignalType != *f.SignalType {
		return false
	}
	if f.Status != nil && sig.Status != *f.Status {
		return false
	}
	if f.MaxAgeHours != nil {
		cutoff := now - int64(*f.MaxAgeHours*3600_000)
		if sig.BufferedAt > cutoff {
			return false
		}
	}
	return true
}

// ListBufferedSignals returns rows matching filter. If filter.IDs is
// non-empty, only those ids are fetched (still subject to the other filter
// fields).
func (s *Store) ListBufferedSignals(ctx context.Context, filter BufferFilter) ([]types.BufferedSignal, error) {
	now := timestamp.Now()

	if len(filter.IDs) > 0 {
		var out []types.BufferedSignal
		for _, id := range filter.IDs {
			sig, err := s.GetBufferedSignal(ctx, id)
			if err != nil {
				continue
			}
			if filter.matches(*sig, now) {
				out = append(out, *sig)
			}
		}
		return out, nil
	}

	var out []types.BufferedSignal
	err := s.scan(ctx, tableBuffer, func(data []byte) {
		var sig types.BufferedSignal
		if err := json.Unmarshal(data, &sig); err != nil {
			return
		}
		if filter.matches(sig, now) {
			out = append(out, sig)
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].BufferedAt < out[j].BufferedAt })
	return out, err
}

// ClearBufferedSignals deletes every row matching filter and returns the
// count deleted. At least one field of filter must be non-zero; the caller
// is expected to enforce that before calling.
func (s *Store) ClearBufferedSignals(ctx context.Context, filter BufferFilter) (int, error) {
	rows, err := s.ListBufferedSignals(ctx, filter)
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := s.DeleteBufferedSignal(ctx, row.ID); err != nil {
			return 0, err
		}
	}
	return len(rows), nil
}

// SelectRetryable returns pending, non-expired rows whose retry_count is
// still below max_retries, ordered by priority descending then buffered_at
// ascending — the ordering processBuffer's retry-selection step requires.
// The backoff-interval filter itself is applied by the buffer manager,
// which knows the configured interval schedule.
func (s *Store) SelectRetryable(ctx context.Context, now int64) ([]types.BufferedSignal, error) {
	var out []types.BufferedSignal
	err := s.scan(ctx, tableBuffer, func(data []byte) {
		var sig types.BufferedSignal
		if jsonErr := json.Unmarshal(data, &sig); jsonErr != nil {
			return
		}
		if sig.Status != types.StatusPending {
			return
		}
		if sig.RetryCount >= sig.MaxRetries {
			return
		}
		if sig.ExpiresAt != 0 && sig.ExpiresAt < now {
			return
		}
		out = append(out, sig)
	})
	sort.Slice(out, func(i, j int) bool {
		if ri, rj := out[i].Priority.Rank(), out[j].Priority.Rank(); ri != rj {
			return ri > rj
		}
		return out[i].BufferedAt < out[j].BufferedAt
	})
	return out, err
}

// ExpireSweep transitions every pending row whose expires_at has passed to
// expired, as a single logical statement, and returns the count affected.
func (s *Store) ExpireSweep(ctx context.Context, now int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var toExpire []types.BufferedSignal
	err := s.scan(ctx, tableBuffer, func(data []byte) {
		var sig types.BufferedSignal
		if jsonErr := json.Unmarshal(data, &sig); jsonErr != nil {
			return
		}
		if sig.Status == types.StatusPending && sig.ExpiresAt != 0 && sig.ExpiresAt < now {
			toExpire = append(toExpire, sig)
		}
	})
	if err != nil {
		return 0, err
	}

	for _, sig := range toExpire {
		sig.Status = types.StatusExpired
		if putErr := s.put(ctx, tableBuffer, sig.ID, sig); putErr != nil {
			return 0, putErr
		}
	}
	return len(toExpire), nil
}

// BufferStateCounts returns the live count of each BufferedSignalStatus
// across the whole buffer, used by the stats aggregator's buffer_stats.
func (s *Store) BufferStateCounts(ctx context.Context) (map[types.BufferedSignalStatus]int, error) {
	counts := make(map[types.BufferedSignalStatus]int, 4)
	err := s.scan(ctx, tableBuffer, func(data []byte) {
		var sig types.BufferedSignal
		if jsonErr := json.Unmarshal(data, &sig); jsonErr != nil {
			return
		}
		counts[sig.Status]++
	})
	return counts, err
}

// --- RelayStatsBucket (relay_stats) ---

// InsertStatsBucket writes a rollup row, assigning an id if bucket.ID is
// zero.
func (s *Store) InsertStatsBucket(ctx context.Context, bucket types.RelayStatsBucket) (types.RelayStatsBucket, error) {
	if bucket.ID == 0 {
		bucket.ID = s.nextStatsID.Add(1)
	}
	return bucket, s.put(ctx, tableStats, strconv.FormatInt(bucket.ID, 10), bucket)
}

// ListStatsBuckets returns every bucket with period_start in [since, until].
// until == 0 means no upper bound.
func (s *Store) ListStatsBuckets(ctx context.Context, since, until int64) ([]types.RelayStatsBucket, error) {
	var out []types.RelayStatsBucket
	err := s.scan(ctx, tableStats, func(data []byte) {
		var bucket types.RelayStatsBucket
		if jsonErr := json.Unmarshal(data, &bucket); jsonErr != nil {
			return
		}
		if bucket.PeriodStart < since {
			return
		}
		if until > 0 && bucket.PeriodStart > until {
			return
		}
		out = append(out, bucket)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart < out[j].PeriodStart })
	return out, err
}

// --- Retention ---

// RetentionCleanup deletes signal_relays and relay_stats rows older than
// horizonMs (measured against relayed_at / period_start) and non-pending
// signal_buffer rows older than the same horizon (measured against
// buffered_at).
func (s *Store) RetentionCleanup(ctx context.Context, horizonMs int64) error {
	now := timestamp.Now()
	cutoff := now - horizonMs

	var staleRelays []string
	if err := s.scan(ctx, tableRelays, func(data []byte) {
		var rec types.RelayRecord
		if jsonErr := json.Unmarshal(data, &rec); jsonErr != nil {
			return
		}
		if rec.RelayedAt < cutoff {
			staleRelays = append(staleRelays, rec.ID)
		}
	}); err != nil {
		return err
	}
	for _, id := range staleRelays {
		if err := s.backend.Delete(ctx, rowKey(tableRelays, id)); err != nil {
			return errors.Wrap(err, "store", "RetentionCleanup", "delete stale relay record")
		}
	}

	var staleStats []string
	if err := s.scan(ctx, tableStats, func(data []byte) {
		var bucket types.RelayStatsBucket
		if jsonErr := json.Unmarshal(data, &bucket); jsonErr != nil {
			return
		}
		if bucket.PeriodStart < cutoff {
			staleStats = append(staleStats, strconv.FormatInt(bucket.ID, 10))
		}
	}); err != nil {
		return err
	}
	for _, id := range staleStats {
		if err := s.backend.Delete(ctx, rowKey(tableStats, id)); err != nil {
			return errors.Wrap(err, "store", "RetentionCleanup", "delete stale stats bucket")
		}
	}

	var staleBuffer []string
	if err := s.scan(ctx, tableBuffer, func(data []byte) {
		var sig types.BufferedSignal
		if jsonErr := json.Unmarshal(data, &sig); jsonErr != nil {
			return
		}
		if sig.Status != types.StatusPending && sig.BufferedAt < cutoff {
			staleBuffer = append(staleBuffer, sig.ID)
		}
	}); err != nil {
		return err
	}
	for _, id := range staleBuffer {
		if err := s.backend.Delete(ctx, rowKey(tableBuffer, id)); err != nil {
			return errors.Wrap(err, "store", "RetentionCleanup", "delete stale buffer row")
		}
	}
	return nil
}
