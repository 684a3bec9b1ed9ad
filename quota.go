package photopath

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// QuotaTracker counts analyses per identity per calendar day.
//
// Anonymous viewers and every signed-in user have their own storage key, so
// signing in mid-session neither merges nor leaks counts. When the store is
// unavailable the tracker falls back to an in-memory record for its lifetime;
// it never returns an error.
type QuotaTracker struct {
	cfg *Config

	mu       sync.Mutex
	fallback map[string]UsageRecord
	degraded map[string]bool // keys whose last write failed; served from fallback
}

// NewQuotaTracker returns a tracker backed by cfg.Store.
func NewQuotaTracker(cfg *Config) *QuotaTracker {
	cfg.defaults()
	return &QuotaTracker{cfg: cfg, fallback: make(map[string]UsageRecord), degraded: make(map[string]bool)}
}

// UsageStorageKey returns the storage key holding id's usage record.
func UsageStorageKey(id Identity) string {
	if !id.Authenticated() {
		return UsageKey
	}
	return UsageKey + ":" + id.UserID
}

// Limit returns the daily analysis limit for id.
func (q *QuotaTracker) Limit(id Identity) int {
	if id.Authenticated() {
		return q.cfg.AuthenticatedDailyLimit
	}
	return q.cfg.AnonymousDailyLimit
}

// GetUsage returns today's record for id. A missing or stale record is reset
// to {0, today} and the reset is persisted immediately.
func (q *QuotaTracker) GetUsage(ctx context.Context, id Identity) UsageRecord {
	q.cfg.rmw.Lock()
	defer q.cfg.rmw.Unlock()
	return q.current(ctx, UsageStorageKey(id))
}

// IncrementUsage adds one analysis to today's count for id and returns the
// new record. Call it once per successfully completed analysis, never before.
func (q *QuotaTracker) IncrementUsage(ctx context.Context, id Identity) UsageRecord {
	q.cfg.rmw.Lock()
	defer q.cfg.rmw.Unlock()

	key := UsageStorageKey(id)
	rec := q.current(ctx, key)
	rec.Count++
	q.persist(ctx, key, rec)
	return rec
}

// RemainingUses returns limit - count. It may be negative; see DisplayRemaining.
func (q *QuotaTracker) RemainingUses(ctx context.Context, id Identity) int {
	return q.Limit(id) - q.GetUsage(ctx, id).Count
}

// DisplayRemaining is RemainingUses clamped at zero.
func (q *QuotaTracker) DisplayRemaining(ctx context.Context, id Identity) int {
	return max(q.RemainingUses(ctx, id), 0)
}

// Exhausted reports whether id has no analyses left today.
func (q *QuotaTracker) Exhausted(ctx context.Context, id Identity) bool {
	return q.RemainingUses(ctx, id) <= 0
}

// current reads the record under key, applying the day-rollover rule.
// Caller holds cfg.rmw.
func (q *QuotaTracker) current(ctx context.Context, key string) UsageRecord {
	today := q.cfg.today()

	rec, ok := q.read(ctx, key)
	if ok && rec.Date == today && rec.Count >= 0 {
		return rec
	}

	rec = UsageRecord{Count: 0, Date: today}
	q.persist(ctx, key, rec)
	return rec
}

func (q *QuotaTracker) read(ctx context.Context, key string) (UsageRecord, bool) {
	// The stored copy is stale once a write has failed.
	if rec, ok := q.degradedRecord(key); ok {
		return rec, true
	}
	raw, ok, err := q.cfg.Store.Get(ctx, key)
	if err != nil {
		slog.Warn("photopath: usage store unavailable, using session record", "key", key, "error", err.Error())
		return q.memory(key)
	}
	if !ok {
		return UsageRecord{}, false
	}
	var rec UsageRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		slog.Warn("photopath: usage record corrupt, resetting", "key", key, "error", err.Error())
		return UsageRecord{}, false
	}
	return rec, true
}

func (q *QuotaTracker) persist(ctx context.Context, key string, rec UsageRecord) {
	q.mu.Lock()
	q.fallback[key] = rec
	q.mu.Unlock()

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	err = q.cfg.Store.Set(ctx, key, string(data))

	q.mu.Lock()
	q.degraded[key] = err != nil
	q.mu.Unlock()
	if err != nil {
		slog.Warn("photopath: usage store unavailable, using session record", "key", key, "error", err.Error())
	}
}

func (q *QuotaTracker) degradedRecord(key string) (UsageRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.degraded[key] {
		return UsageRecord{}, false
	}
	rec, ok := q.fallback[key]
	return rec, ok
}

func (q *QuotaTracker) memory(key string) (UsageRecord, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	rec, ok := q.fallback[key]
	return rec, ok
}
