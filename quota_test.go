package photopath

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestQuota_Rollover(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, UsageKey, `{"count":5,"date":"2024-01-01"}`)

	q := NewQuotaTracker(&Config{Store: store, Now: fixedClock(t, "2024-01-02T08:00:00Z"), Location: time.UTC})

	got := q.GetUsage(ctx, Anonymous)
	want := UsageRecord{Count: 0, Date: "2024-01-02"}
	if got != want {
		t.Errorf("GetUsage = %+v, want %+v", got, want)
	}

	raw, _, _ := store.Get(ctx, UsageKey)
	var persisted UsageRecord
	if err := json.Unmarshal([]byte(raw), &persisted); err != nil || persisted != want {
		t.Errorf("persisted %q, want %+v", raw, want)
	}
}

func TestQuota_SameDayKeepsCount(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, UsageKey, `{"count":3,"date":"2024-01-02"}`)
	q := NewQuotaTracker(&Config{Store: store, Now: fixedClock(t, "2024-01-02T23:59:00Z"), Location: time.UTC})

	if got := q.GetUsage(ctx, Anonymous).Count; got != 3 {
		t.Errorf("Count = %d, want 3", got)
	}
	if got := q.RemainingUses(ctx, Anonymous); got != 2 {
		t.Errorf("RemainingUses = %d, want 2", got)
	}
}

func TestQuota_DayFollowsViewerTimeZone(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tokyo := time.FixedZone("JST", 9*3600)
	// 2024-01-01 20:00 UTC is already 2024-01-02 in Tokyo.
	q := NewQuotaTracker(&Config{Now: fixedClock(t, "2024-01-01T20:00:00Z"), Location: tokyo})

	if got := q.GetUsage(ctx, Anonymous).Date; got != "2024-01-02" {
		t.Errorf("Date = %q, want 2024-01-02", got)
	}
}

func TestQuota_Isolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQuotaTracker(&Config{Now: fixedClock(t, "2024-01-02T08:00:00Z"), Location: time.UTC})
	anon, user := Anonymous, Identity{UserID: "user-42"}

	q.IncrementUsage(ctx, anon)
	q.IncrementUsage(ctx, anon)
	q.IncrementUsage(ctx, user)

	if got := q.GetUsage(ctx, anon).Count; got != 2 {
		t.Errorf("anon count = %d, want 2", got)
	}
	if got := q.GetUsage(ctx, user).Count; got != 1 {
		t.Errorf("user count = %d, want 1", got)
	}
	if UsageStorageKey(anon) == UsageStorageKey(user) {
		t.Error("identities share a storage key")
	}
	if got := q.GetUsage(ctx, Identity{UserID: "user-7"}).Count; got != 0 {
		t.Errorf("other user count = %d, want 0", got)
	}
}

func TestQuota_Limits(t *testing.T) {
	t.Parallel()

	q := NewQuotaTracker(&Config{})
	if got := q.Limit(Anonymous); got != DefaultAnonymousDailyLimit {
		t.Errorf("anon limit = %d, want %d", got, DefaultAnonymousDailyLimit)
	}
	if got := q.Limit(Identity{UserID: "u"}); got != DefaultAuthenticatedDailyLimit {
		t.Errorf("user limit = %d, want %d", got, DefaultAuthenticatedDailyLimit)
	}
}

func TestQuota_ExhaustionBoundary(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQuotaTracker(&Config{Now: fixedClock(t, "2024-01-02T08:00:00Z"), Location: time.UTC})

	for i := 0; i < 4; i++ {
		q.IncrementUsage(ctx, Anonymous)
	}
	if q.Exhausted(ctx, Anonymous) {
		t.Fatal("exhausted after 4 of 5")
	}

	q.IncrementUsage(ctx, Anonymous)
	if got := q.RemainingUses(ctx, Anonymous); got != 0 {
		t.Errorf("RemainingUses after 5 = %d, want 0", got)
	}
	if !q.Exhausted(ctx, Anonymous) {
		t.Error("not exhausted after 5")
	}

	rec := q.IncrementUsage(ctx, Anonymous)
	if rec.Count != 6 {
		t.Errorf("count after 6th increment = %d, want 6", rec.Count)
	}
	if got := q.RemainingUses(ctx, Anonymous); got != -1 {
		t.Errorf("RemainingUses = %d, want -1", got)
	}
	if got := q.DisplayRemaining(ctx, Anonymous); got != 0 {
		t.Errorf("DisplayRemaining = %d, want 0", got)
	}
}

func TestQuota_StoreUnavailable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q := NewQuotaTracker(&Config{Store: failingStore{}, Now: fixedClock(t, "2024-01-02T08:00:00Z"), Location: time.UTC})

	if got := q.GetUsage(ctx, Anonymous); got.Count != 0 || got.Date != "2024-01-02" {
		t.Errorf("GetUsage = %+v, want fresh record", got)
	}
	q.IncrementUsage(ctx, Anonymous)
	q.IncrementUsage(ctx, Anonymous)
	if got := q.GetUsage(ctx, Anonymous).Count; got != 2 {
		t.Errorf("in-memory count = %d, want 2", got)
	}
}

func TestQuota_CorruptRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	_ = store.Set(ctx, UsageKey, "garbage")
	q := NewQuotaTracker(&Config{Store: store, Now: fixedClock(t, "2024-01-02T08:00:00Z"), Location: time.UTC})

	if got := q.GetUsage(ctx, Anonymous); got.Count != 0 {
		t.Errorf("corrupt record read as %+v", got)
	}
}

// readOnlyStore serves reads but rejects every write, like a full browser store.
type readOnlyStore struct {
	*MemoryStore
	failWrites bool
}

func (s *readOnlyStore) Set(ctx context.Context, key, value string) error {
	if s.failWrites {
		return errors.New("quota exceeded")
	}
	return s.MemoryStore.Set(ctx, key, value)
}

func TestQuota_WritesFailReadsWork(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := &readOnlyStore{MemoryStore: NewMemoryStore()}
	_ = store.MemoryStore.Set(ctx, UsageKey, `{"count":0,"date":"2024-01-02"}`)
	store.failWrites = true
	q := NewQuotaTracker(&Config{Store: store, Now: fixedClock(t, "2024-01-02T08:00:00Z"), Location: time.UTC})

	for i := 0; i < DefaultAnonymousDailyLimit; i++ {
		q.IncrementUsage(ctx, Anonymous)
	}
	if got := q.GetUsage(ctx, Anonymous).Count; got != DefaultAnonymousDailyLimit {
		t.Errorf("count = %d, want %d", got, DefaultAnonymousDailyLimit)
	}
	if !q.Exhausted(ctx, Anonymous) {
		t.Error("quota not exhausted while the store rejects writes")
	}

	// Once writes succeed again the stored record catches up.
	store.failWrites = false
	q.IncrementUsage(ctx, Anonymous)
	raw, _, _ := store.Get(ctx, UsageKey)
	var rec UsageRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil || rec.Count != DefaultAnonymousDailyLimit+1 {
		t.Errorf("stored %q, want count %d", raw, DefaultAnonymousDailyLimit+1)
	}
}
