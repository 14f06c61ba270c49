package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"pgregory.net/rapid"

	"idem"
	"idem/persistence"
)

// fakeClock steps time manually so expiry paths are deterministic.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestStore(opts ...persistence.BaseOption) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]persistence.BaseOption{persistence.WithNow(clock.Now)}, opts...)
	return New("test", opts...), clock
}

func TestMemoryStore_SaveInProgressAndGet(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	payload := []byte("payload")

	if err := store.SaveInProgress(ctx, payload, 5_000); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}

	record, err := store.GetRecord(ctx, payload)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Status != idem.StatusInProgress {
		t.Errorf("expected INPROGRESS, got %s", record.Status)
	}
	if record.InProgressExpiryTimestamp == 0 {
		t.Error("expected the reservation deadline to be set")
	}
	if record.PayloadHash != store.PayloadHash(payload) {
		t.Error("expected the record to carry the payload hash")
	}
}

func TestMemoryStore_SaveInProgress_ConflictReturnsRecord(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	payload := []byte("payload")

	if err := store.SaveInProgress(ctx, payload, 0); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}

	err := store.SaveInProgress(ctx, payload, 0)
	var exists *idem.ItemExistsError
	if !errors.As(err, &exists) {
		t.Fatalf("expected ItemExistsError, got %v", err)
	}
	if exists.Record == nil {
		t.Fatal("expected the conflicting record inline")
	}
	if exists.Record.Status != idem.StatusInProgress {
		t.Errorf("expected INPROGRESS conflict, got %s", exists.Record.Status)
	}
}

func TestMemoryStore_SaveInProgress_SupersedesExpired(t *testing.T) {
	store, clock := newTestStore(persistence.WithExpiresAfter(time.Minute))
	ctx := context.Background()
	payload := []byte("payload")

	if err := store.SaveInProgress(ctx, payload, 0); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}

	clock.Advance(2 * time.Minute)

	if err := store.SaveInProgress(ctx, payload, 0); err != nil {
		t.Fatalf("expected the expired record to be superseded, got %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 record after supersession, got %d", store.Len())
	}
}

func TestMemoryStore_SaveSuccess(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	payload := []byte("payload")

	if err := store.SaveInProgress(ctx, payload, 0); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}
	if err := store.SaveSuccess(ctx, payload, []byte("result")); err != nil {
		t.Fatalf("SaveSuccess failed: %v", err)
	}

	record, err := store.GetRecord(ctx, payload)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if record.Status != idem.StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", record.Status)
	}
	if string(record.ResponseData) != "result" {
		t.Errorf("expected stored result, got %q", record.ResponseData)
	}
}

func TestMemoryStore_SaveSuccess_WithoutReservation(t *testing.T) {
	store, _ := newTestStore()

	err := store.SaveSuccess(context.Background(), []byte("payload"), []byte("result"))
	if !errors.Is(err, idem.ErrReservationLost) {
		t.Fatalf("expected ErrReservationLost, got %v", err)
	}
}

func TestMemoryStore_SaveSuccess_LostToOtherWriter(t *testing.T) {
	store, _ := newTestStore(persistence.WithEventKey(func(payload []byte) ([]byte, error) {
		// All payloads share one key, so a second writer can steal the slot.
		return []byte("shared"), nil
	}))
	ctx := context.Background()

	if err := store.SaveInProgress(ctx, []byte("mine"), 0); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}

	// The record now carries the other payload's hash.
	err := store.SaveSuccess(ctx, []byte("theirs"), []byte("result"))
	if !errors.Is(err, idem.ErrReservationLost) {
		t.Fatalf("expected ErrReservationLost on hash mismatch, got %v", err)
	}
}

func TestMemoryStore_DeleteRecord(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	payload := []byte("payload")

	if err := store.SaveInProgress(ctx, payload, 0); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}
	if err := store.DeleteRecord(ctx, payload); err != nil {
		t.Fatalf("DeleteRecord failed: %v", err)
	}
	if _, err := store.GetRecord(ctx, payload); !errors.Is(err, idem.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound after delete, got %v", err)
	}

	// Deleting again is a no-op.
	if err := store.DeleteRecord(ctx, payload); err != nil {
		t.Fatalf("deleting an absent record must succeed, got %v", err)
	}
}

func TestMemoryStore_GetRecord_NotFound(t *testing.T) {
	store, _ := newTestStore()

	_, err := store.GetRecord(context.Background(), []byte("never stored"))
	if !errors.Is(err, idem.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestMemoryStore_GetRecord_ReturnsSnapshot(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	payload := []byte("payload")

	if err := store.SaveInProgress(ctx, payload, 0); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}
	if err := store.SaveSuccess(ctx, payload, []byte("result")); err != nil {
		t.Fatalf("SaveSuccess failed: %v", err)
	}

	record, err := store.GetRecord(ctx, payload)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	record.Status = idem.StatusExpired
	record.ResponseData[0] = 'X'

	fresh, err := store.GetRecord(ctx, payload)
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if fresh.Status != idem.StatusCompleted || string(fresh.ResponseData) != "result" {
		t.Error("mutating a returned record must not affect stored state")
	}
}

func TestMemoryStore_PurgeExpired(t *testing.T) {
	store, clock := newTestStore(persistence.WithExpiresAfter(time.Minute))
	ctx := context.Background()

	if err := store.SaveInProgress(ctx, []byte("old"), 0); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}
	clock.Advance(2 * time.Minute)
	if err := store.SaveInProgress(ctx, []byte("fresh"), 0); err != nil {
		t.Fatalf("SaveInProgress failed: %v", err)
	}

	removed, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 record purged, got %d", removed)
	}
	if store.Len() != 1 {
		t.Errorf("expected 1 record left, got %d", store.Len())
	}
}

func TestMemoryStore_LifecycleProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		store, clock := newTestStore(persistence.WithExpiresAfter(time.Minute))
		ctx := context.Background()
		payloads := []string{"a", "b", "c"}

		// reserved tracks which payloads currently hold a live reservation
		// or completed record per the model.
		type slot struct {
			live      bool
			completed bool
		}
		model := map[string]*slot{}
		for _, p := range payloads {
			model[p] = &slot{}
		}

		t.Repeat(map[string]func(*rapid.T){
			"reserve": func(t *rapid.T) {
				p := rapid.SampledFrom(payloads).Draw(t, "payload")
				err := store.SaveInProgress(ctx, []byte(p), 0)
				if model[p].live || model[p].completed {
					if !errors.Is(err, idem.ErrItemAlreadyExists) {
						t.Fatalf("reserve %q: expected conflict, got %v", p, err)
					}
				} else {
					if err != nil {
						t.Fatalf("reserve %q: %v", p, err)
					}
					model[p].live = true
				}
			},
			"complete": func(t *rapid.T) {
				p := rapid.SampledFrom(payloads).Draw(t, "payload")
				err := store.SaveSuccess(ctx, []byte(p), []byte("r"))
				if model[p].live || model[p].completed {
					if err != nil {
						t.Fatalf("complete %q: %v", p, err)
					}
					model[p].live = false
					model[p].completed = true
				} else if !errors.Is(err, idem.ErrReservationLost) {
					t.Fatalf("complete %q: expected ErrReservationLost, got %v", p, err)
				}
			},
			"delete": func(t *rapid.T) {
				p := rapid.SampledFrom(payloads).Draw(t, "payload")
				if err := store.DeleteRecord(ctx, []byte(p)); err != nil {
					t.Fatalf("delete %q: %v", p, err)
				}
				model[p].live = false
				model[p].completed = false
			},
			"expire": func(t *rapid.T) {
				clock.Advance(2 * time.Minute)
				for _, s := range model {
					s.live = false
					s.completed = false
				}
				if _, err := store.PurgeExpired(ctx); err != nil {
					t.Fatalf("purge: %v", err)
				}
			},
		})
	})
}
