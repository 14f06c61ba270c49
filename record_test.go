package idem

import (
	"testing"
	"time"
)

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		valid    bool
	}{
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusExpired, true},
		{StatusCompleted, StatusExpired, true},
		{StatusCompleted, StatusInProgress, false},
		{StatusExpired, StatusInProgress, false},
		{StatusExpired, StatusCompleted, false},
		{Status("UNKNOWN"), StatusCompleted, false},
	}

	for _, tt := range tests {
		if got := ValidateTransition(tt.from, tt.to); got != tt.valid {
			t.Errorf("ValidateTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestRecord_EffectiveStatus(t *testing.T) {
	now := time.Now()

	live := &Record{Status: StatusCompleted, ExpiryTimestamp: now.Add(time.Hour).Unix()}
	if got := live.EffectiveStatus(now); got != StatusCompleted {
		t.Errorf("expected COMPLETED for a live record, got %s", got)
	}

	expired := &Record{Status: StatusCompleted, ExpiryTimestamp: now.Add(-time.Hour).Unix()}
	if got := expired.EffectiveStatus(now); got != StatusExpired {
		t.Errorf("expected EXPIRED for a stale record, got %s", got)
	}

	// Expiry boundary is inclusive: now == expiry means expired.
	boundary := &Record{Status: StatusInProgress, ExpiryTimestamp: now.Unix()}
	if got := boundary.EffectiveStatus(now); got != StatusExpired {
		t.Errorf("expected EXPIRED at the boundary, got %s", got)
	}
}

func TestRecord_InProgressLapsed(t *testing.T) {
	now := time.Now()

	unset := &Record{Status: StatusInProgress}
	if unset.InProgressLapsed(now) {
		t.Error("zero deadline must never read as lapsed")
	}

	live := &Record{Status: StatusInProgress, InProgressExpiryTimestamp: now.Add(time.Minute).UnixMilli()}
	if live.InProgressLapsed(now) {
		t.Error("future deadline must not read as lapsed")
	}

	lapsed := &Record{Status: StatusInProgress, InProgressExpiryTimestamp: now.Add(-time.Minute).UnixMilli()}
	if !lapsed.InProgressLapsed(now) {
		t.Error("past deadline must read as lapsed")
	}
}

func TestRecord_MatchesPayload(t *testing.T) {
	record := &Record{PayloadHash: "abc"}
	if !record.MatchesPayload("abc") {
		t.Error("identical hash must match")
	}
	if record.MatchesPayload("def") {
		t.Error("different hash must not match")
	}

	// An empty stored hash matches anything: the store did not persist it.
	blank := &Record{}
	if !blank.MatchesPayload("anything") {
		t.Error("empty stored hash must match any payload")
	}
}
