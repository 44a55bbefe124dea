package dedup

import (
	"fmt"
	"testing"
	"time"

	"github.com/BTreeMap/ReportPipe/internal/models"
)

func newTestDedup(window time.Duration, maxCache int) *Deduplicator {
	return New(Config{Enabled: true, Window: window, MaxCacheSize: maxCache})
}

func TestFingerprintNormalization(t *testing.T) {
	base := Fingerprint("Crash on save", "The editor crashed", nil)
	cases := []struct {
		title, description string
	}{
		{"  Crash on save  ", "The editor crashed"},
		{"CRASH ON SAVE", "THE EDITOR CRASHED"},
		{"crash on save", "\tthe editor crashed\n"},
	}
	for _, tc := range cases {
		if got := Fingerprint(tc.title, tc.description, nil); got != base {
			t.Errorf("Fingerprint(%q, %q) should match the normalized base", tc.title, tc.description)
		}
	}
	if Fingerprint("Crash on load", "The editor crashed", nil) == base {
		t.Error("different titles must not collide")
	}
}

func TestFingerprintFieldBoundaries(t *testing.T) {
	// "ab" + "c" and "a" + "bc" must not collide across the field boundary.
	if Fingerprint("ab", "c", nil) == Fingerprint("a", "bc", nil) {
		t.Error("title/description boundary is not preserved")
	}
}

func TestFingerprintErrorOrderSignificant(t *testing.T) {
	e1 := models.ErrorDetail{Message: "TypeError: x is undefined", Stack: "at save()"}
	e2 := models.ErrorDetail{Message: "NetworkError", Stack: "at fetch()"}

	forward := Fingerprint("t", "d", []models.ErrorDetail{e1, e2})
	reversed := Fingerprint("t", "d", []models.ErrorDetail{e2, e1})
	if forward == reversed {
		t.Error("error detail order must be significant")
	}
	if forward != Fingerprint("t", "d", []models.ErrorDetail{e1, e2}) {
		t.Error("fingerprint must be deterministic")
	}
}

func TestIsDuplicateInProgress(t *testing.T) {
	d := newTestDedup(time.Minute, 10)
	defer d.Destroy()

	if d.IsDuplicate("t", "d", nil) {
		t.Error("fresh report must not read as duplicate")
	}
	d.MarkInProgress("t", "d", nil)
	if !d.IsDuplicate("t", "d", nil) {
		t.Error("in-flight report must read as duplicate")
	}
	if !d.IsInProgress("t", "d", nil) {
		t.Error("IsInProgress should see the in-flight report")
	}
	d.MarkComplete("t", "d", nil)
	if d.IsDuplicate("t", "d", nil) {
		t.Error("completed report without a recorded submission must not read as duplicate")
	}
}

func TestIsDuplicateWithinWindow(t *testing.T) {
	d := newTestDedup(time.Minute, 10)
	defer d.Destroy()

	d.RecordSubmission("Crash on save", "desc", nil)
	if !d.IsDuplicate("  crash ON save ", "DESC", nil) {
		t.Error("normalized variant within the window must read as duplicate")
	}
	if d.IsDuplicate("crash on load", "desc", nil) {
		t.Error("distinct report must not read as duplicate")
	}
}

func TestIsDuplicateExpiresAfterWindow(t *testing.T) {
	d := newTestDedup(20*time.Millisecond, 10)
	defer d.Destroy()

	d.RecordSubmission("t", "d", nil)
	if !d.IsDuplicate("t", "d", nil) {
		t.Fatal("expected duplicate inside the window")
	}
	time.Sleep(30 * time.Millisecond)
	if d.IsDuplicate("t", "d", nil) {
		t.Error("expired entry must not read as duplicate")
	}
	if d.CacheSize() != 0 {
		t.Errorf("expired entry should be removed on read, cache size %d", d.CacheSize())
	}
}

func TestRecordSubmissionEvictsOldest(t *testing.T) {
	d := newTestDedup(time.Minute, 3)
	defer d.Destroy()

	for i := 0; i < 5; i++ {
		d.RecordSubmission(fmt.Sprintf("report %d", i), "d", nil)
	}
	if d.CacheSize() != 3 {
		t.Fatalf("cache must stay at capacity, size %d", d.CacheSize())
	}
	if d.IsDuplicate("report 0", "d", nil) || d.IsDuplicate("report 1", "d", nil) {
		t.Error("oldest entries should have been evicted")
	}
	for i := 2; i < 5; i++ {
		if !d.IsDuplicate(fmt.Sprintf("report %d", i), "d", nil) {
			t.Errorf("newest entry %d should remain cached", i)
		}
	}
}

func TestRecordSubmissionRefreshesExisting(t *testing.T) {
	d := newTestDedup(time.Minute, 2)
	defer d.Destroy()

	d.RecordSubmission("a", "d", nil)
	d.RecordSubmission("b", "d", nil)
	// Re-record "a" so it becomes the newest; inserting "c" should evict "b".
	d.RecordSubmission("a", "d", nil)
	d.RecordSubmission("c", "d", nil)

	if !d.IsDuplicate("a", "d", nil) {
		t.Error("re-recorded entry should survive eviction")
	}
	if d.IsDuplicate("b", "d", nil) {
		t.Error("stale entry should have been evicted")
	}
}

func TestSweepExpiresEntries(t *testing.T) {
	d := newTestDedup(time.Minute, 10)
	defer d.Destroy()

	d.RecordSubmission("old", "d", nil)
	d.mu.Lock()
	for k := range d.cache {
		d.cache[k] = time.Now().Add(-2 * time.Minute)
	}
	d.mu.Unlock()
	d.RecordSubmission("fresh", "d", nil)

	d.sweep()
	if d.CacheSize() != 1 {
		t.Errorf("sweep should remove only expired entries, size %d", d.CacheSize())
	}
	if !d.IsDuplicate("fresh", "d", nil) {
		t.Error("fresh entry should survive the sweep")
	}
}

func TestDisabledDeduplicatorIsNoOp(t *testing.T) {
	d := New(Config{Enabled: false})
	defer d.Destroy()

	d.MarkInProgress("t", "d", nil)
	d.RecordSubmission("t", "d", nil)
	if d.IsDuplicate("t", "d", nil) || d.IsInProgress("t", "d", nil) {
		t.Error("disabled deduplicator must never report duplicates")
	}
	if d.CacheSize() != 0 {
		t.Errorf("disabled deduplicator must not cache, size %d", d.CacheSize())
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	d := newTestDedup(time.Minute, 10)
	d.Start()
	d.RecordSubmission("t", "d", nil)
	d.Destroy()
	d.Destroy()
	if d.CacheSize() != 0 {
		t.Errorf("Destroy should clear state, size %d", d.CacheSize())
	}
}
