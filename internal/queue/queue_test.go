package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func newTestQueue(storage Storage, size int, opts ...Option) *OfflineQueue {
	return New(storage, Config{Enabled: true, MaxQueueSize: size}, opts...)
}

func okResponse() *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))}
}

func statusResponse(status int) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(""))}
}

func TestEnqueueAndSize(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte(`{"title":"a"}`), nil)
	q.Enqueue("https://collector.example/reports", []byte(`{"title":"b"}`), nil)
	if q.Size() != 2 {
		t.Errorf("expected size 2, got %d", q.Size())
	}
}

func TestEnqueueSurvivesRestart(t *testing.T) {
	storage := NewInMemoryStorage()
	q := newTestQueue(storage, 10)
	q.Enqueue("https://collector.example/reports", []byte(`{"title":"persisted"}`), nil)

	// A fresh queue over the same storage sees the backlog.
	q2 := newTestQueue(storage, 10)
	if q2.Size() != 1 {
		t.Errorf("expected backlog to survive, got size %d", q2.Size())
	}
}

func TestEnqueueEvictsOldestAtCapacity(t *testing.T) {
	storage := NewInMemoryStorage()
	q := newTestQueue(storage, 3)
	for i := 0; i < 5; i++ {
		q.Enqueue("https://collector.example/reports", []byte(fmt.Sprintf(`{"n":%d}`, i)), nil)
	}
	if q.Size() != 3 {
		t.Fatalf("expected queue capped at 3, got %d", q.Size())
	}
	list := q.load()
	if list[0].Body != `{"n":2}` || list[2].Body != `{"n":4}` {
		t.Errorf("expected oldest entries evicted, got bodies %q, %q, %q", list[0].Body, list[1].Body, list[2].Body)
	}
}

func TestEnqueueRejectsBinaryBody(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte{0xff, 0xfe, 0x00, 0x01}, nil)
	if q.Size() != 0 {
		t.Errorf("binary body should not be queued, got size %d", q.Size())
	}
}

func TestEnqueueRejectsOversizedBody(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte(strings.Repeat("a", MaxItemBytes+1)), nil)
	if q.Size() != 0 {
		t.Errorf("oversized body should not be queued, got size %d", q.Size())
	}
}

func TestEnqueueStripsAuthHeaders(t *testing.T) {
	storage := NewInMemoryStorage()
	q := newTestQueue(storage, 10, WithStrippedHeader("X-Session-Token"))
	q.Enqueue("https://collector.example/reports", []byte(`{}`), map[string]string{
		"Content-Type":        "application/json",
		"Authorization":       "Bearer secret",
		"x-api-key":           "secret",
		"PROXY-AUTHORIZATION": "Basic abc",
		"X-Session-Token":     "secret-session",
	})

	raw, err := storage.Get(q.key())
	if err != nil {
		t.Fatal(err)
	}
	lower := strings.ToLower(raw)
	for _, needle := range []string{"authorization", "api-key", "session", "secret"} {
		if strings.Contains(lower, needle) {
			t.Errorf("persisted queue leaks credential material (%q): %s", needle, raw)
		}
	}
	list := q.load()
	if list[0].Headers["Content-Type"] != "application/json" {
		t.Errorf("content headers should survive sanitization, got %v", list[0].Headers)
	}
}

func TestLoadWipesCorruptData(t *testing.T) {
	storage := NewInMemoryStorage()
	q := newTestQueue(storage, 10)
	if err := storage.Set(q.key(), "{not json"); err != nil {
		t.Fatal(err)
	}
	if q.Size() != 0 {
		t.Errorf("corrupt data should read as empty, got size %d", q.Size())
	}
	raw, _ := storage.Get(q.key())
	if raw != "" {
		t.Errorf("corrupt entry should be wiped, still present: %q", raw)
	}
}

func TestPersistHalvesOnQuotaExceeded(t *testing.T) {
	// Room for roughly four items but not eight.
	storage := NewInMemoryStorage(WithMaxBytes(900))
	q := newTestQueue(storage, 20)
	for i := 0; i < 8; i++ {
		q.Enqueue("https://collector.example/reports", []byte(fmt.Sprintf(`{"n":%d}`, i)), nil)
	}
	size := q.Size()
	if size == 0 || size >= 8 {
		t.Errorf("expected quota recovery to keep a newest partial queue, got size %d", size)
	}
	list := q.load()
	if len(list) > 0 && list[len(list)-1].Body != `{"n":7}` {
		t.Errorf("halving should keep the newest entries, tail is %q", list[len(list)-1].Body)
	}
}

func TestPersistClearsWhenQuotaUnrecoverable(t *testing.T) {
	storage := NewInMemoryStorage(WithMaxBytes(10))
	q := newTestQueue(storage, 20)
	q.Enqueue("https://collector.example/reports", []byte(`{"title":"too big for the store"}`), nil)
	if q.Size() != 0 {
		t.Errorf("expected queue cleared after unrecoverable quota failure, got size %d", q.Size())
	}
}

func TestProcessDeliversAndRemoves(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte(`{"title":"a"}`), nil)
	q.Enqueue("https://collector.example/reports", []byte(`{"title":"b"}`), nil)

	var sent []string
	q.Process(context.Background(), func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
		sent = append(sent, string(body))
		return okResponse(), nil
	}, nil)

	if len(sent) != 2 {
		t.Errorf("expected 2 sends, got %d", len(sent))
	}
	if sent[0] != `{"title":"a"}` {
		t.Errorf("expected FIFO drain order, first send was %q", sent[0])
	}
	if q.Size() != 0 {
		t.Errorf("delivered items should be removed, size %d", q.Size())
	}
}

func TestProcessKeepsItemOnNetworkError(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte(`{}`), nil)

	q.Process(context.Background(), func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
		return nil, fmt.Errorf("dial tcp: connection refused")
	}, nil)

	list := q.load()
	if len(list) != 1 {
		t.Fatalf("item should survive a failed send, size %d", len(list))
	}
	if list[0].Attempts != 1 {
		t.Errorf("expected attempt counter incremented to 1, got %d", list[0].Attempts)
	}
}

func TestProcessKeepsItemOnRetryableStatus(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte(`{}`), nil)

	retryable := func(status int) bool { return status == http.StatusServiceUnavailable }
	q.Process(context.Background(), func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
		return statusResponse(http.StatusServiceUnavailable), nil
	}, retryable)

	if q.Size() != 1 {
		t.Errorf("retryable status should keep the item, size %d", q.Size())
	}
}

func TestProcessDropsItemOnPermanentStatus(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte(`{}`), nil)

	q.Process(context.Background(), func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
		return statusResponse(http.StatusBadRequest), nil
	}, func(status int) bool { return false })

	if q.Size() != 0 {
		t.Errorf("permanent rejection should drop the item, size %d", q.Size())
	}
}

func TestProcessDropsItemAfterMaxAttempts(t *testing.T) {
	storage := NewInMemoryStorage()
	q := newTestQueue(storage, 10)
	seedItem(t, storage, q.key(), QueuedRequest{
		ID:        "worn-out",
		Endpoint:  "https://collector.example/reports",
		Body:      `{}`,
		Timestamp: time.Now().UnixMilli(),
		Attempts:  MaxRetryAttempts,
	})

	sent := 0
	q.Process(context.Background(), func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
		sent++
		return okResponse(), nil
	}, nil)

	if sent != 0 {
		t.Errorf("over-attempted item should be dropped without a send, sent %d", sent)
	}
	if q.Size() != 0 {
		t.Errorf("over-attempted item should be removed, size %d", q.Size())
	}
}

func TestProcessDropsExpiredItem(t *testing.T) {
	storage := NewInMemoryStorage()
	q := newTestQueue(storage, 10)
	seedItem(t, storage, q.key(), QueuedRequest{
		ID:        "stale",
		Endpoint:  "https://collector.example/reports",
		Body:      `{}`,
		Timestamp: time.Now().Add(-MaxItemAge - time.Hour).UnixMilli(),
	})

	sent := 0
	q.Process(context.Background(), func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
		sent++
		return okResponse(), nil
	}, nil)

	if sent != 0 {
		t.Errorf("expired item should be dropped without a send, sent %d", sent)
	}
	if q.Size() != 0 {
		t.Errorf("expired item should be removed, size %d", q.Size())
	}
}

func TestProcessCollapsesConcurrentDrains(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte(`{}`), nil)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.Process(context.Background(), func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
			close(entered)
			<-release
			return okResponse(), nil
		}, nil)
	}()
	<-entered

	// Second drain must return immediately without sending.
	q.Process(context.Background(), func(ctx context.Context, endpoint string, body []byte, headers map[string]string) (*http.Response, error) {
		t.Error("overlapping drain should not send")
		return okResponse(), nil
	}, nil)
	close(release)
	<-done
}

func TestClear(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10)
	q.Enqueue("https://collector.example/reports", []byte(`{}`), nil)
	q.Clear()
	if q.Size() != 0 {
		t.Errorf("expected empty queue after Clear, size %d", q.Size())
	}
}

func TestQueueKeyUsesNamespace(t *testing.T) {
	q := newTestQueue(NewInMemoryStorage(), 10, WithNamespace("acme"))
	if q.key() != "acme_offline_queue" {
		t.Errorf("unexpected storage key %q", q.key())
	}
	if def := newTestQueue(NewInMemoryStorage(), 10); def.key() != "reportpipe_offline_queue" {
		t.Errorf("unexpected default storage key %q", def.key())
	}
}

// seedItem persists a single raw item, bypassing Enqueue's stamping.
func seedItem(t *testing.T, storage Storage, key string, item QueuedRequest) {
	t.Helper()
	data, err := json.Marshal([]QueuedRequest{item})
	if err != nil {
		t.Fatal(err)
	}
	if err := storage.Set(key, string(data)); err != nil {
		t.Fatal(err)
	}
}
