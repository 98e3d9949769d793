package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"quizsync/internal/services"
)

func testClient(serverURL string, opts ...Option) *Client {
	base := []Option{
		WithSleeper(func(time.Duration) {}),
		WithJitter(func(d time.Duration) time.Duration { return d }),
	}
	return New(Target{Domain: serverURL, Token: "secret", CourseID: "101"}, append(base, opts...)...)
}

func TestClientSendsAuthHeaders(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("unexpected authorization header %q", got)
		}
		if got := r.Header.Get("Accept"); got != "application/json" {
			t.Fatalf("unexpected accept header %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "name": "Teacher"})
	}))
	defer server.Close()

	client := testClient(server.URL)
	if _, err := client.WhoAmI(context.Background()); err != nil {
		t.Fatalf("WhoAmI returned error: %v", err)
	}
}

func TestClientRetriesTransientStatus(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7, "name": "Teacher"})
	}))
	defer server.Close()

	client := testClient(server.URL, WithRetryBackoff(0, 0), WithRetryMaxAttempts(5))
	profile, err := client.WhoAmI(context.Background())
	if err != nil {
		t.Fatalf("WhoAmI returned error: %v", err)
	}
	if profile.ID != "7" {
		t.Fatalf("expected id 7, got %q", profile.ID)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestClientHonorsRetryAfterSeconds(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": 7})
	}))
	defer server.Close()

	var slept []time.Duration
	client := testClient(server.URL,
		WithSleeper(func(d time.Duration) { slept = append(slept, d) }),
		WithRetryBackoff(0, 10*time.Second),
	)
	if _, err := client.WhoAmI(context.Background()); err != nil {
		t.Fatalf("WhoAmI returned error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(slept) != 1 || slept[0] != 2*time.Second {
		t.Fatalf("expected single sleep of 2s, got %v", slept)
	}
}

func TestClientDoesNotRetryClientError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid payload"})
	}))
	defer server.Close()

	client := testClient(server.URL, WithRetryMaxAttempts(5))
	_, err := client.WhoAmI(context.Background())
	if err == nil {
		t.Fatal("expected request to fail")
	}
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if services.Retryable(err) {
		t.Fatalf("expected non-retryable error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestClientMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := testClient(server.URL)
	_, err := client.GetQuiz(context.Background(), "9001")
	if err == nil {
		t.Fatal("expected request to fail")
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestClientGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := testClient(server.URL, WithRetryBackoff(0, 0), WithRetryMaxAttempts(3))
	_, err := client.WhoAmI(context.Background())
	if err == nil {
		t.Fatal("expected request to fail")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestClientStopsRetryingOnCancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	client := testClient(server.URL,
		WithRetryMaxAttempts(5),
		WithSleeper(func(time.Duration) { cancel() }),
	)
	_, err := client.WhoAmI(ctx)
	if err == nil {
		t.Fatal("expected request to fail")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected canceled error, got %v", err)
	}
}

func TestBackoffDelayDoublesAndCaps(t *testing.T) {
	client := New(Target{Domain: "example.test", Token: "x", CourseID: "1"},
		WithRetryBackoff(time.Second, 10*time.Second),
		WithJitter(func(d time.Duration) time.Duration { return d }),
	)
	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	for i, want := range expected {
		if got := client.backoffDelay(i + 1); got != want {
			t.Fatalf("attempt %d: expected delay %v, got %v", i+1, want, got)
		}
	}
}

func TestParseRetryAfter(t *testing.T) {
	if delay, ok := parseRetryAfter("3"); !ok || delay != 3*time.Second {
		t.Fatalf("expected 3s, got %v ok=%v", delay, ok)
	}
	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	delay, ok := parseRetryAfter(future)
	if !ok || delay < 80*time.Second || delay > 90*time.Second {
		t.Fatalf("expected roughly 90s, got %v ok=%v", delay, ok)
	}
	if _, ok := parseRetryAfter("soon"); ok {
		t.Fatal("expected garbage header to be ignored")
	}
	if _, ok := parseRetryAfter(""); ok {
		t.Fatal("expected empty header to be ignored")
	}
	if _, ok := parseRetryAfter("-5"); ok {
		t.Fatal("expected negative header to be ignored")
	}
}

func TestSummarizeBodyTruncates(t *testing.T) {
	long := make([]byte, 0, 2000)
	for i := 0; i < 500; i++ {
		long = append(long, []byte("word ")...)
	}
	summary := summarizeBody(long)
	if len([]rune(summary)) > 310 {
		t.Fatalf("expected summary capped near 300 runes, got %d", len([]rune(summary)))
	}
}
