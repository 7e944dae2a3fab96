package paging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

// fakeFetcher serves canned payloads by URL and counts network fetches.
type fakeFetcher struct {
	payloads map[string][]byte
	calls    map[string]int
	failOn   string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		payloads: make(map[string][]byte),
		calls:    make(map[string]int),
	}
}

func (f *fakeFetcher) FetchURL(_ context.Context, url string) ([]byte, error) {
	f.calls[url]++
	if url == f.failOn {
		return nil, errors.New("connection reset")
	}
	payload, ok := f.payloads[url]
	if !ok {
		return nil, fmt.Errorf("no payload for %s", url)
	}
	return payload, nil
}

func (f *fakeFetcher) totalCalls() int {
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func pagePayload(next string, ids ...string) []byte {
	records := make([]json.RawMessage, len(ids))
	for i, id := range ids {
		records[i] = json.RawMessage(fmt.Sprintf(`{"id":%q}`, id))
	}
	env := map[string]any{"value": records}
	if next != "" {
		env["@odata.nextLink"] = next
	}
	payload, _ := json.Marshal(env)
	return payload
}

// drain runs one full pass and returns the record count of each page.
func drain(t *testing.T, c *Cursor) []int {
	t.Helper()

	var sizes []int
	for {
		page, ok, err := c.Advance(context.Background())
		if err != nil {
			t.Fatalf("Advance() failed: %v", err)
		}
		if !ok {
			return sizes
		}
		sizes = append(sizes, len(page))
	}
}

func TestCursor_MultiPageIteration(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["p2"] = pagePayload("p3", "3", "4")
	f.payloads["p3"] = pagePayload("", "5")

	c, err := NewCursor(f, pagePayload("p2", "1", "2"), "p1", false)
	if err != nil {
		t.Fatalf("NewCursor() failed: %v", err)
	}

	sizes := drain(t, c)
	want := []int{2, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("got %d pages %v, want %v", len(sizes), sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("page %d has %d records, want %d", i, sizes[i], want[i])
		}
	}

	if !c.Done() {
		t.Error("Done() = false after exhausting the sequence")
	}

	// Exhausted cursor keeps reporting completion.
	if _, ok, _ := c.Advance(context.Background()); ok {
		t.Error("Advance() yielded a page after completion")
	}
}

func TestCursor_EmptyPage(t *testing.T) {
	c, err := NewCursor(newFakeFetcher(), pagePayload(""), "p1", false)
	if err != nil {
		t.Fatalf("NewCursor() failed: %v", err)
	}

	sizes := drain(t, c)
	if len(sizes) != 1 || sizes[0] != 0 {
		t.Errorf("pages = %v, want one empty page", sizes)
	}
}

func TestCursor_MalformedSeed(t *testing.T) {
	_, err := NewCursor(newFakeFetcher(), []byte(`{"values":[]}`), "p1", false)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("NewCursor() error = %v, want ErrMalformedPayload", err)
	}
}

func TestCursor_MalformedContinuation(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["p2"] = []byte(`{}`)

	c, err := NewCursor(f, pagePayload("p2", "1"), "p1", false)
	if err != nil {
		t.Fatalf("NewCursor() failed: %v", err)
	}

	// The first page is still buffered; advancing surfaces the broken
	// prefetch and ends the sequence.
	_, ok, err := c.Advance(context.Background())
	if ok || !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("Advance() = (%v, %v), want ErrMalformedPayload", ok, err)
	}

	if !c.Done() {
		t.Error("Done() = false after fatal payload")
	}
	if _, ok, _ := c.Advance(context.Background()); ok {
		t.Error("Advance() yielded a page after fatal payload")
	}
}

func TestCursor_FetchError(t *testing.T) {
	f := newFakeFetcher()
	f.failOn = "p2"

	c, err := NewCursor(f, pagePayload("p2", "1"), "p1", false)
	if err != nil {
		t.Fatalf("NewCursor() failed: %v", err)
	}

	if _, ok, err := c.Advance(context.Background()); ok || err == nil {
		t.Fatalf("Advance() = (%v, %v), want fetch error", ok, err)
	}
	if !c.Done() {
		t.Error("Done() = false after fetch error")
	}
}

func TestCursor_CachedRestart(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["p1"] = pagePayload("p2", "1", "2")
	f.payloads["p2"] = pagePayload("", "3")

	c, err := NewCursor(f, f.payloads["p1"], "p1", true)
	if err != nil {
		t.Fatalf("NewCursor() failed: %v", err)
	}

	first := drain(t, c)
	callsAfterFirst := f.totalCalls()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	second := drain(t, c)

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("passes yielded %v and %v pages, want 2 each", first, second)
	}

	// The replay must be served entirely from the cache.
	if f.totalCalls() != callsAfterFirst {
		t.Errorf("replay hit the network: %d calls, want %d", f.totalCalls(), callsAfterFirst)
	}
}

func TestCursor_UncachedRestartRefetches(t *testing.T) {
	f := newFakeFetcher()
	f.payloads["p1"] = pagePayload("p2", "1")
	f.payloads["p2"] = pagePayload("", "2")

	c, err := NewCursor(f, f.payloads["p1"], "p1", false)
	if err != nil {
		t.Fatalf("NewCursor() failed: %v", err)
	}

	drain(t, c)
	callsAfterFirst := f.totalCalls()

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	second := drain(t, c)

	if len(second) != 2 {
		t.Fatalf("replay yielded %d pages, want 2", len(second))
	}
	// Rewind plus continuation both go back to the network.
	if f.totalCalls() != callsAfterFirst+2 {
		t.Errorf("replay made %d calls, want %d", f.totalCalls()-callsAfterFirst, 2)
	}
}

func TestCursor_SingleURLRestart(t *testing.T) {
	f := newFakeFetcher()

	c, err := NewCursor(f, pagePayload("", "1"), "p1", false)
	if err != nil {
		t.Fatalf("NewCursor() failed: %v", err)
	}

	drain(t, c)

	// One-page datasets replay from the buffered page without any fetch.
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	sizes := drain(t, c)
	if len(sizes) != 1 || sizes[0] != 1 {
		t.Errorf("replay = %v, want one page of 1 record", sizes)
	}
	if f.totalCalls() != 0 {
		t.Errorf("replay made %d fetches, want 0", f.totalCalls())
	}
}
