package media

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"likevault/internal/types"
)

// mockFetcher serves canned bytes, optionally failing or hanging for
// chosen URLs. started, when set, receives a signal as each fetch
// begins.
type mockFetcher struct {
	mu      sync.Mutex
	fetched []string
	failOn  map[string]error
	hangOn  map[string]bool
	started chan struct{}
}

func (m *mockFetcher) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	m.mu.Lock()
	m.fetched = append(m.fetched, url)
	hang := m.hangOn[url]
	err := m.failOn[url]
	started := m.started
	m.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}

	if hang {
		<-ctx.Done()
		return nil, "", ctx.Err()
	}
	if err != nil {
		return nil, "", err
	}
	return []byte("asset bytes"), "image/jpeg", nil
}

func (m *mockFetcher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fetched)
}

// mockRecorder is an in-memory stand-in for the store's media rows.
type mockRecorder struct {
	mu    sync.Mutex
	rows  map[string]types.MediaItem
	errOn string
}

func newMockRecorder() *mockRecorder {
	return &mockRecorder{rows: map[string]types.MediaItem{}}
}

func key(postID, url string) string { return postID + "|" + url }

func (m *mockRecorder) ExistsMedia(postID, originURL string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.rows[key(postID, originURL)]
	return ok, nil
}

func (m *mockRecorder) InsertMedia(item types.MediaItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errOn == item.URL {
		return fmt.Errorf("forced insert failure")
	}
	m.rows[key(item.PostID, item.URL)] = item
	return nil
}

func (m *mockRecorder) rowCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func testPool(t *testing.T, workers int, timeout time.Duration, f Fetcher, r Recorder) *Pool {
	t.Helper()
	saver := &Library{Root: t.TempDir()}
	return NewPool(workers, timeout, f, r, saver, nil, zerolog.Nop())
}

func refs(n int) []types.MediaRef {
	out := make([]types.MediaRef, n)
	for i := range out {
		out[i] = types.MediaRef{
			PostID: fmt.Sprintf("%d", 100+i),
			URL:    fmt.Sprintf("https://cdn.example.com/asset%d.jpg", i),
			Kind:   types.MediaImage,
		}
	}
	return out
}

func TestDrainFetchesEverythingOnce(t *testing.T) {
	fetcher := &mockFetcher{}
	recorder := newMockRecorder()
	pool := testPool(t, 3, time.Second, fetcher, recorder)

	counts := pool.Drain(context.Background(), refs(10))

	assert.Equal(t, Counts{Saved: 10}, counts)
	assert.Equal(t, 10, fetcher.count())
	assert.Equal(t, 10, recorder.rowCount())
}

func TestDrainSkipsRecordedTuples(t *testing.T) {
	fetcher := &mockFetcher{}
	recorder := newMockRecorder()
	all := refs(4)
	// Two already archived from a previous run.
	for _, ref := range all[:2] {
		recorder.rows[key(ref.PostID, ref.URL)] = types.MediaItem{MediaRef: ref}
	}
	pool := testPool(t, 2, time.Second, fetcher, recorder)

	counts := pool.Drain(context.Background(), all)

	assert.Equal(t, Counts{Saved: 2, Skipped: 2}, counts)
	assert.Equal(t, 2, fetcher.count())
}

func TestOneTimeoutDoesNotBlockSiblings(t *testing.T) {
	all := refs(5)
	fetcher := &mockFetcher{hangOn: map[string]bool{all[2].URL: true}}
	recorder := newMockRecorder()
	pool := testPool(t, 5, 50*time.Millisecond, fetcher, recorder)

	counts := pool.Drain(context.Background(), all)

	assert.Equal(t, Counts{Saved: 4, Failed: 1}, counts)
	assert.Equal(t, 4, recorder.rowCount())
}

func TestFailedItemIsCountedNotFatal(t *testing.T) {
	all := refs(3)
	fetcher := &mockFetcher{failOn: map[string]error{all[1].URL: fmt.Errorf("boom")}}
	recorder := newMockRecorder()
	pool := testPool(t, 2, time.Second, fetcher, recorder)

	var failed []Result
	pool.Start(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for res := range pool.Results() {
			if res.Err != nil {
				failed = append(failed, res)
			}
		}
	}()
	for _, ref := range all {
		require.NoError(t, pool.Submit(Job{Ref: ref}))
	}
	pool.Stop()
	wg.Wait()

	require.Len(t, failed, 1)
	assert.Equal(t, all[1].URL, failed[0].Ref.URL)
	assert.ErrorContains(t, failed[0].Err, "boom")
	assert.Equal(t, Counts{Saved: 2, Failed: 1}, pool.Progress())
}

func TestDrainCancelledBeforeStartFetchesNothing(t *testing.T) {
	fetcher := &mockFetcher{}
	recorder := newMockRecorder()
	pool := testPool(t, 3, time.Second, fetcher, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	counts := pool.Drain(ctx, refs(10))

	assert.Equal(t, Counts{}, counts)
	assert.Equal(t, 0, fetcher.count())
	assert.Equal(t, 0, recorder.rowCount())
}

func TestStopRequestAbandonsQueuedJobs(t *testing.T) {
	all := refs(5)
	fetcher := &mockFetcher{
		hangOn:  map[string]bool{all[0].URL: true},
		started: make(chan struct{}, 1),
	}
	recorder := newMockRecorder()
	// One worker: the first item holds the pool while the rest queue up.
	pool := testPool(t, 1, 50*time.Millisecond, fetcher, recorder)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-fetcher.started
		cancel()
	}()

	counts := pool.Drain(ctx, all)

	// The item in flight ran out its timeout; nothing queued behind it
	// was started.
	assert.Equal(t, Counts{Failed: 1}, counts)
	assert.Equal(t, 1, fetcher.count())
	assert.Equal(t, 0, recorder.rowCount())
}

func TestRecordFailureCountsAsFailed(t *testing.T) {
	all := refs(2)
	fetcher := &mockFetcher{}
	recorder := newMockRecorder()
	recorder.errOn = all[0].URL
	pool := testPool(t, 1, time.Second, fetcher, recorder)

	counts := pool.Drain(context.Background(), all)
	assert.Equal(t, Counts{Saved: 1, Failed: 1}, counts)
}

func TestFetchAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write([]byte("png bytes"))
	}))
	defer srv.Close()

	f := &HTTPFetcher{Client: srv.Client()}
	data, contentType, err := f.Fetch(context.Background(), srv.URL+"/img.png")
	require.NoError(t, err)
	assert.Equal(t, "png bytes", string(data))
	assert.Equal(t, "image/png", contentType)
}

func TestFetchNon200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := &HTTPFetcher{Client: srv.Client()}
	_, _, err := f.Fetch(context.Background(), srv.URL+"/missing.jpg")
	assert.ErrorContains(t, err, "404")
}
