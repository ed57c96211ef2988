package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"

	packhttp "github.com/markpe/packfetch/internal/http"
	"github.com/markpe/packfetch/internal/logger"
	"github.com/markpe/packfetch/internal/materialize"
	"github.com/markpe/packfetch/internal/notify"
)

type retrieverFunc func(ctx context.Context, itemID string) (*packhttp.Response, error)

func (f retrieverFunc) Retrieve(ctx context.Context, itemID string) (*packhttp.Response, error) {
	return f(ctx, itemID)
}

// chunkReader returns one scripted chunk per Read, then err (or io.EOF).
type chunkReader struct {
	chunks [][]byte
	err    error
}

func (c *chunkReader) Read(p []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(p, c.chunks[0])
	c.chunks[0] = c.chunks[0][n:]
	if len(c.chunks[0]) == 0 {
		c.chunks = c.chunks[1:]
	}
	return n, nil
}

func scripted(length int64, header http.Header, chunks ...[]byte) retrieverFunc {
	if header == nil {
		header = http.Header{}
	}
	return func(context.Context, string) (*packhttp.Response, error) {
		// Each call reads its own copy of the script.
		own := append([][]byte(nil), chunks...)
		return &packhttp.Response{
			Body:       io.NopCloser(&chunkReader{chunks: own}),
			StatusCode: http.StatusOK,
			Metadata:   packhttp.ParseMetadata(header, length),
		}, nil
	}
}

type finished struct {
	mu    sync.Mutex
	items []Item
	errs  []error
}

func (f *finished) record(it Item, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, it)
	f.errs = append(f.errs, err)
}

func (f *finished) only(t *testing.T) (Item, error) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.items, 1)
	return f.items[0], f.errs[0]
}

func memMaterializer(t *testing.T) (*materialize.Materializer, *blob.Bucket) {
	t.Helper()
	bkt := memblob.OpenBucket(nil)
	t.Cleanup(func() { bkt.Close() })
	return &materialize.Materializer{Primary: materialize.NewBucketTrigger(bkt, "")}, bkt
}

func newTestManager(t *testing.T, r Retriever, mat *materialize.Materializer, opts Options) (*Manager, *notify.Queue, *finished) {
	t.Helper()
	q := notify.NewQueue(time.Minute)
	t.Cleanup(q.Close)

	done := &finished{}
	opts.OnFinish = done.record
	if opts.Logger == nil {
		opts.Logger = logger.Discard()
	}
	if opts.CompletedLinger == 0 {
		opts.CompletedLinger = time.Minute
	}
	if opts.ErrorLinger == 0 {
		opts.ErrorLinger = time.Minute
	}
	return New(r, mat, q, opts), q, done
}

func messages(q *notify.Queue) []string {
	var out []string
	for _, n := range q.List() {
		out = append(out, n.Message)
	}
	return out
}

type step struct {
	Status   Status
	Progress float64
}

func TestDownloadProgressPerChunk(t *testing.T) {
	half := bytes.Repeat([]byte{'a'}, 524288)
	mat, bkt := memMaterializer(t)
	m, q, done := newTestManager(t, scripted(1048576, nil, half, half), mat, Options{BufferSize: 1 << 20})

	base := time.Now()
	var calls atomic.Int32
	m.now = func() time.Time {
		if calls.Add(1) == 1 {
			return base
		}
		return base.Add(2 * time.Second)
	}

	var mu sync.Mutex
	var steps []step
	m.OnChange(func() {
		items := m.Downloads()
		if len(items) == 0 {
			return
		}
		s := step{items[0].Status, items[0].Progress}
		mu.Lock()
		if len(steps) == 0 || steps[len(steps)-1] != s {
			steps = append(steps, s)
		}
		mu.Unlock()
	})

	m.StartDownload(context.Background(), "42", "Pack")
	m.Wait()

	mu.Lock()
	assert.Equal(t, []step{
		{StatusPending, 0},
		{StatusDownloading, 0},
		{StatusDownloading, 50},
		{StatusDownloading, 100},
		{StatusCompleted, 100},
	}, steps)
	mu.Unlock()

	item, err := done.only(t)
	require.NoError(t, err)
	assert.Equal(t, int64(1048576), item.DownloadedSize)
	assert.Equal(t, int64(1048576), item.TotalSize)
	assert.Equal(t, float64(524288), item.Speed)
	assert.Equal(t, "Pack.zip", item.Filename)
	assert.Equal(t, "Content Pack", item.ContentTypes)
	assert.Equal(t, "1", item.TotalFiles)

	data, err := bkt.ReadAll(context.Background(), "Pack.zip")
	require.NoError(t, err)
	assert.Len(t, data, 1048576)

	assert.Equal(t, []string{
		"Starting download: Pack",
		"Saving Pack.zip to device...",
		"Download completed: Pack",
	}, messages(q))
}

func TestDownloadThroughHTTP(t *testing.T) {
	payload := []byte("PK\x03\x04 not really a zip")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="castle.zip"`)
		w.Header().Set("X-Content-Types", "Worlds")
		w.Header().Set("X-Processed", "true")
		w.Header().Set("X-Has-Multiple-Types", "true")
		w.Header().Set("X-Total-Files", "3")
		w.Write(payload)
	}))
	defer server.Close()

	mat, bkt := memMaterializer(t)
	client := packhttp.NewClient(packhttp.Options{BaseURL: server.URL, Token: "t"})
	m, _, done := newTestManager(t, client, mat, Options{})

	id := m.StartDownload(context.Background(), "a1", "Castle")
	m.Wait()

	item, err := done.only(t)
	require.NoError(t, err)
	assert.Equal(t, id, item.ID)
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Equal(t, "Worlds (Processed)", item.ContentTypes)
	assert.True(t, item.HasMultipleTypes)
	assert.Equal(t, "3", item.TotalFiles)
	assert.Equal(t, "castle.zip", item.Location)

	got, err := bkt.ReadAll(context.Background(), "castle.zip")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	current, ok := m.Get(id)
	require.True(t, ok, "completed items linger")
	assert.Equal(t, StatusCompleted, current.Status)
	assert.Empty(t, current.ServerStatus)
}

func TestUnknownLengthIsIndeterminate(t *testing.T) {
	mat, _ := memMaterializer(t)
	m, _, done := newTestManager(t, scripted(0, nil, []byte("abc"), []byte{}, []byte("defg")), mat, Options{})

	var mu sync.Mutex
	var sizes []int64
	m.OnChange(func() {
		for _, it := range m.Downloads() {
			assert.True(t, it.Indeterminate())
			if it.Status == StatusDownloading {
				mu.Lock()
				sizes = append(sizes, it.DownloadedSize)
				mu.Unlock()
			}
		}
	})

	m.StartDownload(context.Background(), "x", "Unknown")
	m.Wait()

	item, err := done.only(t)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Equal(t, int64(7), item.DownloadedSize)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, sizes, int64(3))
	assert.Contains(t, sizes, int64(7))
	assert.IsNonDecreasing(t, sizes)
}

func TestEntitlementFailureEvictsImmediately(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"detail":{"error":"missing_decryption_keys","message":"m"}}`))
	}))
	defer server.Close()

	mat, _ := memMaterializer(t)
	client := packhttp.NewClient(packhttp.Options{BaseURL: server.URL})
	m, q, done := newTestManager(t, client, mat, Options{})

	m.StartDownload(context.Background(), "locked", "Locked")
	m.Wait()

	assert.Empty(t, m.Downloads())
	assert.Equal(t, []string{
		"Starting download: Locked",
		"Missing decryption keys: m",
	}, messages(q))

	item, err := done.only(t)
	assert.Equal(t, StatusError, item.Status)
	var dlErr *Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, KindEntitlement, dlErr.Kind)
	assert.ErrorIs(t, err, packhttp.ErrMissingDecryptionKeys)
}

func TestTransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	mat, _ := memMaterializer(t)
	client := packhttp.NewClient(packhttp.Options{BaseURL: server.URL})
	m, q, done := newTestManager(t, client, mat, Options{ErrorLinger: 30 * time.Millisecond})

	id := m.StartDownload(context.Background(), "1", "Broken")
	m.Wait()

	item, ok := m.Get(id)
	require.True(t, ok, "failed items linger")
	assert.Equal(t, StatusError, item.Status)
	assert.Equal(t, "status 500 Internal Server Error", item.Err)
	assert.Contains(t, messages(q), "Download failed: status 500 Internal Server Error")

	_, err := done.only(t)
	var dlErr *Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, KindTransport, dlErr.Kind)
	assert.ErrorIs(t, err, packhttp.ErrServerError)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))
}

func TestCanceledRequest(t *testing.T) {
	r := retrieverFunc(func(ctx context.Context, _ string) (*packhttp.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	mat, _ := memMaterializer(t)
	m, _, done := newTestManager(t, r, mat, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	m.StartDownload(ctx, "1", "Canceled")
	cancel()
	m.Wait()

	item, err := done.only(t)
	assert.Equal(t, StatusError, item.Status)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEmptyPayloadIsError(t *testing.T) {
	mat, bkt := memMaterializer(t)
	m, q, done := newTestManager(t, scripted(0, nil), mat, Options{})

	m.StartDownload(context.Background(), "1", "Empty")
	m.Wait()

	item, err := done.only(t)
	assert.Equal(t, StatusError, item.Status, "never completed")
	assert.ErrorIs(t, err, ErrEmptyDownload)
	var dlErr *Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, KindStream, dlErr.Kind)
	assert.Contains(t, messages(q), "Download failed: "+ErrEmptyDownload.Error())

	exists, err := bkt.Exists(context.Background(), "Empty.zip")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestStreamReadError(t *testing.T) {
	r := retrieverFunc(func(context.Context, string) (*packhttp.Response, error) {
		return &packhttp.Response{
			Body:     io.NopCloser(&chunkReader{chunks: [][]byte{[]byte("partial")}, err: errors.New("connection reset")}),
			Metadata: packhttp.ParseMetadata(http.Header{}, 100),
		}, nil
	})
	mat, _ := memMaterializer(t)
	m, _, done := newTestManager(t, r, mat, Options{})

	m.StartDownload(context.Background(), "1", "Flaky")
	m.Wait()

	item, err := done.only(t)
	assert.Equal(t, StatusError, item.Status)
	assert.Equal(t, int64(7), item.DownloadedSize)
	assert.InDelta(t, 7, item.Progress, 1e-9)
	var dlErr *Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, KindStream, dlErr.Kind)
}

func TestUnreadableBody(t *testing.T) {
	r := retrieverFunc(func(context.Context, string) (*packhttp.Response, error) {
		return &packhttp.Response{Metadata: packhttp.ParseMetadata(http.Header{}, 10)}, nil
	})
	mat, _ := memMaterializer(t)
	m, _, done := newTestManager(t, r, mat, Options{})

	m.StartDownload(context.Background(), "1", "NoBody")
	m.Wait()

	_, err := done.only(t)
	var dlErr *Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, KindStream, dlErr.Kind)
}

func failingTrigger(msg string) materialize.Trigger {
	return materialize.TriggerFunc(func(context.Context, string, *materialize.Payload) (string, error) {
		return "", errors.New(msg)
	})
}

func TestFallbackSave(t *testing.T) {
	bkt := memblob.OpenBucket(nil)
	defer bkt.Close()
	mat := &materialize.Materializer{
		Primary:  failingTrigger("blocked"),
		Fallback: materialize.NewBucketTrigger(bkt, "fallback"),
	}
	m, q, done := newTestManager(t, scripted(3, nil, []byte("abc")), mat, Options{})

	m.StartDownload(context.Background(), "1", "Saved")
	m.Wait()

	item, err := done.only(t)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Equal(t, "fallback/Saved.zip", item.Location)
	assert.NotContains(t, messages(q), "Saving Saved.zip to device...")
	assert.Contains(t, messages(q), "Download completed: Saved")
}

func TestSaveFailure(t *testing.T) {
	mat := &materialize.Materializer{
		Primary:  failingTrigger("blocked"),
		Fallback: failingTrigger("also blocked"),
	}
	m, q, done := newTestManager(t, scripted(3, nil, []byte("abc")), mat, Options{})

	m.StartDownload(context.Background(), "1", "Unsaved")
	m.Wait()

	item, err := done.only(t)
	assert.Equal(t, StatusError, item.Status)
	assert.ErrorIs(t, err, materialize.ErrSaveFailed)
	var dlErr *Error
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, KindPersistence, dlErr.Kind)
	assert.NotContains(t, messages(q), "Download completed: Unsaved")
}

func TestNoSaveTarget(t *testing.T) {
	m, _, done := newTestManager(t, scripted(3, nil, []byte("abc")), &materialize.Materializer{}, Options{})

	m.StartDownload(context.Background(), "1", "Nowhere")
	m.Wait()

	_, err := done.only(t)
	assert.ErrorIs(t, err, materialize.ErrNoTarget)
}

func TestStatusEscalation(t *testing.T) {
	release := make(chan struct{})
	r := retrieverFunc(func(ctx context.Context, id string) (*packhttp.Response, error) {
		<-release
		return scripted(3, nil, []byte("abc"))(ctx, id)
	})
	mat, _ := memMaterializer(t)
	m, _, _ := newTestManager(t, r, mat, Options{StatusEscalation: 20 * time.Millisecond})

	id := m.StartDownload(context.Background(), "1", "Slow")

	item, ok := m.Get(id)
	require.True(t, ok)
	assert.Equal(t, ServerStatusFetching, item.ServerStatus)

	assert.Eventually(t, func() bool {
		it, _ := m.Get(id)
		return it.ServerStatus == ServerStatusProcessing && it.Status == StatusPending
	}, time.Second, 5*time.Millisecond)

	close(release)
	m.Wait()

	item, _ = m.Get(id)
	assert.Equal(t, StatusCompleted, item.Status)
	assert.Empty(t, item.ServerStatus)
}

func TestEscalationStopsOnHeaders(t *testing.T) {
	gate := make(chan struct{})
	r := retrieverFunc(func(context.Context, string) (*packhttp.Response, error) {
		body := io.MultiReader(bytes.NewReader([]byte("abc")), &gatedReader{gate: gate})
		return &packhttp.Response{
			Body:     io.NopCloser(body),
			Metadata: packhttp.ParseMetadata(http.Header{}, 3),
		}, nil
	})
	mat, _ := memMaterializer(t)
	m, _, _ := newTestManager(t, r, mat, Options{StatusEscalation: 10 * time.Millisecond})

	id := m.StartDownload(context.Background(), "1", "Fast headers")
	require.Eventually(t, func() bool {
		it, _ := m.Get(id)
		return it.Status == StatusDownloading
	}, time.Second, time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	item, _ := m.Get(id)
	assert.Empty(t, item.ServerStatus)

	close(gate)
	m.Wait()
}

type gatedReader struct {
	gate chan struct{}
}

func (g *gatedReader) Read([]byte) (int, error) {
	<-g.gate
	return 0, io.EOF
}

func TestCompletedItemsAreEvicted(t *testing.T) {
	mat, _ := memMaterializer(t)
	m, q, _ := newTestManager(t, scripted(3, nil, []byte("abc")), mat, Options{CompletedLinger: 30 * time.Millisecond})

	id := m.StartDownload(context.Background(), "1", "Brief")
	m.Wait()

	_, ok := m.Get(id)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.WaitIdle(ctx))

	assert.Contains(t, messages(q), "Download completed: Brief", "notifications outlive the item")
}

func TestConcurrentRetrievalsOfSameContent(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="pack.zip"`)

	mat, bkt := memMaterializer(t)
	m, _, done := newTestManager(t, scripted(3, h, []byte("abc")), mat, Options{})

	first := m.StartDownload(context.Background(), "42", "Pack")
	second := m.StartDownload(context.Background(), "42", "Pack")
	assert.NotEqual(t, first, second)

	idPattern := regexp.MustCompile(`^42_\d+_\d+$`)
	assert.Regexp(t, idPattern, first)
	assert.Regexp(t, idPattern, second)

	latest, ok := m.Active("42")
	require.True(t, ok)
	assert.Equal(t, second, latest.ID)

	m.Wait()

	done.mu.Lock()
	require.Len(t, done.items, 2)
	for _, err := range done.errs {
		assert.NoError(t, err)
	}
	done.mu.Unlock()

	for _, key := range []string{"pack.zip", "pack (1).zip"} {
		ok, err := bkt.Exists(context.Background(), key)
		require.NoError(t, err)
		assert.True(t, ok, key)
	}

	items := m.Downloads()
	require.Len(t, items, 2)
	assert.Equal(t, first, items[0].ID, "insertion order")
	assert.Equal(t, second, items[1].ID)
}

func TestActiveUnknown(t *testing.T) {
	mat, _ := memMaterializer(t)
	m, _, _ := newTestManager(t, scripted(0, nil), mat, Options{})

	_, ok := m.Active("nothing")
	assert.False(t, ok)
}

func TestErrorFormatting(t *testing.T) {
	e := &Error{Kind: KindStream, ID: "a_1_1", Err: ErrEmptyDownload}
	assert.Equal(t, "download a_1_1: stream: "+ErrEmptyDownload.Error(), e.Error())
	assert.Equal(t, ErrEmptyDownload.Error(), e.Message())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
