package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	packhttp "github.com/markpe/packfetch/internal/http"
	"github.com/markpe/packfetch/internal/logger"
	"github.com/markpe/packfetch/internal/materialize"
	"github.com/markpe/packfetch/internal/notify"
	"github.com/markpe/packfetch/internal/progress"
	"github.com/markpe/packfetch/internal/stream"
)

// Retriever issues retrieval requests for catalog items.
type Retriever interface {
	Retrieve(ctx context.Context, itemID string) (*packhttp.Response, error)
}

// Options configures the manager.
type Options struct {
	// StatusEscalation is how long a retrieval may stay pending before its
	// server status changes to ServerStatusProcessing.
	StatusEscalation time.Duration

	// CompletedLinger is how long a completed item stays in the active set.
	CompletedLinger time.Duration

	// ErrorLinger is how long a failed item stays in the active set.
	ErrorLinger time.Duration

	// ReleaseDelay is how long received chunks are held after saving.
	ReleaseDelay time.Duration

	// BufferSize is the largest chunk pulled from a response body.
	BufferSize int

	// Logger receives diagnostics. Defaults to logger.Default().
	Logger *logger.Logger

	// OnFinish is called once per retrieval when it reaches a terminal
	// state. err is nil on success and an *Error otherwise.
	OnFinish func(item Item, err error)
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		StatusEscalation: 3 * time.Second,
		CompletedLinger:  10 * time.Second,
		ErrorLinger:      5 * time.Second,
		ReleaseDelay:     time.Second,
		BufferSize:       stream.DefaultBufferSize,
	}
}

// Manager runs retrievals and owns the active set.
type Manager struct {
	client Retriever
	mat    *materialize.Materializer
	queue  *notify.Queue
	opts   Options
	log    *logger.Logger

	store *store
	wg    sync.WaitGroup
	seq   atomic.Uint64
	now   func() time.Time
}

// New creates a manager. A nil queue gets a private one with the default TTL.
func New(client Retriever, m *materialize.Materializer, q *notify.Queue, opts Options) *Manager {
	// Apply defaults
	def := DefaultOptions()
	if opts.StatusEscalation <= 0 {
		opts.StatusEscalation = def.StatusEscalation
	}
	if opts.CompletedLinger <= 0 {
		opts.CompletedLinger = def.CompletedLinger
	}
	if opts.ErrorLinger <= 0 {
		opts.ErrorLinger = def.ErrorLinger
	}
	if opts.ReleaseDelay <= 0 {
		opts.ReleaseDelay = def.ReleaseDelay
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	if q == nil {
		q = notify.NewQueue(notify.DefaultTTL)
	}

	return &Manager{
		client: client,
		mat:    m,
		queue:  q,
		opts:   opts,
		log:    opts.Logger,
		store:  newStore(),
		now:    time.Now,
	}
}

// StartDownload begins retrieving contentID and returns the new item id
// right away. Every call creates a separate item, even for a content id that
// is already being retrieved. ctx bounds the HTTP exchange only.
func (m *Manager) StartDownload(ctx context.Context, contentID, title string) string {
	m.queue.Add("Starting download: "+title, notify.TypeInfo)

	start := m.now()
	id := fmt.Sprintf("%s_%d_%d", contentID, start.UnixMilli(), m.seq.Add(1))
	m.store.add(Item{
		ID:           id,
		ContentID:    contentID,
		Title:        title,
		Status:       StatusPending,
		StartTime:    start,
		ServerStatus: ServerStatusFetching,
	})

	m.wg.Add(1)
	go m.run(ctx, id, contentID, title, start)
	return id
}

// Downloads returns the active set in insertion order.
func (m *Manager) Downloads() []Item {
	return m.store.snapshot()
}

// Get returns the item with the given id if it is still in the active set.
func (m *Manager) Get(id string) (Item, bool) {
	return m.store.get(id)
}

// Active returns the most recently started item for contentID.
func (m *Manager) Active(contentID string) (Item, bool) {
	items := m.store.snapshot()
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].ContentID == contentID {
			return items[i], true
		}
	}
	return Item{}, false
}

// Notifications returns the visible notifications.
func (m *Manager) Notifications() []notify.Notification {
	return m.queue.List()
}

// OnChange registers fn to be called after any change to the active set or
// the notifications.
func (m *Manager) OnChange(fn func()) {
	m.store.setOnChange(fn)
	m.queue.OnChange(fn)
}

// Wait blocks until every started retrieval reached a terminal state.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// WaitIdle blocks until the active set is empty, i.e. every item has been
// evicted, or ctx is done.
func (m *Manager) WaitIdle(ctx context.Context) error {
	return m.store.waitEmpty(ctx)
}

func (m *Manager) run(ctx context.Context, id, contentID, title string, start time.Time) {
	defer m.wg.Done()

	escalation := time.AfterFunc(m.opts.StatusEscalation, func() {
		m.store.update(id, func(it *Item) {
			if it.Status == StatusPending {
				it.ServerStatus = ServerStatusProcessing
			}
		})
	})

	err := m.retrieve(ctx, id, contentID, title, start, escalation)
	escalation.Stop()

	if err != nil {
		m.fail(id, err)
	}
}

func (m *Manager) retrieve(ctx context.Context, id, contentID, title string, start time.Time, escalation *time.Timer) *Error {
	resp, err := m.client.Retrieve(ctx, contentID)
	if err != nil {
		if errors.Is(err, packhttp.ErrMissingDecryptionKeys) {
			return &Error{Kind: KindEntitlement, ID: id, Err: err}
		}
		return &Error{Kind: KindTransport, ID: id, Err: err}
	}
	if resp.Body != nil {
		defer resp.Body.Close()
	}

	escalation.Stop()
	meta := resp.Metadata
	m.store.update(id, func(it *Item) {
		it.Status = StatusDownloading
		it.ServerStatus = ""
		it.TotalSize = meta.ContentLength
		it.ContentTypes = meta.DisplayContentTypes()
		it.HasMultipleTypes = meta.HasMultipleTypes
		it.TotalFiles = meta.TotalFiles
	})

	filename := materialize.ResolveFilename(meta.ContentDisposition, title)

	r, err := stream.New(resp.Body,
		stream.WithBufferSize(m.opts.BufferSize),
		stream.WithStart(start),
		stream.WithClock(m.now),
	)
	if err != nil {
		return &Error{Kind: KindStream, ID: id, Err: err}
	}

	m.log.Debugf("%s: reading response stream", id)
	for {
		chunk, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return &Error{Kind: KindStream, ID: id, Err: fmt.Errorf("read stream: %w", err)}
		}

		snap := progress.Calculate(r.Size(), meta.ContentLength, r.Elapsed())
		m.store.update(id, func(it *Item) {
			it.DownloadedSize = snap.Downloaded
			it.Progress = snap.Percent
			it.Speed = snap.Speed
		})

		if r.Size()%(1<<20) < int64(len(chunk)) {
			m.log.Debugf("%s: %s at %s", id, progress.FormatBytes(r.Size()), progress.FormatSpeed(snap.Speed))
		}
	}
	m.log.Debugf("%s: stream completed, %d chunks, %d bytes", id, r.Count(), r.Size())

	payload, err := materialize.Assemble(r.Chunks())
	if err != nil {
		return &Error{Kind: KindStream, ID: id, Err: ErrEmptyDownload}
	}
	if !payload.LooksLikeArchive() {
		m.log.Debugf("%s: payload looks like %s, saving as %s anyway", id, payload.Detected, payload.ContentType)
	}

	res, err := m.mat.Save(context.WithoutCancel(ctx), filename, payload)
	if err != nil {
		return &Error{Kind: KindPersistence, ID: id, Err: fmt.Errorf("unable to save file: %w", err)}
	}
	if res.Via == materialize.ViaPrimary {
		m.queue.Add(fmt.Sprintf("Saving %s to device...", filename), notify.TypeInfo)
	} else {
		m.log.Infof("%s: primary save failed (%v), saved via %s", id, res.PrimaryErr, res.Via)
	}
	m.log.Debugf("%s: saved %s to %s", id, filename, res.Location)

	time.AfterFunc(m.opts.ReleaseDelay, func() {
		r.Release()
		payload.Data = nil
	})

	item, ok := m.store.update(id, func(it *Item) {
		it.Status = StatusCompleted
		it.Progress = 100
		it.Filename = res.Filename
		it.Location = res.Location
	})
	if !ok {
		return nil
	}

	m.queue.Add("Download completed: "+title, notify.TypeSuccess)
	m.evictAfter(id, m.opts.CompletedLinger)
	m.finish(item, nil)
	return nil
}

func (m *Manager) fail(id string, e *Error) {
	m.log.Errorf("%v", e)

	if e.Kind == KindEntitlement {
		item, _ := m.store.get(id)
		m.queue.Add("Missing decryption keys: "+e.Message(), notify.TypeError)
		m.store.remove(id)
		item.Status = StatusError
		item.Err = e.Message()
		m.finish(item, e)
		return
	}

	item, ok := m.store.update(id, func(it *Item) {
		it.Status = StatusError
		it.Err = e.Message()
	})
	m.queue.Add("Download failed: "+e.Message(), notify.TypeError)
	if ok {
		m.evictAfter(id, m.opts.ErrorLinger)
	}
	m.finish(item, e)
}

func (m *Manager) evictAfter(id string, d time.Duration) {
	time.AfterFunc(d, func() {
		if m.store.remove(id) {
			m.log.Debugf("%s: evicted", id)
		}
	})
}

func (m *Manager) finish(item Item, err *Error) {
	if m.opts.OnFinish == nil {
		return
	}
	if err != nil {
		m.opts.OnFinish(item, err)
		return
	}
	m.opts.OnFinish(item, nil)
}
