package materialize

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"path"
	"strings"
	"sync"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// maxNameAttempts bounds the search for a free key.
const maxNameAttempts = 1000

// Errors returned by bucket triggers.
var (
	ErrNoFreeName = errors.New("materialize: no free object name")
	ErrDenied     = errors.New("materialize: write denied")
)

// Trigger hands a payload to the user's storage under a file name and
// returns where it ended up.
type Trigger interface {
	Save(ctx context.Context, name string, p *Payload) (location string, err error)
}

// TriggerFunc adapts a function to the Trigger interface.
type TriggerFunc func(ctx context.Context, name string, p *Payload) (string, error)

// Save calls f.
func (f TriggerFunc) Save(ctx context.Context, name string, p *Payload) (string, error) {
	return f(ctx, name, p)
}

// BucketTrigger saves payloads as objects in a blob bucket.
type BucketTrigger struct {
	bucket *blob.Bucket
	prefix string

	// mu makes picking a free key and writing it one step.
	mu sync.Mutex
}

// NewBucketTrigger returns a trigger writing below prefix in bucket.
func NewBucketTrigger(bucket *blob.Bucket, prefix string) *BucketTrigger {
	return &BucketTrigger{bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Save writes the payload under name. An existing object is never
// overwritten: the name gets a " (n)" suffix before the extension instead.
func (t *BucketTrigger) Save(ctx context.Context, name string, p *Payload) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, err := t.freeKey(ctx, name)
	if err != nil {
		return "", err
	}

	if err := t.write(ctx, key, p); err != nil {
		return "", classify(key, err)
	}
	return key, nil
}

func (t *BucketTrigger) write(ctx context.Context, key string, p *Payload) error {
	// Canceling the writer context aborts the upload without committing.
	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := t.bucket.NewWriter(wctx, key, &blob.WriterOptions{
		ContentType:        p.ContentType,
		ContentDisposition: mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(key)}),
	})
	if err != nil {
		return err
	}

	if _, err := w.Write(p.Data); err != nil {
		cancel()
		w.Close()
		return err
	}
	return w.Close()
}

func (t *BucketTrigger) freeKey(ctx context.Context, name string) (string, error) {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	for i := 0; i < maxNameAttempts; i++ {
		candidate := name
		if i > 0 {
			candidate = fmt.Sprintf("%s (%d)%s", stem, i, ext)
		}
		key := t.key(candidate)

		exists, err := t.bucket.Exists(ctx, key)
		if err != nil {
			return "", classify(key, err)
		}
		if !exists {
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNoFreeName, name)
}

func (t *BucketTrigger) key(name string) string {
	if t.prefix == "" {
		return name
	}
	return t.prefix + "/" + name
}

func classify(key string, err error) error {
	switch gcerrors.Code(err) {
	case gcerrors.PermissionDenied:
		return fmt.Errorf("%w: %s: %v", ErrDenied, key, err)
	case gcerrors.Canceled, gcerrors.DeadlineExceeded:
		return fmt.Errorf("save %s interrupted: %w", key, err)
	default:
		return fmt.Errorf("save %s: %w", key, err)
	}
}
