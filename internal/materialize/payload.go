package materialize

import (
	"errors"

	"github.com/gabriel-vasile/mimetype"
)

// ContentType is the media type every payload is stored with.
const ContentType = "application/zip"

// ErrEmptyPayload is returned when a finished stream produced no bytes.
var ErrEmptyPayload = errors.New("materialize: empty payload")

// Payload is a fully assembled package ready to be saved.
type Payload struct {
	Data        []byte
	ContentType string
	// Detected is the media type sniffed from the leading bytes.
	Detected string
}

// Size returns the payload length in bytes.
func (p *Payload) Size() int64 {
	return int64(len(p.Data))
}

// LooksLikeArchive reports whether the sniffed type agrees with ContentType.
func (p *Payload) LooksLikeArchive() bool {
	m := mimetype.Lookup(p.Detected)
	return m != nil && m.Is(ContentType)
}

// Assemble concatenates chunks in order into one payload.
func Assemble(chunks [][]byte) (*Payload, error) {
	var total int
	for _, c := range chunks {
		total += len(c)
	}
	if total == 0 {
		return nil, ErrEmptyPayload
	}

	data := make([]byte, 0, total)
	for _, c := range chunks {
		data = append(data, c...)
	}

	return &Payload{
		Data:        data,
		ContentType: ContentType,
		Detected:    mimetype.Detect(data).String(),
	}, nil
}
