package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"block-streamer/internal/block"
)

// Sink receives every validated block in chain order.
type Sink interface {
	Emit(ctx context.Context, rec block.Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, rec block.Record) error

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, rec block.Record) error {
	return f(ctx, rec)
}

// WriterSink writes one JSON object per block.
type WriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink builds a JSON-lines sink over w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{enc: json.NewEncoder(w)}
}

// Emit writes rec as a single line.
func (s *WriterSink) Emit(_ context.Context, rec block.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(rec)
}

// MultiSink fans a block out to every sink; all sinks are attempted.
type MultiSink []Sink

// Emit delivers rec to each sink and joins their errors.
func (m MultiSink) Emit(ctx context.Context, rec block.Record) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ Sink = (*WriterSink)(nil)
	_ Sink = MultiSink(nil)
	_ Sink = SinkFunc(nil)
)
