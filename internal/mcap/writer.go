// Package mcap writes and verifies MCAP containers: a self-describing,
// indexed, chunked binary log of timestamped messages. Record layout,
// chunking, indexes and CRCs come from the foxglove mcap library; this
// package adds the registration state machine and sink ownership.
package mcap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"sync"

	fmcap "github.com/foxglove/mcap/go/mcap"
)

// DefaultChunkSize is the uncompressed size at which a chunk is closed.
const DefaultChunkSize = 4 << 20

// Statistics is the summary statistics record of a container.
type Statistics = fmcap.Statistics

// Options configures a Writer.
type Options struct {
	Profile     string
	Library     string
	Compression Compression
	// ChunkSize is the uncompressed byte threshold for closing a chunk.
	// Zero means DefaultChunkSize.
	ChunkSize int
}

type writerState int

const (
	stateCreated writerState = iota
	stateStarted
	stateFinished
)

// Writer produces a single container. It owns its sink exclusively from
// construction until Close. Writer is safe for concurrent use, but message
// order in the file is the order of Append calls.
type Writer struct {
	path string
	file *os.File
	buf  *bufio.Writer
	sink io.Writer

	opts  Options
	state writerState
	out   *fmcap.Writer

	schemas     map[uint16]bool
	channels    map[uint16]bool
	nextSchema  uint16
	nextChannel uint16
	sequence    map[uint16]uint32

	mu     sync.Mutex
	closed bool
}

// Create opens path for writing and returns a Writer that owns the file.
func Create(path string, opts Options) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	w := NewWriter(f, opts)
	w.path = path
	w.file = f
	return w, nil
}

// NewWriter wraps an arbitrary sink. If the sink has a Sync method it is
// called by Finish and Close.
func NewWriter(sink io.Writer, opts Options) *Writer {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	return &Writer{
		sink:     sink,
		buf:      bufio.NewWriterSize(sink, 1<<16),
		opts:     opts,
		schemas:  make(map[uint16]bool),
		channels: make(map[uint16]bool),
		sequence: make(map[uint16]uint32),
	}
}

// Path returns the file path for writers made with Create.
func (w *Writer) Path() string { return w.path }

func (w *Writer) writable() error {
	switch w.state {
	case stateCreated:
		return ErrNotStarted
	case stateFinished:
		return ErrContainerClosed
	}
	if w.closed {
		return ErrContainerClosed
	}
	return nil
}

// Start writes the leading magic and the header record.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.state == stateFinished || w.closed:
		return ErrContainerClosed
	case w.state == stateStarted:
		return ErrAlreadyStarted
	}

	out, err := fmcap.NewWriter(w.buf, &fmcap.WriterOptions{
		Chunked:     true,
		ChunkSize:   int64(w.opts.ChunkSize),
		Compression: w.opts.Compression.format(),
		IncludeCRC:  true,
	})
	if err != nil {
		return fmt.Errorf("failed to write magic: %w", err)
	}
	if err := out.WriteHeader(&fmcap.Header{Profile: w.opts.Profile, Library: w.opts.Library}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	w.out = out
	w.state = stateStarted
	return nil
}

// RegisterSchema records a schema and returns its id. Every call allocates
// a new id, starting at 1.
func (w *Writer) RegisterSchema(name, encoding string, data []byte) (uint16, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writable(); err != nil {
		return 0, err
	}
	if w.nextSchema == 0xFFFF {
		return 0, fmt.Errorf("too many schemas")
	}

	id := w.nextSchema + 1
	if err := w.out.WriteSchema(&fmcap.Schema{ID: id, Name: name, Encoding: encoding, Data: data}); err != nil {
		return 0, fmt.Errorf("failed to write schema %s: %w", name, err)
	}
	w.nextSchema = id
	w.schemas[id] = true
	return id, nil
}

// RegisterChannel binds a topic to a previously registered schema.
func (w *Writer) RegisterChannel(schemaID uint16, topic, messageEncoding string, metadata map[string]string) (uint16, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writable(); err != nil {
		return 0, err
	}
	if !w.schemas[schemaID] {
		return 0, &UnknownSchemaError{SchemaID: schemaID}
	}
	if w.nextChannel == 0xFFFF {
		return 0, fmt.Errorf("too many channels")
	}

	md := make(map[string]string, len(metadata))
	maps.Copy(md, metadata)
	id := w.nextChannel + 1
	err := w.out.WriteChannel(&fmcap.Channel{
		ID:              id,
		SchemaID:        schemaID,
		Topic:           topic,
		MessageEncoding: messageEncoding,
		Metadata:        md,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to write channel %s: %w", topic, err)
	}
	w.nextChannel = id
	w.channels[id] = true
	return id, nil
}

// Append writes one message. log_time ordering is not enforced.
func (w *Writer) Append(channelID uint16, logTime, publishTime uint64, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writable(); err != nil {
		return err
	}
	if !w.channels[channelID] {
		return &UnknownChannelError{ChannelID: channelID}
	}

	seq := w.sequence[channelID]
	err := w.out.WriteMessage(&fmcap.Message{
		ChannelID:   channelID,
		Sequence:    seq,
		LogTime:     logTime,
		PublishTime: publishTime,
		Data:        data,
	})
	if err != nil {
		return fmt.Errorf("failed to write message on channel %d: %w", channelID, err)
	}
	w.sequence[channelID] = seq + 1
	return nil
}

// WriteMetadata writes a named key/value record to the data section.
func (w *Writer) WriteMetadata(name string, metadata map[string]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writable(); err != nil {
		return err
	}
	md := make(map[string]string, len(metadata))
	maps.Copy(md, metadata)
	if err := w.out.WriteMetadata(&fmcap.Metadata{Name: name, Metadata: md}); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// Statistics returns a snapshot of the running counters.
func (w *Writer) Statistics() Statistics {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.out == nil || w.out.Statistics == nil {
		return Statistics{ChannelMessageCounts: map[uint16]uint64{}}
	}
	s := *w.out.Statistics
	s.ChannelMessageCounts = maps.Clone(w.out.Statistics.ChannelMessageCounts)
	if s.ChannelMessageCounts == nil {
		s.ChannelMessageCounts = map[uint16]uint64{}
	}
	return s
}

// Finish closes the open chunk, writes the data end, summary and footer,
// flushes and syncs the sink, and closes it if the writer owns it. The
// writer is terminal afterwards.
func (w *Writer) Finish() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writable(); err != nil {
		return err
	}
	w.state = stateFinished

	if err := w.out.Close(); err != nil {
		return fmt.Errorf("failed to write summary: %w", err)
	}
	if err := w.flush(); err != nil {
		return &IncompleteWriteError{Path: w.path, Err: err}
	}
	if err := w.release(); err != nil {
		return &IncompleteWriteError{Path: w.path, Err: err}
	}
	return nil
}

// flush pushes buffered bytes to the sink and syncs it when it can.
func (w *Writer) flush() error {
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if s, ok := w.sink.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// release closes an owned file once.
func (w *Writer) release() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

// Close releases the sink without writing a footer. It is safe to call
// after Finish and more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	var flushErr error
	if w.state != stateFinished {
		// Keep whatever was written; the file has no footer.
		flushErr = w.flush()
	}
	w.state = stateFinished
	err := w.release()
	if errors.Is(err, os.ErrClosed) {
		err = nil
	}
	return errors.Join(flushErr, err)
}
