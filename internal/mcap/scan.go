package mcap

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	fmcap "github.com/foxglove/mcap/go/mcap"
)

// Contents is everything a sequential scan recovers from a container.
type Contents struct {
	Header   *fmcap.Header
	Schemas  map[uint16]*fmcap.Schema
	Channels map[uint16]*fmcap.Channel
	// Messages are in file order.
	Messages []*fmcap.Message
	Metadata []*fmcap.Metadata

	ChunkCount      int
	ChunkIndexes    []*fmcap.ChunkIndex
	MetadataIndexes []*fmcap.MetadataIndex
	Statistics      *fmcap.Statistics
	Footer          *fmcap.Footer
}

// ChannelByTopic returns the channel registered for topic.
func (c *Contents) ChannelByTopic(topic string) (*fmcap.Channel, bool) {
	for _, id := range slices.Sorted(maps.Keys(c.Channels)) {
		if ch := c.Channels[id]; ch.Topic == topic {
			return ch, true
		}
	}
	return nil, false
}

// MessagesOn returns the messages written to topic, in file order.
func (c *Contents) MessagesOn(topic string) []*fmcap.Message {
	ch, ok := c.ChannelByTopic(topic)
	if !ok {
		return nil
	}
	var out []*fmcap.Message
	for _, m := range c.Messages {
		if m.ChannelID == ch.ID {
			out = append(out, m)
		}
	}
	return out
}

// ScanFile reads and verifies the container at path.
func ScanFile(path string) (*Contents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read container: %w", err)
	}
	return Scan(data)
}

// Scan walks every record with chunk CRC validation, then cross-checks the
// summary section against what the data section holds.
func Scan(data []byte) (*Contents, error) {
	if len(data) < 2*len(fmcap.Magic) || !bytes.HasSuffix(data, fmcap.Magic) {
		return nil, &FormatError{Reason: "missing trailing magic"}
	}

	c := &Contents{
		Schemas:  make(map[uint16]*fmcap.Schema),
		Channels: make(map[uint16]*fmcap.Channel),
	}
	if err := c.lex(data); err != nil {
		return nil, err
	}
	if err := c.summarize(data); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Contents) lex(data []byte) error {
	lexer, err := fmcap.NewLexer(bytes.NewReader(data), &fmcap.LexerOptions{ValidateChunkCRCs: true})
	if err != nil {
		return &FormatError{Reason: "bad leading magic", Err: err}
	}

	for {
		tok, rec, err := lexer.Next(nil)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return &FormatError{Reason: "unreadable record", Err: err}
		}
		// Lexer buffers are reused between tokens.
		rec = bytes.Clone(rec)

		switch tok {
		case fmcap.TokenHeader:
			c.Header, err = fmcap.ParseHeader(rec)
		case fmcap.TokenSchema:
			var s *fmcap.Schema
			if s, err = fmcap.ParseSchema(rec); err == nil {
				c.Schemas[s.ID] = s
			}
		case fmcap.TokenChannel:
			var ch *fmcap.Channel
			if ch, err = fmcap.ParseChannel(rec); err == nil {
				c.Channels[ch.ID] = ch
			}
		case fmcap.TokenMessage:
			var m *fmcap.Message
			if m, err = fmcap.ParseMessage(rec); err == nil {
				if _, ok := c.Channels[m.ChannelID]; !ok {
					return &FormatError{Reason: fmt.Sprintf("message on undeclared channel %d", m.ChannelID)}
				}
				c.Messages = append(c.Messages, m)
			}
		case fmcap.TokenMetadata:
			var md *fmcap.Metadata
			if md, err = fmcap.ParseMetadata(rec); err == nil {
				c.Metadata = append(c.Metadata, md)
			}
		case fmcap.TokenFooter:
			c.Footer, err = fmcap.ParseFooter(rec)
		}
		if err != nil {
			return &FormatError{Reason: fmt.Sprintf("bad %v record", tok), Err: err}
		}
		if c.Footer != nil {
			break
		}
	}

	switch {
	case c.Header == nil:
		return &FormatError{Reason: "no header record"}
	case c.Footer == nil:
		return &FormatError{Reason: "no footer record"}
	}
	return nil
}

func (c *Contents) summarize(data []byte) error {
	reader, err := fmcap.NewReader(bytes.NewReader(data))
	if err != nil {
		return &FormatError{Reason: "unreadable container", Err: err}
	}
	info, err := reader.Info()
	if err != nil {
		return &FormatError{Reason: "unreadable summary", Err: err}
	}
	if info.Statistics == nil {
		return &FormatError{Reason: "summary has no statistics record"}
	}

	c.Statistics = info.Statistics
	c.ChunkIndexes = info.ChunkIndexes
	c.MetadataIndexes = info.MetadataIndexes
	c.ChunkCount = int(info.Statistics.ChunkCount)

	switch {
	case info.Statistics.MessageCount != uint64(len(c.Messages)):
		return &FormatError{Reason: fmt.Sprintf("statistics count %d messages, data section holds %d",
			info.Statistics.MessageCount, len(c.Messages))}
	case len(c.ChunkIndexes) != c.ChunkCount:
		return &FormatError{Reason: fmt.Sprintf("statistics count %d chunks, summary indexes %d",
			c.ChunkCount, len(c.ChunkIndexes))}
	case len(c.MetadataIndexes) != len(c.Metadata):
		return &FormatError{Reason: fmt.Sprintf("summary indexes %d metadata records, data section holds %d",
			len(c.MetadataIndexes), len(c.Metadata))}
	}
	return nil
}
