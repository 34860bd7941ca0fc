package backtest

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/alanyoungcy/tickerplant/internal/domain"
)

const maxLine = 4 << 20

// kindStream decodes the records of one kind across its files in order.
type kindStream struct {
	ctx   context.Context
	src   Source
	kind  domain.EventKind
	files []string

	cur     io.ReadCloser
	scanner *bufio.Scanner
	name    string
	line    int

	// skip is called for every line that fails to decode.
	skip func(name string, line int, err error)
}

func newKindStream(ctx context.Context, src Source, kind domain.EventKind, skip func(string, int, error)) (*kindStream, error) {
	files, err := src.Files(ctx, kind)
	if err != nil {
		return nil, err
	}
	return &kindStream{ctx: ctx, src: src, kind: kind, files: files, skip: skip}, nil
}

// next returns the following record or io.EOF once every file is drained.
func (s *kindStream) next() (domain.Event, error) {
	for {
		if s.scanner == nil {
			if len(s.files) == 0 {
				return nil, io.EOF
			}
			s.name, s.files = s.files[0], s.files[1:]
			rc, err := openDecoded(s.ctx, s.src, s.name)
			if err != nil {
				return nil, err
			}
			s.cur = rc
			s.scanner = bufio.NewScanner(rc)
			s.scanner.Buffer(make([]byte, 64*1024), maxLine)
			s.line = 0
		}

		if !s.scanner.Scan() {
			err := s.scanner.Err()
			s.close()
			if err != nil {
				return nil, fmt.Errorf("backtest: read %s: %w", s.name, err)
			}
			continue
		}
		s.line++
		data := s.scanner.Bytes()
		if len(data) == 0 {
			continue
		}
		ev, err := decode(s.kind, data)
		if err != nil {
			if s.skip != nil {
				s.skip(s.name, s.line, err)
			}
			continue
		}
		return ev, nil
	}
}

func (s *kindStream) close() {
	if s.cur != nil {
		_ = s.cur.Close()
	}
	s.cur, s.scanner = nil, nil
}

func decode(kind domain.EventKind, data []byte) (domain.Event, error) {
	switch kind {
	case domain.KindRate:
		var r domain.Rate
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("%v: %w", err, domain.ErrMalformed)
		}
		return r, nil
	case domain.KindMarketTrade:
		var t domain.MarketTrade
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("%v: %w", err, domain.ErrMalformed)
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%s: %w", kind, domain.ErrUnknownEvent)
	}
}

// merger yields events from several streams ordered by receipt timestamp.
// Ties go to the stream listed first.
type merger struct {
	streams []*kindStream
	heads   []domain.Event
}

func newMerger(streams ...*kindStream) (*merger, error) {
	m := &merger{streams: streams, heads: make([]domain.Event, len(streams))}
	for i := range streams {
		if err := m.advance(i); err != nil {
			m.close()
			return nil, err
		}
	}
	return m, nil
}

func (m *merger) advance(i int) error {
	ev, err := m.streams[i].next()
	if errors.Is(err, io.EOF) {
		m.heads[i] = nil
		return nil
	}
	if err != nil {
		return err
	}
	m.heads[i] = ev
	return nil
}

// next returns the earliest pending event or io.EOF.
func (m *merger) next() (domain.Event, error) {
	best := -1
	for i, h := range m.heads {
		if h == nil {
			continue
		}
		if best < 0 || h.ReceivedAt().Before(m.heads[best].ReceivedAt()) {
			best = i
		}
	}
	if best < 0 {
		return nil, io.EOF
	}
	ev := m.heads[best]
	if err := m.advance(best); err != nil {
		return nil, err
	}
	return ev, nil
}

func (m *merger) close() {
	for _, s := range m.streams {
		s.close()
	}
}
