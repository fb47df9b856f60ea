package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/momentumalpha/trading-engine/internal/announce"
)

// JSONLSource reads one raw payload per line. It backs both replay
// runs and piped live feeds; a scraper process can stream into it over
// stdin.
type JSONLSource struct {
	sc   *bufio.Scanner
	line int
	now  func() time.Time
}

func NewJSONLSource(r io.Reader) *JSONLSource {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &JSONLSource{sc: sc, now: time.Now}
}

func (s *JSONLSource) Next(ctx context.Context) (announce.RawPayload, error) {
	for {
		if err := ctx.Err(); err != nil {
			return announce.RawPayload{}, err
		}
		if !s.sc.Scan() {
			if err := s.sc.Err(); err != nil {
				return announce.RawPayload{}, err
			}
			return announce.RawPayload{}, io.EOF
		}
		s.line++
		text := strings.TrimSpace(s.sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var p announce.RawPayload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return announce.RawPayload{}, fmt.Errorf("pipeline: line %d: %w", s.line, err)
		}
		if p.ReceivedAt.IsZero() {
			p.ReceivedAt = s.now()
		}
		return p, nil
	}
}

// ChanSource adapts a payload channel, for embedding the pipeline
// behind an in-process feed.
type ChanSource struct {
	C chan announce.RawPayload
}

func NewChanSource(buf int) *ChanSource {
	return &ChanSource{C: make(chan announce.RawPayload, buf)}
}

func (s *ChanSource) Next(ctx context.Context) (announce.RawPayload, error) {
	select {
	case <-ctx.Done():
		return announce.RawPayload{}, ctx.Err()
	case p, ok := <-s.C:
		if !ok {
			return announce.RawPayload{}, io.EOF
		}
		return p, nil
	}
}
