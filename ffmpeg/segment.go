package ffmpeg

import (
	"strings"
	"time"
)

// Segment is a trimmed span of one source file. Either bound may be open.
// Segments are validated when constructed and never change afterwards.
type Segment struct {
	source   string
	start    time.Duration
	end      time.Duration
	hasStart bool
	hasEnd   bool
}

// SegmentOption sets an optional bound on a Segment under construction.
type SegmentOption func(*Segment)

// WithStart sets the inclusive start offset.
func WithStart(d time.Duration) SegmentOption {
	return func(s *Segment) {
		s.start = d
		s.hasStart = true
	}
}

// WithEnd sets the end offset.
func WithEnd(d time.Duration) SegmentOption {
	return func(s *Segment) {
		s.end = d
		s.hasEnd = true
	}
}

// NewSegment validates and returns a segment of source.
func NewSegment(source string, opts ...SegmentOption) (Segment, error) {
	s := Segment{source: source}
	for _, opt := range opts {
		opt(&s)
	}
	if strings.TrimSpace(s.source) == "" {
		return Segment{}, invalidf("segment source is required")
	}
	if s.hasStart && s.start < 0 {
		return Segment{}, invalidf("segment start must be non-negative, got %s", s.start)
	}
	if s.hasEnd && s.end < 0 {
		return Segment{}, invalidf("segment end must be non-negative, got %s", s.end)
	}
	if s.hasStart && s.hasEnd && s.end <= s.start {
		return Segment{}, invalidf("segment end %s must be greater than start %s", s.end, s.start)
	}
	return s, nil
}

func (s Segment) Source() string { return s.source }

func (s Segment) Start() (time.Duration, bool) { return s.start, s.hasStart }

func (s Segment) End() (time.Duration, bool) { return s.end, s.hasEnd }

// Duration is only defined when both bounds are present.
func (s Segment) Duration() (time.Duration, bool) {
	if !s.hasStart || !s.hasEnd {
		return 0, false
	}
	return s.end - s.start, true
}
