package client

import (
	"slices"

	"github.com/dkeye/voicestream/internal/domain"
)

// streamSet keeps discovered streams in announcement order. Not safe for
// concurrent use; the client lock guards it.
type streamSet struct {
	ids []domain.StreamID
}

func (s *streamSet) replace(ids []domain.StreamID) {
	s.ids = s.ids[:0]
	for _, id := range ids {
		s.add(id)
	}
}

func (s *streamSet) add(id domain.StreamID) bool {
	if slices.Contains(s.ids, id) {
		return false
	}
	s.ids = append(s.ids, id)
	return true
}

func (s *streamSet) remove(id domain.StreamID) bool {
	i := slices.Index(s.ids, id)
	if i < 0 {
		return false
	}
	s.ids = slices.Delete(s.ids, i, i+1)
	return true
}

func (s *streamSet) list() []domain.StreamID {
	return slices.Clone(s.ids)
}

// newest is the last announced stream.
func (s *streamSet) newest() (domain.StreamID, bool) {
	if len(s.ids) == 0 {
		return "", false
	}
	return s.ids[len(s.ids)-1], true
}
