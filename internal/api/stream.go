package api

import "sync"

// Stream fans agent output out to event-stream subscribers. Publish is
// shaped to be the hub's OnChunk hook.
type Stream struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]chan string
}

// NewStream creates an empty Stream.
func NewStream() *Stream {
	return &Stream{subs: make(map[string]map[int]chan string)}
}

// Publish delivers chunk to every subscriber of roomID. A subscriber whose
// buffer is full misses the chunk.
func (s *Stream) Publish(roomID, chunk string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs[roomID] {
		select {
		case ch <- chunk:
		default:
		}
	}
}

// Subscribe returns a channel of roomID's chunks and the func that ends the
// subscription.
func (s *Stream) Subscribe(roomID string) (<-chan string, func()) {
	ch := make(chan string, 64)
	s.mu.Lock()
	id := s.next
	s.next++
	if s.subs[roomID] == nil {
		s.subs[roomID] = make(map[int]chan string)
	}
	s.subs[roomID][id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[roomID], id)
			if len(s.subs[roomID]) == 0 {
				delete(s.subs, roomID)
			}
			s.mu.Unlock()
		})
	}
}
