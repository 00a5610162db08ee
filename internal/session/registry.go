package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Registry is the session table. A single mutex guards it; callers never
// hold references across their own blocking calls without re-checking.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *zap.Logger
}

func NewRegistry(log *zap.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Register stores the session under a fresh key, first evicting any live
// session for the same (room, user) pair. The session keeps its pre-active
// state; frames are not dispatched to it until Activate. The evicted session,
// if any, is returned with its connection already closed so the caller can
// clean up its backend peer.
func (r *Registry) Register(s *Session) (evicted *Session) {
	r.mu.Lock()
	for key, old := range r.sessions {
		if old.RoomID == s.RoomID && old.UserID == s.UserID {
			delete(r.sessions, key)
			old.State = StateClosed
			evicted = old
			break
		}
	}
	if s.Key == "" {
		s.Key = uuid.New().String()
	}
	if s.producers == nil {
		s.producers = make(map[string]string)
	}
	r.sessions[s.Key] = s
	r.mu.Unlock()

	if evicted != nil {
		r.log.Info("session: evicted stale session",
			zap.String("roomId", s.RoomID),
			zap.String("userId", s.UserID),
			zap.String("oldKey", evicted.Key))
		if evicted.Conn != nil {
			evicted.Conn.Close()
		}
	}
	return evicted
}

// Activate marks a registered session live, opening it for frame dispatch.
// It reports false when the session was evicted while its join was still in
// flight, in which case the caller lost the race and must bail out.
func (r *Registry) Activate(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return false
	}
	s.State = StateActive
	return true
}

// SetTransports records the session's transport ids once the backend has
// created them. ByTransport reads them under the same mutex.
func (r *Registry) SetTransports(key, sendID, recvID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		s.SendTransportID = sendID
		s.RecvTransportID = recvID
	}
}

// Get returns the session for a key.
func (r *Registry) Get(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	return s, ok
}

// GetActive returns the session for a key only while it is live. The state
// check happens under the mutex, so a concurrent eviction or removal can
// never be observed half-applied.
func (r *Registry) GetActive(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok || s.State != StateActive {
		return nil, false
	}
	return s, true
}

// Remove deletes the session for a key. It reports whether the key was still
// registered, so disconnect and eviction paths cannot both run cleanup.
func (r *Registry) Remove(key string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil, false
	}
	delete(r.sessions, key)
	s.State = StateClosed
	return s, true
}

// ByTransport finds the session owning a transport id, used to correlate
// backend transportClosed events back to a connection.
func (r *Registry) ByTransport(transportID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.SendTransportID == transportID || s.RecvTransportID == transportID {
			return s, true
		}
	}
	return nil, false
}

// ForRoom returns every session currently registered in a room.
func (r *Registry) ForRoom(roomID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.RoomID == roomID {
			out = append(out, s)
		}
	}
	return out
}

// ForUser returns every session belonging to a user, across rooms.
func (r *Registry) ForUser(userID string) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

// ReserveProducer atomically claims the producer slot for a media kind. It
// fails when a producer of that kind already exists or another create for it
// is in flight, which is what makes the duplicate-produce check race-free.
func (r *Registry) ReserveProducer(key, kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return false
	}
	if _, exists := s.producers[kind]; exists {
		return false
	}
	s.producers[kind] = ""
	return true
}

// SetProducer records the backend producer id for a reserved slot.
func (r *Registry) SetProducer(key, kind, producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		s.producers[kind] = producerID
	}
}

// ClearProducer releases a producer slot, by kind.
func (r *Registry) ClearProducer(key, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[key]; ok {
		delete(s.producers, kind)
	}
}

// ClearProducerByID releases whichever slot holds the given producer id.
func (r *Registry) ClearProducerByID(key, producerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return
	}
	for kind, id := range s.producers {
		if id == producerID {
			delete(s.producers, kind)
			return
		}
	}
}

// Producers returns a copy of the session's kind -> producer id map.
func (r *Registry) Producers(key string) map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[key]
	if !ok {
		return nil
	}
	out := make(map[string]string, len(s.producers))
	for k, v := range s.producers {
		out[k] = v
	}
	return out
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
