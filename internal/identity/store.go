package identity

import "sync"

// Store holds the current bearer credential and notifies subscribers when it
// changes. An empty credential means signed out.
type Store struct {
	mu          sync.Mutex
	credential  string
	nextID      int
	subscribers map[int]chan string
}

// NewStore creates a Store seeded with initial, which may be empty.
func NewStore(initial string) *Store {
	return &Store{
		credential:  initial,
		subscribers: make(map[int]chan string),
	}
}

// Credential returns the current credential and whether one is set.
func (s *Store) Credential() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credential, s.credential != ""
}

// Set replaces the credential. Subscribers are notified only if the value changed.
func (s *Store) Set(credential string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if credential == s.credential {
		return
	}
	s.credential = credential
	for _, ch := range s.subscribers {
		notifyLatest(ch, credential)
	}
}

// Clear removes the credential.
func (s *Store) Clear() {
	s.Set("")
}

// Subscribe returns a channel that receives the credential after every
// change. Notifications coalesce: a slow reader only sees the latest value.
// The returned cancel func stops delivery and closes the channel.
func (s *Store) Subscribe() (<-chan string, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan string, 1)
	s.subscribers[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			delete(s.subscribers, id)
			close(ch)
		})
	}
	return ch, cancel
}

// notifyLatest replaces any undelivered value in ch with value.
// Callers hold s.mu, so ch has no other writer.
func notifyLatest(ch chan string, value string) {
	select {
	case <-ch:
	default:
	}
	ch <- value
}
