package httpserver

import "sync"

// FeedEvent is one message on a session's live event stream. Events
// with PCM set are delivered as binary websocket frames, everything
// else as JSON.
type FeedEvent struct {
	Type       string `json:"type"` // "interim" | "turn" | "ended" | "audio_done" | "audio_reset"
	Role       string `json:"role,omitempty"`
	Text       string `json:"text,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	PCM []byte `json:"-"` // agent speech audio, PCM16LE 48kHz mono
}

// feed fans session events out to any number of websocket subscribers.
type feed struct {
	mu     sync.Mutex
	subs   map[chan FeedEvent]struct{}
	closed bool
}

func newFeed() *feed {
	return &feed{subs: make(map[chan FeedEvent]struct{})}
}

func (f *feed) subscribe() chan FeedEvent {
	ch := make(chan FeedEvent, 64)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		close(ch)
		return ch
	}
	f.subs[ch] = struct{}{}
	return ch
}

func (f *feed) unsubscribe(ch chan FeedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.subs[ch]; ok {
		delete(f.subs, ch)
		close(ch)
	}
}

func (f *feed) publish(ev FeedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subs {
		select {
		case ch <- ev:
		default:
			// slow subscriber; the live feed is best-effort
		}
	}
}

// close ends all subscriptions after a final event has been published.
func (f *feed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
}
