package capture

import (
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// AssemblyAIEngine streams PCM16 mono audio to AssemblyAI's realtime
// endpoint and reports transcripts through the bound Callbacks. One
// engine instance serves one conversation; Start may be called again
// after the engine ended or was stopped.
type AssemblyAIEngine struct {
	apiKey     string
	sampleRate int
	cb         Callbacks

	mu        sync.Mutex
	conn      *websocket.Conn
	audio     chan []byte
	stopCh    chan struct{}
	connected bool
}

// assemblyai v3 streaming message envelope
type aaiMessage struct {
	Type          string `json:"type"`
	Transcript    string `json:"transcript,omitempty"`
	EndOfTurn     bool   `json:"end_of_turn,omitempty"`
	TurnFormatted bool   `json:"turn_is_formatted,omitempty"`
	Error         string `json:"error,omitempty"`
}

// NewAssemblyAIEngine creates an engine for 16kHz PCM16LE input.
func NewAssemblyAIEngine(apiKey string) *AssemblyAIEngine {
	return &AssemblyAIEngine{apiKey: apiKey, sampleRate: 16000}
}

// Bind registers the event callbacks. Must be called before Start.
func (e *AssemblyAIEngine) Bind(cb Callbacks) { e.cb = cb }

// Start dials the streaming endpoint and begins relaying audio and
// transcripts. Returns an error only when the connection cannot be
// established; later failures arrive via the bound callbacks.
func (e *AssemblyAIEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected {
		return nil
	}
	if e.apiKey == "" {
		return fmt.Errorf("assemblyai: api key missing")
	}

	params := url.Values{}
	params.Set("sample_rate", fmt.Sprintf("%d", e.sampleRate))
	params.Set("encoding", "pcm_s16le")
	params.Set("format_turns", "false")
	wsURL := fmt.Sprintf("wss://streaming.assemblyai.com/v3/ws?%s", params.Encode())

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, map[string][]string{"Authorization": {e.apiKey}})
	if err != nil {
		if resp != nil {
			log.Printf("assemblyai: connect rejected with status %d", resp.StatusCode)
		}
		return fmt.Errorf("assemblyai: connect: %w", err)
	}

	e.conn = conn
	e.audio = make(chan []byte, 256)
	e.stopCh = make(chan struct{})
	e.connected = true

	go e.readLoop(conn, e.stopCh)
	go e.sendLoop(conn, e.audio, e.stopCh)
	return nil
}

// Stop tears the connection down. Safe to call at any time.
func (e *AssemblyAIEngine) Stop() {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return
	}
	e.connected = false
	conn := e.conn
	close(e.stopCh)
	e.conn = nil
	e.mu.Unlock()

	// best-effort session terminate before closing the socket
	_ = conn.WriteJSON(map[string]string{"type": "Terminate"})
	_ = conn.Close()
}

// SendPCM feeds 16kHz PCM16LE mono audio to the recognizer. Dropped
// silently when no session is active.
func (e *AssemblyAIEngine) SendPCM(pcm []byte) error {
	e.mu.Lock()
	connected, audio := e.connected, e.audio
	e.mu.Unlock()
	if !connected {
		return nil
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	select {
	case audio <- buf:
	default:
		// recognizer is falling behind; losing a frame beats blocking the media path
	}
	return nil
}

func (e *AssemblyAIEngine) readLoop(conn *websocket.Conn, stopCh chan struct{}) {
	for {
		var msg aaiMessage
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-stopCh:
				// deliberate stop, not an engine self-stop
			default:
				e.markDisconnected(conn)
				if e.cb.OnEnded != nil {
					e.cb.OnEnded()
				}
			}
			return
		}
		if terminated := e.dispatch(msg); terminated {
			e.markDisconnected(conn)
			if e.cb.OnEnded != nil {
				e.cb.OnEnded()
			}
			return
		}
	}
}

// dispatch routes one server message to the bound callbacks and
// reports whether the session was terminated by the server.
func (e *AssemblyAIEngine) dispatch(msg aaiMessage) bool {
	switch msg.Type {
	case "Turn":
		if msg.Transcript == "" {
			return false
		}
		if msg.EndOfTurn {
			if e.cb.OnFinal != nil {
				e.cb.OnFinal(msg.Transcript)
			}
		} else if e.cb.OnInterim != nil {
			e.cb.OnInterim(msg.Transcript)
		}
	case "Error":
		if e.cb.OnError != nil {
			e.cb.OnError(msg.Error)
		}
	case "Termination":
		return true
	}
	return false
}

func (e *AssemblyAIEngine) sendLoop(conn *websocket.Conn, audio <-chan []byte, stopCh chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		case pcm := <-audio:
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				return
			}
		}
	}
}

// markDisconnected clears connection state when the remote side went
// away, so a later Start dials fresh and the send loop unblocks.
func (e *AssemblyAIEngine) markDisconnected(conn *websocket.Conn) {
	e.mu.Lock()
	if e.conn == conn {
		e.connected = false
		e.conn = nil
		close(e.stopCh)
	}
	e.mu.Unlock()
	_ = conn.Close()
}
