// ABOUTME: WebSocket-backed remote receiver session
// ABOUTME: Grounded on the teacher's internal/client/websocket.go connect/handshake/reader loop
package remote

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// controlMessage is the JSON envelope for control-plane requests and
// responses, grounded on protocol.Message from the teacher's client.
type controlMessage struct {
	ID      string          `json:"id,omitempty"`
	Op      string          `json:"op,omitempty"`
	Rtptime int64           `json:"rtptime,omitempty"`
	Volume  int             `json:"volume,omitempty"`
	Result  *int            `json:"result,omitempty"`
	State   string          `json:"state,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	frameTypeAudio byte = 1
)

// WSDriver dials remote receivers over WebSocket.
type WSDriver struct{}

// NewWSDriver creates a websocket-based remote driver.
func NewWSDriver() *WSDriver { return &WSDriver{} }

func (d *WSDriver) Dial(address string, port int, password string, onState StateCallback) (Session, error) {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", address, port), Path: "/roomcast"}

	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("remote: dial %s: %w", u.String(), err)
	}

	s := &wsSession{
		conn:    conn,
		onState: onState,
		pending: make(map[string]CompletionCallback),
		writeCh: make(chan wsWrite, 32),
		done:    make(chan struct{}),
	}

	if err := s.handshake(password); err != nil {
		conn.Close()
		return nil, fmt.Errorf("remote: handshake: %w", err)
	}

	go s.writeLoop()
	go s.readLoop()
	return s, nil
}

type wsWrite struct {
	text   []byte
	binary []byte
}

type wsSession struct {
	conn    *websocket.Conn
	onState StateCallback

	mu      sync.Mutex
	pending map[string]CompletionCallback

	writeCh chan wsWrite
	done    chan struct{}
	closed  bool
}

func (s *wsSession) handshake(password string) error {
	hello := controlMessage{ID: uuid.NewString(), Op: "hello"}
	if password != "" {
		hello.Payload, _ = json.Marshal(map[string]string{"password": password})
	}
	if err := s.conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	s.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var resp controlMessage
	if err := s.conn.ReadJSON(&resp); err != nil {
		return fmt.Errorf("read hello response: %w", err)
	}
	s.conn.SetReadDeadline(time.Time{})

	if resp.Result != nil && Result(*resp.Result) == ResultPasswordMissing {
		return fmt.Errorf("remote: password required")
	}
	return nil
}

func (s *wsSession) sendOp(op string, rtptime int64, volume int, done CompletionCallback) {
	id := uuid.NewString()
	s.mu.Lock()
	s.pending[id] = done
	s.mu.Unlock()

	msg := controlMessage{ID: id, Op: op, Rtptime: rtptime, Volume: volume}
	data, err := json.Marshal(msg)
	if err != nil {
		s.completeWithResult(id, ResultFailure)
		return
	}

	select {
	case s.writeCh <- wsWrite{text: data}:
	case <-s.done:
		s.completeWithResult(id, ResultFailure)
	}
}

func (s *wsSession) Start(rtptime int64, done CompletionCallback) {
	if s.onState != nil {
		s.onState(StreamStarting)
	}
	s.sendOp("start", rtptime, 0, done)
}

func (s *wsSession) Flush(done CompletionCallback) {
	s.sendOp("flush", 0, 0, done)
}

func (s *wsSession) SetVolume(volume int, done CompletionCallback) {
	s.sendOp("volume", 0, volume, done)
}

func (s *wsSession) Probe(done CompletionCallback) {
	s.sendOp("probe", 0, 0, done)
}

func (s *wsSession) Stop(done CompletionCallback) {
	if s.onState != nil {
		s.onState(StreamStopping)
	}
	s.sendOp("stop", 0, 0, done)
}

// Write enqueues one audio frame: [1 byte type][8 byte rtptime][payload].
func (s *wsSession) Write(rtptime int64, payload []byte) error {
	frame := make([]byte, 9+len(payload))
	frame[0] = frameTypeAudio
	binary.BigEndian.PutUint64(frame[1:9], uint64(rtptime))
	copy(frame[9:], payload)

	select {
	case s.writeCh <- wsWrite{binary: frame}:
		return nil
	case <-s.done:
		return fmt.Errorf("remote: session closed")
	}
}

func (s *wsSession) writeLoop() {
	for {
		select {
		case w := <-s.writeCh:
			var err error
			if w.text != nil {
				err = s.conn.WriteMessage(websocket.TextMessage, w.text)
			} else {
				err = s.conn.WriteMessage(websocket.BinaryMessage, w.binary)
			}
			if err != nil {
				log.Printf("remote: write error: %v", err)
				s.fail()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *wsSession) readLoop() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			s.fail()
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var resp controlMessage
		if err := json.Unmarshal(data, &resp); err != nil {
			log.Printf("remote: bad control message: %v", err)
			continue
		}
		if resp.Result == nil {
			continue
		}
		s.completeWithResult(resp.ID, Result(*resp.Result))

		if resp.State == "streaming" && s.onState != nil {
			s.onState(StreamStreaming)
		}
	}
}

func (s *wsSession) completeWithResult(id string, r Result) {
	s.mu.Lock()
	done, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()
	if ok && done != nil {
		done(r)
	}
}

func (s *wsSession) fail() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	pending := s.pending
	s.pending = make(map[string]CompletionCallback)
	s.mu.Unlock()

	close(s.done)
	for _, done := range pending {
		if done != nil {
			done(ResultFailure)
		}
	}
	if s.onState != nil {
		s.onState(StreamFailed)
	}
}

// Close tears the session down and fails any pending completions.
func (s *wsSession) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.conn.Close()
	s.fail()
}
