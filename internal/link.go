package swingsense

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/inconshreveable/log15"
)

/* Communication with the remote detector process */

// SampleHandler receives what the remote detector sends.
type SampleHandler interface {
	Submit(raw float64)
	SavePreview(jpeg []byte)
}

type inboundMessage struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

type outboundMessage struct {
	Action  string                 `json:"action"`
	Payload map[string]interface{} `json:"payload"`
}

// DetectorLink is a websocket connection to the remote detector process.
type DetectorLink struct {
	conn    *websocket.Conn
	handler SampleHandler
	log     log.Logger

	writeMu   sync.Mutex
	closing   chan struct{}
	closeOnce sync.Once
}

// DialDetector connects to the remote detector at url.
func DialDetector(url string, handler SampleHandler) (*DetectorLink, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to detector %s: %w", url, err)
	}
	return &DetectorLink{
		conn:    conn,
		handler: handler,
		log:     log.New("module", "link", "url", url),
		closing: make(chan struct{}),
	}, nil
}

// Run reads messages until the connection fails or is closed. It returns
// nil when the remote closes normally or Close was called.
func (l *DetectorLink) Run() error {
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			select {
			case <-l.closing:
				return nil
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		if err := l.handle(data); err != nil {
			l.log.Warn("Dropping message", "error", err)
		}
	}
}

func (l *DetectorLink) handle(data []byte) error {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case "detectorValue":
		var v *float64
		if err := json.Unmarshal(msg.Value, &v); err != nil {
			return fmt.Errorf("detector value %s: %w", msg.Value, err)
		}
		if v == nil {
			return fmt.Errorf("detector value missing")
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			return ErrNonFinite
		}
		l.handler.Submit(*v)
	case "previewFrame":
		jpeg, err := decodeFrame(msg.Value)
		if err != nil {
			return err
		}
		l.handler.SavePreview(jpeg)
	case "config":
		l.log.Info("New config", "config", string(msg.Value))
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
	return nil
}

// decodeFrame accepts a base64 string, optionally as a data URL.
func decodeFrame(value json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(value, &s); err != nil {
		return nil, fmt.Errorf("preview frame: %w", err)
	}
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	jpeg, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("preview frame: %w", err)
	}
	return jpeg, nil
}

// Send writes one action message. A nil payload is sent as {}.
func (l *DetectorLink) Send(action string, payload map[string]interface{}) error {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	return l.conn.WriteJSON(outboundMessage{Action: action, Payload: payload})
}

// Push forwards a single changed setting.
func (l *DetectorLink) Push(field string, value interface{}) error {
	return l.Send("updateConfig", map[string]interface{}{field: value})
}

// Close closes the connection. Calls after the first are no-ops.
func (l *DetectorLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closing)
		l.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		l.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		l.writeMu.Unlock()
		err = l.conn.Close()
	})
	return err
}
