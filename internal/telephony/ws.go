package telephony

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSConfig configures the websocket signaling gateway client.
type WSConfig struct {
	GatewayURL string
	AuthToken  string
}

// WSDriver speaks a JSON command/event protocol with the signaling gateway
// over a single websocket connection. Commands are fire-and-forget;
// connected/ended outcomes arrive on the event stream.
type WSDriver struct {
	cfg    WSConfig
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events    chan LegEvent
	closeOnce sync.Once
}

type wsCommand struct {
	Type        string `json:"type"`
	LegID       string `json:"leg_id,omitempty"`
	PeerLegID   string `json:"peer_leg_id,omitempty"`
	Destination string `json:"destination,omitempty"`
	TrunkID     string `json:"trunk_id,omitempty"`
	CallerID    string `json:"caller_id,omitempty"`
	Resource    string `json:"resource,omitempty"`
	Text        string `json:"text,omitempty"`
}

type wsEvent struct {
	Type        string `json:"type"`
	LegID       string `json:"leg_id"`
	Event       string `json:"event"`
	Text        string `json:"text,omitempty"`
	Code        string `json:"code,omitempty"`
	Detail      string `json:"detail,omitempty"`
	TimestampMS int64  `json:"timestamp_ms"`
}

func NewWSDriver(ctx context.Context, cfg WSConfig, logger *zap.Logger) (*WSDriver, error) {
	if strings.TrimSpace(cfg.GatewayURL) == "" {
		return nil, fmt.Errorf("telephony gateway url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	headers := http.Header{}
	if cfg.AuthToken != "" {
		headers.Set("Authorization", "Bearer "+cfg.AuthToken)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, cfg.GatewayURL, headers)
	if err != nil {
		return nil, fmt.Errorf("dial signaling gateway: %w", err)
	}

	d := &WSDriver{
		cfg:    cfg,
		logger: logger,
		conn:   conn,
		events: make(chan LegEvent, 256),
	}
	go d.readLoop()
	return d, nil
}

func (d *WSDriver) Dial(ctx context.Context, req DialRequest) (LegHandle, error) {
	if strings.TrimSpace(req.Destination) == "" {
		return "", fmt.Errorf("%w: destination is required", ErrDialRejected)
	}
	leg := LegHandle(uuid.NewString())
	err := d.writeCommand(ctx, wsCommand{
		Type:        "dial",
		LegID:       string(leg),
		Destination: req.Destination,
		TrunkID:     req.TrunkID,
		CallerID:    req.CallerID,
	})
	if err != nil {
		return "", err
	}
	return leg, nil
}

func (d *WSDriver) Hangup(ctx context.Context, leg LegHandle) error {
	return d.writeCommand(ctx, wsCommand{Type: "hangup", LegID: string(leg)})
}

func (d *WSDriver) PlayAudio(ctx context.Context, leg LegHandle, resource string) error {
	return d.writeCommand(ctx, wsCommand{Type: "play", LegID: string(leg), Resource: resource})
}

func (d *WSDriver) StopAudio(ctx context.Context, leg LegHandle) error {
	return d.writeCommand(ctx, wsCommand{Type: "stop", LegID: string(leg)})
}

func (d *WSDriver) AttachAudio(ctx context.Context, a, b LegHandle) error {
	return d.writeCommand(ctx, wsCommand{Type: "attach", LegID: string(a), PeerLegID: string(b)})
}

func (d *WSDriver) DetachAudio(ctx context.Context, leg LegHandle) error {
	return d.writeCommand(ctx, wsCommand{Type: "detach", LegID: string(leg)})
}

func (d *WSDriver) Say(ctx context.Context, leg LegHandle, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return d.writeCommand(ctx, wsCommand{Type: "say", LegID: string(leg), Text: text})
}

func (d *WSDriver) Events() <-chan LegEvent { return d.events }

func (d *WSDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	err := d.conn.Close()
	return err
}

func (d *WSDriver) writeCommand(ctx context.Context, cmd wsCommand) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("signaling gateway connection closed")
	}

	deadline := time.Now().Add(10 * time.Second)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = d.conn.SetWriteDeadline(deadline)
	if err := d.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("write %s command: %w", cmd.Type, err)
	}
	return nil
}

func (d *WSDriver) readLoop() {
	defer d.safeClose()
	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			return
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			d.logger.Warn("ignoring malformed gateway event", zap.Error(err))
			continue
		}
		if ev.Type != "event" || ev.LegID == "" {
			continue
		}
		out := LegEvent{
			Leg:       LegHandle(ev.LegID),
			Type:      EventType(ev.Event),
			Text:      ev.Text,
			Code:      ev.Code,
			Detail:    ev.Detail,
			Timestamp: time.UnixMilli(ev.TimestampMS),
		}
		switch out.Type {
		case EventConnected, EventEnded, EventError, EventUtterance:
		default:
			continue
		}
		select {
		case d.events <- out:
		default:
			// Slow consumers must not wedge the gateway read loop.
			d.logger.Warn("dropping gateway event, consumer is saturated",
				zap.String("leg_id", ev.LegID), zap.String("event", ev.Event))
		}
	}
}

func (d *WSDriver) safeClose() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		_ = d.conn.Close()
	}
	d.mu.Unlock()
	d.closeOnce.Do(func() { close(d.events) })
}
