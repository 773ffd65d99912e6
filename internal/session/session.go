// Package session maintains the authenticated connection to the coordinating
// server: it logs in for an access token, keeps a websocket open with
// reconnect backoff, forwards parsed commands to the orchestrator, and
// reports each command's outcome back to the server.
package session

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"lumen-agent/internal/core"
	"lumen-agent/internal/effect"
)

// State is the session lifecycle state, observed read-only by the command
// dispatcher to decide whether remote commands are trusted.
type State int32

const (
	Disconnected State = iota
	Connecting
	Authenticated
	Active
	Backoff
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Authenticated:
		return "authenticated"
	case Active:
		return "active"
	case Backoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// Trusted reports whether remote commands should currently be honoured.
func (s State) Trusted() bool {
	return s == Authenticated || s == Active
}

// Config holds the connection parameters for the coordinating server.
type Config struct {
	Host        string
	ProxyPort   int // websocket command channel
	AppPort     int // HTTPS token endpoint
	ClientID    string
	Username    string
	Password    string
	InsecureTLS bool // skip verification for self-signed development servers

	BackoffMin time.Duration
	BackoffMax time.Duration
}

// Manager runs the session lifecycle.
type Manager struct {
	cfg      Config
	commands core.CommandChannel
	bus      *core.EventBus
	state    atomic.Int32
	httpc    *http.Client
}

// New creates a session manager that feeds parsed commands into cmds.
func New(cfg Config, cmds core.CommandChannel, bus *core.EventBus) *Manager {
	transport := &http.Transport{}
	if cfg.InsecureTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &Manager{
		cfg:      cfg,
		commands: cmds,
		bus:      bus,
		httpc:    &http.Client{Transport: transport, Timeout: 15 * time.Second},
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	if m.bus != nil {
		m.bus.Publish(core.Event{
			Type:    core.SessionChangedEvent,
			Payload: map[string]interface{}{"state": s.String()},
		})
	}
}

// Run connects and reconnects until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	defer m.setState(Disconnected)

	backoff := m.cfg.BackoffMin
	for ctx.Err() == nil {
		m.setState(Connecting)

		err := m.connectOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Msg("session ended")
		}

		m.setState(Backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.cfg.BackoffMax {
			backoff = m.cfg.BackoffMax
		}
	}
}

// connectOnce performs one full login/greet/read cycle. Returns when the
// connection drops or the context is cancelled.
func (m *Manager) connectOnce(ctx context.Context) error {
	token, err := m.login(ctx)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	wsAddr := fmt.Sprintf("ws://%s", m.cfg.Host)
	if m.cfg.ProxyPort != 80 {
		wsAddr = fmt.Sprintf("ws://%s:%d", m.cfg.Host, m.cfg.ProxyPort)
	}

	log.Info().Str("addr", wsAddr).Msg("connecting to server")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsAddr, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	greeting := map[string]interface{}{
		"token":     token,
		"client_id": m.cfg.ClientID,
		"patterns":  effect.Kinds(),
	}
	if err := conn.WriteJSON(greeting); err != nil {
		return fmt.Errorf("greeting: %w", err)
	}

	m.setState(Authenticated)
	log.Info().Str("client_id", m.cfg.ClientID).Msg("session authenticated")

	// Unblock the read loop when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info().Err(err).Msg("server closed connection")
				return nil
			}
			return err
		}
		m.setState(Active)
		m.handleMessage(ctx, conn, raw)
	}
}

func (m *Manager) handleMessage(ctx context.Context, conn *websocket.Conn, raw []byte) {
	cmd, err := core.ParseCommand(raw, core.SourceRemote)
	if err != nil {
		// The server also sends informational text on this channel.
		log.Info().Str("text", string(raw)).Msg("received non-command message")
		return
	}

	reply := make(chan core.Outcome, 1)
	cmd.Reply = reply

	select {
	case m.commands <- cmd:
	case <-ctx.Done():
		return
	}

	var outcome core.Outcome
	select {
	case outcome = <-reply:
	case <-time.After(10 * time.Second):
		outcome = core.Outcome{ID: cmd.ID, Err: fmt.Errorf("command timed out")}
	case <-ctx.Done():
		return
	}

	ack := map[string]interface{}{"id": outcome.ID}
	if outcome.Applied() {
		ack["status"] = "applied"
		ack["generation"] = outcome.Generation
	} else {
		ack["status"] = "rejected"
		ack["error"] = outcome.Err.Error()
	}
	if err := conn.WriteJSON(ack); err != nil {
		log.Warn().Err(err).Msg("failed to send command ack")
	}
}

// login exchanges the configured credentials for an access token.
func (m *Manager) login(ctx context.Context) (string, error) {
	url := fmt.Sprintf("https://%s:%d/api/token", m.cfg.Host, m.cfg.AppPort)
	body, _ := json.Marshal(map[string]string{
		"username": m.cfg.Username,
		"password": m.cfg.Password,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, msg)
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Token == "" {
		return "", fmt.Errorf("token endpoint returned an empty token")
	}
	return payload.Token, nil
}
