// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ticketSource yields the slider ticket once a solver has produced it.
// Ticket returns an empty string while the ticket is still pending.
type ticketSource interface {
	Ticket(ctx context.Context) (string, error)
	Close() error
}

// Relay frame types.
const (
	relayRegister = "register"
	relayTicket   = "ticket"
	relayHandle   = "handle"
)

func httpToWS(url string) string {
	if strings.HasPrefix(url, "https://") {
		return "wss://" + strings.TrimPrefix(url, "https://")
	}
	if strings.HasPrefix(url, "http://") {
		return "ws://" + strings.TrimPrefix(url, "http://")
	}
	return url
}

// relaySource receives the ticket over a websocket from a captcha relay. The
// relay may also ask the bridge to perform HTTP requests on its behalf with
// handle frames, which are answered on the same socket.
type relaySource struct {
	conn *websocket.Conn
	http *resty.Client
	log  zerolog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	ticket string
	err    error

	closeOnce sync.Once
}

var _ ticketSource = (*relaySource)(nil)

func dialRelay(ctx context.Context, endpoint, challengeURL string, httpc *resty.Client, log zerolog.Logger) (*relaySource, error) {
	wsURL := httpToWS(endpoint)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to slider relay: %w", err)
	}
	r := &relaySource{
		conn: conn,
		http: httpc,
		log:  log.With().Str("relay", wsURL).Logger(),
	}
	err = r.send(map[string]any{
		"type":    relayRegister,
		"payload": map[string]string{"url": challengeURL},
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to register with slider relay: %w", err)
	}
	go r.readLoop(ctx)
	return r, nil
}

func (r *relaySource) send(v any) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return r.conn.WriteJSON(v)
}

func (r *relaySource) sendRaw(data []byte) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return r.conn.WriteMessage(websocket.TextMessage, data)
}

// settle records the outcome of the session. Only the first outcome counts,
// so the read error caused by Close after a ticket leaves the ticket in
// place. A handle request still in flight when the session closes fails to
// send its echo and is only logged.
func (r *relaySource) settle(ticket string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ticket != "" || r.err != nil {
		return
	}
	r.ticket, r.err = ticket, err
}

func (r *relaySource) Ticket(_ context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ticket, r.err
}

func (r *relaySource) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.writeMu.Lock()
		_ = r.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		r.writeMu.Unlock()
		err = r.conn.Close()
	})
	return err
}

func (r *relaySource) readLoop(ctx context.Context) {
	for {
		_, data, err := r.conn.ReadMessage()
		if err != nil {
			r.log.Debug().Err(err).Msg("Slider relay connection closed")
			r.settle("", fmt.Errorf("%w: %w", ErrRelayClosed, err))
			_ = r.Close()
			return
		}
		r.handleFrame(ctx, data)
	}
}

func (r *relaySource) handleFrame(ctx context.Context, data []byte) {
	if !gjson.ValidBytes(data) {
		r.log.Warn().Bytes("frame", data).Msg("Dropping malformed slider relay frame")
		return
	}
	frame := gjson.ParseBytes(data)
	switch typ := frame.Get("type").String(); typ {
	case relayTicket:
		ticket := frame.Get("payload.ticket").String()
		if ticket == "" {
			r.log.Warn().RawJSON("frame", data).Msg("Dropping ticket frame without a ticket")
			return
		}
		r.log.Debug().Msg("Received slider ticket from relay")
		r.settle(ticket, nil)
		_ = r.Close()
	case relayHandle:
		go r.proxy(ctx, data)
	default:
		r.log.Info().Str("type", typ).RawJSON("frame", data).Msg("Unhandled slider relay frame")
	}
}

// proxy performs the HTTP request described by a handle frame and echoes the
// frame back with the response in place of the request.
func (r *relaySource) proxy(ctx context.Context, data []byte) {
	payload := gjson.GetBytes(data, "payload")
	target := payload.Get("url").String()
	if target == "" {
		r.log.Warn().RawJSON("frame", data).Msg("Dropping handle frame without an url")
		return
	}
	method := strings.ToUpper(payload.Get("method").String())
	if method == "" {
		method = http.MethodGet
	}
	req := r.http.R().SetContext(ctx)
	payload.Get("headers").ForEach(func(key, value gjson.Result) bool {
		req.SetHeader(key.String(), value.String())
		return true
	})
	if body := payload.Get("body"); body.Exists() {
		req.SetBody(body.String())
	}
	resp, err := req.Execute(method, target)
	if err != nil {
		r.log.Err(err).Str("method", method).Str("url", target).Msg("Failed to perform relayed request")
		return
	}
	headers := make(map[string]string, len(resp.Header()))
	for name, values := range resp.Header() {
		headers[strings.ToLower(name)] = strings.Join(values, ", ")
	}
	reply, err := sjson.SetBytes(data, "payload", map[string]any{
		"result":  base64.StdEncoding.EncodeToString(resp.Body()),
		"headers": headers,
	})
	if err != nil {
		r.log.Err(err).Msg("Failed to build handle reply")
		return
	}
	if err := r.sendRaw(reply); err != nil {
		r.log.Err(err).Msg("Failed to send handle reply")
	}
}

// pollSource registers the challenge with an HTTP endpoint and then probes
// it for the ticket.
type pollSource struct {
	http     *resty.Client
	endpoint string
	uin      int64
}

var _ ticketSource = (*pollSource)(nil)

func registerPoll(ctx context.Context, httpc *resty.Client, endpoint, challengeURL string, uin int64) (*pollSource, error) {
	resp, err := httpc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"url": challengeURL}).
		Post(endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to register slider challenge: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("failed to register slider challenge: %s", resp.Status())
	}
	return &pollSource{http: httpc, endpoint: endpoint, uin: uin}, nil
}

func (p *pollSource) Ticket(ctx context.Context) (string, error) {
	resp, err := p.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]int64{"submit": p.uin}).
		Post(p.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to probe slider ticket: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("failed to probe slider ticket: %s", resp.Status())
	}
	return gjson.GetBytes(resp.Body(), "data.ticket").String(), nil
}

func (p *pollSource) Close() error { return nil }
