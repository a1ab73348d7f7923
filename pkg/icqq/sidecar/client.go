// Copyright 2024-2026 Aiku AI

// Package sidecar implements icqq.Client on top of a websocket connection to
// the process that runs the ICQQ protocol client.
//
// Calls are request frames answered by response frames with the same id.
// Client events arrive as event frames and are delivered on Events.
package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"

	"github.com/aiku/philia-icqq/pkg/icqq"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	maxFrameSize = 16 << 20
	eventBuffer  = 64
)

// Options configure the sidecar connection and the account it logs in.
type Options struct {
	URL      string
	UIN      int64
	Password string
	Platform int
	DataDir  string
}

// Client is an icqq.Client backed by the sidecar.
type Client struct {
	conn *websocket.Conn
	opts Options
	log  zerolog.Logger

	pending *exsync.Map[string, chan *frame]
	send    chan []byte
	events  chan *icqq.Event
	done    chan struct{}

	closeOnce sync.Once
}

var _ icqq.Client = (*Client)(nil)

// Dial connects to the sidecar and hands it the account options. The
// returned client is ready for Login.
func Dial(ctx context.Context, opts Options, log zerolog.Logger) (*Client, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to sidecar: %w", err)
	}
	c := &Client{
		conn:    conn,
		opts:    opts,
		log:     log.With().Str("component", "sidecar").Logger(),
		pending: exsync.NewMap[string, chan *frame](),
		send:    make(chan []byte, 16),
		events:  make(chan *icqq.Event, eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readPump()
	go c.writePump()

	err = c.call(ctx, actionInit, map[string]any{
		"uin":      opts.UIN,
		"password": opts.Password,
		"platform": opts.Platform,
		"data_dir": opts.DataDir,
	}, nil)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to initialize sidecar: %w", err)
	}
	c.log.Info().Str("url", opts.URL).Int64("uin", opts.UIN).Msg("Connected to sidecar")
	return c, nil
}

// Close closes the connection. Pending calls fail with ErrClosed and the
// event channel is closed once the read loop exits.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Client) Events() <-chan *icqq.Event { return c.events }
func (c *Client) UIN() int64                  { return c.opts.UIN }

func (c *Client) readPump() {
	defer func() {
		_ = c.Close()
		close(c.events)
	}()
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Warn().Err(err).Msg("Sidecar connection lost")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.log.Warn().Err(err).Msg("Dropping malformed sidecar frame")
		return
	}
	switch f.Type {
	case frameResponse:
		ch, ok := c.pending.Get(f.ID)
		if !ok {
			c.log.Debug().Str("id", f.ID).Msg("Dropping response to unknown call")
			return
		}
		c.pending.Delete(f.ID)
		ch <- &f
	case frameEvent:
		evt := &icqq.Event{Name: f.Event, Payload: f.Payload}
		select {
		case c.events <- evt:
		case <-c.done:
		}
	default:
		c.log.Debug().Str("type", f.Type).Msg("Unknown sidecar frame type")
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn().Err(err).Msg("Failed to write to sidecar")
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		}
	}
}

// call sends a request and decodes the response data into out, which may be
// nil when the result is not needed.
func (c *Client) call(ctx context.Context, action string, params, out any) error {
	id := uuid.NewString()
	data, err := json.Marshal(&request{Type: frameRequest, ID: id, Action: action, Params: params})
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", action, err)
	}
	ch := make(chan *frame, 1)
	c.pending.Set(id, ch)
	defer c.pending.Delete(id)

	select {
	case c.send <- data:
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case f := <-ch:
		if err := f.err(); err != nil {
			return fmt.Errorf("%s: %w", action, err)
		}
		if out == nil || len(f.Data) == 0 {
			return nil
		}
		if err := json.Unmarshal(f.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", action, err)
		}
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// callResult is call for actions with a result.
func callResult[T any](ctx context.Context, c *Client, action string, params any) (T, error) {
	var out T
	err := c.call(ctx, action, params, &out)
	return out, err
}

func (c *Client) Login(ctx context.Context) error {
	return c.call(ctx, actionLogin, map[string]any{"password": c.opts.Password}, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, actionLogout, nil, nil)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (c *Client) QueryQRCodeResult(ctx context.Context) (*icqq.QRCodeResult, error) {
	return callResult[*icqq.QRCodeResult](ctx, c, actionQueryQRCodeResult, nil)
}

func (c *Client) QRCodeLogin(ctx context.Context) error {
	return c.call(ctx, actionQRCodeLogin, nil, nil)
}

func (c *Client) SubmitSlider(ctx context.Context, ticket string) error {
	return c.call(ctx, actionSubmitSlider, map[string]any{"ticket": ticket}, nil)
}

func (c *Client) SendSMSCode(ctx context.Context) error {
	return c.call(ctx, actionSendSMSCode, nil, nil)
}

func (c *Client) SubmitSMSCode(ctx context.Context, code string) error {
	return c.call(ctx, actionSubmitSMSCode, map[string]any{"code": code}, nil)
}

func (c *Client) GetSelfInfo(ctx context.Context) (*icqq.UserInfo, error) {
	return callResult[*icqq.UserInfo](ctx, c, actionGetSelfInfo, nil)
}

func (c *Client) GetUserInfo(ctx context.Context, userID int64) (*icqq.UserInfo, error) {
	return callResult[*icqq.UserInfo](ctx, c, actionGetUserInfo, map[string]any{"user_id": userID})
}

func (c *Client) GetGroupInfo(ctx context.Context, groupID int64, refresh bool) (*icqq.GroupInfo, error) {
	return callResult[*icqq.GroupInfo](ctx, c, actionGetGroupInfo, map[string]any{
		"group_id": groupID,
		"refresh":  refresh,
	})
}

func (c *Client) GetGroupMemberInfo(ctx context.Context, groupID, userID int64, refresh bool) (*icqq.MemberInfo, error) {
	return callResult[*icqq.MemberInfo](ctx, c, actionGetGroupMemberInfo, map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"refresh":  refresh,
	})
}

func (c *Client) GetGroupChatHistory(ctx context.Context, groupID, seq int64, count int) ([]*icqq.Message, error) {
	return callResult[[]*icqq.Message](ctx, c, actionGetGroupChatHistory, map[string]any{
		"group_id": groupID,
		"seq":      seq,
		"count":    count,
	})
}

func (c *Client) GetFriendChatHistory(ctx context.Context, userID, time int64, count int) ([]*icqq.Message, error) {
	return callResult[[]*icqq.Message](ctx, c, actionGetFriendChatHistory, map[string]any{
		"user_id": userID,
		"time":    time,
		"count":   count,
	})
}

func (c *Client) GetChatHistory(ctx context.Context, messageID string, count int) ([]*icqq.Message, error) {
	return callResult[[]*icqq.Message](ctx, c, actionGetChatHistory, map[string]any{
		"message_id": messageID,
		"count":      count,
	})
}

func (c *Client) GetMsg(ctx context.Context, messageID string) (*icqq.Message, error) {
	return callResult[*icqq.Message](ctx, c, actionGetMsg, map[string]any{"message_id": messageID})
}

func (c *Client) GetForwardMsg(ctx context.Context, resID string) ([]*icqq.ForwardMessage, error) {
	return callResult[[]*icqq.ForwardMessage](ctx, c, actionGetForwardMsg, map[string]any{"res_id": resID})
}

func (c *Client) GetSystemMsg(ctx context.Context) ([]*icqq.Request, error) {
	return callResult[[]*icqq.Request](ctx, c, actionGetSystemMsg, nil)
}

func (c *Client) GetFileURL(ctx context.Context, chat icqq.Chat, fid string) (string, error) {
	return callResult[string](ctx, c, actionGetFileURL, map[string]any{"chat": chat, "fid": fid})
}

func (c *Client) SendMsg(ctx context.Context, chat icqq.Chat, elements []icqq.Element) (*icqq.SendResult, error) {
	return callResult[*icqq.SendResult](ctx, c, actionSendMsg, map[string]any{"chat": chat, "message": elements})
}

func (c *Client) MakeForwardMsg(ctx context.Context, chat icqq.Chat, nodes []icqq.Forwardable) (*icqq.Element, error) {
	return callResult[*icqq.Element](ctx, c, actionMakeForwardMsg, map[string]any{"chat": chat, "nodes": nodes})
}

func (c *Client) SendFile(ctx context.Context, chat icqq.Chat, file, name string) (string, error) {
	return callResult[string](ctx, c, actionSendFile, map[string]any{"chat": chat, "file": file, "name": name})
}

func (c *Client) DeleteMsg(ctx context.Context, messageID string) (bool, error) {
	return callResult[bool](ctx, c, actionDeleteMsg, map[string]any{"message_id": messageID})
}

func (c *Client) SetFriendAddRequest(ctx context.Context, flag string, approve bool) (bool, error) {
	return callResult[bool](ctx, c, actionSetFriendAddRequest, map[string]any{"flag": flag, "approve": approve})
}

func (c *Client) SetGroupAddRequest(ctx context.Context, flag string, approve bool, reason string) (bool, error) {
	return callResult[bool](ctx, c, actionSetGroupAddRequest, map[string]any{
		"flag":    flag,
		"approve": approve,
		"reason":  reason,
	})
}

func (c *Client) DeleteFriend(ctx context.Context, userID int64, block bool) (bool, error) {
	return callResult[bool](ctx, c, actionDeleteFriend, map[string]any{"user_id": userID, "block": block})
}

func (c *Client) KickGroupMember(ctx context.Context, groupID, userID int64, block bool) (bool, error) {
	return callResult[bool](ctx, c, actionKickGroupMember, map[string]any{
		"group_id": groupID,
		"user_id":  userID,
		"block":    block,
	})
}
