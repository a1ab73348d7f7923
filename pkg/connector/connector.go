// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2/status"

	"github.com/aiku/philia-icqq/pkg/icqq"
	"github.com/aiku/philia-icqq/pkg/philia"
)

// eventHandler handles the raw payload of one client event.
type eventHandler func(ctx context.Context, payload json.RawMessage) error

// on adapts a typed handler to the subscription table.
func on[T any](fn func(ctx context.Context, evt *T) error) eventHandler {
	return func(ctx context.Context, payload json.RawMessage) error {
		var evt T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &evt); err != nil {
				return fmt.Errorf("failed to decode event payload: %w", err)
			}
		}
		return fn(ctx, &evt)
	}
}

// Bridge connects an ICQQ client to a Philia endpoint. It transcodes client
// events into Philia events, serves Philia commands with client calls and
// drives the login challenges.
type Bridge struct {
	Config   *Config
	Client   icqq.Client
	Endpoint philia.Endpoint
	Operator Operator
	Log      zerolog.Logger

	login         *LoginController
	subscriptions map[string]eventHandler

	stateMu sync.RWMutex
	state   status.BridgeState

	admin    *http.Server
	cancel   context.CancelFunc
	runDone  chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewBridge creates a bridge. cfg must have been post-processed.
func NewBridge(cfg *Config, client icqq.Client, endpoint philia.Endpoint, operator Operator, log zerolog.Logger) *Bridge {
	b := &Bridge{
		Config:   cfg,
		Client:   client,
		Endpoint: endpoint,
		Operator: operator,
		Log:      log.With().Str("component", "bridge").Int64("uin", client.UIN()).Logger(),
		state:    status.BridgeState{StateEvent: status.StateStarting},
	}
	b.login = NewLoginController(client, operator, endpoint, LoginOptions{
		SliderEndpoint: cfg.SliderEndpoint(),
		PollInterval:   cfg.PollDelay(),
		SliderAttempts: cfg.SliderAttempts,
	}, b.setState, b.Log)
	b.subscriptions = map[string]eventHandler{
		icqq.EventLoginQRCode: on(b.login.HandleQRCode),
		icqq.EventLoginSlider: on(b.login.HandleSlider),
		icqq.EventLoginDevice: on(b.login.HandleDevice),
		icqq.EventLoginAuth:   on(b.login.HandleAuth),
		icqq.EventLoginError:  on(b.login.HandleLoginError),
		icqq.EventOffline:     on(b.login.HandleOffline),
		icqq.EventOnline:      on(b.login.HandleOnline),

		icqq.EventPrivateMessage: on(b.handlePrivateMessage),
		icqq.EventGroupMessage:   on(b.handleGroupMessage),
		icqq.EventFriendRequest:  on(b.handleFriendRequest),
		icqq.EventGroupRequest:   on(b.handleGroupRequest),
	}
	return b
}

// Login returns the login controller.
func (b *Bridge) Login() *LoginController {
	return b.login
}

// Start begins consuming client events, starts the admin API if configured
// and asks the client to log in.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(b.Log.WithContext(ctx))
	b.runDone = make(chan struct{})
	go b.run(ctx)

	if addr := b.Config.AdminAPIAddr; addr != "" {
		apiOperator, _ := b.Operator.(*APIOperator)
		b.admin = newAdminServer(addr, NewAdminRouter(b, apiOperator, b.Log))
		go func() {
			b.Log.Info().Str("addr", addr).Msg("Starting bridge admin API")
			if err := b.admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.Log.Error().Err(err).Msg("Bridge admin API error")
			}
		}()
	}

	b.setState(status.BridgeState{StateEvent: status.StateConnecting})
	if err := b.Client.Login(ctx); err != nil {
		b.setState(status.BridgeState{
			StateEvent: status.StateUnknownError,
			Error:      "icqq-login-request-failed",
			Message:    err.Error(),
		})
		return fmt.Errorf("failed to start login: %w", err)
	}
	return nil
}

// Stop logs out, stops the Philia side and waits for running handlers.
func (b *Bridge) Stop(ctx context.Context) error {
	var errs []error
	b.stopOnce.Do(func() {
		if err := b.Client.Logout(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to log out: %w", err))
		}
		if err := b.Endpoint.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop philia endpoint: %w", err))
		}
		if b.admin != nil {
			if err := b.admin.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to stop admin API: %w", err))
			}
		}
		if b.cancel != nil {
			b.cancel()
			<-b.runDone
		}
		b.wg.Wait()
		b.setState(status.BridgeState{StateEvent: status.StateLoggedOut})
	})
	return errors.Join(errs...)
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.runDone)
	events := b.Client.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				b.Log.Warn().Msg("Client event stream closed")
				b.setState(status.BridgeState{
					StateEvent: status.StateTransientDisconnect,
					Error:      "icqq-disconnected",
					Message:    "Lost connection to the ICQQ client",
				})
				return
			}
			b.dispatch(ctx, evt)
		}
	}
}

// dispatch runs the subscribed handler for evt in its own goroutine.
func (b *Bridge) dispatch(ctx context.Context, evt *icqq.Event) {
	handler, ok := b.subscriptions[evt.Name]
	if !ok {
		b.Log.Trace().Str("event", evt.Name).Msg("Unhandled event")
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		log := b.Log.With().Str("event", evt.Name).Logger()
		start := time.Now()
		if err := handler(log.WithContext(ctx), evt.Payload); err != nil {
			log.Err(err).Msg("Failed to handle event")
			return
		}
		log.Trace().Dur("duration", time.Since(start)).Msg("Handled event")
	}()
}

func (b *Bridge) setState(state status.BridgeState) {
	b.stateMu.Lock()
	b.state = state
	b.stateMu.Unlock()
	b.Log.Debug().
		Str("state_event", string(state.StateEvent)).
		Str("error", string(state.Error)).
		Str("message", state.Message).
		Msg("Bridge state changed")
}

// State returns the last reported bridge state.
func (b *Bridge) State() status.BridgeState {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

func (b *Bridge) StateReport() *StateReport {
	return &StateReport{
		Bridge:    b.State(),
		Login:     b.login.State(),
		Challenge: b.login.Challenge(),
	}
}
