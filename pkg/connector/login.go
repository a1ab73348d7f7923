// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/jsontime"
	"maunium.net/go/mautrix/bridgev2"
	"maunium.net/go/mautrix/bridgev2/status"

	"github.com/aiku/philia-icqq/pkg/icqq"
	"github.com/aiku/philia-icqq/pkg/philia"
)

// LoginState is the state of the login state machine.
type LoginState string

const (
	StateIdle                 LoginState = "idle"
	StateAwaitingQRScan       LoginState = "awaiting_qr_scan"
	StateAwaitingSliderTicket LoginState = "awaiting_slider_ticket"
	StateAwaitingDeviceChoice LoginState = "awaiting_device_choice"
	StateAwaitingSMSCode      LoginState = "awaiting_sms_code"
	StateAwaitingExternalAuth LoginState = "awaiting_external_auth"
	StateLoggingIn            LoginState = "logging_in"
	StateOnline               LoginState = "online"
	StateOffline              LoginState = "offline"
	StateFailed               LoginState = "failed"
)

type ChallengeKind string

const (
	ChallengeQRCode ChallengeKind = "qrcode"
	ChallengeSlider ChallengeKind = "slider"
	ChallengeDevice ChallengeKind = "device"
	ChallengeAuth   ChallengeKind = "auth"
)

// SliderMode is how a slider ticket is obtained, chosen by the operator's
// first answer.
type SliderMode string

const (
	SliderRelay  SliderMode = "relay"
	SliderPoll   SliderMode = "poll"
	SliderManual SliderMode = "manual"
)

// Operator answers that select a slider mode or the SMS device check.
const (
	answerSliderRelay = "1"
	answerSliderPoll  = "2"
	answerDeviceSMS   = "1"
)

// Bridge state error codes reported for login failures.
const (
	errCodeLoginFailed status.BridgeStateErrorCode = "icqq-login-failed"
	errCodeLoginError  status.BridgeStateErrorCode = "icqq-login-error"
	errCodeOffline     status.BridgeStateErrorCode = "icqq-offline"
)

// ChallengeInfo describes the live challenge session.
type ChallengeInfo struct {
	ID      string        `json:"id"`
	Kind    ChallengeKind `json:"kind"`
	Mode    SliderMode    `json:"mode,omitempty"`
	Started jsontime.Unix `json:"started"`
}

type challengeSession struct {
	ChallengeInfo
}

// LoginOptions tunes the challenge loops.
type LoginOptions struct {
	// SliderEndpoint is the relay URL, with the account key already set.
	SliderEndpoint string
	PollInterval   time.Duration
	// SliderAttempts bounds the slider ticket poll. The QR poll is unbounded.
	SliderAttempts int
}

// LoginController drives the client's login challenges with the help of the
// operator. At most one challenge session is live at a time.
type LoginController struct {
	client   icqq.Client
	operator Operator
	endpoint philia.Endpoint
	http     *resty.Client
	opts     LoginOptions
	report   func(status.BridgeState)
	log      zerolog.Logger

	mu     sync.Mutex
	state  LoginState
	active *challengeSession
}

func NewLoginController(
	client icqq.Client,
	operator Operator,
	endpoint philia.Endpoint,
	opts LoginOptions,
	report func(status.BridgeState),
	log zerolog.Logger,
) *LoginController {
	if report == nil {
		report = func(status.BridgeState) {}
	}
	return &LoginController{
		client:   client,
		operator: operator,
		endpoint: endpoint,
		http:     resty.New().SetTimeout(30 * time.Second),
		opts:     opts,
		report:   report,
		log:      log.With().Str("component", "login").Logger(),
		state:    StateIdle,
	}
}

func (lc *LoginController) State() LoginState {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.state
}

// Challenge returns the live challenge, or nil.
func (lc *LoginController) Challenge() *ChallengeInfo {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.active == nil {
		return nil
	}
	info := lc.active.ChallengeInfo
	return &info
}

func (lc *LoginController) setState(state LoginState) {
	lc.mu.Lock()
	lc.state = state
	lc.mu.Unlock()
}

func (lc *LoginController) begin(ctx context.Context, kind ChallengeKind, state LoginState) (*challengeSession, error) {
	lc.mu.Lock()
	if lc.active != nil {
		active := lc.active.ChallengeInfo
		lc.mu.Unlock()
		lc.log.Warn().
			Str("kind", string(kind)).
			Str("active_kind", string(active.Kind)).
			Str("active_id", active.ID).
			Msg("Rejecting login challenge while another is in progress")
		lc.operator.Notify(ctx, &Notice{
			Title:   "Login",
			Message: fmt.Sprintf("Ignored %s challenge: a %s challenge is still in progress", kind, active.Kind),
		})
		return nil, ErrChallengeActive
	}
	sess := &challengeSession{ChallengeInfo{ID: uuid.NewString(), Kind: kind, Started: jsontime.UnixNow()}}
	lc.active = sess
	lc.state = state
	lc.mu.Unlock()
	lc.log.Info().Str("challenge_id", sess.ID).Str("kind", string(kind)).Msg("Login challenge started")
	return sess, nil
}

// update changes the state or slider mode of a session that is still live.
func (lc *LoginController) update(sess *challengeSession, state LoginState, mode SliderMode) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.active != sess {
		return
	}
	lc.state = state
	if mode != "" {
		sess.Mode = mode
	}
}

// finish ends a session. It runs before the resolving submit call, since the
// client may answer that call with the next challenge.
func (lc *LoginController) finish(sess *challengeSession, next LoginState) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if lc.active == sess {
		lc.active = nil
	}
	lc.state = next
	lc.log.Debug().Str("challenge_id", sess.ID).Str("state", string(next)).Msg("Login challenge finished")
}

func (lc *LoginController) fail(ctx context.Context, sess *challengeSession, message string, err error) error {
	lc.finish(sess, StateFailed)
	lc.operator.Notify(ctx, &Notice{Title: "Login error", Message: message})
	lc.report(status.BridgeState{StateEvent: status.StateBadCredentials, Error: errCodeLoginFailed, Message: message})
	lc.log.Err(err).Str("challenge_id", sess.ID).Msg("Login challenge failed")
	return err
}

// abort ends a session whose wait was cancelled.
func (lc *LoginController) abort(sess *challengeSession, err error) error {
	lc.finish(sess, StateIdle)
	lc.log.Debug().Err(err).Str("challenge_id", sess.ID).Msg("Login challenge aborted")
	return err
}

func (lc *LoginController) wait(ctx context.Context, sess *challengeSession, n *Notice) (string, error) {
	answer, err := lc.operator.Await(ctx, n)
	if err != nil {
		if ctx.Err() != nil {
			return "", lc.abort(sess, err)
		}
		return "", lc.fail(ctx, sess, "No answer from the operator", fmt.Errorf("failed to read operator answer: %w", err))
	}
	return answer, nil
}

func qrStep(image []byte) *bridgev2.LoginStep {
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeDisplayAndWait,
		StepID:       "com.aiku.icqq.login.qr",
		Instructions: "Scan the QR code with the QQ mobile app and confirm the login",
		DisplayAndWaitParams: &bridgev2.LoginDisplayAndWaitParams{
			Type:     bridgev2.LoginDisplayTypeNothing,
			ImageURL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(image),
		},
	}
}

func inputStep(stepID, instructions string, fields ...bridgev2.LoginInputDataField) *bridgev2.LoginStep {
	return &bridgev2.LoginStep{
		Type:         bridgev2.LoginStepTypeUserInput,
		StepID:       stepID,
		Instructions: instructions,
		UserInputParams: &bridgev2.LoginUserInputParams{
			Fields: fields,
		},
	}
}

// HandleQRCode shows the QR code and polls for the scan result until it is
// confirmed, expired or cancelled.
func (lc *LoginController) HandleQRCode(ctx context.Context, evt *icqq.QRCodeEvent) error {
	sess, err := lc.begin(ctx, ChallengeQRCode, StateAwaitingQRScan)
	if err != nil {
		return err
	}
	lc.operator.Notify(ctx, &Notice{
		Title:   "QR code login",
		Message: "Scan the QR code with the QQ mobile app",
		Image:   evt.Image,
		Step:    qrStep(evt.Image),
	})
	retcode, err := Poll(ctx, PollSpec{Interval: lc.opts.PollInterval}, func(ctx context.Context) (int, bool, error) {
		res, err := lc.client.QueryQRCodeResult(ctx)
		if err != nil {
			lc.log.Warn().Err(err).Msg("Failed to query QR code result")
			return 0, false, nil
		}
		switch res.Retcode {
		case icqq.QRCodeConfirmed, icqq.QRCodeExpired, icqq.QRCodeCancelled:
			return res.Retcode, true, nil
		}
		return 0, false, nil
	})
	if err != nil {
		return lc.abort(sess, err)
	}
	switch retcode {
	case icqq.QRCodeExpired:
		return lc.fail(ctx, sess, "QR code expired", ErrQRExpired)
	case icqq.QRCodeCancelled:
		return lc.fail(ctx, sess, "QR code login cancelled", ErrQRCancelled)
	}
	lc.finish(sess, StateLoggingIn)
	if err := lc.client.QRCodeLogin(ctx); err != nil {
		return fmt.Errorf("failed to log in with QR code: %w", err)
	}
	return nil
}

// HandleSlider asks the operator how to solve the slider captcha, then
// submits the ticket.
func (lc *LoginController) HandleSlider(ctx context.Context, evt *icqq.SliderEvent) error {
	sess, err := lc.begin(ctx, ChallengeSlider, StateAwaitingSliderTicket)
	if err != nil {
		return err
	}
	answer, err := lc.wait(ctx, sess, &Notice{
		Title: "Slider captcha",
		Message: "Reply 1 to solve the captcha through the relay websocket, 2 to solve it through the relay web page, " +
			"or paste a ticket solved at:\n" + evt.URL,
		Step: inputStep("com.aiku.icqq.login.slider", "Choose a slider mode or paste the ticket",
			bridgev2.LoginInputDataField{Type: bridgev2.LoginInputFieldTypeToken, ID: "ticket", Name: "Mode or ticket"}),
	})
	if err != nil {
		return err
	}

	var src ticketSource
	switch answer {
	case answerSliderRelay:
		lc.update(sess, StateAwaitingSliderTicket, SliderRelay)
		src, err = dialRelay(ctx, lc.opts.SliderEndpoint, evt.URL, lc.http, lc.log)
	case answerSliderPoll:
		lc.update(sess, StateAwaitingSliderTicket, SliderPoll)
		src, err = registerPoll(ctx, lc.http, lc.opts.SliderEndpoint, evt.URL, lc.client.UIN())
	default:
		lc.update(sess, StateAwaitingSliderTicket, SliderManual)
		lc.finish(sess, StateLoggingIn)
		if err := lc.client.SubmitSlider(ctx, answer); err != nil {
			return fmt.Errorf("failed to submit slider ticket: %w", err)
		}
		return nil
	}
	if err != nil {
		return lc.fail(ctx, sess, "Slider captcha error", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			lc.log.Debug().Err(err).Msg("Failed to close slider ticket source")
		}
	}()
	lc.operator.Notify(ctx, &Notice{Title: "Slider captcha address", Message: lc.opts.SliderEndpoint})

	ticket, err := Poll(ctx, PollSpec{Interval: lc.opts.PollInterval, MaxAttempts: lc.opts.SliderAttempts},
		func(ctx context.Context) (string, bool, error) {
			ticket, err := src.Ticket(ctx)
			if err != nil {
				return "", false, err
			}
			return ticket, ticket != "", nil
		})
	switch {
	case errors.Is(err, ErrPollExhausted):
		return lc.fail(ctx, sess, "Slider captcha timed out", ErrSliderTimeout)
	case err != nil && ctx.Err() != nil:
		return lc.abort(sess, err)
	case err != nil:
		return lc.fail(ctx, sess, "Slider captcha error", err)
	}
	lc.finish(sess, StateLoggingIn)
	if err := lc.client.SubmitSlider(ctx, ticket); err != nil {
		return fmt.Errorf("failed to submit slider ticket: %w", err)
	}
	return nil
}

// HandleDevice lets the operator pass the device lock with an SMS code or
// by verifying on the phone.
func (lc *LoginController) HandleDevice(ctx context.Context, evt *icqq.DeviceEvent) error {
	sess, err := lc.begin(ctx, ChallengeDevice, StateAwaitingDeviceChoice)
	if err != nil {
		return err
	}
	answer, err := lc.wait(ctx, sess, &Notice{
		Title: "Device lock",
		Message: fmt.Sprintf("Reply 1 to receive an SMS code at %s, "+
			"or scan the QR code at the address below with the phone and reply anything else to continue:\n%s",
			evt.Phone, evt.URL),
		Step: inputStep("com.aiku.icqq.login.device", "Choose how to pass the device lock",
			bridgev2.LoginInputDataField{Type: bridgev2.LoginInputFieldTypeUsername, ID: "choice", Name: "Choice"}),
	})
	if err != nil {
		return err
	}
	if answer != answerDeviceSMS {
		lc.finish(sess, StateLoggingIn)
		if err := lc.client.Login(ctx); err != nil {
			return fmt.Errorf("failed to resume login: %w", err)
		}
		return nil
	}

	if err := lc.client.SendSMSCode(ctx); err != nil {
		return lc.fail(ctx, sess, "Failed to send SMS code", fmt.Errorf("failed to send SMS code: %w", err))
	}
	lc.update(sess, StateAwaitingSMSCode, "")
	code, err := lc.wait(ctx, sess, &Notice{
		Title:   "SMS code",
		Message: "Enter the SMS code sent to " + evt.Phone,
		Step: inputStep("com.aiku.icqq.login.sms", "Enter the SMS code",
			bridgev2.LoginInputDataField{Type: bridgev2.LoginInputFieldType2FACode, ID: "code", Name: "SMS code"}),
	})
	if err != nil {
		return err
	}
	lc.finish(sess, StateLoggingIn)
	if err := lc.client.SubmitSMSCode(ctx, code); err != nil {
		return fmt.Errorf("failed to submit SMS code: %w", err)
	}
	return nil
}

// HandleAuth waits for the operator to finish an external verification and
// resumes the login.
func (lc *LoginController) HandleAuth(ctx context.Context, evt *icqq.AuthEvent) error {
	sess, err := lc.begin(ctx, ChallengeAuth, StateAwaitingExternalAuth)
	if err != nil {
		return err
	}
	_, err = lc.wait(ctx, sess, &Notice{
		Title:   "Identity verification",
		Message: "Complete the verification at the address below, then reply to continue:\n" + evt.URL,
		Step: inputStep("com.aiku.icqq.login.auth", "Reply once the verification is done",
			bridgev2.LoginInputDataField{Type: bridgev2.LoginInputFieldTypeUsername, ID: "ack", Name: "Done"}),
	})
	if err != nil {
		return err
	}
	lc.finish(sess, StateLoggingIn)
	if err := lc.client.Login(ctx); err != nil {
		return fmt.Errorf("failed to resume login: %w", err)
	}
	return nil
}

func (lc *LoginController) HandleLoginError(ctx context.Context, evt *icqq.LoginErrorEvent) error {
	message := fmt.Sprintf("%s(%d)", evt.Message, evt.Code)
	lc.setState(StateFailed)
	lc.operator.Notify(ctx, &Notice{Title: "Login error", Message: message})
	lc.report(status.BridgeState{StateEvent: status.StateBadCredentials, Error: errCodeLoginError, Message: message})
	lc.log.Error().Int("code", evt.Code).Str("message", evt.Message).Msg("Login error")
	return nil
}

// HandleOffline stops the Philia side. A pending challenge is left alone.
func (lc *LoginController) HandleOffline(ctx context.Context, evt *icqq.OfflineEvent) error {
	lc.setState(StateOffline)
	lc.operator.Notify(ctx, &Notice{Title: "Offline", Message: evt.Message})
	lc.report(status.BridgeState{StateEvent: status.StateTransientDisconnect, Error: errCodeOffline, Message: evt.Message})
	lc.log.Warn().Str("message", evt.Message).Msg("Account went offline")
	if err := lc.endpoint.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop philia endpoint: %w", err)
	}
	return nil
}

func (lc *LoginController) HandleOnline(ctx context.Context, _ *icqq.OnlineEvent) error {
	lc.setState(StateOnline)
	lc.report(status.BridgeState{StateEvent: status.StateConnected})
	lc.log.Info().Int64("uin", lc.client.UIN()).Msg("Account online")
	if err := lc.endpoint.Start(ctx); err != nil {
		return fmt.Errorf("failed to start philia endpoint: %w", err)
	}
	return nil
}
