// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"maunium.net/go/mautrix/bridgev2/status"

	"github.com/aiku/philia-icqq/pkg/icqq"
)

func TestHandleQRCodeExpired(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.QRCodes = []int{48, 48, icqq.QRCodeExpired}
	op := newMockOperator()
	lc, _, rec := newTestLogin(client, op, testOptions())

	err := lc.HandleQRCode(context.Background(), &icqq.QRCodeEvent{Image: []byte{0x89, 'P', 'N', 'G'}})
	if !errors.Is(err, ErrQRExpired) {
		t.Fatalf("got %v, want ErrQRExpired", err)
	}
	if n := client.Called("QueryQRCodeResult"); n != 3 {
		t.Errorf("QueryQRCodeResult calls: got %d, want 3", n)
	}
	if n := client.Called("QRCodeLogin"); n != 0 {
		t.Errorf("QRCodeLogin calls: got %d, want 0", n)
	}
	if got := lc.State(); got != StateFailed {
		t.Errorf("State: got %q, want %q", got, StateFailed)
	}
	if got := op.LastNotice(); got != "QR code expired" {
		t.Errorf("last notice: got %q, want %q", got, "QR code expired")
	}
	if got := rec.Last().StateEvent; got != status.StateBadCredentials {
		t.Errorf("reported state: got %q, want %q", got, status.StateBadCredentials)
	}
	notices := op.Notices()
	if len(notices) == 0 || len(notices[0].Image) == 0 || notices[0].Step == nil {
		t.Fatalf("first notice does not carry the QR code: %+v", notices)
	}
	if !strings.HasPrefix(notices[0].Step.DisplayAndWaitParams.ImageURL, "data:image/png;base64,") {
		t.Errorf("ImageURL: got %q", notices[0].Step.DisplayAndWaitParams.ImageURL)
	}
}

func TestHandleQRCodeConfirmed(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.QRErr = errors.New("busy")
	client.QRCodes = []int{48, icqq.QRCodeConfirmed}
	lc, _, _ := newTestLogin(client, newMockOperator(), testOptions())

	if err := lc.HandleQRCode(context.Background(), &icqq.QRCodeEvent{}); err != nil {
		t.Fatalf("HandleQRCode: %v", err)
	}
	if n := client.Called("QueryQRCodeResult"); n != 3 {
		t.Errorf("QueryQRCodeResult calls: got %d, want 3", n)
	}
	if n := client.Called("QRCodeLogin"); n != 1 {
		t.Errorf("QRCodeLogin calls: got %d, want 1", n)
	}
	if got := lc.State(); got != StateLoggingIn {
		t.Errorf("State: got %q, want %q", got, StateLoggingIn)
	}
	if lc.Challenge() != nil {
		t.Error("challenge still live after confirmation")
	}
}

func TestHandleQRCodeCancelled(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	client.QRCodes = []int{icqq.QRCodeCancelled}
	op := newMockOperator()
	lc, _, _ := newTestLogin(client, op, testOptions())

	err := lc.HandleQRCode(context.Background(), &icqq.QRCodeEvent{})
	if !errors.Is(err, ErrQRCancelled) {
		t.Fatalf("got %v, want ErrQRCancelled", err)
	}
	if got := op.LastNotice(); got != "QR code login cancelled" {
		t.Errorf("last notice: got %q", got)
	}
}

func TestHandleQRCodeContextCancelled(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	lc, _, _ := newTestLogin(client, newMockOperator(), testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.HandleQRCode(ctx, &icqq.QRCodeEvent{}) }()
	waitFor(t, "QR polling", func() bool { return client.Called("QueryQRCodeResult") > 2 })
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if got := lc.State(); got != StateIdle {
		t.Errorf("State: got %q, want %q", got, StateIdle)
	}
}

// pollServer is a slider endpoint for the poll mode. It hands out the ticket
// on the readyAt-th probe, or never when readyAt is zero.
type pollServer struct {
	*httptest.Server
	readyAt    int32
	probes     atomic.Int32
	registered atomic.Value
}

func newPollServer(t *testing.T, readyAt int32) *pollServer {
	t.Helper()
	ps := &pollServer{readyAt: readyAt}
	ps.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if url, ok := body["url"].(string); ok {
			ps.registered.Store(url + "|" + r.URL.Query().Get("key"))
			_, _ = w.Write([]byte(`{}`))
			return
		}
		n := ps.probes.Add(1)
		if ps.readyAt > 0 && n >= ps.readyAt {
			_, _ = w.Write([]byte(`{"data":{"ticket":"polled-ticket"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{}}`))
	}))
	t.Cleanup(ps.Close)
	return ps
}

func TestHandleSliderPoll(t *testing.T) {
	t.Parallel()
	ps := newPollServer(t, 5)
	client := newFakeClient()
	op := newMockOperator(answerSliderPoll)
	opts := testOptions()
	opts.SliderEndpoint = ps.URL + "/captcha/slider?key=123456"
	lc, _, _ := newTestLogin(client, op, opts)

	if err := lc.HandleSlider(context.Background(), &icqq.SliderEvent{URL: "https://captcha/slide"}); err != nil {
		t.Fatalf("HandleSlider: %v", err)
	}
	if got := ps.probes.Load(); got != 5 {
		t.Errorf("probes: got %d, want 5", got)
	}
	if got, _ := ps.registered.Load().(string); got != "https://captcha/slide|123456" {
		t.Errorf("registration: got %q", got)
	}
	if len(client.Tickets) != 1 || client.Tickets[0] != "polled-ticket" {
		t.Errorf("submitted tickets: got %v", client.Tickets)
	}
	if got := lc.State(); got != StateLoggingIn {
		t.Errorf("State: got %q, want %q", got, StateLoggingIn)
	}
	var sawAddress bool
	for _, n := range op.Notices() {
		if n.Message == opts.SliderEndpoint {
			sawAddress = true
		}
	}
	if !sawAddress {
		t.Error("slider address was not shown to the operator")
	}
}

func TestHandleSliderPollTimeout(t *testing.T) {
	t.Parallel()
	ps := newPollServer(t, 0)
	client := newFakeClient()
	op := newMockOperator(answerSliderPoll)
	opts := testOptions()
	opts.SliderEndpoint = ps.URL
	lc, _, _ := newTestLogin(client, op, opts)

	err := lc.HandleSlider(context.Background(), &icqq.SliderEvent{URL: "https://captcha/slide"})
	if !errors.Is(err, ErrSliderTimeout) {
		t.Fatalf("got %v, want ErrSliderTimeout", err)
	}
	if got := ps.probes.Load(); got != 60 {
		t.Errorf("probes: got %d, want 60", got)
	}
	time.Sleep(20 * time.Millisecond)
	if got := ps.probes.Load(); got != 60 {
		t.Errorf("probes after timeout: got %d, want 60", got)
	}
	if n := client.Called("SubmitSlider"); n != 0 {
		t.Errorf("SubmitSlider calls: got %d, want 0", n)
	}
	if got := op.LastNotice(); got != "Slider captcha timed out" {
		t.Errorf("last notice: got %q", got)
	}
}

func TestHandleSliderManual(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	lc, _, _ := newTestLogin(client, newMockOperator("t0ken"), testOptions())

	if err := lc.HandleSlider(context.Background(), &icqq.SliderEvent{URL: "https://captcha/slide"}); err != nil {
		t.Fatalf("HandleSlider: %v", err)
	}
	if len(client.Tickets) != 1 || client.Tickets[0] != "t0ken" {
		t.Errorf("submitted tickets: got %v", client.Tickets)
	}
}

func TestHandleSliderRelay(t *testing.T) {
	t.Parallel()
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Captcha", r.Header.Get("X-Probe"))
		_, _ = w.Write([]byte("pong"))
	}))
	t.Cleanup(target.Close)

	registered := make(chan string, 1)
	replies := make(chan []byte, 1)
	upgrader := websocket.Upgrader{}
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		registered <- gjson.GetBytes(data, "payload.url").String()
		handle := `{"type":"handle","id":"h1","payload":{"url":"` + target.URL + `","method":"get","headers":{"X-Probe":"abc"}}}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(handle)); err != nil {
			return
		}
		_, reply, err := conn.ReadMessage()
		if err != nil {
			return
		}
		replies <- reply
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"ticket","payload":{"ticket":"relay-ticket"}}`))
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(relay.Close)

	client := newFakeClient()
	opts := testOptions()
	opts.SliderEndpoint = relay.URL
	lc, _, _ := newTestLogin(client, newMockOperator(answerSliderRelay), opts)

	if err := lc.HandleSlider(context.Background(), &icqq.SliderEvent{URL: "https://captcha/slide"}); err != nil {
		t.Fatalf("HandleSlider: %v", err)
	}
	if got := <-registered; got != "https://captcha/slide" {
		t.Errorf("registered url: got %q", got)
	}
	reply := <-replies
	if got := gjson.GetBytes(reply, "id").String(); got != "h1" {
		t.Errorf("reply id: got %q, want %q", got, "h1")
	}
	body, err := base64.StdEncoding.DecodeString(gjson.GetBytes(reply, "payload.result").String())
	if err != nil || string(body) != "pong" {
		t.Errorf("reply body: got %q (%v), want %q", body, err, "pong")
	}
	if got := gjson.GetBytes(reply, "payload.headers.x-captcha").String(); got != "abc" {
		t.Errorf("reply header: got %q, want %q", got, "abc")
	}
	if len(client.Tickets) != 1 || client.Tickets[0] != "relay-ticket" {
		t.Errorf("submitted tickets: got %v", client.Tickets)
	}
}

func TestHandleSliderRelayClosed(t *testing.T) {
	t.Parallel()
	upgrader := websocket.Upgrader{}
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_, _, _ = conn.ReadMessage()
		_ = conn.Close()
	}))
	t.Cleanup(relay.Close)

	client := newFakeClient()
	op := newMockOperator(answerSliderRelay)
	opts := testOptions()
	opts.SliderEndpoint = relay.URL
	opts.SliderAttempts = 5000
	lc, _, _ := newTestLogin(client, op, opts)

	err := lc.HandleSlider(context.Background(), &icqq.SliderEvent{URL: "https://captcha/slide"})
	if !errors.Is(err, ErrRelayClosed) {
		t.Fatalf("got %v, want ErrRelayClosed", err)
	}
	if got := op.LastNotice(); got != "Slider captcha error" {
		t.Errorf("last notice: got %q", got)
	}
	if got := lc.State(); got != StateFailed {
		t.Errorf("State: got %q, want %q", got, StateFailed)
	}
}

func TestHandleDeviceSMS(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	op := newMockOperator(answerDeviceSMS, "654321")
	lc, _, _ := newTestLogin(client, op, testOptions())

	err := lc.HandleDevice(context.Background(), &icqq.DeviceEvent{URL: "https://verify", Phone: "138****0000"})
	if err != nil {
		t.Fatalf("HandleDevice: %v", err)
	}
	if n := client.Called("SendSMSCode"); n != 1 {
		t.Errorf("SendSMSCode calls: got %d, want 1", n)
	}
	if len(client.SMSCodes) != 1 || client.SMSCodes[0] != "654321" {
		t.Errorf("submitted codes: got %v", client.SMSCodes)
	}
	prompts := op.Prompts()
	if len(prompts) != 2 || prompts[1].Title != "SMS code" {
		t.Fatalf("prompts: got %+v", prompts)
	}
	if !strings.Contains(prompts[1].Message, "138****0000") {
		t.Errorf("SMS prompt does not name the phone: %q", prompts[1].Message)
	}
	if got := lc.State(); got != StateLoggingIn {
		t.Errorf("State: got %q, want %q", got, StateLoggingIn)
	}
}

func TestHandleDeviceResume(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	lc, _, _ := newTestLogin(client, newMockOperator("done"), testOptions())

	if err := lc.HandleDevice(context.Background(), &icqq.DeviceEvent{URL: "https://verify"}); err != nil {
		t.Fatalf("HandleDevice: %v", err)
	}
	if n := client.Called("SendSMSCode"); n != 0 {
		t.Errorf("SendSMSCode calls: got %d, want 0", n)
	}
	if n := client.Called("Login"); n != 1 {
		t.Errorf("Login calls: got %d, want 1", n)
	}
}

func TestHandleAuth(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	op := newMockOperator("ok")
	lc, _, _ := newTestLogin(client, op, testOptions())

	if err := lc.HandleAuth(context.Background(), &icqq.AuthEvent{URL: "https://auth"}); err != nil {
		t.Fatalf("HandleAuth: %v", err)
	}
	if n := client.Called("Login"); n != 1 {
		t.Errorf("Login calls: got %d, want 1", n)
	}
	if prompts := op.Prompts(); len(prompts) != 1 || !strings.Contains(prompts[0].Message, "https://auth") {
		t.Errorf("prompts: got %+v", prompts)
	}
}

func TestSecondChallengeRejected(t *testing.T) {
	t.Parallel()
	client := newFakeClient()
	op := newMockOperator()
	lc, _, _ := newTestLogin(client, op, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- lc.HandleSlider(ctx, &icqq.SliderEvent{URL: "https://captcha"}) }()
	waitFor(t, "slider prompt", func() bool { return len(op.Prompts()) == 1 })

	info := lc.Challenge()
	if info == nil || info.Kind != ChallengeSlider {
		t.Fatalf("Challenge: got %+v, want slider", info)
	}
	err := lc.HandleQRCode(context.Background(), &icqq.QRCodeEvent{})
	if !errors.Is(err, ErrChallengeActive) {
		t.Fatalf("got %v, want ErrChallengeActive", err)
	}
	if n := client.Called("QueryQRCodeResult"); n != 0 {
		t.Errorf("QueryQRCodeResult calls: got %d, want 0", n)
	}
	if got := op.LastNotice(); !strings.Contains(got, "still in progress") {
		t.Errorf("last notice: got %q", got)
	}
	if got := lc.Challenge(); got == nil || got.ID != info.ID {
		t.Errorf("live challenge changed: got %+v", got)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("slider: got %v, want context.Canceled", err)
	}
	if lc.Challenge() != nil {
		t.Error("challenge still live after cancellation")
	}
	if got := lc.State(); got != StateIdle {
		t.Errorf("State: got %q, want %q", got, StateIdle)
	}
}

func TestHandleLoginError(t *testing.T) {
	t.Parallel()
	op := newMockOperator()
	lc, _, rec := newTestLogin(newFakeClient(), op, testOptions())

	_ = lc.HandleLoginError(context.Background(), &icqq.LoginErrorEvent{Code: 1, Message: "wrong password"})
	if got := op.LastNotice(); got != "wrong password(1)" {
		t.Errorf("notice: got %q, want %q", got, "wrong password(1)")
	}
	if got := lc.State(); got != StateFailed {
		t.Errorf("State: got %q, want %q", got, StateFailed)
	}
	last := rec.Last()
	if last.StateEvent != status.StateBadCredentials || last.Error != errCodeLoginError {
		t.Errorf("reported state: got %+v", last)
	}
}

func TestOnlineOffline(t *testing.T) {
	t.Parallel()
	op := newMockOperator()
	lc, ep, rec := newTestLogin(newFakeClient(), op, testOptions())
	ctx := context.Background()

	if err := lc.HandleOnline(ctx, &icqq.OnlineEvent{}); err != nil {
		t.Fatalf("HandleOnline: %v", err)
	}
	if started, _ := ep.Counts(); started != 1 {
		t.Errorf("endpoint starts: got %d, want 1", started)
	}
	if got := rec.Last().StateEvent; got != status.StateConnected {
		t.Errorf("reported state: got %q, want %q", got, status.StateConnected)
	}
	if got := lc.State(); got != StateOnline {
		t.Errorf("State: got %q, want %q", got, StateOnline)
	}

	if err := lc.HandleOffline(ctx, &icqq.OfflineEvent{Message: "kicked by another device"}); err != nil {
		t.Fatalf("HandleOffline: %v", err)
	}
	if _, stopped := ep.Counts(); stopped != 1 {
		t.Errorf("endpoint stops: got %d, want 1", stopped)
	}
	if got := rec.Last().StateEvent; got != status.StateTransientDisconnect {
		t.Errorf("reported state: got %q, want %q", got, status.StateTransientDisconnect)
	}
	if got := op.LastNotice(); got != "kicked by another device" {
		t.Errorf("notice: got %q", got)
	}
	if got := lc.State(); got != StateOffline {
		t.Errorf("State: got %q, want %q", got, StateOffline)
	}
}

func TestOfflineDuringSliderPrompt(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })
	op := NewTerminalOperator(pr, io.Discard, t.TempDir(), zerolog.Nop())
	client := newFakeClient()
	ep := &mockEndpoint{}
	lc := NewLoginController(client, op, ep, testOptions(), nil, zerolog.Nop())

	sliderDone := make(chan error, 1)
	go func() {
		sliderDone <- lc.HandleSlider(context.Background(), &icqq.SliderEvent{URL: "https://captcha.example/slider"})
	}()
	waitFor(t, "slider challenge", func() bool { return lc.Challenge() != nil })

	offlineDone := make(chan error, 1)
	go func() {
		offlineDone <- lc.HandleOffline(context.Background(), &icqq.OfflineEvent{Message: "network lost"})
	}()
	select {
	case err := <-offlineDone:
		if err != nil {
			t.Fatalf("HandleOffline: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("HandleOffline blocked behind the slider prompt")
	}
	if _, stopped := ep.Counts(); stopped != 1 {
		t.Errorf("endpoint stops: got %d, want 1", stopped)
	}
	if got := lc.State(); got != StateOffline {
		t.Errorf("State: got %q, want %q", got, StateOffline)
	}
	if lc.Challenge() == nil {
		t.Error("pending slider challenge was cleared")
	}

	if _, err := io.WriteString(pw, "manual-ticket\n"); err != nil {
		t.Fatalf("write ticket: %v", err)
	}
	select {
	case err := <-sliderDone:
		if err != nil {
			t.Fatalf("HandleSlider: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("HandleSlider did not finish")
	}
	if len(client.Tickets) != 1 || client.Tickets[0] != "manual-ticket" {
		t.Errorf("submitted tickets: got %v", client.Tickets)
	}
}
