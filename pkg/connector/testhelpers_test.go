// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package connector

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"maunium.net/go/mautrix/bridgev2/status"

	"github.com/aiku/philia-icqq/pkg/icqq"
	"github.com/aiku/philia-icqq/pkg/philia"
)

const testUIN = 123456

type sentMessage struct {
	Chat     icqq.Chat
	Elements []icqq.Element
}

type sentFile struct {
	Chat icqq.Chat
	File string
	Name string
}

// fakeClient is a scripted icqq.Client. It records the calls it receives.
type fakeClient struct {
	mu    sync.Mutex
	calls []string

	events chan *icqq.Event

	// QRCodes is the retcode sequence returned by QueryQRCodeResult. Past
	// its end the client keeps answering "waiting".
	QRCodes []int
	qrPolls int
	QRErr   error

	Users     map[int64]*icqq.UserInfo
	Groups    map[int64]*icqq.GroupInfo
	Members   map[int64]*icqq.MemberInfo
	Messages  map[string]*icqq.Message
	History   []*icqq.Message
	Forwards  map[string][]*icqq.ForwardMessage
	SystemMsg []*icqq.Request
	FileURLs  map[string]string
	LookupErr error

	BoolResult bool
	SendErr    error

	Sent         []sentMessage
	Files        []sentFile
	ForwardNodes []icqq.Forwardable
	Tickets      []string
	SMSCodes     []string
	Requests     []string
}

var _ icqq.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		events:     make(chan *icqq.Event, 16),
		Users:      make(map[int64]*icqq.UserInfo),
		Groups:     make(map[int64]*icqq.GroupInfo),
		Members:    make(map[int64]*icqq.MemberInfo),
		Messages:   make(map[string]*icqq.Message),
		Forwards:   make(map[string][]*icqq.ForwardMessage),
		FileURLs:   make(map[string]string),
		BoolResult: true,
	}
}

func (f *fakeClient) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

func (f *fakeClient) Called(name string) int {
	n := 0
	for _, c := range f.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

func (f *fakeClient) Events() <-chan *icqq.Event { return f.events }
func (f *fakeClient) UIN() int64                  { return testUIN }

func (f *fakeClient) Login(context.Context) error  { f.record("Login"); return nil }
func (f *fakeClient) Logout(context.Context) error { f.record("Logout"); return nil }

func (f *fakeClient) QueryQRCodeResult(context.Context) (*icqq.QRCodeResult, error) {
	f.record("QueryQRCodeResult")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.qrPolls++
	if f.QRErr != nil && f.qrPolls == 1 {
		return nil, f.QRErr
	}
	idx := f.qrPolls - 1
	if f.QRErr != nil {
		idx--
	}
	if idx < len(f.QRCodes) {
		return &icqq.QRCodeResult{Retcode: f.QRCodes[idx]}, nil
	}
	return &icqq.QRCodeResult{Retcode: 48}, nil
}

func (f *fakeClient) QRCodeLogin(context.Context) error { f.record("QRCodeLogin"); return nil }

func (f *fakeClient) SubmitSlider(_ context.Context, ticket string) error {
	f.record("SubmitSlider")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tickets = append(f.Tickets, ticket)
	return nil
}

func (f *fakeClient) SendSMSCode(context.Context) error { f.record("SendSMSCode"); return nil }

func (f *fakeClient) SubmitSMSCode(_ context.Context, code string) error {
	f.record("SubmitSMSCode")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SMSCodes = append(f.SMSCodes, code)
	return nil
}

func (f *fakeClient) GetSelfInfo(context.Context) (*icqq.UserInfo, error) {
	f.record("GetSelfInfo")
	return &icqq.UserInfo{UserID: testUIN, Nickname: "Self"}, nil
}

func (f *fakeClient) GetUserInfo(_ context.Context, userID int64) (*icqq.UserInfo, error) {
	f.record("GetUserInfo")
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	return f.Users[userID], nil
}

func (f *fakeClient) GetGroupInfo(_ context.Context, groupID int64, _ bool) (*icqq.GroupInfo, error) {
	f.record("GetGroupInfo")
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	return f.Groups[groupID], nil
}

func (f *fakeClient) GetGroupMemberInfo(_ context.Context, _, userID int64, _ bool) (*icqq.MemberInfo, error) {
	f.record("GetGroupMemberInfo")
	if f.LookupErr != nil {
		return nil, f.LookupErr
	}
	return f.Members[userID], nil
}

func (f *fakeClient) GetGroupChatHistory(context.Context, int64, int64, int) ([]*icqq.Message, error) {
	f.record("GetGroupChatHistory")
	return f.History, nil
}

func (f *fakeClient) GetFriendChatHistory(context.Context, int64, int64, int) ([]*icqq.Message, error) {
	f.record("GetFriendChatHistory")
	return f.History, nil
}

func (f *fakeClient) GetChatHistory(context.Context, string, int) ([]*icqq.Message, error) {
	f.record("GetChatHistory")
	return f.History, nil
}

func (f *fakeClient) GetMsg(_ context.Context, id string) (*icqq.Message, error) {
	f.record("GetMsg")
	return f.Messages[id], nil
}

func (f *fakeClient) GetForwardMsg(_ context.Context, resID string) ([]*icqq.ForwardMessage, error) {
	f.record("GetForwardMsg")
	return f.Forwards[resID], nil
}

func (f *fakeClient) GetSystemMsg(context.Context) ([]*icqq.Request, error) {
	f.record("GetSystemMsg")
	return f.SystemMsg, nil
}

func (f *fakeClient) GetFileURL(_ context.Context, _ icqq.Chat, fid string) (string, error) {
	f.record("GetFileURL")
	return f.FileURLs[fid], nil
}

func (f *fakeClient) SendMsg(_ context.Context, chat icqq.Chat, elements []icqq.Element) (*icqq.SendResult, error) {
	f.record("SendMsg")
	if f.SendErr != nil {
		return nil, f.SendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Sent = append(f.Sent, sentMessage{Chat: chat, Elements: elements})
	return &icqq.SendResult{MessageID: "sent-id", Time: 1700000000}, nil
}

func (f *fakeClient) MakeForwardMsg(_ context.Context, _ icqq.Chat, nodes []icqq.Forwardable) (*icqq.Element, error) {
	f.record("MakeForwardMsg")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ForwardNodes = nodes
	return &icqq.Element{Type: "json", Raw: []byte(`{"type":"json","data":"forward"}`)}, nil
}

func (f *fakeClient) SendFile(_ context.Context, chat icqq.Chat, file, name string) (string, error) {
	f.record("SendFile")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Files = append(f.Files, sentFile{Chat: chat, File: file, Name: name})
	return "fid-" + name, nil
}

func (f *fakeClient) boolCall(name, arg string) (bool, error) {
	f.record(name)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Requests = append(f.Requests, arg)
	return f.BoolResult, nil
}

func (f *fakeClient) DeleteMsg(_ context.Context, id string) (bool, error) {
	return f.boolCall("DeleteMsg", id)
}

func (f *fakeClient) SetFriendAddRequest(_ context.Context, flag string, _ bool) (bool, error) {
	return f.boolCall("SetFriendAddRequest", flag)
}

func (f *fakeClient) SetGroupAddRequest(_ context.Context, flag string, _ bool, reason string) (bool, error) {
	return f.boolCall("SetGroupAddRequest", flag+"/"+reason)
}

func (f *fakeClient) DeleteFriend(_ context.Context, userID int64, _ bool) (bool, error) {
	return f.boolCall("DeleteFriend", MakeID(userID))
}

func (f *fakeClient) KickGroupMember(_ context.Context, groupID, userID int64, _ bool) (bool, error) {
	return f.boolCall("KickGroupMember", MakeID(groupID)+"/"+MakeID(userID))
}

// mockOperator answers prompts from a queue. With an empty queue Await
// blocks until the context is done.
type mockOperator struct {
	mu      sync.Mutex
	answers []string
	notices []*Notice
	prompts []*Notice
}

var _ Operator = (*mockOperator)(nil)

func newMockOperator(answers ...string) *mockOperator {
	return &mockOperator{answers: answers}
}

func (m *mockOperator) Notify(_ context.Context, n *Notice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, n)
}

func (m *mockOperator) Await(ctx context.Context, n *Notice) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, n)
	if len(m.answers) > 0 {
		answer := m.answers[0]
		m.answers = m.answers[1:]
		m.mu.Unlock()
		return answer, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return "", ctx.Err()
}

func (m *mockOperator) Notices() []*Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.notices)
}

func (m *mockOperator) Prompts() []*Notice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.prompts)
}

// LastNotice returns the message of the most recent notice.
func (m *mockOperator) LastNotice() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.notices) == 0 {
		return ""
	}
	return m.notices[len(m.notices)-1].Message
}

// mockEndpoint captures handled events for test assertions.
type mockEndpoint struct {
	mu      sync.Mutex
	events  []philia.Event
	started int
	stopped int
}

var _ philia.Endpoint = (*mockEndpoint)(nil)

func (m *mockEndpoint) Handle(_ context.Context, evt philia.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
}

func (m *mockEndpoint) Start(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started++
	return nil
}

func (m *mockEndpoint) Stop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped++
	return nil
}

func (m *mockEndpoint) Events() []philia.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.events)
}

func (m *mockEndpoint) Counts() (started, stopped int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started, m.stopped
}

// stateRecorder collects reported bridge states.
type stateRecorder struct {
	mu     sync.Mutex
	states []status.BridgeState
}

func (s *stateRecorder) report(state status.BridgeState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, state)
}

func (s *stateRecorder) Last() status.BridgeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.states) == 0 {
		return status.BridgeState{}
	}
	return s.states[len(s.states)-1]
}

func testOptions() LoginOptions {
	return LoginOptions{PollInterval: time.Millisecond, SliderAttempts: 60}
}

func newTestLogin(client *fakeClient, op *mockOperator, opts LoginOptions) (*LoginController, *mockEndpoint, *stateRecorder) {
	ep := &mockEndpoint{}
	rec := &stateRecorder{}
	return NewLoginController(client, op, ep, opts, rec.report, zerolog.Nop()), ep, rec
}

func newTestBridge(t testing.TB, client *fakeClient) (*Bridge, *mockEndpoint) {
	t.Helper()
	cfg := &Config{UIN: testUIN}
	if err := cfg.PostProcess(); err != nil {
		t.Fatalf("PostProcess: %v", err)
	}
	ep := &mockEndpoint{}
	return NewBridge(cfg, client, ep, newMockOperator(), zerolog.Nop()), ep
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

var errLookup = errors.New("lookup failed")
