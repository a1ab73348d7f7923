// Copyright 2024-2026 Remi Philippe
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connector implements a bridge between an ICQQ client and the
// Philia unified messaging protocol.
//
// # Core Types
//
// [Bridge] consumes the client's event stream through a subscription table.
// Message and request events are transcoded into Philia event records and
// handed to the [philia.Endpoint]. Philia commands are methods on [Bridge]
// that translate into client calls; they are the surface a Philia transport
// calls into, such as SendMsg, GetMsg and SetRequest.
//
// [LoginController] drives the login challenges the client raises: QR code,
// slider captcha, device lock and external verification. It talks to a human
// through an [Operator], either the terminal or the admin HTTP API, and only
// ever runs one challenge at a time.
//
// # Slider Captcha
//
// The slider challenge can be solved three ways. In relay mode the bridge
// registers the challenge with a captcha relay over a websocket and waits
// for a ticket frame, performing HTTP requests for the relay when it asks.
// In poll mode the challenge is registered over HTTP and the endpoint is
// probed for a ticket. Otherwise the operator's answer is the ticket.
//
// # Sub-packages
//
//   - icqqfmt converts ICQQ message elements to Philia segments.
//   - philiafmt converts Philia segments to ICQQ message elements.
package connector
