// Copyright 2024-2026 Aiku AI

package connector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/term"
	"maunium.net/go/mautrix/bridgev2"
)

// Notice is a message for the human operator. Step describes the challenge
// the notice belongs to, if any; for prompts its input fields say what
// kind of answer is expected.
type Notice struct {
	Title   string              `json:"title"`
	Message string              `json:"message"`
	Image   []byte              `json:"image,omitempty"`
	Step    *bridgev2.LoginStep `json:"step,omitempty"`
}

// Operator is the channel to the human who completes login challenges.
type Operator interface {
	// Notify shows a notice without waiting for an answer.
	Notify(ctx context.Context, n *Notice)
	// Await shows a notice and blocks until the operator answers it or ctx
	// is done.
	Await(ctx context.Context, n *Notice) (string, error)
}

// ErrOperatorClosed is returned by Await when the operator input ends.
var ErrOperatorClosed = errors.New("operator input closed")

func isSecret(step *bridgev2.LoginStep) bool {
	if step == nil || step.UserInputParams == nil {
		return false
	}
	for _, f := range step.UserInputParams.Fields {
		if f.Type == bridgev2.LoginInputFieldTypePassword || f.Type == bridgev2.LoginInputFieldType2FACode {
			return true
		}
	}
	return false
}

// TerminalOperator talks to the operator on a terminal. QR code images are
// written to the data directory since a terminal cannot show them.
type TerminalOperator struct {
	in      io.Reader
	lines   *bufio.Reader
	out     io.Writer
	dataDir string
	log     zerolog.Logger

	// mu guards output. readMu serializes prompts and guards reading.
	mu     sync.Mutex
	readMu sync.Mutex
	// reading is the read left behind by a cancelled Await. The next Await
	// takes its line.
	reading chan lineResult
}

type lineResult struct {
	text string
	err  error
}

var _ Operator = (*TerminalOperator)(nil)

func NewTerminalOperator(in io.Reader, out io.Writer, dataDir string, log zerolog.Logger) *TerminalOperator {
	return &TerminalOperator{
		in:      in,
		lines:   bufio.NewReader(in),
		out:     out,
		dataDir: dataDir,
		log:     log.With().Str("component", "operator").Logger(),
	}
}

func (t *TerminalOperator) Notify(_ context.Context, n *Notice) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.print(n)
}

func (t *TerminalOperator) print(n *Notice) {
	if n.Title != "" {
		fmt.Fprintf(t.out, "[%s] ", n.Title)
	}
	fmt.Fprintln(t.out, n.Message)
	if len(n.Image) == 0 {
		return
	}
	path := filepath.Join(t.dataDir, "qrcode.png")
	if err := os.MkdirAll(t.dataDir, 0o700); err != nil {
		t.log.Err(err).Msg("Failed to create data directory")
		return
	}
	if err := os.WriteFile(path, n.Image, 0o600); err != nil {
		t.log.Err(err).Str("path", path).Msg("Failed to write QR code image")
		return
	}
	fmt.Fprintf(t.out, "QR code saved to %s\n", path)
}

func (t *TerminalOperator) Await(ctx context.Context, n *Notice) (string, error) {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	t.mu.Lock()
	t.print(n)
	fmt.Fprint(t.out, "> ")
	t.mu.Unlock()

	ch := t.reading
	t.reading = nil
	if ch == nil {
		ch = make(chan lineResult, 1)
		secret := isSecret(n.Step)
		go func() {
			text, err := t.readLine(secret)
			ch <- lineResult{text, err}
		}()
	}
	select {
	case <-ctx.Done():
		t.reading = ch
		return "", ctx.Err()
	case res := <-ch:
		return res.text, res.err
	}
}

func (t *TerminalOperator) readLine(secret bool) (string, error) {
	if f, ok := t.in.(*os.File); ok && secret && term.IsTerminal(int(f.Fd())) {
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(t.out)
		if err != nil {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := t.lines.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimSpace(line), nil
		}
		if errors.Is(err, io.EOF) {
			return "", ErrOperatorClosed
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}
