// Copyright 2024-2026 Aiku AI

// Package philiafmt converts Philia message segments to ICQQ message elements.
package philiafmt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aiku/philia-icqq/pkg/icqq"
	"github.com/aiku/philia-icqq/pkg/philia"
)

// ErrUnresolvedFile is returned when an id payload does not resolve to a
// concrete payload in one lookup.
var ErrUnresolvedFile = errors.New("file id did not resolve to a concrete payload")

// Files resolves and uploads file payloads for the target chat.
type Files interface {
	// ResolveFile turns a file id into a concrete payload.
	ResolveFile(ctx context.Context, chat icqq.Chat, id string) (*philia.File, error)
	// UploadFile sends a file out of band and returns its client-side id.
	UploadFile(ctx context.Context, chat icqq.Chat, file *philia.File) (string, error)
}

// Result is the outbound element list, a plain-text summary and the ids of
// files uploaded while converting.
type Result struct {
	Elements []icqq.Element
	Summary  string
	FileIDs  []string
}

// ConvertContext holds the state of a single conversion.
type ConvertContext struct {
	Ctx   context.Context
	Files Files
	Chat  icqq.Chat

	elements []icqq.Element
	summary  strings.Builder
	fileIDs  []string
}

type handlerFunc func(cc *ConvertContext, seg philia.Segment) error

var handlers = map[philia.SegmentType]handlerFunc{
	philia.SegmentText:     typed(convertText),
	philia.SegmentMention:  typed(convertMention),
	philia.SegmentReply:    typed(convertReply),
	philia.SegmentExtend:   typed(convertExtend),
	philia.SegmentPlatform: typed(convertPlatform),
	philia.SegmentButton:   typed(convertButton),
	philia.SegmentImage:    typed(media(icqq.ElementImage, "image")),
	philia.SegmentVoice:    typed(media(icqq.ElementRecord, "voice")),
	philia.SegmentVideo:    typed(media(icqq.ElementVideo, "video")),
	philia.SegmentFile:     typed(upload("file")),
	philia.SegmentAudio:    typed(upload("audio")),
}

// typed adapts a handler for one concrete segment type. A segment whose Go
// type does not match its tag is sent as its JSON text.
func typed[T philia.Segment](fn func(cc *ConvertContext, seg T) error) handlerFunc {
	return func(cc *ConvertContext, seg philia.Segment) error {
		s, ok := seg.(T)
		if !ok {
			cc.fallback(seg)
			return nil
		}
		return fn(cc, s)
	}
}

// Convert converts msg for sending to chat. Element order follows segment
// order. Unrecognised segments are sent as text.
func Convert(ctx context.Context, files Files, chat icqq.Chat, msg philia.Message) (*Result, error) {
	cc := &ConvertContext{Ctx: ctx, Files: files, Chat: chat}
	for i, seg := range msg {
		if err := cc.convert(seg); err != nil {
			return nil, fmt.Errorf("segment %d (%s): %w", i, seg.SegmentType(), err)
		}
	}
	return &Result{Elements: cc.elements, Summary: cc.summary.String(), FileIDs: cc.fileIDs}, nil
}

func (cc *ConvertContext) convert(seg philia.Segment) error {
	if _, ok := seg.(*philia.Unknown); ok {
		cc.fallback(seg)
		return nil
	}
	h, ok := handlers[seg.SegmentType()]
	if !ok {
		cc.fallback(seg)
		return nil
	}
	return h(cc, seg)
}

func (cc *ConvertContext) text(s string) {
	if s == "" {
		return
	}
	cc.elements = append(cc.elements, icqq.TextElement(s))
	cc.summary.WriteString(s)
}

func (cc *ConvertContext) fallback(seg philia.Segment) {
	if u, ok := seg.(*philia.Unknown); ok {
		cc.text(u.String())
		return
	}
	data, err := json.Marshal(seg)
	if err != nil {
		return
	}
	cc.text(string(data))
}

func convertText(cc *ConvertContext, seg *philia.Text) error {
	cc.text(seg.Data)
	return nil
}

func convertMention(cc *ConvertContext, seg *philia.Mention) error {
	if seg.Data == philia.MentionAll {
		cc.elements = append(cc.elements, icqq.Element{Type: icqq.ElementAt, QQ: &icqq.AtAll})
		cc.summary.WriteString("[mention: all members]")
		return nil
	}
	id, err := strconv.ParseInt(seg.ID, 10, 64)
	if err != nil {
		// Not an ICQQ user id, so the mention can only be shown.
		name := seg.Name
		if name == "" {
			name = seg.ID
		}
		cc.text("@" + name)
		return nil
	}
	cc.elements = append(cc.elements, icqq.Element{Type: icqq.ElementAt, QQ: &icqq.AtTarget{UserID: id}, Text: seg.Name})
	fmt.Fprintf(&cc.summary, "[mention: %s(%s)]", seg.Name, seg.ID)
	return nil
}

func convertReply(cc *ConvertContext, seg *philia.Reply) error {
	cc.elements = append(cc.elements, icqq.Element{Type: icqq.ElementReply, ID: seg.Data, Text: seg.Summary})
	if seg.Summary == "" {
		fmt.Fprintf(&cc.summary, "[reply: %s]", seg.Data)
	} else {
		fmt.Fprintf(&cc.summary, "[reply: %s(%s)]", seg.Summary, seg.Data)
	}
	return nil
}

// convertExtend honors extends that carry an ICQQ element from the passthrough
// allow-list. Others are dropped, but every extend is summarized.
func convertExtend(cc *ConvertContext, seg *philia.Extend) error {
	fmt.Fprintf(&cc.summary, "[%s: %s]", seg.Extend, seg.Data)
	tag, ok := strings.CutPrefix(seg.Extend, icqq.ExtendPrefix)
	if !ok || !icqq.IsExtend(icqq.ElementType(tag)) {
		return nil
	}
	var el icqq.Element
	if err := json.Unmarshal(seg.Data, &el); err != nil {
		return fmt.Errorf("failed to decode %s element: %w", tag, err)
	}
	if el.Type != icqq.ElementType(tag) {
		return nil
	}
	cc.elements = append(cc.elements, el)
	return nil
}

// convertPlatform honors payloads meant for this platform. The payload is an
// ICQQ element or a list of them. Every platform segment is summarized.
func convertPlatform(cc *ConvertContext, seg *philia.Platform) error {
	fmt.Fprintf(&cc.summary, "[%s(%s) platform message: %s]", strings.Join(seg.List, ","), seg.Mode, seg.Data)
	if !seg.Match(icqq.PlatformName) {
		return nil
	}
	var elements []icqq.Element
	data := strings.TrimSpace(string(seg.Data))
	if strings.HasPrefix(data, "[") {
		if err := json.Unmarshal(seg.Data, &elements); err != nil {
			return fmt.Errorf("failed to decode platform elements: %w", err)
		}
	} else {
		var el icqq.Element
		if err := json.Unmarshal(seg.Data, &el); err != nil {
			return fmt.Errorf("failed to decode platform element: %w", err)
		}
		elements = []icqq.Element{el}
	}
	cc.elements = append(cc.elements, elements...)
	return nil
}

// convertButton drops button segments. Buttons can only be sent by bot
// accounts, which the client does not log in as.
func convertButton(*ConvertContext, *philia.Button) error {
	return nil
}

// Source returns the send-side encoding of a concrete file payload: a path, an
// URL or a base64:// body.
func Source(f *philia.File) string {
	switch f.Data {
	case philia.PayloadPath:
		return f.Path
	case philia.PayloadURL:
		return f.URL
	case philia.PayloadBinary:
		return "base64://" + base64.StdEncoding.EncodeToString(f.Binary)
	}
	return ""
}

// resolve returns a concrete payload for f. Id payloads get exactly one
// resolution hop.
func (cc *ConvertContext) resolve(f *philia.File) (*philia.File, error) {
	if f.Data != philia.PayloadID {
		if err := f.Validate(); err != nil {
			return nil, err
		}
		return f, nil
	}
	if cc.Files == nil {
		return nil, ErrUnresolvedFile
	}
	resolved, err := cc.Files.ResolveFile(cc.Ctx, cc.Chat, f.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve file %s: %w", f.ID, err)
	}
	if resolved == nil || resolved.Data == philia.PayloadID {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvedFile, f.ID)
	}
	if err := resolved.Validate(); err != nil {
		return nil, err
	}
	if resolved.Name == "" {
		resolved.Name = f.Name
	}
	return resolved, nil
}

func summarize(f *philia.File, label string) string {
	if f.Summary != "" {
		return f.Summary
	}
	if f.Name != "" {
		return fmt.Sprintf("[%s: %s]", label, f.Name)
	}
	return fmt.Sprintf("[%s]", label)
}

// media sends image, voice and video segments inline.
func media(typ icqq.ElementType, label string) func(*ConvertContext, *philia.File) error {
	return func(cc *ConvertContext, seg *philia.File) error {
		f, err := cc.resolve(seg)
		if err != nil {
			return err
		}
		cc.elements = append(cc.elements, icqq.Element{Type: typ, File: Source(f), Name: f.Name})
		cc.summary.WriteString(summarize(seg, label))
		return nil
	}
}

// upload sends file and audio segments out of band and records their ids.
func upload(label string) func(*ConvertContext, *philia.File) error {
	return func(cc *ConvertContext, seg *philia.File) error {
		if cc.Files == nil {
			return fmt.Errorf("no file uploader for %s segment", label)
		}
		f, err := cc.resolve(seg)
		if err != nil {
			return err
		}
		id, err := cc.Files.UploadFile(cc.Ctx, cc.Chat, f)
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", label, err)
		}
		if id != "" {
			cc.fileIDs = append(cc.fileIDs, id)
		}
		cc.summary.WriteString(summarize(seg, label))
		return nil
	}
}
