// Copyright 2024-2026 Aiku AI

// Package icqqfmt converts ICQQ message elements to Philia message segments.
//
// Elements are dispatched by type tag through a handler table. Elements
// without a handler fall back to an opaque extend segment when their tag is
// in icqq.ExtendTypes, and to text otherwise, so no element is dropped.
package icqqfmt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/philia-icqq/pkg/icqq"
	"github.com/aiku/philia-icqq/pkg/philia"
)

// Lookup is the read-only part of the client used while converting.
type Lookup interface {
	GetUserInfo(ctx context.Context, userID int64) (*icqq.UserInfo, error)
	GetGroupMemberInfo(ctx context.Context, groupID, userID int64, refresh bool) (*icqq.MemberInfo, error)
	GetGroupChatHistory(ctx context.Context, groupID, seq int64, count int) ([]*icqq.Message, error)
	GetFriendChatHistory(ctx context.Context, userID, time int64, count int) ([]*icqq.Message, error)
}

// Input is the content of one message or forward node.
type Input struct {
	Elements []icqq.Element
	// Chat scopes member and quote lookups. Forward nodes leave it zero.
	Chat  icqq.Chat
	Quote *icqq.Quote
}

// Result is the converted message and its plain-text summary.
type Result struct {
	Message philia.Message
	Summary string
}

// ConvertContext holds the state of a single conversion. Handlers append to
// it in input order.
type ConvertContext struct {
	Ctx    context.Context
	Lookup Lookup
	Chat   icqq.Chat

	segments philia.Message
	summary  strings.Builder
}

type handlerFunc func(cc *ConvertContext, el *icqq.Element)

var handlers = map[icqq.ElementType]handlerFunc{
	icqq.ElementText:     convertText,
	icqq.ElementAt:       convertAt,
	icqq.ElementReply:    convertReply,
	icqq.ElementFile:     convertFile,
	icqq.ElementImage:    convertImage,
	icqq.ElementRecord:   convertRecord,
	icqq.ElementVideo:    convertVideo,
	icqq.ElementMarkdown: convertMarkdown,
	icqq.ElementButton:   convertButton,
}

// Convert converts the elements of in, followed by its quote metadata.
// Lookup failures are logged and degrade the output; they never fail the
// conversion.
func Convert(ctx context.Context, lookup Lookup, in *Input) *Result {
	cc := &ConvertContext{Ctx: ctx, Lookup: lookup, Chat: in.Chat}
	for i := range in.Elements {
		cc.convert(&in.Elements[i])
	}
	if in.Quote != nil {
		convertQuote(cc, in.Quote)
	}
	return &Result{Message: cc.segments, Summary: cc.summary.String()}
}

func (cc *ConvertContext) convert(el *icqq.Element) {
	switch {
	case el.Scalar():
		cc.text(el.Text, "", nil)
	case handlers[el.Type] != nil:
		handlers[el.Type](cc, el)
	case icqq.IsExtend(el.Type):
		convertExtend(cc, el)
	default:
		cc.text(el.String(), "", nil)
	}
}

func (cc *ConvertContext) emit(seg philia.Segment, summary string) {
	cc.segments = append(cc.segments, seg)
	cc.summary.WriteString(summary)
}

func (cc *ConvertContext) text(data, markdown string, raw json.RawMessage) {
	if data == "" {
		return
	}
	cc.emit(&philia.Text{Type: philia.SegmentText, Data: data, Markdown: markdown, Raw: raw}, data)
}

func (cc *ConvertContext) log() *zerolog.Logger {
	return zerolog.Ctx(cc.Ctx)
}

func rawOf(el *icqq.Element) json.RawMessage {
	if len(el.Raw) > 0 {
		return el.Raw
	}
	data, err := json.Marshal(el)
	if err != nil {
		return nil
	}
	return data
}

func convertText(cc *ConvertContext, el *icqq.Element) {
	cc.text(el.Text, "", nil)
}

func convertExtend(cc *ConvertContext, el *icqq.Element) {
	raw := rawOf(el)
	cc.emit(&philia.Extend{
		Type:   philia.SegmentExtend,
		Extend: icqq.ExtendPrefix + string(el.Type),
		Data:   raw,
	}, fmt.Sprintf("[%s: %s]", el.Type, raw))
}

func convertAt(cc *ConvertContext, el *icqq.Element) {
	if el.QQ == nil {
		cc.text(el.Text, "", nil)
		return
	}
	if el.QQ.All {
		cc.emit(&philia.Mention{Type: philia.SegmentMention, Data: philia.MentionAll}, "[mention: all members]")
		return
	}
	id := strconv.FormatInt(el.QQ.UserID, 10)
	name := el.Text
	if name == "" {
		name = cc.displayName(el.QQ.UserID)
	}
	cc.emit(&philia.Mention{
		Type: philia.SegmentMention,
		Data: philia.MentionUser,
		ID:   id,
		Name: name,
	}, fmt.Sprintf("[mention: %s(%s)]", name, id))
}

// displayName resolves a user's name from the group member list when the
// message is in a group, then from the user profile.
func (cc *ConvertContext) displayName(userID int64) string {
	if cc.Chat.Type == icqq.ChatGroup {
		member, err := cc.Lookup.GetGroupMemberInfo(cc.Ctx, cc.Chat.ID, userID, false)
		if err != nil {
			cc.log().Debug().Err(err).
				Int64("group_id", cc.Chat.ID).
				Int64("user_id", userID).
				Msg("Failed to look up mentioned member")
		} else if member != nil {
			if member.Card != "" {
				return member.Card
			}
			if member.Nickname != "" {
				return member.Nickname
			}
		}
	}
	user, err := cc.Lookup.GetUserInfo(cc.Ctx, userID)
	if err != nil {
		cc.log().Debug().Err(err).Int64("user_id", userID).Msg("Failed to look up mentioned user")
		return ""
	}
	if user == nil {
		return ""
	}
	return user.Nickname
}

func convertFile(cc *ConvertContext, el *icqq.Element) {
	cc.emit(&philia.File{
		Type: philia.SegmentFile,
		Data: philia.PayloadID,
		ID:   el.FID,
		Name: el.Name,
		Raw:  rawOf(el),
	}, fmt.Sprintf("[file: %s(%s)]", el.Name, el.FID))
}

// mediaFile builds a url-tagged segment, or an id-tagged one when the client
// gave no download URL.
func mediaFile(typ philia.SegmentType, el *icqq.Element) *philia.File {
	id := el.FID
	if id == "" {
		id = el.File
	}
	f := &philia.File{
		Type: typ,
		Data: philia.PayloadURL,
		ID:   id,
		Name: el.File,
		URL:  el.URL,
		Raw:  rawOf(el),
	}
	if f.URL == "" {
		f.Data = philia.PayloadID
	}
	return f
}

func convertImage(cc *ConvertContext, el *icqq.Element) {
	cc.emit(mediaFile(philia.SegmentImage, el), fmt.Sprintf("[image: %s]", el.MD5))
}

func convertRecord(cc *ConvertContext, el *icqq.Element) {
	cc.emit(mediaFile(philia.SegmentVoice, el), fmt.Sprintf("[voice: %s]", el.MD5))
}

func convertVideo(cc *ConvertContext, el *icqq.Element) {
	f := mediaFile(philia.SegmentVideo, el)
	f.Data = philia.PayloadID
	f.URL = ""
	cc.emit(f, "[video]")
}

func replySummary(text, id string) string {
	if text == "" {
		return fmt.Sprintf("[reply: %s]", id)
	}
	return fmt.Sprintf("[reply: %s(%s)]", text, id)
}

func convertReply(cc *ConvertContext, el *icqq.Element) {
	cc.emit(&philia.Reply{
		Type:    philia.SegmentReply,
		Data:    el.ID,
		Summary: el.Text,
	}, replySummary(el.Text, el.ID))
}

// convertQuote turns the quote metadata of a message into a reply segment by
// looking up the quoted message id in a one-message history window.
func convertQuote(cc *ConvertContext, quote *icqq.Quote) {
	var history []*icqq.Message
	var err error
	switch cc.Chat.Type {
	case icqq.ChatGroup:
		history, err = cc.Lookup.GetGroupChatHistory(cc.Ctx, cc.Chat.ID, quote.Seq, 1)
	case icqq.ChatPrivate:
		history, err = cc.Lookup.GetFriendChatHistory(cc.Ctx, cc.Chat.ID, quote.Time, 1)
	default:
		return
	}
	if err != nil {
		cc.log().Debug().Err(err).Str("chat", cc.Chat.String()).Msg("Failed to resolve quoted message")
		return
	}
	if len(history) == 0 || history[0] == nil || history[0].MessageID == "" {
		return
	}
	id := history[0].MessageID
	cc.emit(&philia.Reply{
		Type:    philia.SegmentReply,
		Data:    id,
		Summary: quote.Message,
	}, replySummary(quote.Message, id))
}

func convertMarkdown(cc *ConvertContext, el *icqq.Element) {
	if el.Markdown == "" {
		return
	}
	cc.emit(&philia.Text{
		Type:     philia.SegmentText,
		Data:     el.Markdown,
		Markdown: el.Markdown,
		Raw:      rawOf(el),
	}, fmt.Sprintf("[markdown: %s]", el.Markdown))
}

func convertButton(cc *ConvertContext, el *icqq.Element) {
	var rows [][]philia.ButtonItem
	if el.Keyboard != nil {
		rows = make([][]philia.ButtonItem, 0, len(el.Keyboard.Rows))
		for _, row := range el.Keyboard.Rows {
			items := make([]philia.ButtonItem, 0, len(row.Buttons))
			for i := range row.Buttons {
				items = append(items, convertButtonItem(&row.Buttons[i]))
			}
			rows = append(rows, items)
		}
	}
	cc.emit(&philia.Button{Type: philia.SegmentButton, Data: rows, Raw: rawOf(el)}, "[button]")
}

func convertButtonItem(btn *icqq.Button) philia.ButtonItem {
	item := philia.ButtonItem{
		Text:        btn.RenderData.Label,
		ClickedText: btn.RenderData.VisitedLabel,
	}
	if raw, err := json.Marshal(btn); err == nil {
		item.QQBot = raw
	}
	switch btn.Action.Type {
	case icqq.ButtonActionLink:
		item.Link = btn.Action.Data
	case icqq.ButtonActionCallback:
		item.Callback = btn.Action.Data
	case icqq.ButtonActionInput:
		item.Input = btn.Action.Data
		item.Send = btn.Action.Enter
	}
	if perm := btn.Action.Permission; perm != nil {
		if perm.Type == icqq.ButtonPermissionAdmin {
			item.Permission = &philia.ButtonPermission{Admin: true}
		} else {
			item.Permission = &philia.ButtonPermission{UserIDs: perm.SpecifyUserIDs}
		}
	}
	return item
}
