// Copyright 2024-2026 Aiku AI

package icqq

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
)

// ElementType is the type tag of a message element.
type ElementType string

const (
	ElementText     ElementType = "text"
	ElementAt       ElementType = "at"
	ElementReply    ElementType = "reply"
	ElementFile     ElementType = "file"
	ElementImage    ElementType = "image"
	ElementRecord   ElementType = "record"
	ElementVideo    ElementType = "video"
	ElementMarkdown ElementType = "markdown"
	ElementButton   ElementType = "button"
)

// PlatformName is the name this implementation answers to in Philia
// platform segments.
const PlatformName = "ICQQ"

// ExtendPrefix prefixes the extend label of opaque elements.
const ExtendPrefix = PlatformName + "."

// ExtendTypes are element types that have no Philia counterpart. They are
// carried across the bridge as opaque payloads.
var ExtendTypes = []ElementType{
	"face", "sface", "bface", "rps", "dice", "mirai", "node", "forum",
	"flash", "json", "xml", "poke", "location", "share", "music", "long_msg",
}

func isBaseType(t ElementType) bool {
	switch t {
	case ElementText, ElementAt, ElementReply, ElementFile, ElementImage,
		ElementRecord, ElementVideo, ElementMarkdown, ElementButton:
		return true
	}
	return false
}

// IsExtend reports whether t is in the opaque passthrough allow-list.
func IsExtend(t ElementType) bool {
	return slices.Contains(ExtendTypes, t)
}

// AtTarget is the qq field of an at element: a user id or everyone.
type AtTarget struct {
	UserID int64
	All    bool
}

// AtAll is the target of an at-everyone element.
var AtAll = AtTarget{All: true}

func (a AtTarget) String() string {
	if a.All {
		return "all"
	}
	return strconv.FormatInt(a.UserID, 10)
}

func (a AtTarget) MarshalJSON() ([]byte, error) {
	if a.All {
		return []byte(`"all"`), nil
	}
	return strconv.AppendInt(nil, a.UserID, 10), nil
}

func (a *AtTarget) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str == "all" {
			*a = AtAll
			return nil
		}
		id, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid at target %q", str)
		}
		*a = AtTarget{UserID: id}
		return nil
	}
	*a = AtTarget{}
	return json.Unmarshal(data, &a.UserID)
}

// Keyboard is the content of a button element.
type Keyboard struct {
	AppID int64         `json:"appid,omitempty"`
	Rows  []KeyboardRow `json:"rows"`
}

type KeyboardRow struct {
	Buttons []Button `json:"buttons"`
}

type Button struct {
	ID         string       `json:"id,omitempty"`
	RenderData ButtonRender `json:"render_data"`
	Action     ButtonAction `json:"action"`
}

type ButtonRender struct {
	Label        string `json:"label"`
	VisitedLabel string `json:"visited_label"`
	Style        int    `json:"style,omitempty"`
}

// Button action types.
const (
	ButtonActionLink     = 0
	ButtonActionCallback = 1
	ButtonActionInput    = 2
)

type ButtonAction struct {
	Type          int               `json:"type"`
	Data          string            `json:"data"`
	Enter         bool              `json:"enter,omitempty"`
	Permission    *ButtonPermission `json:"permission,omitempty"`
	UnsupportTips string            `json:"unsupport_tips,omitempty"`
}

// ButtonPermissionAdmin restricts a button to group administrators.
const ButtonPermissionAdmin = 1

type ButtonPermission struct {
	Type           int      `json:"type"`
	SpecifyUserIDs []string `json:"specify_user_ids,omitempty"`
	SpecifyRoleIDs []string `json:"specify_role_ids,omitempty"`
}

// Element is one unit of ICQQ message content.
//
// Elements decoded from JSON keep their original encoding in Raw, so opaque
// elements (extends, platform payloads) are re-encoded unchanged. A JSON
// value that is not an object decodes to a scalar element with an empty Type
// and the value's text in Text. An object without a type tag is not a
// scalar; it keeps an empty Type and only its Raw encoding.
type Element struct {
	Type ElementType `json:"type"`

	// Text is the text of a text element, the display text of an at element
	// or the preview text of a reply element.
	Text string    `json:"text,omitempty"`
	QQ   *AtTarget `json:"qq,omitempty"`
	// ID is the target message of a reply element.
	ID string `json:"id,omitempty"`

	FID  string `json:"fid,omitempty"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
	MD5  string `json:"md5,omitempty"`
	URL  string `json:"url,omitempty"`
	// File is the payload of a media element on send: a local path, an URL
	// or a base64:// encoded body.
	File string `json:"file,omitempty"`

	Markdown string    `json:"-"`
	Keyboard *Keyboard `json:"-"`

	Raw json.RawMessage `json:"-"`

	object bool
}

// Scalar reports whether the element was decoded from a non-object value.
func (e *Element) Scalar() bool {
	return e.Type == "" && !e.object
}

// TextElement builds a plain text element.
func TextElement(text string) Element {
	return Element{Type: ElementText, Text: text}
}

type rawElement Element

type elementJSON struct {
	*rawElement
	Content json.RawMessage `json:"content,omitempty"`
}

func (e *Element) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	raw := json.RawMessage(slices.Clone(trimmed))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*e = Element{Raw: raw}
		var str string
		if err := json.Unmarshal(trimmed, &str); err == nil {
			e.Text = str
		} else if !bytes.Equal(trimmed, []byte("null")) {
			e.Text = string(trimmed)
		}
		return nil
	}
	var header struct {
		Type ElementType `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &header); err != nil {
		return err
	}
	if !isBaseType(header.Type) {
		// Opaque elements keep whatever shape the client gave them.
		*e = Element{Type: header.Type, Raw: raw, object: true}
		return nil
	}
	*e = Element{}
	wrapper := elementJSON{rawElement: (*rawElement)(e)}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return err
	}
	if len(wrapper.Content) > 0 {
		switch e.Type {
		case ElementMarkdown:
			if err := json.Unmarshal(wrapper.Content, &e.Markdown); err != nil {
				return fmt.Errorf("failed to decode markdown content: %w", err)
			}
		case ElementButton:
			e.Keyboard = &Keyboard{}
			if err := json.Unmarshal(wrapper.Content, e.Keyboard); err != nil {
				return fmt.Errorf("failed to decode button content: %w", err)
			}
		}
	}
	e.Raw = raw
	e.object = true
	return nil
}

func (e Element) MarshalJSON() ([]byte, error) {
	if len(e.Raw) > 0 {
		return e.Raw, nil
	}
	wrapper := elementJSON{rawElement: (*rawElement)(&e)}
	var err error
	switch {
	case e.Type == ElementMarkdown:
		wrapper.Content, err = json.Marshal(e.Markdown)
	case e.Type == ElementButton && e.Keyboard != nil:
		wrapper.Content, err = json.Marshal(e.Keyboard)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wrapper)
}

// String returns the raw encoding of the element, or its text for scalars.
func (e *Element) String() string {
	if e.Scalar() {
		return e.Text
	}
	data, err := json.Marshal(e)
	if err != nil {
		return string(e.Type)
	}
	return string(data)
}
