// Copyright 2024-2026 Aiku AI

package philia

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// SegmentType is the type tag of a message segment.
type SegmentType string

const (
	SegmentText     SegmentType = "text"
	SegmentMention  SegmentType = "mention"
	SegmentReply    SegmentType = "reply"
	SegmentFile     SegmentType = "file"
	SegmentImage    SegmentType = "image"
	SegmentVoice    SegmentType = "voice"
	SegmentAudio    SegmentType = "audio"
	SegmentVideo    SegmentType = "video"
	SegmentExtend   SegmentType = "extend"
	SegmentButton   SegmentType = "button"
	SegmentPlatform SegmentType = "platform"
)

// Segment is one unit of Philia message content.
type Segment interface {
	SegmentType() SegmentType
}

type Text struct {
	Type     SegmentType     `json:"type"`
	Data     string          `json:"data"`
	Markdown string          `json:"markdown,omitempty"`
	Raw      json.RawMessage `json:"raw,omitempty"`
}

func NewText(data string) *Text {
	return &Text{Type: SegmentText, Data: data}
}

func (*Text) SegmentType() SegmentType { return SegmentText }

// Mention targets.
const (
	MentionUser = "user"
	MentionAll  = "all"
)

type Mention struct {
	Type SegmentType `json:"type"`
	Data string      `json:"data"`
	ID   string      `json:"id,omitempty"`
	Name string      `json:"name,omitempty"`
}

func (*Mention) SegmentType() SegmentType { return SegmentMention }

type Reply struct {
	Type SegmentType `json:"type"`
	// Data is the id of the message being replied to.
	Data    string `json:"data"`
	Summary string `json:"summary,omitempty"`
}

func (*Reply) SegmentType() SegmentType { return SegmentReply }

// PayloadKind names the populated payload field of a file-like segment.
type PayloadKind string

const (
	PayloadID     PayloadKind = "id"
	PayloadPath   PayloadKind = "path"
	PayloadBinary PayloadKind = "binary"
	PayloadURL    PayloadKind = "url"
)

var ErrInvalidPayload = errors.New("file payload does not match its data tag")

// File is a file, image, voice, audio or video segment.
type File struct {
	Type    SegmentType     `json:"type"`
	Data    PayloadKind     `json:"data"`
	ID      string          `json:"id,omitempty"`
	Path    string          `json:"path,omitempty"`
	Binary  []byte          `json:"binary,omitempty"`
	URL     string          `json:"url,omitempty"`
	Name    string          `json:"name,omitempty"`
	Summary string          `json:"summary,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

func (f *File) SegmentType() SegmentType { return f.Type }

// Validate checks that the payload named by the data tag is present. The
// id field is also used as an opaque identifier on url and id payloads, so
// only the tagged field is required.
func (f *File) Validate() error {
	var ok bool
	switch f.Data {
	case PayloadID:
		ok = f.ID != ""
	case PayloadPath:
		ok = f.Path != ""
	case PayloadBinary:
		ok = len(f.Binary) > 0
	case PayloadURL:
		ok = f.URL != ""
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPayload, f.Data)
	}
	return nil
}

// IsFileType reports whether t is one of the file-like segment types.
func IsFileType(t SegmentType) bool {
	switch t {
	case SegmentFile, SegmentImage, SegmentVoice, SegmentAudio, SegmentVideo:
		return true
	}
	return false
}

// Extend carries a platform-specific element. Extend is "<platform>.<tag>".
type Extend struct {
	Type   SegmentType     `json:"type"`
	Extend string          `json:"extend"`
	Data   json.RawMessage `json:"data"`
}

func (*Extend) SegmentType() SegmentType { return SegmentExtend }

type Button struct {
	Type SegmentType     `json:"type"`
	Data [][]ButtonItem  `json:"data"`
	Raw  json.RawMessage `json:"raw,omitempty"`
}

func (*Button) SegmentType() SegmentType { return SegmentButton }

type ButtonItem struct {
	Text        string            `json:"text"`
	ClickedText string            `json:"clicked_text,omitempty"`
	Link        string            `json:"link,omitempty"`
	Callback    string            `json:"callback,omitempty"`
	Input       string            `json:"input,omitempty"`
	Send        bool              `json:"send,omitempty"`
	Permission  *ButtonPermission `json:"permission,omitempty"`
	QQBot       json.RawMessage   `json:"QQBot,omitempty"`
}

// ButtonPermission is either the literal "admin" or a list of user ids.
type ButtonPermission struct {
	Admin   bool
	UserIDs []string
}

func (p ButtonPermission) MarshalJSON() ([]byte, error) {
	if p.Admin {
		return []byte(`"admin"`), nil
	}
	if p.UserIDs == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.UserIDs)
}

func (p *ButtonPermission) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		if str != "admin" {
			return fmt.Errorf("invalid button permission %q", str)
		}
		*p = ButtonPermission{Admin: true}
		return nil
	}
	*p = ButtonPermission{}
	return json.Unmarshal(data, &p.UserIDs)
}

// Platform match modes.
const (
	ModeInclude = "include"
	ModeExclude = "exclude"
)

// PlatformList is the list field of a platform segment. It is encoded as a
// string when it holds exactly one name.
type PlatformList []string

func (l PlatformList) MarshalJSON() ([]byte, error) {
	if len(l) == 1 {
		return json.Marshal(l[0])
	}
	return json.Marshal([]string(l))
}

func (l *PlatformList) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*l = PlatformList{str}
		return nil
	}
	return json.Unmarshal(data, (*[]string)(l))
}

// Platform wraps a payload only meant for some implementations.
type Platform struct {
	Type SegmentType     `json:"type"`
	List PlatformList    `json:"list"`
	Mode string          `json:"mode"`
	Data json.RawMessage `json:"data"`
}

func (*Platform) SegmentType() SegmentType { return SegmentPlatform }

// Match reports whether the payload is meant for the named platform.
func (p *Platform) Match(name string) bool {
	listed := slices.Contains(p.List, name)
	if p.Mode == ModeExclude {
		return !listed
	}
	return listed
}

// Unknown holds a value that is not a recognised segment, including plain
// strings and numbers in a message list.
type Unknown struct {
	Raw json.RawMessage
}

func (u *Unknown) SegmentType() SegmentType {
	var header struct {
		Type SegmentType `json:"type"`
	}
	_ = json.Unmarshal(u.Raw, &header)
	return header.Type
}

func (u *Unknown) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return []byte("null"), nil
	}
	return u.Raw, nil
}

// String returns the value of a JSON string, or the raw encoding otherwise.
func (u *Unknown) String() string {
	var str string
	if err := json.Unmarshal(u.Raw, &str); err == nil {
		return str
	}
	if string(u.Raw) == "null" {
		return ""
	}
	return string(u.Raw)
}
