// Copyright 2024-2026 Aiku AI

package philia

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
)

// Message is an ordered list of segments. On the wire a message may also be
// a single segment or a plain string.
type Message []Segment

func (m *Message) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		out := make(Message, 0, len(items))
		for i, item := range items {
			seg, err := DecodeSegment(item)
			if err != nil {
				return fmt.Errorf("segment %d: %w", i, err)
			}
			out = append(out, seg)
		}
		*m = out
		return nil
	}
	seg, err := DecodeSegment(data)
	if err != nil {
		return err
	}
	*m = Message{seg}
	return nil
}

// DecodeSegment decodes one segment by its type tag. Values that are not
// objects or carry an unknown tag decode to *Unknown.
func DecodeSegment(data json.RawMessage) (Segment, error) {
	data = bytes.TrimSpace(data)
	raw := json.RawMessage(slices.Clone(data))
	if len(data) == 0 || data[0] != '{' {
		return &Unknown{Raw: raw}, nil
	}
	var header struct {
		Type SegmentType `json:"type"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, err
	}
	var seg Segment
	switch header.Type {
	case SegmentText:
		seg = &Text{}
	case SegmentMention:
		seg = &Mention{}
	case SegmentReply:
		seg = &Reply{}
	case SegmentFile, SegmentImage, SegmentVoice, SegmentAudio, SegmentVideo:
		seg = &File{}
	case SegmentExtend:
		seg = &Extend{}
	case SegmentButton:
		seg = &Button{}
	case SegmentPlatform:
		seg = &Platform{}
	default:
		return &Unknown{Raw: raw}, nil
	}
	if err := json.Unmarshal(data, seg); err != nil {
		return nil, fmt.Errorf("failed to decode %s segment: %w", header.Type, err)
	}
	return seg, nil
}
