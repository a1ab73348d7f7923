// Copyright 2024-2026 Aiku AI

package philia

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMessageUnmarshal(t *testing.T) {
	t.Parallel()
	in := `["hi", {"type":"mention","data":"user","id":"1","name":"A"}, {"type":"image","data":"url","url":"https://x/y.png"}, {"type":"mystery","x":1}, 5]`
	var msg Message
	if err := json.Unmarshal([]byte(in), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(msg) != 5 {
		t.Fatalf("segments: got %d, want 5", len(msg))
	}
	if u, ok := msg[0].(*Unknown); !ok || u.String() != "hi" {
		t.Errorf("segment 0: got %#v", msg[0])
	}
	if m, ok := msg[1].(*Mention); !ok || m.ID != "1" || m.Name != "A" {
		t.Errorf("segment 1: got %#v", msg[1])
	}
	if f, ok := msg[2].(*File); !ok || f.SegmentType() != SegmentImage || f.URL != "https://x/y.png" {
		t.Errorf("segment 2: got %#v", msg[2])
	}
	if u, ok := msg[3].(*Unknown); !ok || u.SegmentType() != "mystery" {
		t.Errorf("segment 3: got %#v", msg[3])
	}
	if u, ok := msg[4].(*Unknown); !ok || u.String() != "5" {
		t.Errorf("segment 4: got %#v", msg[4])
	}
}

func TestMessageUnmarshalSingle(t *testing.T) {
	t.Parallel()
	var msg Message
	if err := json.Unmarshal([]byte(`{"type":"text","data":"solo"}`), &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(msg) != 1 {
		t.Fatalf("segments: got %d, want 1", len(msg))
	}
	if txt, ok := msg[0].(*Text); !ok || txt.Data != "solo" {
		t.Errorf("got %#v", msg[0])
	}
}

func TestPlatformMatch(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want bool
	}{
		{"include single", `{"type":"platform","list":"ICQQ","mode":"include","data":{}}`, true},
		{"include other", `{"type":"platform","list":"Milky","mode":"include","data":{}}`, false},
		{"include list", `{"type":"platform","list":["Milky","ICQQ"],"mode":"include","data":{}}`, true},
		{"exclude listed", `{"type":"platform","list":["ICQQ"],"mode":"exclude","data":{}}`, false},
		{"exclude other", `{"type":"platform","list":"Milky","mode":"exclude","data":{}}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var p Platform
			if err := json.Unmarshal([]byte(tt.in), &p); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got := p.Match("ICQQ"); got != tt.want {
				t.Errorf("Match: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestButtonPermission(t *testing.T) {
	t.Parallel()
	for _, in := range []string{`"admin"`, `["1","2"]`} {
		var p ButtonPermission
		if err := json.Unmarshal([]byte(in), &p); err != nil {
			t.Fatalf("unmarshal %s: %v", in, err)
		}
		out, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != in {
			t.Errorf("round trip: got %s, want %s", out, in)
		}
	}
	var p ButtonPermission
	if err := json.Unmarshal([]byte(`"everyone"`), &p); err == nil {
		t.Error("expected error for unknown permission literal")
	}
}

func TestFileValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		file File
		ok   bool
	}{
		{File{Type: SegmentImage, Data: PayloadURL, URL: "https://a"}, true},
		{File{Type: SegmentImage, Data: PayloadURL, ID: "abc"}, false},
		{File{Type: SegmentFile, Data: PayloadID, ID: "abc"}, true},
		{File{Type: SegmentVoice, Data: PayloadBinary, Binary: []byte{1}}, true},
		{File{Type: SegmentVideo, Data: PayloadPath}, false},
		{File{Type: SegmentVideo, Data: "bogus", Path: "/a"}, false},
	}
	for i, tt := range tests {
		err := tt.file.Validate()
		if tt.ok && err != nil {
			t.Errorf("case %d: unexpected error %v", i, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("case %d: got %v, want ErrInvalidPayload", i, err)
		}
	}
}
