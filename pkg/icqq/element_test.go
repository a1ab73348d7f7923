// Copyright 2024-2026 Aiku AI

package icqq

import (
	"encoding/json"
	"testing"
)

func TestElementUnmarshalScalar(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"string", `"hello"`, "hello"},
		{"number", `42`, "42"},
		{"empty", `""`, ""},
		{"null", `null`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var el Element
			if err := json.Unmarshal([]byte(tt.in), &el); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if !el.Scalar() {
				t.Fatalf("expected scalar element, got type %q", el.Type)
			}
			if el.Text != tt.want {
				t.Errorf("text: got %q, want %q", el.Text, tt.want)
			}
		})
	}
}

func TestElementUnmarshalContent(t *testing.T) {
	t.Parallel()

	var md Element
	if err := json.Unmarshal([]byte(`{"type":"markdown","content":"**hi**"}`), &md); err != nil {
		t.Fatalf("unmarshal markdown: %v", err)
	}
	if md.Markdown != "**hi**" {
		t.Errorf("markdown: got %q, want %q", md.Markdown, "**hi**")
	}

	var btn Element
	in := `{"type":"button","content":{"appid":1,"rows":[{"buttons":[{"render_data":{"label":"a","visited_label":"b"},"action":{"type":0,"data":"https://x"}}]}]}}`
	if err := json.Unmarshal([]byte(in), &btn); err != nil {
		t.Fatalf("unmarshal button: %v", err)
	}
	if btn.Keyboard == nil || len(btn.Keyboard.Rows) != 1 || len(btn.Keyboard.Rows[0].Buttons) != 1 {
		t.Fatalf("keyboard not decoded: %+v", btn.Keyboard)
	}
	if got := btn.Keyboard.Rows[0].Buttons[0].RenderData.Label; got != "a" {
		t.Errorf("label: got %q, want %q", got, "a")
	}
}

func TestElementAtTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		all  bool
		id   int64
		back string
	}{
		{`{"type":"at","qq":"all"}`, true, 0, `"all"`},
		{`{"type":"at","qq":12345}`, false, 12345, `12345`},
		{`{"type":"at","qq":"678"}`, false, 678, `678`},
	}
	for _, tt := range tests {
		var el Element
		if err := json.Unmarshal([]byte(tt.in), &el); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.in, err)
		}
		if el.QQ == nil {
			t.Fatalf("qq missing for %s", tt.in)
		}
		if el.QQ.All != tt.all || el.QQ.UserID != tt.id {
			t.Errorf("qq for %s: got %+v", tt.in, *el.QQ)
		}
		out, err := json.Marshal(el.QQ)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(out) != tt.back {
			t.Errorf("re-encoded qq: got %s, want %s", out, tt.back)
		}
	}
}

func TestElementRawPreserved(t *testing.T) {
	t.Parallel()
	in := `{"type":"dice","id":5,"extra":{"nested":true}}`
	var el Element
	if err := json.Unmarshal([]byte(in), &el); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !IsExtend(el.Type) {
		t.Fatalf("dice should be an extend type")
	}
	out, err := json.Marshal(el)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != in {
		t.Errorf("raw element: got %s, want %s", out, in)
	}
}

func TestElementUntypedObject(t *testing.T) {
	t.Parallel()
	in := `{"foo":"bar"}`
	var el Element
	if err := json.Unmarshal([]byte(in), &el); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if el.Scalar() {
		t.Fatal("untyped object decoded as a scalar")
	}
	if got := el.String(); got != in {
		t.Errorf("String: got %s, want %s", got, in)
	}
}

func TestElementMarshalBuilt(t *testing.T) {
	t.Parallel()
	el := Element{Type: ElementAt, QQ: &AtTarget{UserID: 10001}, Text: "bob"}
	out, err := json.Marshal(el)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"type":"at","text":"bob","qq":10001}`
	if string(out) != want {
		t.Errorf("got %s, want %s", out, want)
	}
}
