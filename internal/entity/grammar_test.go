package entity

import "testing"

func TestParseNamePage(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		number  int
		skip    bool
		wantErr bool
	}{
		{name: "plain", input: "PAGE_3", number: 3},
		{name: "with name", input: "PAGE_1;name=home", number: 1},
		{name: "disabled flag", input: "PAGE_2;disabled", number: 2},
		{name: "not a page", input: "PAGES_3", skip: true},
		{name: "bad number", input: "PAGE_x", skip: true},
		{name: "zero number", input: "PAGE_0", skip: true},
		{name: "empty name arg", input: "PAGE_1;name=", wantErr: true},
		{name: "garbage arg", input: "PAGE_1;=bad", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseName(KindPage, tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseName(%q) expected error, got %+v", tt.input, parsed)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseName(%q) error: %v", tt.input, err)
			}
			if tt.skip {
				if parsed != nil {
					t.Fatalf("ParseName(%q) = %+v, want not-an-entity", tt.input, parsed)
				}
				return
			}
			if parsed == nil {
				t.Fatalf("ParseName(%q) = nil, want match", tt.input)
			}
			if parsed.Page != tt.number {
				t.Errorf("page number = %d, want %d", parsed.Page, tt.number)
			}
		})
	}
}

func TestParseNameKey(t *testing.T) {
	parsed, err := ParseName(KindKey, "KEY_ROW_2_COL_4;name=play;disabled")
	if err != nil {
		t.Fatalf("ParseName error: %v", err)
	}
	if parsed == nil {
		t.Fatal("ParseName returned not-an-entity")
	}
	if parsed.Row != 2 || parsed.Col != 4 {
		t.Errorf("identifier = (%d,%d), want (2,4)", parsed.Row, parsed.Col)
	}
	if !parsed.Named || parsed.Name != "play" {
		t.Errorf("name = %q (named=%v), want play", parsed.Name, parsed.Named)
	}
	if !parsed.Disabled {
		t.Error("disabled flag not parsed")
	}

	if p, err := ParseName(KindKey, "KEY_ROW_0_COL_1"); err != nil || p != nil {
		t.Errorf("zero row accepted: %+v, %v", p, err)
	}
}

func TestParseNameContentRanks(t *testing.T) {
	parsed, err := ParseName(KindImageLayer, "IMAGE;layer=2")
	if err != nil || parsed == nil {
		t.Fatalf("ParseName = %+v, %v", parsed, err)
	}
	if parsed.Rank != 2 {
		t.Errorf("layer rank = %d, want 2", parsed.Rank)
	}

	parsed, err = ParseName(KindImageLayer, "IMAGE")
	if err != nil || parsed == nil {
		t.Fatalf("ParseName = %+v, %v", parsed, err)
	}
	if parsed.Rank != DefaultRank {
		t.Errorf("default rank = %d, want %d", parsed.Rank, DefaultRank)
	}

	if _, err := ParseName(KindTextLine, "TEXT;line=abc"); err == nil {
		t.Error("bad line number accepted")
	}

	parsed, err = ParseName(KindTextLine, "TEXT;line=1;text=hello world")
	if err != nil || parsed == nil {
		t.Fatalf("ParseName = %+v, %v", parsed, err)
	}
	if parsed.Args["text"] != "hello world" {
		t.Errorf("text arg = %q", parsed.Args["text"])
	}
}

func TestParseNameEvent(t *testing.T) {
	tests := []struct {
		input string
		kind  string
	}{
		{"ON_PRESS", "press"},
		{"ON_LONGPRESS;duration-min=500", "longpress"},
		{"ON_RELEASE", "release"},
		{"ON_START;every=1000", "start"},
		{"ON_END", "end"},
	}
	for _, tt := range tests {
		parsed, err := ParseName(KindEvent, tt.input)
		if err != nil || parsed == nil {
			t.Fatalf("ParseName(%q) = %+v, %v", tt.input, parsed, err)
		}
		if parsed.Event != tt.kind {
			t.Errorf("ParseName(%q) kind = %q, want %q", tt.input, parsed.Event, tt.kind)
		}
	}

	if p, _ := ParseName(KindEvent, "ON_HOVER"); p != nil {
		t.Error("unknown event kind accepted")
	}
}

func TestParseNameRef(t *testing.T) {
	parsed, err := ParseName(KindKey, "KEY_ROW_1_COL_1;ref=lobby:1,2")
	if err != nil || parsed == nil {
		t.Fatalf("ParseName = %+v, %v", parsed, err)
	}
	if parsed.Ref == nil || parsed.Ref.Page != "lobby" || parsed.Ref.Key != "1,2" {
		t.Errorf("ref = %+v, want lobby:1,2", parsed.Ref)
	}

	parsed, err = ParseName(KindImageLayer, "IMAGE;ref=:2,3")
	if err != nil || parsed == nil {
		t.Fatalf("ParseName = %+v, %v", parsed, err)
	}
	if parsed.Ref.Page != "" || parsed.Ref.Key != "2,3" {
		t.Errorf("ref = %+v, want same-page key 2,3", parsed.Ref)
	}

	if _, err := ParseName(KindKey, "KEY_ROW_1_COL_1;ref="); err == nil {
		t.Error("empty ref accepted")
	}
}

func TestParseNameCondition(t *testing.T) {
	parsed, err := ParseName(KindPage, `PAGE_3;when=mode == "evening"`)
	if err != nil || parsed == nil {
		t.Fatalf("ParseName = %+v, %v", parsed, err)
	}
	if parsed.Condition == nil {
		t.Fatal("condition not compiled")
	}
	if !parsed.Condition.Eval(map[string]string{"mode": "evening"}) {
		t.Error("condition false for matching vars")
	}
	if parsed.Condition.Eval(map[string]string{"mode": "day"}) {
		t.Error("condition true for non-matching vars")
	}

	if _, err := ParseName(KindPage, "PAGE_3;when=((("); err == nil {
		t.Error("uncompilable condition accepted")
	}
}

func TestParseNameFreeFormArgs(t *testing.T) {
	parsed, err := ParseName(KindKey, "KEY_ROW_1_COL_1;color=red;pressed")
	if err != nil || parsed == nil {
		t.Fatalf("ParseName = %+v, %v", parsed, err)
	}
	if parsed.Args["color"] != "red" {
		t.Errorf("color arg = %q", parsed.Args["color"])
	}
	if parsed.Args["pressed"] != "true" {
		t.Errorf("flag arg = %q, want true", parsed.Args["pressed"])
	}
}

func TestComposeName(t *testing.T) {
	tests := []struct {
		parsed ParsedName
		want   string
	}{
		{ParsedName{Kind: KindPage, Page: 2}, "PAGE_2"},
		{ParsedName{Kind: KindKey, Row: 1, Col: 3}, "KEY_ROW_1_COL_3"},
		{ParsedName{Kind: KindImageLayer, Rank: 2}, "IMAGE;layer=2"},
		{ParsedName{Kind: KindImageLayer, Rank: DefaultRank}, "IMAGE"},
		{ParsedName{Kind: KindTextLine, Rank: 1}, "TEXT;line=1"},
		{ParsedName{Kind: KindEvent, Event: "press"}, "ON_PRESS"},
		{ParsedName{Kind: KindPage, Page: 1, Named: true, Name: "home"}, "PAGE_1;name=home"},
	}
	for _, tt := range tests {
		if got := ComposeName(tt.parsed); got != tt.want {
			t.Errorf("ComposeName(%+v) = %q, want %q", tt.parsed, got, tt.want)
		}
	}
}
