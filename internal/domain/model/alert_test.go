package model

import "testing"

func TestParamFloat(t *testing.T) {
	rule := AlertRule{Params: map[string]any{
		"number": 7.5,
		"text":   "12.5",
		"junk":   "not-a-number",
		"bool":   true,
	}}

	cases := []struct {
		key  string
		def  float64
		want float64
	}{
		{"number", 1, 7.5},
		{"text", 1, 12.5},
		{"junk", 1, 1},
		{"bool", 1, 1},
		{"missing", 3, 3},
	}
	for _, c := range cases {
		if got := rule.ParamFloat(c.key, c.def); got != c.want {
			t.Fatalf("ParamFloat(%q, %v) = %v, want %v", c.key, c.def, got, c.want)
		}
	}

	var empty AlertRule
	if got := empty.ParamFloat("anything", 9); got != 9 {
		t.Fatalf("nil params: got %v, want 9", got)
	}
}

func TestParamString(t *testing.T) {
	rule := AlertRule{Params: map[string]any{
		"period": "1h vs 24h",
		"empty":  "",
		"number": 5.0,
	}}

	if got := rule.ParamString("period", "x"); got != "1h vs 24h" {
		t.Fatalf("got %q", got)
	}
	if got := rule.ParamString("empty", "fallback"); got != "fallback" {
		t.Fatalf("empty string: got %q, want fallback", got)
	}
	if got := rule.ParamString("number", "fallback"); got != "fallback" {
		t.Fatalf("non-string: got %q, want fallback", got)
	}
	if got := rule.ParamString("missing", "fallback"); got != "fallback" {
		t.Fatalf("missing: got %q, want fallback", got)
	}
}
