package scope

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty string", input: "", want: nil},
		{name: "whitespace only", input: "   \t ", want: nil},
		{name: "single atom", input: "profile", want: []string{"profile"}},
		{name: "multiple atoms", input: "profile email", want: []string{"profile", "email"}},
		{name: "extra whitespace", input: "  profile   email ", want: []string{"profile", "email"}},
		{name: "duplicates collapsed", input: "email profile email", want: []string{"email", "profile"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestContains(t *testing.T) {
	tests := []struct {
		name     string
		granted  string
		required string
		want     bool
	}{
		{name: "exact match", granted: "profile", required: "profile", want: true},
		{name: "subset", granted: "profile email openid", required: "email profile", want: true},
		{name: "order irrelevant", granted: "b a", required: "a b", want: true},
		{name: "missing atom", granted: "profile", required: "email", want: false},
		{name: "partial overlap", granted: "profile email", required: "email admin", want: false},
		{name: "empty required always contained", granted: "", required: "", want: true},
		{name: "empty required in non-empty granted", granted: "profile", required: "", want: true},
		{name: "required against empty granted", granted: "", required: "profile", want: false},

		// Atom membership, not substring containment. A granted "readonly"
		// must never satisfy a required "read" and vice versa.
		{name: "no substring false positive", granted: "readonly", required: "read", want: false},
		{name: "no superstring false positive", granted: "read", required: "readonly", want: false},
		{name: "atom with shared prefix", granted: "read readonly", required: "read", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Contains(tt.granted, tt.required); got != tt.want {
				t.Errorf("Contains(%q, %q) = %v, want %v", tt.granted, tt.required, got, tt.want)
			}
		})
	}
}

func TestJoin(t *testing.T) {
	if got := Join([]string{"a", "b"}); got != "a b" {
		t.Errorf("Join = %q, want %q", got, "a b")
	}
	if got := Join(nil); got != "" {
		t.Errorf("Join(nil) = %q, want empty", got)
	}
}
