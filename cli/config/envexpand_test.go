package config

import (
	"slices"
	"testing"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("GH_SET", "hello")
	t.Setenv("GH_EMPTY", "")

	tests := []struct {
		name      string
		input     string
		want      string
		wantUnset []string
	}{
		{"set", "value: ${GH_SET}", "value: hello", nil},
		{"unset", "value: ${GH_UNSET_12345}", "value: ", []string{"GH_UNSET_12345"}},
		{"default when unset", "value: ${GH_UNSET_12345:-fallback}", "value: fallback", nil},
		{"default ignored when set", "value: ${GH_SET:-fallback}", "value: hello", nil},
		{"default when empty", "value: ${GH_EMPTY:-fallback}", "value: fallback", nil},
		{"empty without default", "value: ${GH_EMPTY}", "value: ", []string{"GH_EMPTY"}},
		{"bare dollar untouched", "cost: $5 and $GH_SET", "cost: $5 and $GH_SET", nil},
		{"multiple", "${GH_SET}:${GH_UNSET_B}:${GH_UNSET_A}:${GH_UNSET_B}", "hello:::", []string{"GH_UNSET_A", "GH_UNSET_B"}},
		{"default with colon", "url: ${GH_UNSET_12345:-http://localhost:8080}", "url: http://localhost:8080", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, unset := ExpandEnv(tt.input)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
			if !slices.Equal(unset, tt.wantUnset) {
				t.Errorf("unset = %v, want %v", unset, tt.wantUnset)
			}
		})
	}
}
