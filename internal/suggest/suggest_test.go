package suggest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClosest(t *testing.T) {
	candidates := []string{"procs", "files", "conns"}

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"missing letter", "prcs", "procs"},
		{"extra letter", "filess", "files"},
		{"case folded", "CONNS", "conns"},
		{"nothing close", "zzz", ""},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Closest(tt.target, candidates))
		})
	}
}

func TestHint(t *testing.T) {
	assert.Equal(t, `did you mean "procs"?`, Hint("prcs", []string{"procs"}))
	assert.Empty(t, Hint("prcs", nil))
}
