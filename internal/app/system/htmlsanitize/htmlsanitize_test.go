package htmlsanitize_test

import (
	"testing"

	"github.com/dalemusser/taskhub/internal/app/system/htmlsanitize"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "Alice Johnson", "Alice Johnson"},
		{"apostrophe kept", "Sara O'Neil", "Sara O'Neil"},
		{"ampersand kept", "Tom & Jerry", "Tom & Jerry"},
		{"tags stripped", "<b>Alice</b>", "Alice"},
		{"script dropped", "<script>alert('xss')</script>Bob", "Bob"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := htmlsanitize.PlainText(tt.input)
			if got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
