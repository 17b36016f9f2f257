package ingest

import (
	"strings"
	"testing"
)

func TestSanitizeUTF8_Valid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty string", ""},
		{"ascii tag value", "us-west-2"},
		{"unicode measurement", "température"},
		{"emoji field", "deploy finished 🚀"},
		{"null byte", "hello\x00world"},
		{"replacement char already present", "test�value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, modified := SanitizeUTF8(tt.input)
			if modified {
				t.Errorf("expected no modification for valid UTF-8")
			}
			if result != tt.input {
				t.Errorf("expected %q, got %q", tt.input, result)
			}
		})
	}
}

func TestSanitizeUTF8_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"single invalid byte", "host\x80name", "host�name"},
		{"run of invalid bytes", "\x80\x81\x82", "���"},
		{"latin1 syslog message", "caf\xe9 ferm\xe9", "caf� ferm�"},
		{"truncated sequence", "test\xc3", "test�"},
		{"mixed", "a\x80é\x81b", "a�é�b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, modified := SanitizeUTF8(tt.input)
			if !modified {
				t.Errorf("expected modification for invalid UTF-8")
			}
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func BenchmarkSanitizeUTF8_Valid(b *testing.B) {
	s := strings.Repeat("cpu,host=server01 usage=90.5 ", 20)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		SanitizeUTF8(s)
	}
}

func BenchmarkSanitizeUTF8_Invalid(b *testing.B) {
	s := strings.Repeat("caf\xe9 ", 50)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		SanitizeUTF8(s)
	}
}
