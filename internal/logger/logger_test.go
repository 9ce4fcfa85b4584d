package logger

import "testing"

func TestNew(t *testing.T) {
	for _, format := range []string{"console", "json", ""} {
		l, err := New("debug", format)
		if err != nil {
			t.Fatalf("New(debug, %q) failed: %v", format, err)
		}
		if !l.Core().Enabled(-1) {
			t.Fatalf("debug level should be enabled for format %q", format)
		}
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	if _, err := New("loud", "console"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := New("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}
