package platform

import (
	"path/filepath"
	"testing"
)

func TestNormalizeLockComponent(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		fallback string
		want     string
	}{
		{name: "preserves alnum and separators", raw: "node-5.db", fallback: "store", want: "node-5.db"},
		{name: "replaces unsupported runes", raw: "node:5 db", fallback: "store", want: "node_5_db"},
		{name: "trims separator edges", raw: "..node.db_", fallback: "store", want: "node.db"},
		{name: "empty uses fallback", raw: "   ", fallback: "store", want: "store"},
		{name: "all unsupported uses fallback", raw: "[]{}", fallback: "store", want: "store"},
	}

	for _, tc := range tests {
		got := normalizeLockComponent(tc.raw, tc.fallback)
		if got != tc.want {
			t.Fatalf("%s: expected %q, got %q", tc.name, tc.want, got)
		}
	}
}

func TestStoreLockPathIsSibling(t *testing.T) {
	dir := t.TempDir()
	got := storeLockPath(filepath.Join(dir, "node.db"))
	want := filepath.Join(dir, ".node.db.lock")
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
