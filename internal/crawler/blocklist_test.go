package crawler

import "testing"

func TestBlocklist(t *testing.T) {
	t.Run("exact match", func(t *testing.T) {
		bl := NewBlocklist([]string{"example.org"})
		if bl == nil {
			t.Fatalf("expected blocklist to be created")
		}
		if !bl.IsBlocked("Example.org") {
			t.Fatalf("expected example.org to be blocked")
		}
		if bl.IsBlocked("sub.example.org") {
			t.Fatalf("did not expect subdomains to match exact entry")
		}
	})

	t.Run("wildcard suffix", func(t *testing.T) {
		bl := NewBlocklist([]string{"*.ru", ".internal"})
		cases := []struct {
			host    string
			blocked bool
		}{
			{"example.ru", true},
			{"sub.domain.ru", true},
			{"ru", true},
			{"db.internal", true},
			{"example.com", false},
		}
		for _, tc := range cases {
			if got := bl.IsBlocked(tc.host); got != tc.blocked {
				t.Fatalf("host %q blocked=%v, want %v", tc.host, got, tc.blocked)
			}
		}
	})

	t.Run("urls", func(t *testing.T) {
		bl := NewBlocklist([]string{"localhost"})
		if !bl.BlocksURL("http://localhost:8080/admin") {
			t.Fatalf("expected localhost url to be blocked")
		}
		if bl.BlocksURL("https://example.com") {
			t.Fatalf("did not expect example.com to be blocked")
		}
	})

	t.Run("nil blocklist", func(t *testing.T) {
		var bl *Blocklist
		if bl.IsBlocked("anything") || bl.BlocksURL("https://anything") {
			t.Fatalf("nil blocklist should never block")
		}
		if NewBlocklist([]string{" ", ""}) != nil {
			t.Fatalf("expected blank patterns to yield a nil blocklist")
		}
	})
}
