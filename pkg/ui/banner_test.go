package ui

import (
	"fmt"
	"strings"
	"testing"
)

// TestBannerPreview prints the banner so `go test ./pkg/ui -run TestBannerPreview` shows it.
func TestBannerPreview(t *testing.T) {
	fmt.Println(Banner())
}

func TestBannerIncludesWordmark(t *testing.T) {
	banner := Banner()
	if !strings.Contains(banner, "pcpwatch") {
		t.Fatalf("banner missing pcpwatch wordmark: %q", banner)
	}
	if !strings.Contains(banner, "per-CPU page cache lens") {
		t.Fatalf("banner missing tagline")
	}
	lines := strings.Split(strings.TrimSpace(banner), "\n")
	if len(lines) < 7 {
		t.Fatalf("expected multi-line banner, got %d lines", len(lines))
	}
}

func TestBannerUsesGradientColors(t *testing.T) {
	banner := Banner()
	for _, color := range []string{bold, pcpFlame, honeyOrange, beeYellow} {
		if !strings.Contains(banner, color) {
			t.Fatalf("banner missing color code %q", color)
		}
	}
}
