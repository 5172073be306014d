package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "MySong", "MySong"},
		{"whitespace to underscores", "My  Cool Song", "My_Cool_Song"},
		{"punctuation stripped", "Song! (final?) v2.", "Song_final_v2"},
		{"non-ascii stripped", "Şarkım Güzel", "arkm_Gzel"},
		{"hyphen and underscore kept", "my-song_v2", "my-song_v2"},
		{"empty", "", DefaultName},
		{"only symbols", "!?&%", DefaultName},
		{"only non-ascii", "日本語", DefaultName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeName(tt.in); got != tt.want {
				t.Errorf("SanitizeName(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildKeyConvention(t *testing.T) {
	key := BuildKey("songs", "user-1", "My Song", "final", "wav")

	re := regexp.MustCompile(`^songs/user-1/My_Song_final_\d+_[0-9a-f]{8}\.wav$`)
	if !re.MatchString(key) {
		t.Errorf("key does not follow convention: %q", key)
	}
}

func TestBuildKeyAnonymousUser(t *testing.T) {
	key := BuildKey("recordings", "", "take", "verse", "wav")
	if !strings.HasPrefix(key, "recordings/anon/") {
		t.Errorf("expected anon segment, got %q", key)
	}
}

func TestBuildKeyUniqueness(t *testing.T) {
	a := BuildKey("songs", "u", "same", "final", "wav")
	b := BuildKey("songs", "u", "same", "final", "wav")
	if a == b {
		t.Errorf("two keys for identical inputs collided: %q", a)
	}
}

func TestUploadWithoutStoreReturnsMockURL(t *testing.T) {
	g := NewGateway(nil)

	url, err := g.Upload(context.Background(), "songs/u/test.wav", strings.NewReader("data"), "audio/wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.songlab.app/songs/u/test.wav" {
		t.Errorf("unexpected mock URL: %q", url)
	}
}

func TestPromoteCopiesProviderAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/wav")
		w.Write([]byte("fake audio bytes"))
	}))
	defer srv.Close()

	g := NewGateway(nil)
	url, err := g.Promote(context.Background(), srv.URL+"/asset.wav", "songs/u/owned.wav")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://cdn.songlab.app/songs/u/owned.wav" {
		t.Errorf("expected owned URL, got %q", url)
	}
}

func TestPromoteFallsBackToProviderURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	g := NewGateway(nil)
	providerURL := srv.URL + "/expired.wav"
	url, err := g.Promote(context.Background(), providerURL, "songs/u/owned.wav")
	if err == nil {
		t.Fatal("expected an error for the failed download")
	}
	if url != providerURL {
		t.Errorf("expected fallback to provider URL, got %q", url)
	}
}
