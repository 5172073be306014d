// Package storage promotes audio assets into owned object storage. Every
// URL persisted into project state must come through here: provider output
// URLs are transient (signed, expiring) and may 404 later.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/songlab/api/internal/client"
)

// DefaultName is used when sanitization strips a project name to nothing.
const DefaultName = "untitled"

const maxDownloadBytes = 500 * 1024 * 1024

var keyCharsRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Gateway wraps the object-storage client with the bucket path convention
// and transient-URL promotion. A nil storage client yields mock CDN URLs,
// mirroring how unconfigured providers degrade elsewhere.
type Gateway struct {
	store      client.StorageClient
	httpClient *http.Client
}

func NewGateway(store client.StorageClient) *Gateway {
	return &Gateway{
		store:      store,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// SanitizeName reduces a user-supplied project name to a storage-safe
// token: non-ASCII stripped, whitespace collapsed to underscores, remaining
// characters outside [A-Za-z0-9_-] removed, empty results replaced by
// DefaultName.
func SanitizeName(name string) string {
	var ascii strings.Builder
	for _, r := range name {
		if r < 128 {
			ascii.WriteRune(r)
		}
	}
	s := strings.Join(strings.Fields(ascii.String()), "_")
	s = keyCharsRe.ReplaceAllString(s, "")
	if s == "" {
		return DefaultName
	}
	return s
}

// BuildKey assembles an object key following the bucket convention:
// <category>/<userID-or-anon>/<sanitizedName>_<label>_<unixts>_<rand>.<ext>
func BuildKey(category, userID, projectName, label, ext string) string {
	if userID == "" {
		userID = "anon"
	}
	suffix := strings.Split(uuid.New().String(), "-")[0]
	return fmt.Sprintf("%s/%s/%s_%s_%d_%s.%s",
		category, userID, SanitizeName(projectName), label, time.Now().Unix(), suffix, ext)
}

// Upload stores bytes under the given key and returns the public URL.
func (g *Gateway) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	if g.store == nil {
		return fmt.Sprintf("https://cdn.songlab.app/%s", key), nil
	}

	url, err := g.store.Upload(ctx, key, body, contentType)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return url, nil
}

// Configured reports whether a real object store is behind the gateway.
// Without one, Upload and PublicURL hand out mock CDN URLs.
func (g *Gateway) Configured() bool {
	return g.store != nil
}

// PublicURL returns the owned-storage URL for a key without uploading.
func (g *Gateway) PublicURL(key string) string {
	if g.store == nil {
		return fmt.Sprintf("https://cdn.songlab.app/%s", key)
	}
	return g.store.GetPublicURL(key)
}

// Delete removes an object.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	if g.store == nil {
		return nil
	}
	return g.store.Delete(ctx, key)
}

// Promote downloads a provider-hosted URL and re-uploads it under an owned
// key. On any failure it returns the provider URL along with the error, so
// callers can trade durability for availability. That fallback must be
// logged since the provider URL may later expire.
func (g *Gateway) Promote(ctx context.Context, providerURL, key string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, providerURL, nil)
	if err != nil {
		return providerURL, fmt.Errorf("failed to create download request: %w", err)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return providerURL, fmt.Errorf("failed to download provider asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providerURL, fmt.Errorf("provider asset download returned status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = "audio/wav"
	}

	// Buffer the asset: the S3 client needs a seekable body for signing.
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes))
	if err != nil {
		return providerURL, fmt.Errorf("failed to read provider asset: %w", err)
	}

	url, err := g.Upload(ctx, key, bytes.NewReader(data), contentType)
	if err != nil {
		return providerURL, err
	}
	return url, nil
}
