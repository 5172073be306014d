package service

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"strings"

	"github.com/songlab/api/internal/model"
	"github.com/songlab/api/internal/storage"
)

// Audio uploads are capped well above any realistic take length.
const maxUploadSize = 100 << 20 // 100 MB

var allowedAudioExts = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
	".webm": true,
}

var ErrUnsupportedAudioType = errors.New("unsupported audio file type")

// UploadService stores user audio (source songs, section takes) through the
// storage gateway.
type UploadService struct {
	gateway *storage.Gateway
}

func NewUploadService(gateway *storage.Gateway) *UploadService {
	return &UploadService{gateway: gateway}
}

// UploadAudio stores one audio file under the user's recordings prefix and
// returns its public URL.
func (s *UploadService) UploadAudio(ctx context.Context, userID, filename, label string, body io.Reader) (*model.UploadResponse, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedAudioExts[ext] {
		return nil, ErrUnsupportedAudioType
	}

	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	key := storage.BuildKey("recordings", userID, name, label, strings.TrimPrefix(ext, "."))

	url, err := s.gateway.Upload(ctx, key, io.LimitReader(body, maxUploadSize), contentTypeForExt(ext))
	if err != nil {
		return nil, err
	}

	log.Printf("[Upload] Stored %s for user %s", key, userID)
	return &model.UploadResponse{URL: url, Key: key}, nil
}

func contentTypeForExt(ext string) string {
	switch ext {
	case ".wav":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}
