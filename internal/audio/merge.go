// Package audio concatenates recorded WAV segments into one continuous
// 16-bit PCM WAV file, the format every downstream provider accepts.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrNoSegments is returned when no input segment could be downloaded and
// decoded. Partial input loss degrades gracefully; total loss fails.
var ErrNoSegments = errors.New("no audio segments could be decoded")

// maxSegmentBytes caps a single segment download.
const maxSegmentBytes = 200 * 1024 * 1024

// Merger downloads and concatenates audio segments.
type Merger struct {
	httpClient *http.Client
}

// NewMerger creates a Merger with a download timeout suited to large takes.
func NewMerger() *Merger {
	return &Merger{
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// NewMergerWithClient creates a Merger using the given HTTP client.
func NewMergerWithClient(httpClient *http.Client) *Merger {
	return &Merger{httpClient: httpClient}
}

// segment holds one decoded input as per-channel float samples in [-1,1].
type segment struct {
	channels [][]float64
	rate     int
}

// Merge downloads every URL, decodes to linear PCM, concatenates the
// samples per channel in input order and re-encodes as 16-bit PCM WAV.
//
// Segments that fail to download or decode are skipped with a warning so a
// single lost take does not block the pipeline. The output sample rate is
// the first usable segment's rate; mismatched input rates are not resampled.
// Segments with fewer channels than the first have missing channels filled
// by duplicating channel 0; extra channels are dropped.
func (m *Merger) Merge(ctx context.Context, urls []string) ([]byte, error) {
	var segments []*segment
	for _, u := range urls {
		seg, err := m.fetchSegment(ctx, u)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Printf("[Merge] skipping segment %s: %v", u, err)
			continue
		}
		segments = append(segments, seg)
	}

	if len(segments) == 0 {
		return nil, ErrNoSegments
	}

	return encodeSegments(segments)
}

func (m *Merger) fetchSegment(ctx context.Context, url string) (*segment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSegmentBytes))
	if err != nil {
		return nil, fmt.Errorf("download read failed: %w", err)
	}

	return decodeSegment(data)
}

// decodeSegment decodes WAV bytes into per-channel float samples.
func decodeSegment(data []byte) (*segment, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("PCM decode failed: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || len(buf.Data) == 0 {
		return nil, errors.New("empty PCM buffer")
	}

	bitDepth := buf.SourceBitDepth
	if bitDepth <= 0 {
		bitDepth = int(dec.BitDepth)
	}
	if bitDepth <= 0 {
		bitDepth = 16
	}
	scale := float64(int64(1) << (bitDepth - 1))

	numChans := buf.Format.NumChannels
	frames := len(buf.Data) / numChans
	channels := make([][]float64, numChans)
	for ch := 0; ch < numChans; ch++ {
		channels[ch] = make([]float64, frames)
	}
	for frame := 0; frame < frames; frame++ {
		for ch := 0; ch < numChans; ch++ {
			channels[ch][frame] = float64(buf.Data[frame*numChans+ch]) / scale
		}
	}

	return &segment{channels: channels, rate: buf.Format.SampleRate}, nil
}

// encodeSegments concatenates segments and encodes 16-bit PCM WAV. Channel
// layout and sample rate follow the first segment.
func encodeSegments(segments []*segment) ([]byte, error) {
	numChans := len(segments[0].channels)
	rate := segments[0].rate

	totalFrames := 0
	for _, seg := range segments {
		totalFrames += len(seg.channels[0])
	}

	data := make([]int, 0, totalFrames*numChans)
	for _, seg := range segments {
		frames := len(seg.channels[0])
		for frame := 0; frame < frames; frame++ {
			for ch := 0; ch < numChans; ch++ {
				src := ch
				if src >= len(seg.channels) {
					src = 0
				}
				data = append(data, quantize16(seg.channels[src][frame]))
			}
		}
	}

	buf := &gaudio.IntBuffer{
		Format:         &gaudio.Format{NumChannels: numChans, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}

	var out seekableBuffer
	enc := wav.NewEncoder(&out, rate, 16, numChans, 1)
	if err := enc.Write(buf); err != nil {
		enc.Close()
		return nil, fmt.Errorf("WAV encode failed: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("WAV finalize failed: %w", err)
	}

	return out.Bytes(), nil
}

// quantize16 clamps a float sample to [-1,1] and quantizes to 16-bit, so
// out-of-range input cannot wrap around.
func quantize16(sample float64) int {
	if sample > 1 {
		sample = 1
	} else if sample < -1 {
		sample = -1
	}
	v := int(sample * 32767)
	return v
}
