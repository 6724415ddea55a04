package downloader_test

import (
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"hozon/internal/downloader"
	"hozon/internal/entity"
)

type binsWithFFmpeg struct{}

func (binsWithFFmpeg) YTdlpPath() string { return "/opt/hozon/bin/yt-dlp" }
func (binsWithFFmpeg) FFmpegDir() string { return "/opt/hozon/bin" }

func TestArgsBuilder(t *testing.T) {
	t.Parallel()

	b := downloader.NewArgsBuilder(binsWithFFmpeg{}, "/var/cache/hozon", "")

	tests := []struct {
		name      string
		format    entity.OutputFormat
		wantValue []string
	}{
		{name: "video container", format: entity.FormatMP4, wantValue: []string{"bv[height<=1080]+ba", "mp4"}},
		{name: "audio passthrough", format: entity.FormatM4A, wantValue: []string{"m4a"}},
		{name: "audio transcode", format: entity.FormatMP3, wantValue: []string{"mp3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := entity.DownloadRequest{
				ID:                "id1",
				DestinationFolder: "/downloads",
				Format:            tt.format,
				MaxHeight:         "1080",
				URL:               "https://example.com/v",
			}

			bin, meta := b.Metadata(t.Context(), req, "socks5h://127.0.0.1:1080")
			if bin != "/opt/hozon/bin/yt-dlp" {
				t.Errorf("bin = %q", bin)
			}

			if meta[len(meta)-1] != req.URL {
				t.Errorf("url must be last, got %q", meta)
			}

			for _, want := range append(tt.wantValue, "--no-playlist", "socks5h://127.0.0.1:1080", "/var/cache/hozon") {
				if !slices.Contains(meta, want) {
					t.Errorf("metadata args %q missing %q", meta, want)
				}
			}

			if !slices.ContainsFunc(meta, func(a string) bool { return strings.Count(a, "[|]") == 9 }) {
				t.Errorf("metadata args %q lack the print template", meta)
			}

			dest := filepath.Join(req.DestinationFolder, "Clip_id1.mp4")
			_, fetch := b.Fetch(t.Context(), req, entity.DownloadMetadata{DestinationPath: dest}, "")

			for _, want := range append(tt.wantValue, dest, "--newline", "--no-part", "--ffmpeg-location", "/opt/hozon/bin") {
				if !slices.Contains(fetch, want) {
					t.Errorf("fetch args %q missing %q", fetch, want)
				}
			}

			if slices.ContainsFunc(fetch, func(a string) bool { return strings.Contains(a, "[|]") }) {
				t.Errorf("fetch args %q must not print metadata", fetch)
			}
		})
	}
}

func TestArgsBuilderPlaylistOutput(t *testing.T) {
	t.Parallel()

	b := downloader.NewArgsBuilder(fakeBins{bin: "yt-dlp"}, "", "")
	dest := filepath.Join("/downloads", "Mix_20240101_id2")

	_, fetch := b.Fetch(t.Context(),
		entity.DownloadRequest{ID: "id2", Format: entity.FormatM4A, URL: "https://example.com/list"},
		entity.DownloadMetadata{DestinationPath: dest, IsPlaylist: true},
		"")

	if !slices.Contains(fetch, filepath.Join(dest, "%(title)s.%(ext)s")) {
		t.Errorf("fetch args %q lack the per-item template", fetch)
	}

	if slices.Contains(fetch, "--ffmpeg-location") {
		t.Errorf("fetch args %q must omit an empty ffmpeg location", fetch)
	}
}
