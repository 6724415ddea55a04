package downloader

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/lrstanley/go-ytdlp"

	"hozon/internal/entity"
)

// playlist items are written under the destination folder by title
const playlistItemTemplate = "%(title)s.%(ext)s"

// Binaries locates the executables the tool needs.
type Binaries interface {
	YTdlpPath() string
	FFmpegDir() string
}

// ArgsBuilder renders the command lines of both tool invocations.
type ArgsBuilder struct {
	bins       Binaries
	cacheDir   string
	cookieFile string
}

// NewArgsBuilder creates an ArgsBuilder. Empty cacheDir or cookieFile are omitted.
func NewArgsBuilder(bins Binaries, cacheDir, cookieFile string) *ArgsBuilder {
	return &ArgsBuilder{bins: bins, cacheDir: cacheDir, cookieFile: cookieFile}
}

// Metadata returns the executable and arguments of the print-only invocation.
func (b *ArgsBuilder) Metadata(ctx context.Context, req entity.DownloadRequest, proxy string) (string, []string) {
	cmd := b.base(req, proxy).Print(printTemplate(req.ID))

	return b.argv(ctx, cmd, req.URL)
}

// Fetch returns the executable and arguments of the file-producing invocation.
func (b *ArgsBuilder) Fetch(
	ctx context.Context,
	req entity.DownloadRequest,
	meta entity.DownloadMetadata,
	proxy string,
) (string, []string) {
	output := meta.DestinationPath
	if meta.IsPlaylist {
		output = filepath.Join(meta.DestinationPath, playlistItemTemplate)
	}

	cmd := b.base(req, proxy).
		NoPart().
		Output(output).
		Newline()

	return b.argv(ctx, cmd, req.URL)
}

// base carries the flags shared by both invocations so the reported size
// matches the stream that is actually fetched.
func (b *ArgsBuilder) base(req entity.DownloadRequest, proxy string) *ytdlp.Command {
	cmd := ytdlp.New().
		SetExecutable(b.bins.YTdlpPath()).
		NoPlaylist()

	switch req.Format.Kind() {
	case entity.FormatKindVideo:
		cmd = cmd.
			Format(fmt.Sprintf("bv[height<=%s]+ba", req.MaxHeight)).
			MergeOutputFormat(string(req.Format))
	case entity.FormatKindAudioPassthrough:
		cmd = cmd.Format(string(req.Format))
	case entity.FormatKindAudioTranscode:
		cmd = cmd.ExtractAudio().AudioFormat(string(req.Format))
	case entity.FormatKindUnknown:
		// rejected before any invocation is built
	}

	if proxy != "" {
		cmd = cmd.Proxy(proxy)
	}

	if b.cookieFile != "" {
		cmd = cmd.Cookies(b.cookieFile)
	}

	if b.cacheDir != "" {
		cmd = cmd.CacheDir(b.cacheDir)
	}

	return cmd
}

func (b *ArgsBuilder) argv(ctx context.Context, cmd *ytdlp.Command, url string) (string, []string) {
	var extra []string

	if dir := b.bins.FFmpegDir(); dir != "" {
		extra = append(extra, "--ffmpeg-location", dir)
	}

	// only the argument list is taken, the process itself is run by the process package
	built := cmd.BuildCommand(ctx, append(extra, url)...)

	return b.bins.YTdlpPath(), built.Args[1:]
}
