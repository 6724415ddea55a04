package downloader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"hozon/internal/entity"
	"hozon/internal/errs"
	"hozon/pkg/fsname"
	"hozon/pkg/ptr"
)

// fieldDelimiter separates the fields of one printed metadata record.
const fieldDelimiter = "[|]"

// positions of the fields in a metadata record
const (
	fieldTitle = iota
	fieldThumbnail
	fieldDuration
	fieldResolution
	fieldApproxSize
	fieldSinglePath
	fieldPlaylistCount
	fieldPlaylistTitle
	fieldPlaylistPath
	fieldURL

	fieldCount
)

// SinglePathTemplate is the output template of a single item request.
func SinglePathTemplate(requestID string) string {
	return "%(title)s_%(epoch>%Y%m%d_%H_%M_%p)s_" + requestID + ".%(ext)s"
}

// PlaylistFolderTemplate is the folder template of a playlist request.
func PlaylistFolderTemplate(requestID string) string {
	return "%(playlist_title)s_%(epoch>%Y%m%d_%H_%M_%p)s_" + requestID
}

// printTemplate asks the tool for one record per item.
func printTemplate(requestID string) string {
	fields := [fieldCount]string{
		fieldTitle:         "%(title)s",
		fieldThumbnail:     "%(thumbnail)s",
		fieldDuration:      "%(duration_string)s",
		fieldResolution:    "%(resolution)s",
		fieldApproxSize:    "%(filesize_approx)s",
		fieldSinglePath:    SinglePathTemplate(requestID),
		fieldPlaylistCount: "%(playlist_count)s",
		fieldPlaylistTitle: "%(playlist_title)s",
		fieldPlaylistPath:  PlaylistFolderTemplate(requestID),
		fieldURL:           "%(webpage_url)s",
	}

	return strings.Join(fields[:], fieldDelimiter)
}

type outputRunner interface {
	Output(ctx context.Context, bin string, args []string) ([]byte, string, error)
}

// MetadataFetcher runs the tool in print-only mode and parses the records it prints.
type MetadataFetcher struct {
	log    *slog.Logger
	runner outputRunner
	args   *ArgsBuilder
}

// NewMetadataFetcher creates a MetadataFetcher.
func NewMetadataFetcher(log *slog.Logger, runner outputRunner, args *ArgsBuilder) *MetadataFetcher {
	return &MetadataFetcher{
		log:    log.With(slog.String("package", "downloader"), slog.String("component", "metadata")),
		runner: runner,
		args:   args,
	}
}

// Fetch invokes the tool once and derives the request's metadata.
func (f *MetadataFetcher) Fetch(ctx context.Context, req entity.DownloadRequest, proxy string) (entity.DownloadMetadata, error) {
	bin, args := f.args.Metadata(ctx, req, proxy)

	out, stderr, err := f.runner.Output(ctx, bin, args)
	if err != nil {
		return entity.DownloadMetadata{}, fmt.Errorf("metadata query: %w", err)
	}

	meta, err := ParseMetadata(out, req)
	if err != nil {
		if stderr != "" {
			return entity.DownloadMetadata{}, fmt.Errorf("%w: %s", err, stderr)
		}

		return entity.DownloadMetadata{}, err
	}

	f.log.DebugContext(ctx, "metadata parsed", slog.Any("metadata", meta))

	return meta, nil
}

// ParseMetadata parses the print-only output of the tool for req.
func ParseMetadata(out []byte, req entity.DownloadRequest) (entity.DownloadMetadata, error) {
	if !utf8.Valid(out) {
		return entity.DownloadMetadata{}, errs.ErrMetadataInvalidEncoding
	}

	if len(bytes.TrimSpace(out)) == 0 {
		return entity.DownloadMetadata{}, errs.ErrMetadataEmpty
	}

	var records [][]string

	for line := range strings.SplitSeq(string(out), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, fieldDelimiter)
		if len(fields) != fieldCount {
			return entity.DownloadMetadata{}, fmt.Errorf("%w: record %d has %d fields, want %d",
				errs.ErrMetadataMalformed, len(records)+1, len(fields), fieldCount)
		}

		records = append(records, fields)
	}

	meta := entity.DownloadMetadata{
		RequestID:  req.ID,
		IsPlaylist: len(records) > 1,
		Items:      make([]entity.ItemMetadata, 0, len(records)),
	}

	for _, rec := range records {
		size := parseSize(rec[fieldApproxSize])
		meta.TotalSizeBytes += size
		meta.Items = append(meta.Items, entity.ItemMetadata{
			Title:           rec[fieldTitle],
			ThumbnailURL:    rec[fieldThumbnail],
			DurationText:    rec[fieldDuration],
			ResolutionText:  rec[fieldResolution],
			ApproxSizeBytes: size,
			SourceURL:       rec[fieldURL],
		})
	}

	first := records[0]
	name := first[fieldSinglePath]

	if meta.IsPlaylist {
		name = first[fieldPlaylistPath]
		meta.PlaylistTitle = ptr.Of(first[fieldPlaylistTitle])

		count, err := strconv.Atoi(strings.TrimSpace(first[fieldPlaylistCount]))
		if err != nil || count <= 0 {
			count = len(records)
		}

		meta.PlaylistCount = ptr.Of(count)
	}

	head, tail := splitStem(name, req.ID)
	meta.DestinationPath = filepath.Join(req.DestinationFolder, fsname.SanitizeTail(head, tail))

	return meta, nil
}

// renderedEpochLen is the width of the rendered epoch part of the templates.
const renderedEpochLen = len("_20240131_09_05_PM")

// splitStem separates the title from the "_<epoch>_<id>[.<ext>]" suffix the
// templates append, so a long title cannot push the id or extension out.
func splitStem(name, requestID string) (string, string) {
	idx := strings.LastIndex(name, "_"+requestID)
	if idx < 0 {
		return name, ""
	}

	if start := idx - renderedEpochLen; start >= 0 && name[start] == '_' {
		idx = start
	}

	return name[:idx], name[idx:]
}

// parseSize treats anything that is not an unsigned integer (including "NA") as 0.
func parseSize(raw string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0
	}

	return n
}
