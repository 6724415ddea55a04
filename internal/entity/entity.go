// Package entity defines the core entities used in the application.
package entity

import (
	"log/slog"
	"time"

	"hozon/internal/errs"
	"hozon/pkg/ptr"
)

// FormatKind classifies how the tool selects and post-processes streams.
type FormatKind int

const (
	// FormatKindUnknown is returned for unrecognized formats.
	FormatKindUnknown FormatKind = iota
	// FormatKindVideo selects the best video up to a height merged with the best audio.
	FormatKindVideo
	// FormatKindAudioPassthrough selects an audio-only stream as is.
	FormatKindAudioPassthrough
	// FormatKindAudioTranscode extracts audio and transcodes it.
	FormatKindAudioTranscode
)

// OutputFormat is the container or codec requested by the caller.
type OutputFormat string

// Recognized output formats.
const (
	FormatMP4 OutputFormat = "mp4"
	FormatM4A OutputFormat = "m4a"
	FormatMP3 OutputFormat = "mp3"
)

// Kind maps the format to its selection strategy.
func (f OutputFormat) Kind() FormatKind {
	switch f {
	case FormatMP4:
		return FormatKindVideo
	case FormatM4A:
		return FormatKindAudioPassthrough
	case FormatMP3:
		return FormatKindAudioTranscode
	default:
		return FormatKindUnknown
	}
}

// Validate rejects formats with no known flag mapping.
func (f OutputFormat) Validate() error {
	if f.Kind() == FormatKindUnknown {
		return errs.ErrInvalidFormat
	}

	return nil
}

// State is a step of the download state machine.
type State string

const (
	StateIdle             State = "idle"
	StateFetchingMetadata State = "fetching_metadata"
	StateMetadataReady    State = "metadata_ready"
	StateDownloading      State = "downloading"
	StateCompleted        State = "completed"
	StateCancelled        State = "cancelled"
	StateFailed           State = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// DownloadRequest is immutable once submitted.
type DownloadRequest struct {
	ID                string       `json:"id"`
	DestinationFolder string       `json:"destinationFolder"`
	Format            OutputFormat `json:"format"`
	MaxHeight         string       `json:"maxHeight"`
	URL               string       `json:"url"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (r DownloadRequest) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("url", r.URL),
		slog.String("format", string(r.Format)),
		slog.String("maxHeight", r.MaxHeight),
		slog.String("destinationFolder", r.DestinationFolder),
	)
}

// ItemMetadata describes one media item as reported by the tool.
type ItemMetadata struct {
	Title           string `json:"title"`
	ThumbnailURL    string `json:"thumbnailUrl"`
	DurationText    string `json:"durationText"`
	ResolutionText  string `json:"resolutionText"`
	ApproxSizeBytes uint64 `json:"approxSizeBytes"`
	SourceURL       string `json:"sourceUrl"`
}

// DownloadMetadata is derived once per request before the fetch phase.
// PlaylistTitle and PlaylistCount are set iff IsPlaylist.
type DownloadMetadata struct {
	RequestID       string         `json:"requestId"`
	DestinationPath string         `json:"destinationPath"`
	TotalSizeBytes  uint64         `json:"totalSizeBytes"`
	IsPlaylist      bool           `json:"isPlaylist"`
	PlaylistTitle   *string        `json:"playlistTitle,omitempty"`
	PlaylistCount   *int           `json:"playlistCount,omitempty"`
	Items           []ItemMetadata `json:"items"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (m DownloadMetadata) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("requestId", m.RequestID),
		slog.String("destinationPath", m.DestinationPath),
		slog.Uint64("totalSizeBytes", m.TotalSizeBytes),
		slog.Bool("isPlaylist", m.IsPlaylist),
		slog.String("playlistTitle", ptr.Deref(m.PlaylistTitle)),
		slog.Int("items", len(m.Items)),
	)
}

// Progress is the latest parsed progress line; nil fields were not reported.
type Progress struct {
	RequestID string  `json:"requestId"`
	Percent   float64 `json:"percent"`
	SizeText  *string `json:"sizeText,omitempty"`
	SpeedText *string `json:"speedText,omitempty"`
	ETAText   *string `json:"etaText,omitempty"`
}

// Merge overlays the reported fields of update onto p.
func (p *Progress) Merge(update Progress) {
	p.Percent = update.Percent

	if update.SizeText != nil {
		p.SizeText = update.SizeText
	}

	if update.SpeedText != nil {
		p.SpeedText = update.SpeedText
	}

	if update.ETAText != nil {
		p.ETAText = update.ETAText
	}
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (p Progress) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("requestId", p.RequestID),
		slog.Float64("percent", p.Percent),
		slog.String("size", ptr.Deref(p.SizeText)),
		slog.String("speed", ptr.Deref(p.SpeedText)),
		slog.String("eta", ptr.Deref(p.ETAText)),
	)
}

// Result is the terminal outcome of a request.
// Cancelled sessions carry the link and no error, like completed ones.
type Result struct {
	RequestID string `json:"requestId"`
	State     State  `json:"state"`
	Link      string `json:"link,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message"`
}

// OK reports whether the caller should treat the request as successful.
func (r Result) OK() bool { return r.Error == "" }

// LogValue implements the slog.LogValuer interface for structured logging.
func (r Result) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("requestId", r.RequestID),
		slog.String("state", string(r.State)),
		slog.String("link", r.Link),
		slog.String("error", r.Error),
	)
}

// Session is the read-side snapshot of one request.
type Session struct {
	Request   DownloadRequest   `json:"request"`
	State     State             `json:"state"`
	Metadata  *DownloadMetadata `json:"metadata,omitempty"`
	Progress  *Progress         `json:"progress,omitempty"`
	Result    *Result           `json:"result,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
	ExpiresAt time.Time         `json:"expiresAt"`
}

// LogValue implements the slog.LogValuer interface for structured logging.
func (s Session) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", s.Request.ID),
		slog.String("url", s.Request.URL),
		slog.String("state", string(s.State)),
		slog.Time("updatedAt", s.UpdatedAt),
	)
}
