// Package request holds the decoded HTTP request bodies.
package request

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"hozon/internal/entity"
	"hozon/internal/errs"
)

// Height accepts both 720 and "720".
type Height string

func (h *Height) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*h = ""

		return nil
	}

	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("maxHeight: %w", err)
		}

		*h = Height(strings.TrimSpace(s))

		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("maxHeight: %w", err)
	}

	*h = Height(n.String())

	return nil
}

type StartDownload struct {
	ID                string `json:"id"`
	DestinationFolder string `json:"destinationFolder"`
	Format            string `json:"format"` // mp4, m4a or mp3
	MaxHeight         Height `json:"maxHeight"`
	URL               string `json:"url"`
}

// Validate checks presence only; the service validates the values.
func (s *StartDownload) Validate() error {
	if strings.TrimSpace(s.URL) == "" {
		return errs.ErrInvalidURL
	}

	if s.Format == "" {
		return errs.ErrInvalidFormat
	}

	return nil
}

func (s *StartDownload) ToEntity() entity.DownloadRequest {
	return entity.DownloadRequest{
		ID:                strings.TrimSpace(s.ID),
		DestinationFolder: s.DestinationFolder,
		Format:            entity.OutputFormat(strings.ToLower(s.Format)),
		MaxHeight:         string(s.MaxHeight),
		URL:               s.URL,
	}
}

type Reveal struct {
	Path       string `json:"path"`
	IsPlaylist bool   `json:"isPlaylist"`
}

func (r *Reveal) Validate() error {
	if r.Path == "" {
		return errs.ErrInvalidPath
	}

	return nil
}
