package media

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/collabcanvas/canvasd/pkg/store/models"
)

// ServeChoice is the resolved file to hand to the HTTP layer.
type ServeChoice struct {
	Path        string
	ContentType string
}

// ResolveServe picks which file satisfies GET /uploads/<filename>. Videos
// consult processed_formats and the Accept header: WebM when present and
// accepted, else MP4, else the original. Everything else serves as-is.
func (p *Pipeline) ResolveServe(ctx context.Context, filename, accept string) (*ServeChoice, error) {
	original := &ServeChoice{Path: filepath.Join(p.uploadsDir, filename)}

	file, err := p.store.GetFile(ctx, filename)
	if err != nil {
		// Unknown to the database; fall back to the bare file if present
		// (pre-migration uploads).
		if _, serr := os.Stat(original.Path); serr != nil {
			return nil, err
		}
		return original, nil
	}
	original.ContentType = file.MimeType

	if !file.IsVideo() || len(file.ProcessedFormats) == 0 {
		return original, nil
	}

	var formats []string
	if err := json.Unmarshal(file.ProcessedFormats, &formats); err != nil {
		return original, nil
	}
	available := make(map[string]bool, len(formats))
	for _, f := range formats {
		available[f] = true
	}

	base := Basename(filename)
	acceptsWebM := accept == "" || strings.Contains(accept, "video/webm") ||
		strings.Contains(accept, "video/*") || strings.Contains(accept, "*/*")

	if available["webm"] && acceptsWebM {
		path := filepath.Join(p.uploadsDir, base+".webm")
		if _, err := os.Stat(path); err == nil {
			return &ServeChoice{Path: path, ContentType: "video/webm"}, nil
		}
	}
	if available["mp4"] {
		path := filepath.Join(p.uploadsDir, base+".mp4")
		if _, err := os.Stat(path); err == nil {
			return &ServeChoice{Path: path, ContentType: "video/mp4"}, nil
		}
	}
	if _, err := os.Stat(original.Path); err != nil {
		return nil, models.ErrFileNotFound
	}
	return original, nil
}
