package media

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ProbeResult is the subset of ffprobe output the pipeline cares about.
type ProbeResult struct {
	Duration   float64 // seconds
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
	FPS        float64
}

// LongestEdge returns max(width, height).
func (p *ProbeResult) LongestEdge() int {
	if p.Width > p.Height {
		return p.Width
	}
	return p.Height
}

// FitsWithin reports whether the source dimensions already fit the box.
func (p *ProbeResult) FitsWithin(maxW, maxH int) bool {
	return p.Width <= maxW && p.Height <= maxH
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe runs ffprobe on the given path. Works for both images and videos;
// images come back with zero duration and no audio codec.
func Probe(ctx context.Context, ffprobePath, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}

	var raw ffprobeOutput
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output for %s: %w", path, err)
	}

	result := &ProbeResult{}
	if raw.Format.Duration != "" {
		result.Duration, _ = strconv.ParseFloat(raw.Format.Duration, 64)
	}
	for _, s := range raw.Streams {
		switch s.CodecType {
		case "video":
			if result.VideoCodec == "" {
				result.VideoCodec = s.CodecName
				result.Width = s.Width
				result.Height = s.Height
				result.FPS = parseFrameRate(s.AvgFrameRate)
			}
		case "audio":
			if result.AudioCodec == "" {
				result.AudioCodec = s.CodecName
			}
		}
	}
	if result.Width == 0 && result.Height == 0 {
		return nil, fmt.Errorf("no video stream in %s", path)
	}
	return result, nil
}

// parseFrameRate decodes ffprobe's "num/den" rational frame rate.
func parseFrameRate(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}

// fitWithin scales (w, h) down to fit (maxW, maxH) preserving aspect and
// rounding to even numbers, which H.264 and VP9 both require. Dimensions
// already inside the box are returned unchanged (still rounded even).
func fitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= 0 || h <= 0 {
		return w, h
	}
	scale := 1.0
	if w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if s := float64(maxH) / float64(h); h > maxH && s < scale {
		scale = s
	}
	outW := int(float64(w)*scale) &^ 1
	outH := int(float64(h)*scale) &^ 1
	if outW < 2 {
		outW = 2
	}
	if outH < 2 {
		outH = 2
	}
	return outW, outH
}
