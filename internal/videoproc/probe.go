// Package videoproc wraps the external video-processing binary: a
// metadata-only probe and a transcode with progress events (spec §4.5).
// Invocation of the binary itself is an opaque child process; this package
// owns only parsing its output and managing the crash marker/progress
// contract around it.
package videoproc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sharkoder/sharkoder/internal/models"
)

// Prober invokes the external binary in metadata-only mode.
type Prober struct {
	BinaryPath    string
	TimeoutLocal  time.Duration
	TimeoutRemote time.Duration
}

// NewProber builds a Prober with the spec's default timeouts.
func NewProber(binaryPath string) *Prober {
	return &Prober{
		BinaryPath:    binaryPath,
		TimeoutLocal:  30 * time.Second,
		TimeoutRemote: 10 * time.Second,
	}
}

// ffprobeStream is the subset of ffprobe -show_streams JSON this adapter
// reads; other fields are ignored.
type ffprobeStream struct {
	CodecType     string `json:"codec_type"`
	CodecName     string `json:"codec_name"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	RFrameRate    string `json:"r_frame_rate"`
	BitRate       string `json:"bit_rate"`
	DurationStr   string `json:"duration"`
}

type ffprobeFormat struct {
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	BitRate    string `json:"bit_rate"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// Probe runs the binary against target (a local path or an authenticated
// remote URL) and returns extracted metadata. isRemote selects the bounding
// timeout (spec §4.5: "Timeout bounded (default 30s local, 10s remote)").
func (p *Prober) Probe(ctx context.Context, target string, isRemote bool) (models.ProbeInfo, error) {
	timeout := p.TimeoutLocal
	if isRemote {
		timeout = p.TimeoutRemote
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.BinaryPath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format", "-show_streams",
		target,
	)
	out, err := cmd.Output()
	if err != nil {
		return models.ProbeInfo{}, fmt.Errorf("probe %s: %w", target, err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return models.ProbeInfo{}, fmt.Errorf("parse probe output for %s: %w", target, err)
	}

	info := models.ProbeInfo{Container: parsed.Format.FormatName}
	if d, err := strconv.ParseFloat(firstNonEmpty(parsed.Format.Duration), 64); err == nil {
		info.Duration = time.Duration(d * float64(time.Second))
	}
	if br, err := strconv.ParseInt(firstNonEmpty(parsed.Format.BitRate), 10, 64); err == nil {
		info.Bitrate = br
	}

	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			info.Codec = s.CodecName
			info.Width = s.Width
			info.Height = s.Height
			info.FPS = parseRationalFPS(s.RFrameRate)
		case "audio":
			info.AudioStreams++
		case "subtitle":
			info.SubtitleStreams++
		}
	}
	return info, nil
}

func firstNonEmpty(s string) string {
	if strings.TrimSpace(s) == "" {
		return "0"
	}
	return s
}

// parseRationalFPS evaluates a rational frame-rate expression like
// "30000/1001" by direct division, never as evaluated code (spec §4.5:
// "computed from a rational frame-rate expression, not evaluated as code").
func parseRationalFPS(expr string) float64 {
	parts := strings.SplitN(expr, "/", 2)
	if len(parts) != 2 {
		v, _ := strconv.ParseFloat(expr, 64)
		return v
	}
	num, errN := strconv.ParseFloat(parts[0], 64)
	den, errD := strconv.ParseFloat(parts[1], 64)
	if errN != nil || errD != nil || den == 0 {
		return 0
	}
	return num / den
}

// ResolutionBucket is a package-level re-export for callers that only have
// width/height rather than a full ProbeInfo.
func ResolutionBucket(height int) string {
	return models.ProbeInfo{Height: height}.ResolutionBucket()
}

// scanLines is a small helper shared with encode.go's stderr reader.
func scanLines(r *bufio.Scanner, onLine func(string)) {
	for r.Scan() {
		onLine(r.Text())
	}
}
