// Package transcode cuts clips out of a source file with the ffmpeg binary.
package transcode

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

type Profile struct {
	VideoCodec   string
	Preset       string
	CRF          int
	AudioCodec   string
	AudioBitrate string
	Threads      int
}

func DefaultProfile() Profile {
	return Profile{
		VideoCodec:   "libx264",
		Preset:       "fast",
		CRF:          23,
		AudioCodec:   "aac",
		AudioBitrate: "128k",
		Threads:      4,
	}
}

type Encoder interface {
	Clip(ctx context.Context, input, output string, start, duration float64) error
}

type FFmpeg struct {
	binary  string
	profile Profile
}

func NewFFmpeg(binary string, profile Profile) *FFmpeg {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, profile: profile}
}

// BuildArgs seeks before the input so only the requested window is decoded.
func (f *FFmpeg) BuildArgs(input, output string, start, duration float64) []string {
	p := f.profile
	args := []string{
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-ss", formatSeconds(start),
		"-i", input,
		"-t", formatSeconds(duration),
		"-c:v", p.VideoCodec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-c:a", p.AudioCodec,
		"-b:a", p.AudioBitrate,
	}
	if p.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(p.Threads))
	}
	return append(args, "-movflags", "+faststart", output)
}

func (f *FFmpeg) Clip(ctx context.Context, input, output string, start, duration float64) error {
	args := f.BuildArgs(input, output, start, duration)
	zerolog.Ctx(ctx).Debug().Str("cmd", f.binary+" "+strings.Join(args, " ")).Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, f.binary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		zerolog.Ctx(ctx).Error().Str("output", string(out)).Str("clip", output).Msg("ffmpeg failed")
		return fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return nil
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', -1, 64)
}
