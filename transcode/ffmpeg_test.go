package transcode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFFmpeg_BuildArgs(t *testing.T) {
	f := NewFFmpeg("", DefaultProfile())

	args := f.BuildArgs("in.mp4", "out/abc_clip_3.mp4", 120, 5)

	assert.Equal(t, []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", "120", "-i", "in.mp4", "-t", "5",
		"-c:v", "libx264", "-preset", "fast", "-crf", "23",
		"-c:a", "aac", "-b:a", "128k",
		"-threads", "4",
		"-movflags", "+faststart", "out/abc_clip_3.mp4",
	}, args)
}

func TestFFmpeg_BuildArgsFractionalAndNoThreads(t *testing.T) {
	p := DefaultProfile()
	p.Threads = 0
	f := NewFFmpeg("ffmpeg", p)

	args := f.BuildArgs("in.mp4", "out.mp4", 30.5, 12.25)

	assert.Contains(t, args, "30.5")
	assert.Contains(t, args, "12.25")
	assert.NotContains(t, args, "-threads")
}

func TestFFmpeg_ClipMissingBinary(t *testing.T) {
	f := NewFFmpeg("/nonexistent/ffmpeg-binary", DefaultProfile())

	err := f.Clip(context.Background(), "in.mp4", "out.mp4", 0, 30)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ffmpeg execution failed")
}
