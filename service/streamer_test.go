package service

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"video-splitter/apperror"
)

func TestParseRange(t *testing.T) {
	const size = 1000
	tests := []struct {
		header string
		want   ByteRange
	}{
		{header: "bytes=0-499", want: ByteRange{Start: 0, End: 499}},
		{header: "bytes=500-", want: ByteRange{Start: 500, End: 999}},
		{header: "bytes=-200", want: ByteRange{Start: 800, End: 999}},
		{header: "bytes=900-5000", want: ByteRange{Start: 900, End: 999}},
		{header: "bytes=-5000", want: ByteRange{Start: 0, End: 999}},
		{header: "bytes=999-999", want: ByteRange{Start: 999, End: 999}},
	}
	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			r, ok, err := ParseRange(tt.header, size)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, tt.want, r)
		})
	}
}

func TestParseRange_LengthAndContentRange(t *testing.T) {
	r, ok, err := ParseRange("bytes=100-199", 1000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), r.Length())
	assert.Equal(t, "bytes 100-199/1000", r.ContentRange(1000))
}

func TestParseRange_Ignored(t *testing.T) {
	for _, header := range []string{"", "items=0-10", "bytes=0-10,20-30", "bytes=abc-", "bytes=10-5", "bytes=5"} {
		t.Run(header, func(t *testing.T) {
			_, ok, err := ParseRange(header, 1000)
			assert.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestParseRange_NotSatisfiable(t *testing.T) {
	for _, header := range []string{"bytes=1000-", "bytes=2000-3000", "bytes=-0"} {
		t.Run(header, func(t *testing.T) {
			_, _, err := ParseRange(header, 1000)
			assert.ErrorIs(t, err, ErrRangeNotSatisfiable)
		})
	}
}

func writeClip(t *testing.T, outputDir, videoId, filename, content string) {
	t.Helper()
	dir := filepath.Join(outputDir, videoId)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, filename), []byte(content), 0o644))
}

func TestStreamer_OpenLocal(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "abc123", "abc123_clip_1.mp4", "0123456789")

	clip, err := NewStreamer(dir, nil).Open(context.Background(), "abc123", "abc123_clip_1.mp4")
	require.NoError(t, err)
	defer clip.Close()

	assert.Equal(t, int64(10), clip.Size)
	_, err = clip.Seek(4, io.SeekStart)
	require.NoError(t, err)
	rest, err := io.ReadAll(clip)
	require.NoError(t, err)
	assert.Equal(t, "456789", string(rest))
}

func TestStreamer_OpenMissing(t *testing.T) {
	_, err := NewStreamer(t.TempDir(), nil).Open(context.Background(), "abc123", "abc123_clip_9.mp4")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestStreamer_RejectsTraversal(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "output")
	require.NoError(t, os.MkdirAll(outputDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "secret.mp4"), []byte("secret"), 0o644))

	s := NewStreamer(outputDir, nil)
	for _, tc := range [][2]string{
		{"..", "secret.mp4"},
		{"abc", "../../secret.mp4"},
		{"abc", "..%2fsecret.mp4"},
		{"a/b", "clip.mp4"},
		{"", "clip.mp4"},
	} {
		_, err := s.Open(context.Background(), tc[0], tc[1])
		assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err), "videoId=%q filename=%q", tc[0], tc[1])
	}
}

func TestStreamer_FallsBackToArchive(t *testing.T) {
	archive := &fakeArchive{objects: map[string]string{"abc123/abc123_clip_2.mp4": "archived"}}
	s := NewStreamer(t.TempDir(), archive)

	clip, err := s.Open(context.Background(), "abc123", "abc123_clip_2.mp4")
	require.NoError(t, err)
	defer clip.Close()
	assert.Equal(t, int64(8), clip.Size)

	_, err = s.Open(context.Background(), "abc123", "abc123_clip_3.mp4")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}
