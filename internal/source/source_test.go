package source

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/moodscan/internal/types"
)

func encodeJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestSplitJpeg(t *testing.T) {
	// [Garbage] [JPEG] [Garbage]
	jpegData := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00}
	streamData = append(streamData, jpegData...)
	streamData = append(streamData, []byte{0x00, 0x00}...)

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	if !scanner.Scan() {
		t.Fatal("Expected to find a token, got EOF")
	}
	if !bytes.Equal(scanner.Bytes(), jpegData) {
		t.Errorf("Expected %X, got %X", jpegData, scanner.Bytes())
	}
	if scanner.Scan() {
		t.Error("Expected only one token, found more")
	}
	assert.NoError(t, scanner.Err())
}

func TestSplitJpegTruncatedFrame(t *testing.T) {
	// A frame cut off mid-stream (ffmpeg killed) is dropped, not returned.
	streamData := []byte{0xFF, 0xD8, 0x01, 0xFF, 0xD9, 0xFF, 0xD8, 0x02, 0x03}

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	var tokens int
	for scanner.Scan() {
		tokens++
	}
	assert.Equal(t, 1, tokens)
	assert.NoError(t, scanner.Err())
}

func TestFFmpegArgs(t *testing.T) {
	assert.Equal(t, []string{"-f", "v4l2", "-i", "/dev/video0"}, CameraInputArgs("v4l2", "/dev/video0"))
	assert.Equal(t, []string{"-i", "0"}, CameraInputArgs("", "0"))
	assert.Equal(t, []string{"-re", "-i", "clip.mp4"}, VideoInputArgs("clip.mp4", true))

	cmd := NewFFmpegCmd(context.Background(), VideoInputArgs("clip.mp4", false))
	assert.Equal(t, []string{"ffmpeg", "-hide_banner", "-loglevel", "error", "-i", "clip.mp4", "-f", "image2pipe", "-vcodec", "mjpeg", "-"}, cmd.Args)
}

func TestGenerateSourceID(t *testing.T) {
	tmp, err := os.CreateTemp("", "video_test")
	require.NoError(t, err)
	defer os.Remove(tmp.Name())

	_, err = tmp.Write([]byte("fake video content"))
	require.NoError(t, err)
	tmp.Close()

	id, err := GenerateSourceID(tmp.Name())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	id2, _ := GenerateSourceID(tmp.Name())
	assert.Equal(t, id, id2, "hash must be deterministic")

	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateSourceID(tmp.Name())
	assert.NotEqual(t, id, id3, "hash must change after modification")
}

func TestOpenStill(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "face.png")
	img := image.NewRGBA(image.Rect(0, 0, 64, 32))
	f, err := os.Create(pngPath)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	f.Close()

	still, err := OpenStill(pngPath)
	require.NoError(t, err)
	assert.Equal(t, types.SourceImage, still.Kind())
	assert.Equal(t, pngPath, still.Path())

	frame, err := still.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 64, frame.Image.Bounds().Dx())
	assert.Equal(t, 32, frame.Image.Bounds().Dy())

	again, err := still.Frame(context.Background())
	require.NoError(t, err)
	assert.Same(t, frame, again)
}

func TestOpenStillRejectsNonImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("definitely not pixels"), 0644))

	_, err := OpenStill(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected an image")
}

func TestOpenStillMissingFile(t *testing.T) {
	_, err := OpenStill(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestStreamKeepsLatestFrame(t *testing.T) {
	pr, pw := io.Pipe()
	var seen atomic.Int32
	s := NewStream(StreamConfig{
		Kind:         types.SourceVideo,
		Input:        "pipe",
		StartTimeout: time.Second,
		OnFrame:      func(int) { seen.Add(1) },
	})

	small := encodeJPEG(t, 8, 8, color.Black)
	wide := encodeJPEG(t, 16, 8, color.White)
	go func() {
		pw.Write(small)
		pw.Write(wide)
	}()

	require.NoError(t, s.StartReader(context.Background(), pr))
	assert.Equal(t, CameraActive, s.Status())

	require.Eventually(t, func() bool { return seen.Load() == 2 }, time.Second, 5*time.Millisecond)

	frame, err := s.Frame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, frame.Index)
	assert.Equal(t, 16, frame.Image.Bounds().Dx())
	assert.Equal(t, types.SourceVideo, frame.Source)

	s.Close()
	assert.Equal(t, CameraInactive, s.Status())

	_, err = s.Frame(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after Close")
	}

	// Idempotent.
	s.Close()
}

func TestStreamEndsWithInput(t *testing.T) {
	s := NewStream(StreamConfig{Kind: types.SourceVideo, Input: "clip", StartTimeout: time.Second})

	require.NoError(t, s.StartReader(context.Background(), bytes.NewReader(encodeJPEG(t, 4, 4, color.Black))))

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream did not end with its input")
	}
	_, err := s.Frame(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestCameraNoFirstFrame(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s := NewStream(StreamConfig{Kind: types.SourceCamera, Input: "FaceTime HD Camera", StartTimeout: 20 * time.Millisecond})
	err := s.StartReader(context.Background(), pr)

	var camErr *CameraAccessError
	require.True(t, errors.As(err, &camErr), "expected CameraAccessError, got %v", err)
	assert.Equal(t, "FaceTime HD Camera", camErr.Device)
	assert.Equal(t, CameraError, s.Status())
}

func TestCameraMissingDevice(t *testing.T) {
	s := NewCamera("v4l2", "/dev/moodscan-does-not-exist", time.Second)
	err := s.Start(context.Background())

	var camErr *CameraAccessError
	require.True(t, errors.As(err, &camErr), "expected CameraAccessError, got %v", err)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.Equal(t, CameraError, s.Status())

	_, err = s.Frame(context.Background())
	assert.ErrorIs(t, err, ErrSourceClosed)
}

func TestStreamNoFrameYet(t *testing.T) {
	s := NewStream(StreamConfig{Kind: types.SourceCamera, Input: "cam"})
	_, err := s.Frame(context.Background())
	assert.ErrorIs(t, err, ErrNoFrame)
}
