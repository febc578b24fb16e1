package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"github.com/andresmejia3/moodscan/internal/types"
)

// Still is a single decoded image. Every call to Frame returns the same frame.
type Still struct {
	path  string
	frame *types.Frame
}

// OpenStill decodes the image at path. The file must sniff as image/*.
func OpenStill(path string) (*Still, error) {
	mime, err := SniffContentType(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%s is %s, expected an image", path, mime)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := DecodeStill(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return NewStill(path, img), nil
}

// NewStill wraps an already decoded image.
func NewStill(name string, img image.Image) *Still {
	return &Still{
		path:  name,
		frame: &types.Frame{Image: img, Source: types.SourceImage},
	}
}

// DecodeStill decodes an image, applying its EXIF orientation.
func DecodeStill(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

func (s *Still) Kind() types.SourceKind { return types.SourceImage }

// Path is the file the image was read from.
func (s *Still) Path() string { return s.path }

func (s *Still) Frame(ctx context.Context) (*types.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.frame, nil
}

// SniffContentType reports the MIME type of a file from its first 512 bytes.
func SniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
