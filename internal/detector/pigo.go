package detector

import (
	_ "embed"
	"fmt"
	"image"
	"os"

	pigo "github.com/esimov/pigo/core"

	"github.com/andresmejia3/moodscan/internal/types"
)

// Params tunes the pigo cascade scan.
type Params struct {
	MinSize          int
	MaxSize          int
	ShiftFactor      float64
	ScaleFactor      float64
	IoUThreshold     float64
	QualityThreshold float32
	// Angle is the rotation in turns: 0.0 is 0 radians, 1.0 is 2*pi radians.
	Angle float64
}

// DefaultParams matches the pigo reference settings.
func DefaultParams() Params {
	return Params{
		MinSize:          20,
		MaxSize:          1000,
		ShiftFactor:      0.1,
		ScaleFactor:      1.1,
		IoUThreshold:     0.2,
		QualityThreshold: 5.0,
	}
}

// BundledCascade names the face cascade compiled into the binary. It is used
// whenever no cascade path is configured.
const BundledCascade = "bundled:facefinder"

//go:embed cascade/facefinder
var facefinder []byte

// PigoCascade adapts an unpacked pigo classifier to Cascade.
type PigoCascade struct {
	classifier *pigo.Pigo
	params     Params
}

// NewPigoLocator builds a Locator that unpacks the cascade file at path on first use.
// An empty path selects the bundled cascade.
func NewPigoLocator(path string, params Params) *Locator {
	if path == "" {
		return NewLocator(BundledCascade, func() (Cascade, error) {
			return UnpackPigoCascade(facefinder, params)
		}, params.QualityThreshold)
	}
	return NewLocator(path, func() (Cascade, error) {
		return LoadPigoCascade(path, params)
	}, params.QualityThreshold)
}

// LoadPigoCascade reads and unpacks a pigo cascade binary.
func LoadPigoCascade(path string, params Params) (*PigoCascade, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return UnpackPigoCascade(data, params)
}

// UnpackPigoCascade unpacks cascade bytes. This returns the number of cascade
// trees, the tree depth, the threshold and the leaf predictions, wrapped up
// in the classifier.
func UnpackPigoCascade(data []byte, params Params) (*PigoCascade, error) {
	if params.ScaleFactor <= 1 {
		return nil, fmt.Errorf("scale factor must be greater than 1, got %v", params.ScaleFactor)
	}
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack cascade: %w", err)
	}
	return &PigoCascade{classifier: classifier, params: params}, nil
}

// Detect runs the cascade over a grayscale copy of img and clusters overlapping hits.
func (p *PigoCascade) Detect(img image.Image) []Detection {
	src := pigo.ImgToNRGBA(img)
	pixels := pigo.RgbToGrayscale(src)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	maxSize := p.params.MaxSize
	if short := min(cols, rows); maxSize <= 0 || maxSize > short {
		maxSize = short
	}

	cParams := pigo.CascadeParams{
		MinSize:     p.params.MinSize,
		MaxSize:     maxSize,
		ShiftFactor: p.params.ShiftFactor,
		ScaleFactor: p.params.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pixels,
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	// The result contains quadruplets: row, column, scale and detection score.
	dets := p.classifier.RunCascade(cParams, p.params.Angle)
	dets = p.classifier.ClusterDetections(dets, p.params.IoUThreshold)

	offset := img.Bounds().Min
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		out = append(out, Detection{Box: boxFromPigo(d, offset), Score: d.Q})
	}
	return out
}

// boxFromPigo converts a center/scale detection into a square box in frame coordinates.
func boxFromPigo(d pigo.Detection, offset image.Point) types.FaceBox {
	return types.FaceBox{
		X:      offset.X + d.Col - d.Scale/2,
		Y:      offset.Y + d.Row - d.Scale/2,
		Width:  d.Scale,
		Height: d.Scale,
	}
}
