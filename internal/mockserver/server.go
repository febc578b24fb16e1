// Package mockserver is a local stand-in for the emotion prediction backend.
// It speaks the same HTTP contract, so the CLI can run end to end without a
// model server.
package mockserver

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/andresmejia3/moodscan/internal/archive"
	"github.com/andresmejia3/moodscan/internal/detector"
	"github.com/andresmejia3/moodscan/internal/pipeline"
	"github.com/andresmejia3/moodscan/internal/presenter"
	"github.com/andresmejia3/moodscan/internal/source"
	"github.com/andresmejia3/moodscan/internal/types"
)

const Banner = "✅ Mock prediction backend is running"

// Options configures the canned answers.
type Options struct {
	// Emotion and Confidence are returned for every detected face.
	// Defaults: Happy, 80.
	Emotion    types.Emotion
	Confidence float64
	// SaveDir receives POST /capture uploads. Default: captured.
	SaveDir string
	// Locator, when set, decides whether the upload contains a face.
	// Otherwise every valid image counts as one.
	Locator pipeline.Locator
	Logger  *slog.Logger
}

type server struct {
	opts Options
	log  *slog.Logger
}

type predictResponse struct {
	FaceDetected bool    `json:"face_detected"`
	Emotion      string  `json:"emotion"`
	Confidence   float64 `json:"confidence"`
}

type chatRequest struct {
	Emotion string `json:"emotion"`
	Message string `json:"message"`
}

// New builds the fiber app.
func New(opts Options) *fiber.App {
	if opts.Emotion == "" {
		opts.Emotion = types.Happy
		if opts.Confidence == 0 {
			opts.Confidence = 80
		}
	}
	if opts.SaveDir == "" {
		opts.SaveDir = "captured"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	s := &server{opts: opts, log: opts.Logger}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             16 * 1024 * 1024,
	})
	app.Use(recover.New())
	app.Use(s.logRequests)

	app.Get("/", s.home)
	app.Post("/predict", s.predict)
	app.Post("/capture", s.capture)
	app.Post("/chat", s.chat)
	return app
}

func (s *server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	level := slog.LevelInfo
	if status >= 500 {
		level = slog.LevelError
	} else if status >= 400 {
		level = slog.LevelWarn
	}
	s.log.Log(c.Context(), level, "http request",
		slog.String("method", c.Method()),
		slog.String("path", c.Path()),
		slog.Int("status", status),
		slog.Duration("latency", time.Since(start)),
	)
	return err
}

func (s *server) home(c *fiber.Ctx) error {
	return c.SendString(Banner)
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// POST /predict
func (s *server) predict(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return badRequest(c, "No image uploaded")
	}
	f, err := fh.Open()
	if err != nil {
		return badRequest(c, "No image uploaded")
	}
	defer f.Close()

	img, err := source.DecodeStill(f)
	if err != nil {
		return badRequest(c, "Invalid image")
	}

	if s.opts.Locator != nil {
		frame := &types.Frame{Image: img, Source: types.SourceImage}
		if _, err := s.opts.Locator.Locate(c.UserContext(), frame); err != nil {
			if errors.Is(err, detector.ErrNoFace) {
				return c.JSON(predictResponse{FaceDetected: false, Emotion: "No Face Detected"})
			}
			s.log.Error("face locator failed", slog.Any("error", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Face detection failed"})
		}
	}

	return c.JSON(predictResponse{
		FaceDetected: true,
		Emotion:      string(s.opts.Emotion),
		Confidence:   s.opts.Confidence,
	})
}

// POST /capture
func (s *server) capture(c *fiber.Ctx) error {
	fh, err := c.FormFile("image")
	if err != nil {
		return badRequest(c, "No image uploaded")
	}

	label := strings.ReplaceAll(c.FormValue("emotion", "Unknown"), " ", "_")
	confidence := 0
	if v, err := strconv.ParseFloat(c.FormValue("confidence", "0"), 64); err == nil {
		confidence = int(v)
	}

	if err := os.MkdirAll(s.opts.SaveDir, 0o755); err != nil {
		return err
	}
	name := archive.Filename(label, confidence, time.Now())
	if err := c.SaveFile(fh, filepath.Join(s.opts.SaveDir, name)); err != nil {
		return err
	}

	return c.JSON(fiber.Map{"saved": true, "file": name})
}

// POST /chat
func (s *server) chat(c *fiber.Ctx) error {
	var req chatRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON")
	}
	if req.Emotion == "" {
		req.Emotion = string(types.Neutral)
	}

	reply := presenter.FeedbackFor(types.Emotion(req.Emotion))
	if e, err := types.ParseEmotion(req.Emotion); err == nil {
		reply = presenter.FeedbackFor(e)
	}
	return c.JSON(fiber.Map{"reply": reply})
}
