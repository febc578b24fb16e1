// Package classifier talks to the remote emotion prediction service.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/andresmejia3/moodscan/internal/types"
)

const (
	predictPath = "/predict"
	capturePath = "/capture"

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

// Client handles calls to the prediction service.
type Client struct {
	BaseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the service at baseURL, e.g. http://127.0.0.1:5000.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// predictResponse uses pointers so missing fields can be told apart from zero values.
type predictResponse struct {
	FaceDetected *bool    `json:"face_detected"`
	Emotion      *string  `json:"emotion"`
	Confidence   *float64 `json:"confidence"`
}

// CaptureResponse is returned by POST /capture.
type CaptureResponse struct {
	Saved bool   `json:"saved"`
	File  string `json:"file"`
}

// Classify uploads a thumbnail and parses the prediction.
// POST /predict (multipart, single "image" part)
func (c *Client) Classify(ctx context.Context, thumb types.Thumbnail) (types.ClassificationResult, error) {
	body, contentType, err := buildForm(thumb.JPEG, nil)
	if err != nil {
		return types.ClassificationResult{}, err
	}

	respBody, err := c.post(ctx, predictPath, body, contentType)
	if err != nil {
		return types.ClassificationResult{}, err
	}

	result, err := parsePrediction(respBody)
	if err != nil {
		return types.ClassificationResult{}, err
	}

	slog.Debug("prediction received",
		slog.Bool("face_detected", result.FaceDetected),
		slog.String("emotion", string(result.Emotion)),
		slog.Int("confidence", result.Confidence),
	)
	return result, nil
}

// Capture archives a labelled thumbnail on the service.
// POST /capture (multipart: image, emotion, confidence)
func (c *Client) Capture(ctx context.Context, thumb types.Thumbnail, result types.ClassificationResult) (*CaptureResponse, error) {
	fields := map[string]string{
		"emotion":    string(result.Emotion),
		"confidence": strconv.Itoa(result.Confidence),
	}
	body, contentType, err := buildForm(thumb.JPEG, fields)
	if err != nil {
		return nil, err
	}

	respBody, err := c.post(ctx, capturePath, body, contentType)
	if err != nil {
		return nil, err
	}

	var resp CaptureResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, &ProtocolError{Reason: "malformed JSON", Body: string(respBody), Err: err}
	}
	return &resp, nil
}

// Health fetches the service banner.
// GET /
func (c *Client) Health(ctx context.Context) (string, error) {
	url := c.BaseURL + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", &NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ProtocolError{StatusCode: resp.StatusCode, Reason: "unexpected status", Body: string(respBody)}
	}
	return strings.TrimSpace(string(respBody)), nil
}

func (c *Client) post(ctx context.Context, path string, body *bytes.Buffer, contentType string) ([]byte, error) {
	url := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	slog.Debug("sending request", slog.String("method", http.MethodPost), slog.String("url", url))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &NetworkError{URL: url, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ProtocolError{StatusCode: resp.StatusCode, Reason: "unexpected status", Body: string(respBody)}
	}
	return respBody, nil
}

// buildForm writes the JPEG as the "image" part, plus any extra text fields.
func buildForm(jpeg []byte, fields map[string]string) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="face.jpg"`)
	h.Set("Content-Type", "image/jpeg")
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(jpeg); err != nil {
		return nil, "", fmt.Errorf("failed to write image data: %w", err)
	}

	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", k, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

// parsePrediction validates the JSON answer. face_detected is always required;
// emotion and confidence only when a face was detected.
func parsePrediction(body []byte) (types.ClassificationResult, error) {
	var raw predictResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return types.ClassificationResult{}, &ProtocolError{Reason: "malformed JSON", Body: string(body), Err: err}
	}

	if raw.FaceDetected == nil {
		return types.ClassificationResult{}, &ProtocolError{Reason: "missing face_detected", Body: string(body)}
	}
	if !*raw.FaceDetected {
		// The service fills emotion with a placeholder here; it is ignored.
		return types.NoFace(), nil
	}

	if raw.Emotion == nil {
		return types.ClassificationResult{}, &ProtocolError{Reason: "missing emotion", Body: string(body)}
	}
	if raw.Confidence == nil {
		return types.ClassificationResult{}, &ProtocolError{Reason: "missing confidence", Body: string(body)}
	}
	emotion, err := types.ParseEmotion(*raw.Emotion)
	if err != nil {
		return types.ClassificationResult{}, &ProtocolError{Reason: "unsupported emotion", Body: string(body), Err: err}
	}
	return types.Detected(emotion, *raw.Confidence), nil
}
