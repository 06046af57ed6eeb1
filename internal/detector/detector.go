// Package detector talks to an external object-detection service and turns
// its bounding boxes into crop files and an annotated copy of the image.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

// BoundingBox is one region reported by the detection service
type BoundingBox struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
}

// Detection is the output of one detector call. Every path lives under the
// output directory passed to Detect.
type Detection struct {
	AnnotatedPath string
	CropPaths     []string
	Boxes         []BoundingBox
}

// Config configures the HTTP detector
type Config struct {
	URL           string
	MinConfidence float32
	Timeout       time.Duration
}

var boxColor = color.NRGBA{R: 0, G: 255, B: 0, A: 255}

const boxThickness = 3

// HTTPDetector posts images to a detection service
type HTTPDetector struct {
	url           string
	minConfidence float32
	httpClient    *http.Client
	logger        *zap.Logger
}

// NewHTTPDetector creates a detector for the service at cfg.URL
func NewHTTPDetector(cfg Config, logger *zap.Logger) *HTTPDetector {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPDetector{
		url:           cfg.URL,
		minConfidence: cfg.MinConfidence,
		httpClient:    &http.Client{Timeout: timeout},
		logger:        logger,
	}
}

// Detect sends the image at imagePath to the service, then writes the crops
// and the annotated image into outDir. Crops are ordered top-to-bottom, then
// left-to-right.
func (d *HTTPDetector) Detect(ctx context.Context, imagePath, outDir string) (*Detection, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}

	boxes, err := d.predict(ctx, filepath.Base(imagePath), data)
	if err != nil {
		return nil, err
	}
	boxes = d.filter(boxes)
	d.logger.Debug("Detection service replied", zap.Int("boxes", len(boxes)))

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	return render(img, boxes, imagePath, outDir)
}

// predict performs the multipart call to the detection service
func (d *HTTPDetector) predict(ctx context.Context, filename string, data []byte) ([]BoundingBox, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result struct {
		Detections []BoundingBox `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Detections, nil
}

func (d *HTTPDetector) filter(boxes []BoundingBox) []BoundingBox {
	kept := make([]BoundingBox, 0, len(boxes))
	for _, b := range boxes {
		if b.Confidence < d.minConfidence || b.Width <= 0 || b.Height <= 0 {
			continue
		}
		kept = append(kept, b)
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Y != kept[j].Y {
			return kept[i].Y < kept[j].Y
		}
		return kept[i].X < kept[j].X
	})
	return kept
}

// render writes one crop per box and the annotated image
func render(img image.Image, boxes []BoundingBox, imagePath, outDir string) (*Detection, error) {
	cropDir := filepath.Join(outDir, "crops")
	if err := os.MkdirAll(cropDir, 0o755); err != nil {
		return nil, fmt.Errorf("create crop dir: %w", err)
	}

	bounds := img.Bounds()
	annotated := imaging.Clone(img)
	det := &Detection{
		CropPaths: make([]string, 0, len(boxes)),
		Boxes:     make([]BoundingBox, 0, len(boxes)),
	}

	for _, b := range boxes {
		rect := image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height).Add(bounds.Min).Intersect(bounds)
		if rect.Empty() {
			continue
		}

		cropPath := filepath.Join(cropDir, fmt.Sprintf("crop_%03d.jpg", len(det.CropPaths)))
		if err := imaging.Save(imaging.Crop(img, rect), cropPath, imaging.JPEGQuality(95)); err != nil {
			return nil, fmt.Errorf("save crop: %w", err)
		}
		det.CropPaths = append(det.CropPaths, cropPath)
		det.Boxes = append(det.Boxes, b)

		drawBox(annotated, rect.Sub(bounds.Min))
	}

	base := filepath.Base(imagePath)
	name := base[:len(base)-len(filepath.Ext(base))]
	det.AnnotatedPath = filepath.Join(outDir, name+"_annotated.jpg")
	if err := imaging.Save(annotated, det.AnnotatedPath, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("save annotated image: %w", err)
	}

	return det, nil
}

// drawBox outlines r on dst
func drawBox(dst *image.NRGBA, r image.Rectangle) {
	src := image.NewUniform(boxColor)
	t := boxThickness
	edges := []image.Rectangle{
		image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t),
		image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y),
		image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y),
		image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// Ping checks that the detection service answers on its health path
func (d *HTTPDetector) Ping(ctx context.Context) error {
	u, err := url.Parse(d.url)
	if err != nil {
		return fmt.Errorf("parse detector url: %w", err)
	}
	u.Path = path.Join(path.Dir(u.Path), "health")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detection service unhealthy: %d", resp.StatusCode)
	}
	return nil
}
