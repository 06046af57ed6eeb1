package recognition

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/tendant/product-detect-pipeline/internal/metrics"
)

// Config tunes a recognition client
type Config struct {
	// Prompt sent with every batch. Defaults to DefaultPrompt.
	Prompt string

	// Timeout bounds each engine call. Zero means no extra bound.
	Timeout time.Duration

	// MaxDimension downscales crops whose longer side exceeds it. Zero keeps
	// the original size.
	MaxDimension int
}

// Client drives one engine call per batch. It never returns an error: a
// failed batch yields no candidates so the rest of the job can proceed.
type Client struct {
	engine  Engine
	parser  *ReplyParser
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewClient creates a recognition client around engine
func NewClient(engine Engine, cfg Config, logger *zap.Logger, m *metrics.Metrics) (*Client, error) {
	if engine == nil {
		return nil, fmt.Errorf("recognition engine is required")
	}
	parser, err := NewReplyParser()
	if err != nil {
		return nil, err
	}
	if cfg.Prompt == "" {
		cfg.Prompt = DefaultPrompt
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		engine:  engine,
		parser:  parser,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}, nil
}

// RecognizeBatch loads the crops at paths, sends the readable ones to the
// engine in one call and returns the candidate names from its reply.
func (c *Client) RecognizeBatch(ctx context.Context, paths []string) (candidates []string) {
	log := c.logger.With(zap.String("engine", c.engine.Name()), zap.Int("batch_size", len(paths)))

	defer func() {
		if r := recover(); r != nil {
			log.Error("Recognition batch panicked", zap.Any("panic", r))
			c.metrics.ObserveBatch(metrics.OutcomeFailure)
			candidates = []string{}
		}
	}()

	images := make([]Image, 0, len(paths))
	for _, path := range paths {
		img, err := c.loadImage(path)
		if err != nil {
			log.Warn("Skipping unreadable crop", zap.String("path", path), zap.Error(err))
			continue
		}
		images = append(images, img)
	}

	if len(images) == 0 {
		log.Info("No readable crops in batch, skipping engine call")
		c.metrics.ObserveBatch(metrics.OutcomeSkipped)
		return []string{}
	}

	callCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := c.engine.Recognize(callCtx, c.cfg.Prompt, images)
	if err != nil {
		log.Warn("Recognition call failed",
			zap.Int("images", len(images)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		c.metrics.ObserveBatch(metrics.OutcomeFailure)
		return []string{}
	}
	log.Debug("Recognition reply received", zap.String("reply", reply), zap.Duration("elapsed", time.Since(start)))

	candidates, err = c.parser.Parse(reply)
	if err != nil {
		log.Warn("Discarding unparseable recognition reply", zap.Error(err), zap.Int("reply_bytes", len(reply)))
		c.metrics.ObserveBatch(metrics.OutcomeFailure)
		return []string{}
	}

	if len(candidates) == 0 {
		c.metrics.ObserveBatch(metrics.OutcomeEmpty)
	} else {
		c.metrics.ObserveBatch(metrics.OutcomeSuccess)
	}
	log.Info("Recognition batch completed",
		zap.Int("images", len(images)),
		zap.Int("candidates", len(candidates)),
		zap.Duration("elapsed", time.Since(start)))
	return candidates
}

// loadImage decodes the crop at path, downscales it if needed and re-encodes it as JPEG
func (c *Client) loadImage(path string) (Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return Image{}, fmt.Errorf("open image: %w", err)
	}

	if limit := c.cfg.MaxDimension; limit > 0 {
		b := img.Bounds()
		if b.Dx() > limit || b.Dy() > limit {
			img = imaging.Fit(img, limit, limit, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return Image{}, fmt.Errorf("encode image: %w", err)
	}

	return Image{
		Name:     filepath.Base(path),
		MIMEType: "image/jpeg",
		Data:     buf.Bytes(),
	}, nil
}
