// Package quality screens photos for blur and exposure defects.
package quality

import (
	"image"
	"log/slog"

	"github.com/photosift/photosift/internal/config"
)

// Report is the screening outcome for one image.
type Report struct {
	ImagePath   string   `json:"image_path"`
	IsDefective bool     `json:"is_defective"`
	DefectTypes []string `json:"defect_types"`
	Details     Details  `json:"details"`
	Error       string   `json:"error,omitempty"`
}

// Details carries the per-detector metrics. All fields are nil when the image
// could not be decoded.
type Details struct {
	Blur     *BlurResult     `json:"blur,omitempty"`
	Exposure *ExposureResult `json:"exposure,omitempty"`
	Eyes     *EyesResult     `json:"eyes,omitempty"`
}

// Checker is safe for concurrent use.
type Checker struct {
	cfg     config.QualityConfig
	decoder Decoder
	eyes    EyeDetector
	cache   *grayCache
	logger  *slog.Logger
}

type Option func(*Checker)

func WithDecoder(d Decoder) Option {
	return func(c *Checker) { c.decoder = d }
}

func WithEyeDetector(d EyeDetector) Option {
	return func(c *Checker) { c.eyes = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Checker) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewChecker(cfg config.QualityConfig, opts ...Option) *Checker {
	c := &Checker{
		cfg:     cfg,
		decoder: FileDecoder{},
		eyes:    NoEyeDetector{},
		cache:   newGrayCache(cfg.ImageCacheSize),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Check screens one image. It never fails: an unreadable file yields a
// non-defective report with empty details and Error set.
func (c *Checker) Check(path string) Report {
	g, err := c.gray(path)
	if err != nil {
		c.logger.Warn("quality check fallback", "path", path, "error", err)
		return Report{ImagePath: path, DefectTypes: []string{}, Error: err.Error()}
	}

	blur := detectBlur(g, c.cfg.BlurThreshold)
	exposure := detectExposure(g, exposureThresholds{
		over:        c.cfg.OverexposureThreshold,
		under:       c.cfg.UnderexposureThreshold,
		sampleLimit: c.cfg.ExposureSampleLimit,
		stride:      c.cfg.ExposureStride,
	})
	eyes := c.eyes.DetectClosedEyes(path, g)

	r := Report{
		ImagePath:   path,
		IsDefective: blur.IsDefective || exposure.IsDefective || eyes.IsDefective,
		DefectTypes: []string{},
		Details:     Details{Blur: &blur, Exposure: &exposure, Eyes: &eyes},
	}
	for _, t := range []string{blur.DefectType, exposure.DefectType, eyes.DefectType} {
		if t != "" {
			r.DefectTypes = append(r.DefectTypes, t)
		}
	}
	return r
}

// CheckAll screens paths in order on the calling goroutine.
func (c *Checker) CheckAll(paths []string) []Report {
	out := make([]Report, 0, len(paths))
	for _, p := range paths {
		out = append(out, c.Check(p))
	}
	return out
}

// ClearCache drops every cached decode.
func (c *Checker) ClearCache() {
	c.cache.clear()
}

// CacheLen returns the number of cached decodes.
func (c *Checker) CacheLen() int {
	return c.cache.len()
}

func (c *Checker) gray(path string) (*image.Gray, error) {
	if g, ok := c.cache.get(path); ok {
		return g, nil
	}
	img, err := c.decoder.Decode(path)
	if err != nil {
		return nil, err
	}
	g, resized := fitToBudget(toGray(img), c.cfg.MaxImagePixels, c.cfg.ResizeScale)
	if resized {
		c.logger.Debug("downsampled for screening", "path", path, "width", g.Bounds().Dx(), "height", g.Bounds().Dy())
	}
	c.cache.put(path, g)
	return g, nil
}
