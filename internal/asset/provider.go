// Package asset turns an expression's asset reference into an image, falling
// back to a placeholder when the file cannot be used.
package asset

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	xdraw "golang.org/x/image/draw"
)

const (
	placeholderSize = 256
	defaultCacheLen = 64
)

var placeholderColor = color.RGBA{R: 243, G: 60, B: 241, A: 255}

// Drawable is a resolved asset ready to be drawn.
type Drawable struct {
	Ref   string
	Image image.Image

	// Placeholder is true when the asset could not be loaded.
	Placeholder bool
}

type cacheKey struct {
	ref    string
	height int
}

// Option configures a Provider.
type Option func(*Provider)

// WithCacheSize bounds the number of decoded images kept in memory.
func WithCacheSize(n int) Option {
	return func(p *Provider) { p.cacheLen = n }
}

// WithMissingHook registers fn to be called when a reference first resolves
// to the placeholder.
func WithMissingHook(fn func(ref string, err error)) Option {
	return func(p *Provider) { p.onMissing = fn }
}

// Provider loads and scales expression images. It is safe for concurrent use.
type Provider struct {
	root      string
	logger    *slog.Logger
	cacheLen  int
	cache     *lru.Cache[cacheKey, Drawable]
	onMissing func(ref string, err error)
}

// NewProvider creates a provider resolving relative references against root.
func NewProvider(root string, logger *slog.Logger, opts ...Option) (*Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Provider{
		root:     root,
		logger:   logger,
		cacheLen: defaultCacheLen,
	}
	for _, opt := range opts {
		opt(p)
	}

	cache, err := lru.New[cacheKey, Drawable](p.cacheLen)
	if err != nil {
		return nil, fmt.Errorf("create asset cache: %w", err)
	}
	p.cache = cache
	return p, nil
}

// Resolve returns the image for ref scaled to height pixels, keeping its
// aspect ratio. A height of zero or less keeps the native size. Resolve never
// fails: a missing or undecodable file yields the placeholder. Placeholders
// are cached like real images, so a file added later shows up after Purge.
func (p *Provider) Resolve(ref string, height int) Drawable {
	key := cacheKey{ref: ref, height: height}
	if d, ok := p.cache.Get(key); ok {
		return d
	}

	img, err := p.load(ref)
	if err != nil {
		p.logger.Warn("asset unavailable, using placeholder", "ref", ref, "error", err)
		if p.onMissing != nil {
			p.onMissing(ref, err)
		}
		d := Drawable{Ref: ref, Image: scaleToHeight(Placeholder(), height), Placeholder: true}
		p.cache.Add(key, d)
		return d
	}

	d := Drawable{Ref: ref, Image: scaleToHeight(img, height)}
	p.cache.Add(key, d)
	return d
}

// Purge drops every cached image.
func (p *Provider) Purge() {
	p.cache.Purge()
}

func (p *Provider) load(ref string) (image.Image, error) {
	if ref == "" {
		return nil, fmt.Errorf("empty asset reference")
	}
	path := ref
	if !filepath.IsAbs(path) {
		path = filepath.Join(p.root, ref)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// Placeholder returns the 256x256 checkerboard shown for missing assets:
// magenta top-left and bottom-right quadrants, black elsewhere.
func Placeholder() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, placeholderSize, placeholderSize))
	half := placeholderSize / 2

	black := image.NewUniform(color.RGBA{A: 255})
	magenta := image.NewUniform(placeholderColor)

	draw.Draw(img, image.Rect(0, 0, half, half), magenta, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(half, 0, placeholderSize, half), black, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, half, half, placeholderSize), black, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(half, half, placeholderSize, placeholderSize), magenta, image.Point{}, draw.Src)
	return img
}

func scaleToHeight(src image.Image, height int) image.Image {
	b := src.Bounds()
	if height <= 0 || b.Dy() == 0 || height == b.Dy() {
		return src
	}

	scale := float64(height) / float64(b.Dy())
	width := int(math.Round(float64(b.Dx()) * scale))
	if width < 1 {
		width = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

// EncodePNG writes d as a PNG.
func EncodePNG(w io.Writer, d Drawable) error {
	if d.Image == nil {
		return fmt.Errorf("drawable %q has no image", d.Ref)
	}
	return png.Encode(w, d.Image)
}
