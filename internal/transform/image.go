package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"image/png"
	"math"
	"strings"

	"github.com/ericpauley/go-quantize/quantize"

	"github.com/spachava753/assetpipe/internal/cache"
	"github.com/spachava753/assetpipe/internal/fileset"
	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/pipeline"
)

// Compressor compresses one image. ext is the lowercased extension with its
// leading dot. Fingerprint identifies the options that affect the output so
// cache entries from different settings never collide.
type Compressor interface {
	Fingerprint() string
	Compress(ext string, data []byte) ([]byte, error)
}

// ImageOptimizer compresses GIF, JPEG, PNG and SVG images. Other formats
// pass through unchanged.
//
// Go's encoders write baseline JPEGs and non-interlaced GIFs, so the
// Progressive and Interlaced options only enter the fingerprint.
type ImageOptimizer struct {
	Options  models.ImageConfig
	Minifier *Minifier
}

// NewImageOptimizer creates an optimizer with opts.
func NewImageOptimizer(opts models.ImageConfig, m *Minifier) *ImageOptimizer {
	if m == nil {
		m = NewMinifier()
	}
	return &ImageOptimizer{Options: opts, Minifier: m}
}

func (o *ImageOptimizer) Fingerprint() string {
	opts := o.Options
	return fmt.Sprintf("jpeg:%d-%d@%.2f,p=%t;png:%d;gif:i=%t",
		opts.JPEGMin, opts.JPEGMax, opts.JPEGTarget, opts.Progressive, opts.PNGColors, opts.Interlaced)
}

func (o *ImageOptimizer) Compress(ext string, data []byte) ([]byte, error) {
	switch ext {
	case ".jpg", ".jpeg":
		return o.compressJPEG(data)
	case ".png":
		return o.compressPNG(data)
	case ".gif":
		return o.compressGIF(data)
	case ".svg":
		return o.Minifier.SVG(data)
	}
	return data, nil
}

// compressJPEG searches [JPEGMin, JPEGMax] for the lowest quality whose
// PSNR against the decoded source reaches JPEGTarget, falling back to
// JPEGMax.
func (o *ImageOptimizer) compressJPEG(data []byte) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding jpeg: %w", err)
	}

	encode := func(q int) ([]byte, float64, error) {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: q}); err != nil {
			return nil, 0, fmt.Errorf("encoding jpeg: %w", err)
		}
		dec, err := jpeg.Decode(bytes.NewReader(buf.Bytes()))
		if err != nil {
			return nil, 0, fmt.Errorf("decoding recompressed jpeg: %w", err)
		}
		return buf.Bytes(), PSNR(src, dec), nil
	}

	lo, hi := o.Options.JPEGMin, o.Options.JPEGMax
	best, _, err := encode(hi)
	if err != nil {
		return nil, err
	}
	for lo < hi {
		mid := lo + (hi-lo)/2
		out, psnr, err := encode(mid)
		if err != nil {
			return nil, err
		}
		if psnr >= o.Options.JPEGTarget {
			best, hi = out, mid
		} else {
			lo = mid + 1
		}
	}
	return best, nil
}

// compressPNG reduces the image to a median cut palette of at most
// PNGColors colours with Floyd-Steinberg dithering.
func (o *ImageOptimizer) compressPNG(data []byte) ([]byte, error) {
	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding png: %w", err)
	}

	n := o.Options.PNGColors
	alpha := hasAlpha(src)
	if alpha {
		n--
	}
	palette := quantize.MedianCutQuantizer{}.Quantize(make(color.Palette, 0, n), src)
	if alpha {
		palette = append(palette, color.Transparent)
	}
	if len(palette) == 0 {
		return data, nil
	}

	bounds := src.Bounds()
	dst := image.NewPaletted(bounds, palette)
	draw.FloydSteinberg.Draw(dst, bounds, src, bounds.Min)

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

func (o *ImageOptimizer) compressGIF(data []byte) ([]byte, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding gif: %w", err)
	}
	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, g); err != nil {
		return nil, fmt.Errorf("encoding gif: %w", err)
	}
	return buf.Bytes(), nil
}

func hasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return true
			}
		}
	}
	return false
}

// PSNR returns the peak signal-to-noise ratio in dB between two images of
// the same bounds over the 8-bit RGB channels. Identical images yield +Inf.
func PSNR(a, b image.Image) float64 {
	bounds := a.Bounds()
	if !bounds.Eq(b.Bounds()) || bounds.Empty() {
		return 0
	}
	var sum float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r1, g1, b1, _ := a.At(x, y).RGBA()
			r2, g2, b2, _ := b.At(x, y).RGBA()
			for _, d := range [3]float64{
				float64(r1>>8) - float64(r2>>8),
				float64(g1>>8) - float64(g2>>8),
				float64(b1>>8) - float64(b2>>8),
			} {
				sum += d * d
			}
		}
	}
	mse := sum / float64(bounds.Dx()*bounds.Dy()*3)
	if mse == 0 {
		return math.Inf(1)
	}
	return 10 * math.Log10(255*255/mse)
}

// Images compresses each file through c. Results are looked up in and
// stored to store when it is non-nil. A result larger than its input is
// discarded in favour of the input.
func Images(c Compressor, store *cache.Store) pipeline.Stage {
	return pipeline.NewStage("imagemin", func(ctx context.Context, f *fileset.File) error {
		ext := strings.ToLower(f.Ext())
		var key string
		if store != nil {
			key = cache.Key(c.Fingerprint()+ext, f.Contents)
			data, ok, err := store.Get(key)
			if err != nil {
				return err
			}
			if ok {
				f.Contents = data
				return nil
			}
		}

		out, err := c.Compress(ext, f.Contents)
		if err != nil {
			return err
		}
		if len(out) >= len(f.Contents) {
			out = f.Contents
		}
		if store != nil {
			if err := store.Put(key, out); err != nil {
				return err
			}
		}
		f.Contents = out
		return nil
	})
}
