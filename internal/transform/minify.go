package transform

import (
	"context"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/svg"

	"github.com/spachava753/assetpipe/internal/pipeline"
)

const (
	mimeCSS = "text/css"
	mimeJS  = "application/javascript"
	mimeSVG = "image/svg+xml"
)

// Minifier minifies CSS, JavaScript and SVG documents.
type Minifier struct {
	m *minify.M
}

// NewMinifier registers the css, js and svg minifiers. SVG minification
// keeps the viewBox attribute.
func NewMinifier() *Minifier {
	m := minify.New()
	m.AddFunc(mimeCSS, css.Minify)
	m.AddFunc(mimeJS, js.Minify)
	m.Add(mimeSVG, &svg.Minifier{})
	return &Minifier{m: m}
}

func (m *Minifier) CSS(in []byte) ([]byte, error) { return m.m.Bytes(mimeCSS, in) }

func (m *Minifier) JS(in []byte) ([]byte, error) { return m.m.Bytes(mimeJS, in) }

func (m *Minifier) SVG(in []byte) ([]byte, error) { return m.m.Bytes(mimeSVG, in) }

// CSSStage returns a stage minifying CSS.
func (m *Minifier) CSSStage() pipeline.Stage {
	return pipeline.ContentStage("minify-css", func(ctx context.Context, in []byte) ([]byte, error) {
		return m.CSS(in)
	})
}

// JSStage returns a stage minifying JavaScript.
func (m *Minifier) JSStage() pipeline.Stage {
	return pipeline.ContentStage("minify-js", func(ctx context.Context, in []byte) ([]byte, error) {
		return m.JS(in)
	})
}
