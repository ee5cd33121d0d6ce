// Package transform provides the pipeline stages that wrap external
// transform engines: the sass compiler, vendor prefixing, comment
// stripping, CSS/JS/SVG minification, include resolution and image
// compression.
package transform
