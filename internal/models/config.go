package models

import "path/filepath"

// Config is the parsed assetpipe.yaml / assetpipe.toml configuration.
type Config struct {
	// Root is the directory relative patterns resolve against. Empty means
	// the working directory.
	Root      string           `yaml:"root,omitempty" toml:"root,omitempty" json:"root,omitempty"`
	Paths     PathTable        `yaml:"paths" toml:"paths" json:"paths"`
	Clean     string           `yaml:"clean" toml:"clean" json:"clean"`
	Server    ServerConfig     `yaml:"server" toml:"server" json:"server"`
	Browsers  []string         `yaml:"browsers,omitempty" toml:"browsers,omitempty" json:"browsers,omitempty"`
	Stages    StageToggles     `yaml:"stages" toml:"stages" json:"stages"`
	Sass      SassConfig       `yaml:"sass" toml:"sass" json:"sass"`
	Images    ImageConfig      `yaml:"images" toml:"images" json:"images"`
	Watch     WatchConfig      `yaml:"watch" toml:"watch" json:"watch"`
	LogLevel  string           `yaml:"log_level,omitempty" toml:"log_level,omitempty" json:"log_level,omitempty"`
	Build     BuildGraphConfig `yaml:"build" toml:"build" json:"build"`
	// DevFastPath skips include resolution and error guarding for html in
	// watch mode.
	DevFastPath bool `yaml:"dev_fast_path" toml:"dev_fast_path" json:"dev_fast_path"`
}

// ServerConfig configures the live-reload dev server.
type ServerConfig struct {
	BaseDir          string `yaml:"base_dir" toml:"base_dir" json:"base_dir"`
	Port             int    `yaml:"port" toml:"port" json:"port"`
	Open             bool   `yaml:"open" toml:"open" json:"open"`
	Notify           bool   `yaml:"notify" toml:"notify" json:"notify"`
	ReloadThrottleMs int    `yaml:"reload_throttle_ms" toml:"reload_throttle_ms" json:"reload_throttle_ms"`
}

// StageToggles enables or disables individual transform stages.
type StageToggles struct {
	Sass          bool `yaml:"sass" toml:"sass" json:"sass"`
	Prefix        bool `yaml:"prefix" toml:"prefix" json:"prefix"`
	StripComments bool `yaml:"strip_comments" toml:"strip_comments" json:"strip_comments"`
	MinifyCSS     bool `yaml:"minify_css" toml:"minify_css" json:"minify_css"`
	MinifyJS      bool `yaml:"minify_js" toml:"minify_js" json:"minify_js"`
	Includes      bool `yaml:"includes" toml:"includes" json:"includes"`
}

type SassConfig struct {
	Binary    string   `yaml:"binary" toml:"binary" json:"binary"`
	LoadPaths []string `yaml:"load_paths,omitempty" toml:"load_paths,omitempty" json:"load_paths,omitempty"`
}

// ImageConfig configures image compression and its cache.
type ImageConfig struct {
	JPEGMin      int     `yaml:"jpeg_min" toml:"jpeg_min" json:"jpeg_min"`
	JPEGMax      int     `yaml:"jpeg_max" toml:"jpeg_max" json:"jpeg_max"`
	JPEGTarget   float64 `yaml:"jpeg_target_psnr" toml:"jpeg_target_psnr" json:"jpeg_target_psnr"`
	Progressive  bool    `yaml:"progressive" toml:"progressive" json:"progressive"`
	Interlaced   bool    `yaml:"interlaced" toml:"interlaced" json:"interlaced"`
	PNGColors    int     `yaml:"png_colors" toml:"png_colors" json:"png_colors"`
	CacheDir     string  `yaml:"cache_dir" toml:"cache_dir" json:"cache_dir"`
	CacheMaxSize string  `yaml:"cache_max_size,omitempty" toml:"cache_max_size,omitempty" json:"cache_max_size,omitempty"`
	OptimizeDev  bool    `yaml:"optimize_in_dev" toml:"optimize_in_dev" json:"optimize_in_dev"`
}

type WatchConfig struct {
	DebounceMs int `yaml:"debounce_ms" toml:"debounce_ms" json:"debounce_ms"`
}

// BuildGraphConfig tunes the build task graph.
type BuildGraphConfig struct {
	// SerializeMove gates the move step on the optimize step instead of
	// running it alongside.
	SerializeMove bool `yaml:"serialize_move" toml:"serialize_move" json:"serialize_move"`
}

// Resolve joins a relative path or pattern with Root.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.Root == "" {
		return p
	}
	return filepath.Join(c.Root, p)
}
