package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/spachava753/assetpipe/internal/models"
)

// DefaultFileNames are probed, in order, by Find.
var DefaultFileNames = []string{"assetpipe.yaml", "assetpipe.yml", "assetpipe.toml"}

// DefaultBrowsers is the vendor prefix target used when neither the config
// nor package.json declares one.
var DefaultBrowsers = []string{"last 2 versions"}

// DefaultPaths returns the default path table.
func DefaultPaths() models.PathTable {
	return models.PathTable{
		models.CategoryHTML: {
			Src:   "assets/src/*.html",
			Watch: "assets/src/**/*.html",
			Build: "assets/build/",
		},
		models.CategoryJS: {
			Src:   "assets/src/dev_js/main.js",
			Watch: "assets/src/dev_js/**/*.js",
			Build: "assets/build/js/",
			Dev:   "assets/src/js/",
		},
		models.CategoryCSS: {
			Src:   "assets/src/sass/main.scss",
			Watch: "assets/src/sass/**/*.scss",
			Build: "assets/build/css/",
			Dev:   "assets/src/css/",
		},
		models.CategoryImg: {
			Src:   "assets/src/img/**/*.*",
			Watch: "assets/src/img/**/*.*",
			Build: "assets/build/img/",
		},
		models.CategoryFonts: {
			Src:   "assets/src/fonts/**/*.*",
			Watch: "assets/src/fonts/**/*.*",
			Build: "assets/build/fonts/",
		},
	}
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() models.Config {
	return models.Config{
		Paths: DefaultPaths(),
		Clean: "assets/build",
		Server: models.ServerConfig{
			BaseDir:          "assets/src",
			Port:             8089,
			Open:             true,
			Notify:           false,
			ReloadThrottleMs: 250,
		},
		Stages: models.StageToggles{
			Sass:          true,
			Prefix:        true,
			StripComments: true,
			MinifyCSS:     true,
			MinifyJS:      true,
			Includes:      true,
		},
		Sass: models.SassConfig{
			Binary: "sass",
		},
		Images: models.ImageConfig{
			JPEGMin:     80,
			JPEGMax:     90,
			JPEGTarget:  38.0,
			Progressive: true,
			Interlaced:  true,
			PNGColors:   256,
			CacheDir:    ".assetpipe-cache",
		},
		Watch: models.WatchConfig{
			DebounceMs: 100,
		},
		DevFastPath: true,
	}
}

// Find returns the first default config file present in dir, or "" when
// there is none.
func Find(dir string) string {
	for _, name := range DefaultFileNames {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Load loads and validates a config file. YAML or TOML is chosen by
// extension. An empty path yields the defaults rooted at the working
// directory.
func Load(path string) (models.Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if _, err := toml.Decode(string(data), &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config: %w", err)
			}
		case ".yaml", ".yml", "":
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parsing config: %w", err)
			}
		default:
			return cfg, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
		}

		if cfg.Root == "" {
			cfg.Root = filepath.Dir(path)
		} else if !filepath.IsAbs(cfg.Root) {
			cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
		}
	}

	ApplyDefaults(&cfg)

	if len(cfg.Browsers) == 0 {
		browsers, err := BrowserslistFromPackageJSON(cfg.Resolve("package.json"))
		if err != nil {
			return cfg, err
		}
		cfg.Browsers = browsers
	}
	if len(cfg.Browsers) == 0 {
		cfg.Browsers = append([]string(nil), DefaultBrowsers...)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// ApplyDefaults fills zero-valued fields that a partial config file leaves
// empty. Paths are merged per category so a file may override one category
// without restating the others.
func ApplyDefaults(cfg *models.Config) {
	def := DefaultConfig()

	if cfg.Paths == nil {
		cfg.Paths = def.Paths
	} else {
		for c, entry := range def.Paths {
			got, ok := cfg.Paths[c]
			if !ok {
				cfg.Paths[c] = entry
				continue
			}
			if got.Src == "" {
				got.Src = entry.Src
			}
			if got.Watch == "" {
				got.Watch = entry.Watch
			}
			if got.Build == "" {
				got.Build = entry.Build
			}
			if got.Dev == "" {
				got.Dev = entry.Dev
			}
			cfg.Paths[c] = got
		}
	}
	if cfg.Clean == "" {
		cfg.Clean = def.Clean
	}
	if cfg.Server.BaseDir == "" {
		cfg.Server.BaseDir = def.Server.BaseDir
	}
	if cfg.Sass.Binary == "" {
		cfg.Sass.Binary = def.Sass.Binary
	}
	if cfg.Images.JPEGMin == 0 {
		cfg.Images.JPEGMin = def.Images.JPEGMin
	}
	if cfg.Images.JPEGMax == 0 {
		cfg.Images.JPEGMax = def.Images.JPEGMax
	}
	if cfg.Images.JPEGTarget == 0 {
		cfg.Images.JPEGTarget = def.Images.JPEGTarget
	}
	if cfg.Images.PNGColors == 0 {
		cfg.Images.PNGColors = def.Images.PNGColors
	}
	if cfg.Images.CacheDir == "" {
		cfg.Images.CacheDir = def.Images.CacheDir
	}
	if cfg.Watch.DebounceMs == 0 {
		cfg.Watch.DebounceMs = def.Watch.DebounceMs
	}
}
