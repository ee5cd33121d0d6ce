package executor_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spachava753/assetpipe/internal/config"
	"github.com/spachava753/assetpipe/internal/executor"
	"github.com/spachava753/assetpipe/internal/livereload"
	"github.com/spachava753/assetpipe/internal/models"
	"github.com/spachava753/assetpipe/internal/tasks"
	"github.com/spachava753/assetpipe/internal/transform"
)

// inlineCompiler stands in for dart-sass: it inlines `@import "x";` from
// the sibling partial _x.scss and rejects sources containing "{{".
type inlineCompiler struct {
	calls atomic.Int32
}

var importRe = regexp.MustCompile(`(?m)^@import "([^"]+)";[ \t]*$`)

func (c *inlineCompiler) Compile(ctx context.Context, filename string, src []byte) ([]byte, error) {
	c.calls.Add(1)
	if bytes.Contains(src, []byte("{{")) {
		return nil, errors.New(filepath.Base(filename) + `: expected "}"`)
	}
	return importRe.ReplaceAllFunc(src, func(m []byte) []byte {
		name := string(importRe.FindSubmatch(m)[1])
		data, err := os.ReadFile(filepath.Join(filepath.Dir(filename), "_"+name+".scss"))
		if err != nil {
			return m
		}
		return data
	}), nil
}

type countingCompressor struct {
	calls atomic.Int32
	inner transform.Compressor
}

func (c *countingCompressor) Fingerprint() string { return c.inner.Fingerprint() }

func (c *countingCompressor) Compress(ext string, data []byte) ([]byte, error) {
	c.calls.Add(1)
	return c.inner.Compress(ext, data)
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 8), G: uint8(y * 8), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func writeFile(t *testing.T, p string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		t.Fatal(err)
	}
}

// newProject lays out a source tree in the default shape and returns a
// config rooted at it.
func newProject(t *testing.T) (models.Config, string) {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"assets/src/index.html":        "<html><body>\n<!--= parts/nav.html -->\n</body></html>\n",
		"assets/src/parts/nav.html":    "<nav>menu</nav>\n",
		"assets/src/sass/main.scss":    "@import \"vars\";\n/* page styles */\n.box {\n  user-select: none;\n  color: red;\n}\n",
		"assets/src/sass/_vars.scss":   "/* shared */\n.base {\n  margin: 0;\n}\n",
		"assets/src/dev_js/main.js":    "//= alpha.js\n//= beta.js\n",
		"assets/src/dev_js/alpha.js":   "function alpha() {\n  return 1;\n}\nalpha();\n",
		"assets/src/dev_js/beta.js":    "function beta() {\n  return 2;\n}\nbeta();\n",
		"assets/src/fonts/site.woff2":  "font-bytes",
		"assets/src/img/icons/dot.svg": "<svg xmlns=\"http://www.w3.org/2000/svg\" viewBox=\"0 0 1 1\">\n  <!-- dot -->\n  <rect width=\"1\" height=\"1\"/>\n</svg>\n",
	}
	for name, content := range files {
		writeFile(t, filepath.Join(root, filepath.FromSlash(name)), []byte(content))
	}
	writeFile(t, filepath.Join(root, "assets", "src", "img", "photo.png"), pngBytes(t))

	cfg := config.DefaultConfig()
	cfg.Root = root
	cfg.Browsers = append([]string(nil), config.DefaultBrowsers...)
	cfg.Server.Port = 0
	cfg.Server.Open = false
	cfg.Server.ReloadThrottleMs = 0
	cfg.Watch.DebounceMs = 100
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg, root
}

func snapshot(t *testing.T, dir string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(dir, p)
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", dir, err)
	}
	return out
}

func runBuild(t *testing.T, cfg models.Config, opts ...tasks.Option) *models.BuildResult {
	t.Helper()
	o, err := executor.NewBuildOrchestrator(cfg, opts...)
	if err != nil {
		t.Fatalf("creating orchestrator: %v", err)
	}
	result, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return result
}

func TestBuildProducesOutputTree(t *testing.T) {
	cfg, root := newProject(t)
	result := runBuild(t, cfg, tasks.WithCompiler(&inlineCompiler{}))

	if len(result.ExecutionOrder) != 4 || result.ExecutionOrder[0] != executor.TaskClean {
		t.Errorf("execution order = %v", result.ExecutionOrder)
	}

	tree := snapshot(t, filepath.Join(root, "assets", "build"))
	want := []string{"index.html", "css/main.css", "js/main.js", "fonts/site.woff2", "img/photo.png", "img/icons/dot.svg"}
	for _, name := range want {
		if _, ok := tree[name]; !ok {
			t.Errorf("missing %s in build output (have %v)", name, keys(tree))
		}
	}
	if len(tree) != len(want) {
		t.Errorf("build output has %d files, want %d: %v", len(tree), len(want), keys(tree))
	}

	// Scenario: stylesheet with an imported partial.
	css := tree["css/main.css"]
	for _, s := range []string{".base{", "-webkit-user-select:none", "user-select:none", "color:red"} {
		if !strings.Contains(css, s) {
			t.Errorf("main.css missing %q: %s", s, css)
		}
	}
	if strings.Contains(css, "/*") || strings.Contains(css, "\n") {
		t.Errorf("main.css not stripped and minified: %q", css)
	}

	// Scenario: js bundle in include order.
	js := tree["js/main.js"]
	a, b := strings.Index(js, "alpha()"), strings.Index(js, "beta()")
	if a < 0 || b < 0 || a > b {
		t.Errorf("bundle order wrong: %q", js)
	}
	if strings.Contains(js, "//=") || strings.Contains(js, "\n  ") {
		t.Errorf("bundle not resolved and minified: %q", js)
	}

	if !strings.Contains(tree["index.html"], "<nav>menu</nav>") {
		t.Errorf("html include not resolved: %q", tree["index.html"])
	}
	if tree["fonts/site.woff2"] != "font-bytes" {
		t.Errorf("font changed: %q", tree["fonts/site.woff2"])
	}
	svg := tree["img/icons/dot.svg"]
	if !strings.Contains(svg, "viewBox") || strings.Contains(svg, "dot -->") {
		t.Errorf("svg not minified with viewBox kept: %q", svg)
	}
	src, _ := os.ReadFile(filepath.Join(root, "assets", "src", "img", "photo.png"))
	if len(tree["img/photo.png"]) > len(src) {
		t.Errorf("compressed png grew from %d to %d bytes", len(src), len(tree["img/photo.png"]))
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestBuildIsIdempotent(t *testing.T) {
	cfg, root := newProject(t)
	build := filepath.Join(root, "assets", "build")

	runBuild(t, cfg, tasks.WithCompiler(&inlineCompiler{}))
	first := snapshot(t, build)
	runBuild(t, cfg, tasks.WithCompiler(&inlineCompiler{}))
	second := snapshot(t, build)

	if len(first) != len(second) {
		t.Fatalf("file count changed: %d then %d", len(first), len(second))
	}
	for name, data := range first {
		if second[name] != data {
			t.Errorf("%s differs between runs", name)
		}
	}
}

func TestBuildCleansFirst(t *testing.T) {
	cfg, root := newProject(t)
	build := filepath.Join(root, "assets", "build")
	writeFile(t, filepath.Join(build, "stale.txt"), []byte("old"))
	writeFile(t, filepath.Join(build, "css", "old.css"), []byte("old"))

	runBuild(t, cfg, tasks.WithCompiler(&inlineCompiler{}))

	for _, name := range []string{"stale.txt", "css/old.css"} {
		if _, err := os.Stat(filepath.Join(build, filepath.FromSlash(name))); !os.IsNotExist(err) {
			t.Errorf("%s survived clean", name)
		}
	}

	o, err := executor.NewBuildOrchestrator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	g, err := o.Graph()
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{executor.TaskCSSMin, executor.TaskJSMin, executor.TaskMove} {
		deps := g.Deps(name)
		if len(deps) != 1 || deps[0] != executor.TaskClean {
			t.Errorf("%s deps = %v, want [clean]", name, deps)
		}
	}
}

func TestBuildSerializeMove(t *testing.T) {
	cfg, _ := newProject(t)
	cfg.Build.SerializeMove = true

	o, err := executor.NewBuildOrchestrator(cfg)
	if err != nil {
		t.Fatal(err)
	}
	g, err := o.Graph()
	if err != nil {
		t.Fatal(err)
	}
	deps := g.Deps(executor.TaskMove)
	if strings.Join(deps, ",") != "css-min,js-min" {
		t.Errorf("move deps = %v, want [css-min js-min]", deps)
	}
}

func TestBuildImageCacheSkipsCompressor(t *testing.T) {
	cfg, _ := newProject(t)
	counter := &countingCompressor{inner: transform.NewImageOptimizer(cfg.Images, nil)}

	runBuild(t, cfg, tasks.WithCompiler(&inlineCompiler{}), tasks.WithCompressor(counter))
	first := counter.calls.Load()
	if first != 2 {
		t.Fatalf("first build compressed %d images, want 2", first)
	}

	runBuild(t, cfg, tasks.WithCompiler(&inlineCompiler{}), tasks.WithCompressor(counter))
	if got := counter.calls.Load(); got != first {
		t.Errorf("second build called the compressor %d more times", got-first)
	}
}

func TestBuildFailsOnTransformError(t *testing.T) {
	cfg, root := newProject(t)
	writeFile(t, filepath.Join(root, "assets", "src", "sass", "main.scss"), []byte(".box {{"))

	o, err := executor.NewBuildOrchestrator(cfg, tasks.WithCompiler(&inlineCompiler{}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.Run(context.Background())
	var te *models.TaskError
	if !errors.As(err, &te) || te.Type != models.ErrTransformFailed {
		t.Fatalf("expected transform_failed, got %v", err)
	}
}

func TestBuildFailsOnMissingSourceDir(t *testing.T) {
	cfg, root := newProject(t)
	if err := os.RemoveAll(filepath.Join(root, "assets", "src", "fonts")); err != nil {
		t.Fatal(err)
	}

	o, err := executor.NewBuildOrchestrator(cfg, tasks.WithCompiler(&inlineCompiler{}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = o.Run(context.Background())
	var te *models.TaskError
	if !errors.As(err, &te) || te.Type != models.ErrIOFailed {
		t.Fatalf("expected io_failed, got %v", err)
	}
}

func receive(t *testing.T, ch <-chan livereload.Message, kind livereload.Kind) livereload.Message {
	t.Helper()
	timeout := time.After(10 * time.Second)
	for {
		select {
		case msg := <-ch:
			if msg.Kind == kind {
				return msg
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s message", kind)
			return livereload.Message{}
		}
	}
}

func startDev(t *testing.T, cfg models.Config, compiler transform.Compiler) (*executor.DevOrchestrator, <-chan livereload.Message) {
	t.Helper()
	o, err := executor.NewDevOrchestrator(cfg, tasks.WithCompiler(compiler))
	if err != nil {
		t.Fatalf("creating dev orchestrator: %v", err)
	}
	if o.State() != executor.StateStarting {
		t.Errorf("initial state = %s", o.State())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	select {
	case <-o.Running():
	case err := <-done:
		cancel()
		t.Fatalf("dev orchestrator exited: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("dev orchestrator did not start")
	}

	subCtx, unsubscribe := context.WithCancel(context.Background())
	_, ch := o.Hub().Subscribe(subCtx)

	t.Cleanup(func() {
		unsubscribe()
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("dev orchestrator returned %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("dev orchestrator did not stop")
		}
		if o.State() != executor.StateStopped {
			t.Errorf("final state = %s", o.State())
		}
	})
	return o, ch
}

func TestDevWritesInitialOutput(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a server and a watcher")
	}
	cfg, root := newProject(t)
	o, _ := startDev(t, cfg, &inlineCompiler{})

	if o.State() != executor.StateRunning || o.URL() == "" {
		t.Errorf("state %s, url %q", o.State(), o.URL())
	}
	for _, name := range []string{"css/main.css", "js/main.js"} {
		if _, err := os.Stat(filepath.Join(root, "assets", "src", filepath.FromSlash(name))); err != nil {
			t.Errorf("dev output %s missing: %v", name, err)
		}
	}

	// Dev js is bundled but not minified.
	js, _ := os.ReadFile(filepath.Join(root, "assets", "src", "js", "main.js"))
	if !strings.Contains(string(js), "function alpha() {\n") {
		t.Errorf("dev bundle = %q", js)
	}
}

func TestDevWatchOnlyChangeTriggersRebuild(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a server and a watcher")
	}
	cfg, root := newProject(t)
	compiler := &inlineCompiler{}
	_, ch := startDev(t, cfg, compiler)
	before := compiler.calls.Load()

	writeFile(t, filepath.Join(root, "assets", "src", "sass", "_vars.scss"), []byte(".base {\n  margin: 1px;\n}\n"))

	msg := receive(t, ch, livereload.KindCSS)
	if strings.Join(msg.Paths, ",") != "main.css" {
		t.Errorf("reload paths = %v", msg.Paths)
	}
	if compiler.calls.Load() <= before {
		t.Error("css task did not run")
	}

	css, _ := os.ReadFile(filepath.Join(root, "assets", "src", "css", "main.css"))
	if !strings.Contains(string(css), "margin:1px") {
		t.Errorf("dev css not rebuilt: %q", css)
	}
	if _, err := os.Stat(filepath.Join(root, "assets", "src", "css", "_vars.css")); !os.IsNotExist(err) {
		t.Error("partial was written as its own stylesheet")
	}
}

func TestDevTransformErrorKeepsWatching(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a server and a watcher")
	}
	cfg, root := newProject(t)
	_, ch := startDev(t, cfg, &inlineCompiler{})
	mainSCSS := filepath.Join(root, "assets", "src", "sass", "main.scss")

	writeFile(t, mainSCSS, []byte(".box {{"))
	msg := receive(t, ch, livereload.KindError)
	if !strings.Contains(msg.Text, "main.scss") {
		t.Errorf("error notice = %q", msg.Text)
	}

	writeFile(t, mainSCSS, []byte(".box {\n  color: blue;\n}\n"))
	receive(t, ch, livereload.KindCSS)

	css, _ := os.ReadFile(filepath.Join(root, "assets", "src", "css", "main.css"))
	if !strings.Contains(string(css), "color:#00f") && !strings.Contains(string(css), "color:blue") {
		t.Errorf("dev css after fix = %q", css)
	}
}

func TestDevWatchOnlyRemovalTriggersRebuild(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a server and a watcher")
	}
	cfg, root := newProject(t)
	compiler := &inlineCompiler{}
	_, ch := startDev(t, cfg, compiler)
	before := compiler.calls.Load()

	if err := os.Remove(filepath.Join(root, "assets", "src", "sass", "_vars.scss")); err != nil {
		t.Fatal(err)
	}

	receive(t, ch, livereload.KindCSS)
	if compiler.calls.Load() <= before {
		t.Error("css task did not run")
	}
	css, _ := os.ReadFile(filepath.Join(root, "assets", "src", "css", "main.css"))
	if strings.Contains(string(css), ".base") {
		t.Errorf("removed partial still compiled in: %q", css)
	}
}

func TestDevRunIsSingleUse(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a server and a watcher")
	}
	cfg, _ := newProject(t)
	o, _ := startDev(t, cfg, &inlineCompiler{})

	if err := o.Run(context.Background()); !errors.Is(err, executor.ErrAlreadyStarted) {
		t.Errorf("second Run = %v, want ErrAlreadyStarted", err)
	}
	if o.State() != executor.StateRunning {
		t.Errorf("state after second Run = %s", o.State())
	}
}
