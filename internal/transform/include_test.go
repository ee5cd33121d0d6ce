package transform_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/spachava753/assetpipe/internal/transform"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestResolveIncludesJS(t *testing.T) {
	root := writeTree(t, map[string]string{
		"main.js":  "//= lib/a.js\n/*= b.js */\nmain();\n",
		"lib/a.js": "a();\n",
		"b.js":     "b();\n  //= lib/c.js\n",
		"lib/c.js": "c();\n",
	})

	main := filepath.Join(root, "main.js")
	src, _ := os.ReadFile(main)
	got, err := transform.ResolveIncludes(main, src)
	if err != nil {
		t.Fatalf("ResolveIncludes: %v", err)
	}

	want := "a();\nb();\n  c();\nmain();\n"
	if string(got) != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestResolveIncludesHTML(t *testing.T) {
	root := writeTree(t, map[string]string{
		"index.html":        "<body>\n<!--= parts/header.html -->\n</body>\n",
		"parts/header.html": "<h1>Hi</h1>\n",
	})

	index := filepath.Join(root, "index.html")
	src, _ := os.ReadFile(index)
	got, err := transform.ResolveIncludes(index, src)
	if err != nil {
		t.Fatalf("ResolveIncludes: %v", err)
	}
	if string(got) != "<body>\n<h1>Hi</h1>\n</body>\n" {
		t.Errorf("got %q", got)
	}
}

func TestResolveIncludesErrors(t *testing.T) {
	root := writeTree(t, map[string]string{
		"x.js":       "//= y.js\n",
		"y.js":       "//= x.js\n",
		"missing.js": "//= gone.js\n",
		"plain.css":  "/*= x.js */",
	})

	x := filepath.Join(root, "x.js")
	if _, err := transform.ResolveIncludes(x, []byte("//= y.js\n")); !errors.Is(err, transform.ErrIncludeCycle) {
		t.Errorf("expected include cycle, got %v", err)
	}

	missing := filepath.Join(root, "missing.js")
	if _, err := transform.ResolveIncludes(missing, []byte("//= gone.js\n")); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}

	// Directives only apply to file types that define them.
	css := filepath.Join(root, "plain.css")
	got, err := transform.ResolveIncludes(css, []byte("/*= x.js */"))
	if err != nil || string(got) != "/*= x.js */" {
		t.Errorf("css file changed: %q, %v", got, err)
	}
}
