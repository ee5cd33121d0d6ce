package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/tidwall/gjson"
)

// BrowserslistFromPackageJSON reads the "browserslist" key of a package.json.
// A missing file or key yields nil. The key may hold an array of queries, a
// single comma separated string, or an object of environments, in which case
// "production" is used.
func BrowserslistFromPackageJSON(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading package.json: %w", err)
	}

	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("parsing package.json: invalid JSON")
	}

	res := gjson.GetBytes(data, "browserslist")
	if res.IsObject() {
		res = res.Get("production")
	}

	var out []string
	switch {
	case res.IsArray():
		for _, q := range res.Array() {
			if s := strings.TrimSpace(q.String()); s != "" {
				out = append(out, s)
			}
		}
	case res.Type == gjson.String:
		for _, q := range strings.Split(res.String(), ",") {
			if s := strings.TrimSpace(q); s != "" {
				out = append(out, s)
			}
		}
	}
	return out, nil
}
