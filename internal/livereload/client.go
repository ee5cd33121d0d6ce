package livereload

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
)

const (
	// EventsPath is where the SSE stream is mounted.
	EventsPath = "/__assetpipe/reload"
	// ClientPath serves the browser script.
	ClientPath = "/__assetpipe/client.js"
)

//go:embed client.js
var clientJS []byte

// ClientConfig is passed to the browser script.
type ClientConfig struct {
	Endpoint string `json:"endpoint"`
	Notify   bool   `json:"notify"`
}

// ClientHandler serves the reload script prefixed with its configuration.
func ClientHandler(cfg ClientConfig) http.Handler {
	if cfg.Endpoint == "" {
		cfg.Endpoint = EventsPath
	}
	settings, _ := json.Marshal(cfg)
	body := append([]byte(fmt.Sprintf("window.__assetpipe = %s;\n", settings)), clientJS...)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		_, _ = w.Write(body)
	})
}

// ScriptTag is the markup injected into served HTML pages.
const ScriptTag = `<script src="` + ClientPath + `" async></script>`
