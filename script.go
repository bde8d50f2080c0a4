package relay

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"
)

const (
	// ListeningMarker is printed by the relay once its port is bound.
	ListeningMarker = "[llm-relay] listening on port"
	// FatalMarker prefixes the relay's unrecoverable startup errors.
	FatalMarker = "[llm-relay] fatal:"

	// UpstreamHost is the API host every relayed request is sent to.
	UpstreamHost = "api.anthropic.com"
	// UpstreamAPIVersion is injected as the anthropic-version header.
	UpstreamAPIVersion = "2023-06-01"

	ScriptName = "relay.js"

	childForceExit = 1 * time.Second
)

//go:embed relay.js.tmpl
var relaySource string

var relayTemplate = template.Must(template.New(ScriptName).Parse(relaySource))

type scriptParams struct {
	Port            int
	Secret          string
	UpstreamHost    string
	APIVersion      string
	ListeningMarker string
	FatalMarker     string
	ForceExitMillis int64
}

// RenderScript returns the relay program source for the given port and secret.
func RenderScript(port int, secret string) ([]byte, error) {
	p := scriptParams{
		Port:            port,
		Secret:          jsString(secret),
		UpstreamHost:    jsString(UpstreamHost),
		APIVersion:      jsString(UpstreamAPIVersion),
		ListeningMarker: jsString(ListeningMarker),
		FatalMarker:     jsString(FatalMarker),
		ForceExitMillis: childForceExit.Milliseconds(),
	}
	var sb strings.Builder
	if err := relayTemplate.Execute(&sb, p); err != nil {
		return nil, fmt.Errorf("render relay script: %w", err)
	}
	return []byte(sb.String()), nil
}

// WriteScript renders the relay program into dir and returns its path.
// The file carries the credential, so it is only readable by the owner.
func WriteScript(dir string, port int, secret string) (string, error) {
	src, err := RenderScript(port, secret)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, ScriptName)
	if err := os.WriteFile(path, src, 0o600); err != nil {
		return "", fmt.Errorf("write relay script: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("chmod relay script: %w", err)
	}
	return path, nil
}

// jsString encodes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
