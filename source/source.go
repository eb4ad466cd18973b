// Package source reads small configuration documents (catalogs, phrase lists)
// from a local path or an http(s) URL and decodes them by extension.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// ErrUnsupportedFormat is returned by Decode for extensions it cannot parse.
var ErrUnsupportedFormat = errors.New("unsupported document format")

const maxDocumentBytes = 8 << 20

var httpClient = &http.Client{Timeout: 15 * time.Second}

// IsRemote reports whether uri names an http(s) resource.
func IsRemote(uri string) bool {
	return strings.HasPrefix(uri, "http://") || strings.HasPrefix(uri, "https://")
}

// Read fetches the raw bytes behind uri.
func Read(ctx context.Context, uri string) ([]byte, error) {
	if !IsRemote(uri) {
		b, err := os.ReadFile(strings.TrimPrefix(uri, "file://"))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", uri, err)
		}
		return b, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s: %w", uri, err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", uri, err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %d", uri, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return nil, fmt.Errorf("read body %s: %w", uri, err)
	}
	return b, nil
}

// Ext returns the lowercase extension of uri, ignoring any URL query.
func Ext(uri string) string {
	p := uri
	if IsRemote(uri) {
		if u, err := url.Parse(uri); err == nil {
			p = u.Path
		}
	}
	return strings.ToLower(path.Ext(p))
}

// Decode unmarshals data into v, picking YAML for .yaml/.yml and JSON otherwise.
func Decode(uri string, data []byte, v any) error {
	switch Ext(uri) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode yaml %s: %w", uri, err)
		}
	case ".json", "":
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode json %s: %w", uri, err)
		}
	default:
		return fmt.Errorf("%s: %w", uri, ErrUnsupportedFormat)
	}
	return nil
}

// Load reads uri and decodes it into v.
func Load(ctx context.Context, uri string, v any) error {
	data, err := Read(ctx, uri)
	if err != nil {
		return err
	}
	return Decode(uri, data, v)
}
