package fetch

import (
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/aretw0/devbundle/pkg/delta"
)

// ArtifactName derives the index key for a bundle URL: the URL path without
// its leading slash and extension ("/screens/home.bundle" → "screens/home").
func ArtifactName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	p := strings.TrimPrefix(u.Path, "/")
	p = strings.TrimSuffix(p, path.Ext(p))
	if p == "" {
		return "main"
	}
	return p
}

// additionalURL builds the request for a named additional bundle: the
// primary's scheme, host and query, with only module definitions requested.
func additionalURL(primary, name string) (string, error) {
	u, err := url.Parse(primary)
	if err != nil {
		return "", err
	}
	u.Path = "/" + strings.TrimPrefix(name, "/") + ".bundle"
	u.RawPath = ""
	q := u.Query()
	q.Del(delta.RevisionParam)
	q.Set("modulesOnly", "true")
	q.Set("runModule", "false")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// additionalPath is where a named additional bundle is committed. Slashes in
// the name are flattened so every artifact lives directly in dir.
func additionalPath(dir, name string) string {
	flat := strings.ReplaceAll(strings.TrimPrefix(name, "/"), "/", "_")
	flat = strings.ReplaceAll(flat, `\`, "_")
	return filepath.Join(dir, flat+".jsbundle")
}

// splitList parses a comma separated header value, dropping blanks and duplicates.
func splitList(v string) []string {
	var out []string
	seen := map[string]bool{}
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" || seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
