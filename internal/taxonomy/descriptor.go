package taxonomy

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
)

// namespaceSearchPaths are the dot-separated locations a parsed.json file's
// namespace map is conventionally found at (spec §6's "parsed filing
// descriptor" contract), tried in order before falling back to a deep
// search.
var namespaceSearchPaths = []string{
	"instance.namespaces",
	"namespaces",
	"schema.namespaces",
	"metadata.namespaces",
	"xbrl.namespaces",
	"document.namespaces",
}

// standardNamespaces are well-known XML/XBRL namespaces every filing
// declares and that never resolve to a downloadable taxonomy library
// (spec §6 "standard XML/XBRL namespaces to ignore").
var standardNamespaces = map[string]bool{
	"http://www.w3.org/2001/XMLSchema":          true,
	"http://www.w3.org/2001/XMLSchema-instance": true,
	"http://www.xbrl.org/2003/instance":         true,
	"http://www.xbrl.org/2003/linkbase":         true,
	"http://www.xbrl.org/2003/XLink":             true,
	"http://www.xbrl.org/2006/xbrldi":            true,
	"http://www.w3.org/1999/xlink":               true,
	"http://www.w3.org/1999/xhtml":                true,
	"http://www.w3.org/XML/1998/namespace":       true,
}

// ReadDescriptor reads a parsed.json file at path and returns the declared
// namespace URIs, standard XML/XBRL namespaces filtered out, ready to pass
// to ResolveNamespaces / Coordinator.ProcessFiling.
func ReadDescriptor(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "taxonomy: read descriptor %q", path)
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, eris.Wrapf(err, "taxonomy: parse descriptor %q", path)
	}

	uris := extractNamespaces(doc)

	out := make([]string, 0, len(uris))
	for uri := range uris {
		if !standardNamespaces[uri] {
			out = append(out, uri)
		}
	}
	return out, nil
}

func extractNamespaces(doc any) map[string]bool {
	uris := map[string]bool{}

	for _, path := range namespaceSearchPaths {
		if m, ok := valueAtPath(doc, path); ok {
			collectStringValues(m, uris)
		}
	}

	if len(uris) == 0 {
		deepSearchNamespaces(doc, uris)
	}

	return uris
}

// valueAtPath walks a dot-separated path of object keys through a
// json.Unmarshal-produced any tree.
func valueAtPath(doc any, path string) (any, bool) {
	current := doc
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func collectStringValues(v any, out map[string]bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return
	}
	for _, value := range m {
		if s, ok := value.(string); ok && s != "" {
			out[s] = true
		}
	}
}

// deepSearchNamespaces recursively looks for an object where more than half
// the values are http(s) URIs, matching spec §6's fallback rule for
// descriptors that don't carry a namespace map at any of the conventional
// paths.
func deepSearchNamespaces(v any, out map[string]bool) {
	switch val := v.(type) {
	case map[string]any:
		if looksLikeNamespaceMap(val) {
			for _, value := range val {
				if s, ok := value.(string); ok && s != "" {
					out[s] = true
				}
			}
		}
		for _, child := range val {
			deepSearchNamespaces(child, out)
		}

	case []any:
		for _, item := range val {
			deepSearchNamespaces(item, out)
		}
	}
}

func looksLikeNamespaceMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	uriCount := 0
	for _, value := range m {
		if s, ok := value.(string); ok && (strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")) {
			uriCount++
		}
	}
	return float64(uriCount)/float64(len(m)) > 0.5
}
