package acquire

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"

	"github.com/sells-group/filing-acquirer/internal/fetcher"
)

// directorySkipLinks are entries every Apache/nginx-style autoindex emits
// that never point at real taxonomy content.
var directorySkipLinks = map[string]bool{
	"../":            true,
	"/":              true,
	"?C=N;O=D":       true,
	"?C=M;O=A":       true,
	"?C=S;O=A":       true,
	"?C=D;O=A":       true,
}

// DirectoryHandler mirrors a remote directory tree by parsing each page's
// HTML link list and recursing into subdirectories, for taxonomies that
// are distributed as a bare autoindex rather than an archive (spec §4.4).
type DirectoryHandler struct {
	fetcher  fetcher.Fetcher
	maxDepth int
}

// NewDirectoryHandler constructs a DirectoryHandler that recurses at most
// maxDepth levels below the root URL.
func NewDirectoryHandler(f fetcher.Fetcher, maxDepth int) *DirectoryHandler {
	if maxDepth <= 0 {
		maxDepth = 6
	}
	return &DirectoryHandler{fetcher: f, maxDepth: maxDepth}
}

// MirrorDirectory downloads directoryURL's tree into targetDir, returning
// the number of files written.
func (h *DirectoryHandler) MirrorDirectory(ctx context.Context, directoryURL, targetDir string) (int, error) {
	if !strings.HasSuffix(directoryURL, "/") {
		directoryURL += "/"
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, err
	}
	seen := make(map[string]bool)
	return h.mirrorRecursive(ctx, directoryURL, targetDir, 0, seen)
}

func (h *DirectoryHandler) mirrorRecursive(ctx context.Context, rawURL, localDir string, depth int, seen map[string]bool) (int, error) {
	if depth > h.maxDepth || seen[rawURL] {
		return 0, nil
	}
	seen[rawURL] = true

	body, err := h.fetcher.Download(ctx, rawURL)
	if err != nil {
		return 0, nil //nolint:nilerr
	}
	defer body.Close() //nolint:errcheck

	links, err := parseDirectoryLinks(body)
	if err != nil {
		return 0, nil //nolint:nilerr
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return 0, nil //nolint:nilerr
	}

	total := 0
	for _, link := range links {
		target, err := url.Parse(link)
		if err != nil {
			continue
		}
		fullURL := base.ResolveReference(target).String()

		if strings.HasSuffix(link, "/") {
			subdir := filepath.Join(localDir, strings.TrimSuffix(link, "/"))
			if err := os.MkdirAll(subdir, 0o755); err != nil {
				continue
			}
			n, err := h.mirrorRecursive(ctx, fullURL, subdir, depth+1, seen)
			if err != nil {
				return total, err
			}
			total += n
			continue
		}

		if h.downloadFile(ctx, fullURL, localDir) {
			total++
		}
	}

	return total, nil
}

func (h *DirectoryHandler) downloadFile(ctx context.Context, rawURL, targetDir string) bool {
	body, err := h.fetcher.Download(ctx, rawURL)
	if err != nil {
		return false
	}
	defer body.Close() //nolint:errcheck

	filename := filenameFromURL(rawURL, "")
	if filename == "" {
		return false
	}

	out, err := os.Create(filepath.Join(targetDir, filename))
	if err != nil {
		return false
	}
	defer out.Close() //nolint:errcheck

	_, err = io.Copy(out, body)
	return err == nil
}

// parseDirectoryLinks extracts every <a href> from an autoindex HTML page,
// skipping sort-control and parent-directory links.
func parseDirectoryLinks(r io.Reader) ([]string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key == "href" && attr.Val != "" && !directorySkipLinks[attr.Val] {
					links = append(links, attr.Val)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}
