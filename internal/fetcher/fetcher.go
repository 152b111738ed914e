package fetcher

import (
	"context"
	"io"
)

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// DownloadToFile fetches the URL and writes it to the given path. If
	// resume is true and a partial file already exists at path, the
	// download continues from that offset via a Range request. Returns
	// bytes written and whether the server honored the resume.
	DownloadToFile(ctx context.Context, url string, path string, resume bool) (bytesWritten int64, resumed bool, err error)

	// HeadETag performs a HEAD request and returns the ETag header value.
	HeadETag(ctx context.Context, url string) (string, error)

	// DownloadNegotiated retries the request with each entry of acceptTypes
	// in turn on a 406 Not Acceptable, returning the body and the content
	// type that was actually honored.
	DownloadNegotiated(ctx context.Context, url string, acceptTypes []string) (io.ReadCloser, string, error)

	// DownloadIfChanged fetches the URL only if the ETag has changed.
	// Returns (body, newETag, changed, error). If not changed, body is nil and changed is false.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}
