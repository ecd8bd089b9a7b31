package signature

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// SampleSource fetches the raw bytes of a reference audio sample.
//
// Implementations return an error wrapping [ErrNotFound] when path does not
// exist; any other error is treated as an I/O failure.
type SampleSource interface {
	FetchBytes(ctx context.Context, path string) ([]byte, error)
}

// SourceFunc adapts a plain function to [SampleSource].
type SourceFunc func(ctx context.Context, path string) ([]byte, error)

// FetchBytes implements [SampleSource].
func (f SourceFunc) FetchBytes(ctx context.Context, path string) ([]byte, error) {
	return f(ctx, path)
}

// maxSampleBytes bounds the size of a reference sample. A few seconds of
// audio is all a signature needs.
const maxSampleBytes = 32 << 20

// FileSource reads samples from the local filesystem. Relative paths are
// resolved against Root.
type FileSource struct {
	Root string
}

var _ SampleSource = FileSource{}

// FetchBytes implements [SampleSource].
func (s FileSource) FetchBytes(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !filepath.IsAbs(path) && s.Root != "" {
		path = filepath.Join(s.Root, path)
	}
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("signature: stat %s: %w", path, err)
	}
	if info.Size() > maxSampleBytes {
		return nil, fmt.Errorf("signature: %s is %d bytes, limit is %d", path, info.Size(), maxSampleBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("signature: read %s: %w", path, err)
	}
	return data, nil
}

// HTTPSource downloads samples over HTTP. Relative paths are resolved
// against BaseURL; absolute http(s) URLs are fetched as-is.
type HTTPSource struct {
	BaseURL string

	// Client defaults to [http.DefaultClient].
	Client *http.Client
}

var _ SampleSource = HTTPSource{}

// FetchBytes implements [SampleSource].
func (s HTTPSource) FetchBytes(ctx context.Context, path string) ([]byte, error) {
	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("signature: build request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("signature: get %s: %w", target, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("signature: get %s: unexpected status %s", target, resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSampleBytes+1))
	if err != nil {
		return nil, fmt.Errorf("signature: read %s: %w", target, err)
	}
	if len(data) > maxSampleBytes {
		return nil, fmt.Errorf("signature: %s exceeds %d bytes", target, maxSampleBytes)
	}
	return data, nil
}

func (s HTTPSource) resolve(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path, nil
	}
	base, err := url.Parse(s.BaseURL)
	if err != nil || base.Scheme == "" {
		return "", fmt.Errorf("signature: invalid base URL %q", s.BaseURL)
	}
	ref, err := url.Parse(path)
	if err != nil {
		return "", fmt.Errorf("signature: invalid sample path %q: %w", path, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// SourceFor returns an [HTTPSource] for http(s) paths and a [FileSource]
// otherwise.
func SourceFor(path string, client *http.Client) SampleSource {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return HTTPSource{Client: client}
	}
	return FileSource{}
}
