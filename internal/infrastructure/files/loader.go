// Package files loads cell-referenced files by URI and prepares them for
// prompt assembly and code execution.
package files

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gridify/gentable/internal/domain"
	"github.com/gridify/gentable/internal/domain/errors"
)

// Supported file extensions per kind.
var (
	DocumentExtensions = []string{".txt", ".md", ".csv", ".json", ".html", ".pdf", ".docx"}
	ImageExtensions    = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	AudioExtensions    = []string{".wav", ".mp3"}
)

func hasExtension(ext string, set []string) bool {
	for _, e := range set {
		if e == ext {
			return true
		}
	}
	return false
}

// LocalURIReader reads file://, plain-path, data: and http(s) URIs.
type LocalURIReader struct {
	client *http.Client
}

// NewLocalURIReader creates a reader with a bounded HTTP timeout.
func NewLocalURIReader() *LocalURIReader {
	return &LocalURIReader{client: &http.Client{Timeout: 30 * time.Second}}
}

// ReadURI loads the referenced file into memory.
func (r *LocalURIReader) ReadURI(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "data:"):
		idx := strings.Index(uri, ",")
		if idx < 0 {
			return nil, errors.BadInput("Malformed data URI.")
		}
		if strings.Contains(uri[:idx], "base64") {
			return base64.StdEncoding.DecodeString(uri[idx+1:])
		}
		return []byte(uri[idx+1:]), nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("fetching %q returned status %d", uri, resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	default:
		return os.ReadFile(strings.TrimPrefix(uri, "file://"))
	}
}

// PlainDocLoader extracts text from plain-text document formats. Rich
// formats require an external parser and are rejected.
type PlainDocLoader struct{}

// LoadDocument returns the text content of the document.
func (PlainDocLoader) LoadDocument(_ context.Context, name string, data []byte) (string, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".txt", ".md", ".csv", ".json", ".html":
		return string(data), nil
	default:
		return "", errors.BadInput("Unsupported document format %q.", path.Ext(name))
	}
}

// LoadForPrompt loads a file-typed cell reference for prompt assembly.
// Documents resolve to their parsed text; image and audio files resolve to
// an empty replacement plus a multimodal content part. Unreadable files
// degrade to an empty replacement.
func LoadForPrompt(ctx context.Context, reader domain.URIReader, docs domain.DocLoader, uri string, isDocument bool) (string, *domain.ContentPart, error) {
	data, err := reader.ReadURI(ctx, uri)
	if err != nil {
		log.Warn().Err(err).Str("uri", uri).Msg("Failed to load file")
		return "", nil, nil
	}
	ext := strings.ToLower(path.Ext(uri))
	if isDocument || hasExtension(ext, DocumentExtensions) {
		text, err := docs.LoadDocument(ctx, path.Base(uri), data)
		if err != nil {
			if errors.IsBadInput(err) {
				return "", nil, err
			}
			log.Warn().Err(err).Str("uri", uri).Msg("Failed to parse document")
			return "", nil, nil
		}
		return text, nil, nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)
	switch {
	case hasExtension(ext, ImageExtensions):
		if ext == ".jpg" {
			ext = ".jpeg"
		}
		part := domain.ImagePart(fmt.Sprintf("data:image/%s;base64,%s", ext[1:], encoded))
		return "", &part, nil
	case hasExtension(ext, AudioExtensions):
		part := domain.AudioPart(encoded, ext[1:])
		return "", &part, nil
	default:
		return "", nil, errors.BadInput(
			"Unsupported file type %q. Supported formats are: %s.",
			ext,
			strings.Join(append(append(append([]string{}, DocumentExtensions...), ImageExtensions...), AudioExtensions...), ", "))
	}
}
