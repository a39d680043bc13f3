package whisper

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// Downloads run for as long as the body keeps streaming; only connecting and
// waiting for the response headers are bounded.
const (
	dialTimeout           = 15 * time.Second
	tlsHandshakeTimeout   = 15 * time.Second
	responseHeaderTimeout = 30 * time.Second
)

// ProgressFunc is called during download with bytes downloaded and total
type ProgressFunc func(downloaded, total int64)

// Registry tracks model files installed in one directory.
type Registry struct {
	dir     string
	baseURL string
	client  *http.Client
}

// DefaultDir returns ~/.local/share/segscribe/models/whisper.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share", "segscribe", "models", "whisper"), nil
}

// NewRegistry returns a registry for dir. The directory is created lazily.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, baseURL: baseDownloadURL, client: newDownloadClient()}
}

func newDownloadClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}).DialContext
	transport.TLSHandshakeTimeout = tlsHandshakeTimeout
	transport.ResponseHeaderTimeout = responseHeaderTimeout
	return &http.Client{Transport: transport}
}

// Dir returns the models directory.
func (r *Registry) Dir() string {
	return r.dir
}

// Path returns the file path for modelID, or "" if the ID is unknown.
func (r *Registry) Path(modelID string) string {
	info, ok := modelByID[modelID]
	if !ok {
		return ""
	}
	return filepath.Join(r.dir, info.Filename)
}

// IsInstalled returns true if the model is downloaded and non-empty
func (r *Registry) IsInstalled(modelID string) bool {
	path := r.Path(modelID)
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// ListInstalled returns all installed models in catalog order
func (r *Registry) ListInstalled() []ModelInfo {
	var installed []ModelInfo
	for _, m := range models {
		if r.IsInstalled(m.ID) {
			installed = append(installed, m)
		}
	}
	return installed
}

// InstalledFor returns an installed model able to recognize lang. preferred
// wins when it is installed and suitable; otherwise English-only models are
// favored for English and the largest suitable model is picked.
func (r *Registry) InstalledFor(lang, preferred string) (ModelInfo, bool) {
	if preferred != "" && r.IsInstalled(preferred) {
		if m := modelByID[preferred]; m.SupportsLanguage(lang) {
			return m, true
		}
	}

	var best ModelInfo
	found := false
	for _, m := range r.ListInstalled() {
		if !m.SupportsLanguage(lang) {
			continue
		}
		if !found || betterFor(lang, m, best) {
			best, found = m, true
		}
	}
	return best, found
}

func betterFor(lang string, candidate, current ModelInfo) bool {
	if lang == "en" && candidate.Multilingual != current.Multilingual {
		return !candidate.Multilingual
	}
	return candidate.SizeBytes > current.SizeBytes
}

// Download fetches a model from huggingface. onProgress may be nil.
func (r *Registry) Download(ctx context.Context, modelID string, onProgress ProgressFunc) error {
	info := GetModel(modelID)
	if info == nil {
		return fmt.Errorf("unknown model: %s", modelID)
	}

	if err := os.MkdirAll(r.dir, 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	destPath := filepath.Join(r.dir, info.Filename)
	tempPath := destPath + ".downloading"

	out, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		out.Close()
		os.Remove(tempPath) // no-op after a successful rename
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/"+info.Filename, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	total := resp.ContentLength
	if total < 0 {
		total = info.SizeBytes
	}

	var downloaded int64
	buf := make([]byte, 32*1024)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := out.Write(buf[:n]); writeErr != nil {
				return fmt.Errorf("failed to write: %w", writeErr)
			}
			downloaded += int64(n)
			if onProgress != nil {
				onProgress(downloaded, total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read: %w", err)
		}
	}

	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tempPath, destPath); err != nil {
		return fmt.Errorf("failed to finalize download: %w", err)
	}
	return nil
}

// Remove deletes a downloaded model
func (r *Registry) Remove(modelID string) error {
	if GetModel(modelID) == nil {
		return fmt.Errorf("unknown model: %s", modelID)
	}
	if !r.IsInstalled(modelID) {
		return fmt.Errorf("model not installed: %s", modelID)
	}
	if err := os.Remove(r.Path(modelID)); err != nil {
		return fmt.Errorf("failed to remove model: %w", err)
	}
	return nil
}
