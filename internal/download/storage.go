package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// FileStore lays out downloaded documents under one directory per task.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("download root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create download root: %w", err)
	}
	return &FileStore{root: root}, nil
}

// TaskDir returns (creating if needed) the directory for a task's files.
func (fs *FileStore) TaskDir(taskID string) (string, error) {
	dir := filepath.Join(fs.root, taskID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create task directory: %w", err)
	}
	return dir, nil
}

// Create opens a file for one document, sanitizing the portal-provided name.
func (fs *FileStore) Create(taskID, name string) (*os.File, string, error) {
	dir, err := fs.TaskDir(taskID)
	if err != nil {
		return nil, "", err
	}
	path := filepath.Join(dir, SanitizeFileName(name))
	file, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	return file, path, nil
}

// SanitizeFileName strips path separators and control characters from names
// the portal supplied.
func SanitizeFileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "document"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", "..", "_", "\x00", "")
	return replacer.Replace(filepath.Base(name))
}

// Fetcher downloads each listed document over plain authenticated HTTP and
// streams it into the file store. Shared by the direct-API and interception
// strategies.
type Fetcher struct {
	client *resty.Client
	store  *FileStore
	logger *zap.Logger
}

func NewFetcher(client *resty.Client, store *FileStore, logger *zap.Logger) (*Fetcher, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("file store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, store: store, logger: logger}, nil
}

// FetchAll downloads every descriptor. Individual failures are recorded per
// item and never abort the remaining documents.
func (f *Fetcher) FetchAll(ctx context.Context, taskID string, token *domain.Token, docs []DocumentDescriptor) []ItemResult {
	results := make([]ItemResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, f.fetchOne(ctx, taskID, token, doc))
	}
	return results
}

func (f *Fetcher) fetchOne(ctx context.Context, taskID string, token *domain.Token, doc DocumentDescriptor) ItemResult {
	result := ItemResult{
		Name:      doc.Name,
		Format:    doc.Format,
		SourceURL: doc.URL,
	}

	request := f.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true)
	if token != nil {
		request.SetHeader("Authorization", token.AuthorizationValue())
	}

	response, err := request.Get(doc.URL)
	if err != nil {
		result.Err = fmt.Errorf("document request failed: %w", err)
		return result
	}
	body := response.RawBody()
	defer body.Close()

	if response.StatusCode() != http.StatusOK {
		result.Err = fmt.Errorf("document GET returned status %d", response.StatusCode())
		return result
	}

	file, path, err := f.store.Create(taskID, doc.Name)
	if err != nil {
		result.Err = err
		return result
	}
	defer file.Close()

	written, err := io.Copy(file, body)
	if err != nil {
		result.Err = fmt.Errorf("streaming %s failed: %w", doc.Name, err)
		_ = os.Remove(path)
		return result
	}

	result.LocalPath = path
	result.ByteSize = written
	result.Success = true
	return result
}
