package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"go.uber.org/zap"
)

// CaseFiler moves downloaded documents into the matched case's directory,
// prefixing each file with the case number so documents from different
// notifications sort together.
type CaseFiler struct {
	// fallbackRoot receives files for cases that have no directory of their
	// own yet; one subdirectory per case number.
	fallbackRoot string
	logger       *zap.Logger
}

func NewCaseFiler(fallbackRoot string, logger *zap.Logger) (*CaseFiler, error) {
	if strings.TrimSpace(fallbackRoot) == "" {
		return nil, fmt.Errorf("fallback root directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CaseFiler{fallbackRoot: fallbackRoot, logger: logger}, nil
}

// File moves every successfully downloaded item. Individual failures are
// collected; the first error is returned after all items were tried.
func (f *CaseFiler) File(ctx context.Context, c *domain.Case, items []domain.DownloadItem) (int, error) {
	dir := c.Directory
	if strings.TrimSpace(dir) == "" {
		dir = filepath.Join(f.fallbackRoot, sanitizeComponent(c.CaseNumber))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create case directory %s: %w", dir, err)
	}

	renamed := 0
	var errs []error
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return renamed, err
		}
		if !item.Success || item.LocalPath == "" {
			continue
		}

		target := filepath.Join(dir, targetName(c.CaseNumber, filepath.Base(item.LocalPath)))
		if err := moveFile(item.LocalPath, target); err != nil {
			f.logger.Warn("failed to file document",
				zap.String("source", item.LocalPath),
				zap.String("target", target),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		renamed++
	}
	return renamed, errors.Join(errs...)
}

// targetName prefixes the file with the case number unless the download
// already carries it.
func targetName(caseNumber, base string) string {
	if caseNumber == "" || strings.Contains(base, caseNumber) {
		return base
	}
	return sanitizeComponent(caseNumber) + "_" + base
}

func sanitizeComponent(s string) string {
	replacer := strings.NewReplacer("/", "_", "\\", "_", "\x00", "")
	return replacer.Replace(s)
}

// moveFile renames when possible and falls back to copy-and-delete for
// cross-device moves.
func moveFile(source, target string) error {
	if err := os.Rename(source, target); err == nil {
		return nil
	}

	in, err := os.Open(source)
	if err != nil {
		return fmt.Errorf("open %s: %w", source, err)
	}
	defer in.Close()

	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(target)
		return fmt.Errorf("copy to %s: %w", target, err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", target, err)
	}
	return os.Remove(source)
}
