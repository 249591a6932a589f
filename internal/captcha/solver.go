// Package captcha provides image-to-text recognition for portal login
// captchas. Solvers are best-effort by contract: they never fail, they
// return an empty string when recognition is not possible.
package captcha

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Solver turns a captcha image into its text. Implementations must not
// return errors; an unrecognizable image yields "".
type Solver interface {
	Solve(ctx context.Context, image []byte) string
}

const defaultOCRTimeout = 15 * time.Second

// Portal captchas are short alphanumeric codes; anything else coming back
// from the OCR service is noise.
var captchaAnswerPattern = regexp.MustCompile(`^[0-9A-Za-z]{4,8}$`)

type ocrResponse struct {
	Text string `json:"text"`
}

// OCRSolver calls an external OCR HTTP service.
type OCRSolver struct {
	client   *resty.Client
	endpoint string
	logger   *zap.Logger
}

func NewOCRSolver(endpoint string, logger *zap.Logger) *OCRSolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := resty.New()
	client.SetTimeout(defaultOCRTimeout)
	client.SetRetryCount(0)

	return &OCRSolver{
		client:   client,
		endpoint: endpoint,
		logger:   logger,
	}
}

func (s *OCRSolver) Solve(ctx context.Context, image []byte) string {
	if len(image) == 0 {
		return ""
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(image).
		Post(s.endpoint)
	if err != nil {
		s.logger.Warn("captcha ocr request failed", zap.Error(err))
		return ""
	}
	if response.StatusCode() != 200 {
		s.logger.Warn("captcha ocr returned non-200",
			zap.Int("status", response.StatusCode()),
		)
		return ""
	}

	var parsed ocrResponse
	if err := json.Unmarshal(response.Body(), &parsed); err != nil {
		s.logger.Warn("captcha ocr returned unparseable body", zap.Error(err))
		return ""
	}

	text := strings.TrimSpace(parsed.Text)
	if !captchaAnswerPattern.MatchString(text) {
		return ""
	}
	return text
}
