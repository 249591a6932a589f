package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/auth"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Portal describes one site's login page: where it lives and which elements
// the scripted login interacts with. Selector zero values fall back to the
// defaults observed on the court portal.
type Portal struct {
	Site     string
	LoginURL string

	AccountSelector string
	SecretSelector  string
	CaptchaInput    string
	CaptchaImage    string
	CaptchaRefresh  string
	SubmitSelector  string
	ErrorSelector   string

	// LoginAPISubstr matches the XHR the form submit fires; its JSON body
	// carries the issued token.
	LoginAPISubstr string
	TokenTTL       time.Duration
}

func (p Portal) withDefaults() Portal {
	if p.AccountSelector == "" {
		p.AccountSelector = `input[name="username"]`
	}
	if p.SecretSelector == "" {
		p.SecretSelector = `input[type="password"]`
	}
	if p.CaptchaInput == "" {
		p.CaptchaInput = `input[name="captcha"]`
	}
	if p.CaptchaImage == "" {
		p.CaptchaImage = `img.captcha-img`
	}
	if p.CaptchaRefresh == "" {
		p.CaptchaRefresh = p.CaptchaImage
	}
	if p.SubmitSelector == "" {
		p.SubmitSelector = `button[type="submit"]`
	}
	if p.ErrorSelector == "" {
		p.ErrorSelector = `.el-message--error, .login-error`
	}
	if p.LoginAPISubstr == "" {
		p.LoginAPISubstr = "/api/login"
	}
	return p
}

// LoginDriver opens scripted login sessions on pooled browser pages. It
// implements auth.LoginDriver.
type LoginDriver struct {
	pool    *Pool
	portals map[string]Portal
	logger  *zap.Logger
}

func NewLoginDriver(pool *Pool, portals []Portal, logger *zap.Logger) (*LoginDriver, error) {
	if pool == nil {
		return nil, fmt.Errorf("browser pool is required")
	}
	if len(portals) == 0 {
		return nil, fmt.Errorf("at least one portal is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	bySite := make(map[string]Portal, len(portals))
	for _, portal := range portals {
		if portal.Site == "" || portal.LoginURL == "" {
			return nil, fmt.Errorf("portal requires a site and a login url")
		}
		bySite[portal.Site] = portal.withDefaults()
	}
	return &LoginDriver{pool: pool, portals: bySite, logger: logger}, nil
}

func (d *LoginDriver) Open(ctx context.Context, site string) (auth.LoginSession, error) {
	portal, ok := d.portals[site]
	if !ok {
		return nil, fmt.Errorf("no portal configured for site %s: %w", site, domain.ErrNotFound)
	}

	session, err := d.pool.Acquire(ctx, "login-"+uuid.NewString())
	if err != nil {
		return nil, err
	}
	if err := session.Navigate(ctx, portal.LoginURL); err != nil {
		session.Close()
		return nil, err
	}

	return &loginSession{
		session: session,
		portal:  portal,
		logger:  d.logger.With(zap.String("site", site)),
	}, nil
}

type loginSession struct {
	session *Session
	portal  Portal
	logger  *zap.Logger
}

func (s *loginSession) Reset(ctx context.Context) error {
	return s.session.Reload(ctx)
}

func (s *loginSession) FillCredentials(ctx context.Context, account, secret string) error {
	if err := s.session.Fill(ctx, s.portal.AccountSelector, account); err != nil {
		return err
	}
	return s.session.Fill(ctx, s.portal.SecretSelector, secret)
}

func (s *loginSession) CaptchaImage(ctx context.Context) ([]byte, error) {
	return s.session.ElementImage(ctx, s.portal.CaptchaImage)
}

func (s *loginSession) RefreshCaptcha(ctx context.Context) error {
	return s.session.Click(ctx, s.portal.CaptchaRefresh)
}

// Submit types the captcha answer, submits the form and classifies the
// result from the login API response. The capture is registered before the
// click so the response cannot slip past the listener.
func (s *loginSession) Submit(ctx context.Context, captchaAnswer string) (*auth.LoginOutcome, error) {
	if err := s.session.Fill(ctx, s.portal.CaptchaInput, captchaAnswer); err != nil {
		return nil, err
	}

	capture, err := s.session.StartCapture(ctx, s.portal.LoginAPISubstr)
	if err != nil {
		return nil, err
	}
	if err := s.session.Click(ctx, s.portal.SubmitSelector); err != nil {
		return nil, err
	}

	body, err := capture.Wait(ctx, s.session.cfg.navigationTimeout())
	if err != nil {
		// No API response observed. A visible error banner still tells us
		// what the portal rejected.
		if outcome := s.outcomeFromBanner(ctx); outcome != nil {
			return outcome, nil
		}
		return nil, fmt.Errorf("login response not observed: %w", err)
	}
	return s.classifyResponse(body)
}

type loginAPIResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Token     string `json:"token"`
		TokenType string `json:"tokenType"`
		ExpiresIn int64  `json:"expiresIn"`
	} `json:"data"`
}

func (s *loginSession) classifyResponse(body []byte) (*auth.LoginOutcome, error) {
	var resp loginAPIResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("unparseable login response: %w", err)
	}

	if resp.Code == 0 && resp.Data.Token != "" {
		token := &domain.Token{
			Token:     resp.Data.Token,
			TokenType: resp.Data.TokenType,
		}
		if resp.Data.ExpiresIn > 0 {
			token.ExpiresAt = time.Now().Add(time.Duration(resp.Data.ExpiresIn) * time.Second)
		} else if s.portal.TokenTTL > 0 {
			token.ExpiresAt = time.Now().Add(s.portal.TokenTTL)
		}
		return &auth.LoginOutcome{Token: token, Message: resp.Message}, nil
	}

	return &auth.LoginOutcome{
		CaptchaRejected:     mentionsCaptcha(resp.Message),
		CredentialsRejected: mentionsCredentials(resp.Message),
		Message:             resp.Message,
	}, nil
}

func (s *loginSession) outcomeFromBanner(ctx context.Context) *auth.LoginOutcome {
	has, err := s.session.Has(s.portal.ErrorSelector)
	if err != nil || !has {
		return nil
	}
	text, err := s.session.Text(ctx, s.portal.ErrorSelector)
	if err != nil || strings.TrimSpace(text) == "" {
		return nil
	}
	return &auth.LoginOutcome{
		CaptchaRejected:     mentionsCaptcha(text),
		CredentialsRejected: mentionsCredentials(text),
		Message:             strings.TrimSpace(text),
	}
}

func mentionsCaptcha(message string) bool {
	return strings.Contains(message, "验证码") ||
		strings.Contains(strings.ToLower(message), "captcha")
}

func mentionsCredentials(message string) bool {
	for _, marker := range []string{"密码", "账号", "账户", "用户名"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	lowered := strings.ToLower(message)
	return strings.Contains(lowered, "password") || strings.Contains(lowered, "account")
}

func (s *loginSession) Close() {
	s.session.Close()
}
