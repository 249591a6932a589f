package auth

import (
	"context"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
)

// TokenCache is the durable (site, account) -> token store. A present but
// expired entry reads as a miss.
type TokenCache interface {
	Get(ctx context.Context, site, account string) (*domain.Token, error)
	Put(ctx context.Context, token *domain.Token) error
	Invalidate(ctx context.Context, site, account string) error
}

// LoginOutcome classifies one submitted login form.
type LoginOutcome struct {
	Token               *domain.Token
	CaptchaRejected     bool
	CredentialsRejected bool
	Message             string
}

// LoginSession is one scripted login page. Implementations own an isolated
// automation session; Close must release it.
type LoginSession interface {
	// Reset reloads the login page, discarding any partial form state.
	Reset(ctx context.Context) error
	FillCredentials(ctx context.Context, account, secret string) error
	CaptchaImage(ctx context.Context) ([]byte, error)
	RefreshCaptcha(ctx context.Context) error
	// Submit fills the captcha answer and submits the form.
	Submit(ctx context.Context, captchaAnswer string) (*LoginOutcome, error)
	Close()
}

// LoginDriver opens login sessions against a site's portal.
type LoginDriver interface {
	Open(ctx context.Context, site string) (LoginSession, error)
}
