package config

import (
	"fmt"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN string `env:"DATABASE_DSN,required=true"`
	RabbitMQURL string `env:"RABBITMQ_URL,required=true"`
	RedisURL    string `env:"REDIS_URL,required=true"`

	// Portal and listing API endpoints.
	PortalSite     string `env:"PORTAL_SITE,default=court"`
	PortalLoginURL string `env:"PORTAL_LOGIN_URL,required=true"`
	ListingAPIURL  string `env:"LISTING_API_URL,required=true"`
	// ListingAPISubstr matches the listing request URL during interception.
	ListingAPISubstr string `env:"LISTING_API_SUBSTR,default=/api/document/list"`

	// CaptchaOCRURL is the recognition service endpoint.
	CaptchaOCRURL string `env:"CAPTCHA_OCR_URL,required=true"`

	// DownloadDir receives per-task document directories; CaseFileDir is the
	// fallback root for filed documents when a case has no directory.
	DownloadDir string `env:"DOWNLOAD_DIR,default=/var/lib/fachuan/downloads"`
	CaseFileDir string `env:"CASE_FILE_DIR,default=/var/lib/fachuan/cases"`

	BrowserDebuggerURL string `env:"BROWSER_DEBUGGER_URL"`
	BrowserHeadless    bool   `env:"BROWSER_HEADLESS,default=true"`

	MaxCaptchaRetries int `env:"MAX_CAPTCHA_RETRIES,default=3"`
	MaxLoginRetries   int `env:"MAX_LOGIN_RETRIES,default=3"`
	TokenTTLMinutes   int `env:"TOKEN_TTL_MINUTES,default=120"`

	WorkerConcurrency int    `env:"WORKER_CONCURRENCY,default=4"`
	APIPort           int    `env:"API_PORT,default=8080"`
	LogLevel          string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}
