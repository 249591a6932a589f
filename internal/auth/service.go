package auth

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/captcha"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/observability"
	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultMaxCaptchaRetries = 3
	defaultMaxLoginRetries   = 3
	defaultTokenTTL          = 2 * time.Hour
	captchaRefreshProbes     = 3
	captchaRefreshProbeDelay = 300 * time.Millisecond
	attemptHistoryFetchLimit = 10
)

// Config bounds the retry behavior of one acquire call.
type Config struct {
	MaxCaptchaRetries int
	MaxLoginRetries   int
	DefaultTokenTTL   time.Duration
}

func (c Config) maxCaptchaRetries() int {
	if c.MaxCaptchaRetries <= 0 {
		return defaultMaxCaptchaRetries
	}
	return c.MaxCaptchaRetries
}

func (c Config) maxLoginRetries() int {
	if c.MaxLoginRetries <= 0 {
		return defaultMaxLoginRetries
	}
	return c.MaxLoginRetries
}

func (c Config) tokenTTL() time.Duration {
	if c.DefaultTokenTTL <= 0 {
		return defaultTokenTTL
	}
	return c.DefaultTokenTTL
}

// Service acquires bearer tokens: cache fast path, then a scripted login
// with bounded captcha and network retries. Concurrent cache misses for the
// same (site, account) collapse into a single login.
type Service struct {
	cache       TokenCache
	driver      LoginDriver
	solver      captcha.Solver
	credentials repository.CredentialRepository
	attempts    repository.AttemptRepository
	cfg         Config
	logger      *zap.Logger
	metrics     *observability.Metrics

	group singleflight.Group
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewService(
	cache TokenCache,
	driver LoginDriver,
	solver captcha.Solver,
	credentials repository.CredentialRepository,
	attempts repository.AttemptRepository,
	cfg Config,
	logger *zap.Logger,
) (*Service, error) {
	if cache == nil {
		return nil, fmt.Errorf("token cache is required")
	}
	if driver == nil {
		return nil, fmt.Errorf("login driver is required")
	}
	if solver == nil {
		return nil, fmt.Errorf("captcha solver is required")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential repository is required")
	}
	if attempts == nil {
		return nil, fmt.Errorf("attempt repository is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		cache:       cache,
		driver:      driver,
		solver:      solver,
		credentials: credentials,
		attempts:    attempts,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepWithContext,
	}, nil
}

func (s *Service) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Acquire returns a live token for the site. With an empty account the
// credential with the best historical success profile is selected. The
// cache fast path performs no network access.
func (s *Service) Acquire(ctx context.Context, site, account string) (*domain.Token, error) {
	cred, err := s.resolveCredential(ctx, site, account)
	if err != nil {
		return nil, err
	}

	if token, err := s.cache.Get(ctx, site, cred.Account); err != nil {
		s.logger.Warn("token cache read failed, proceeding to login", zap.Error(err))
	} else if token != nil {
		if s.metrics != nil {
			s.metrics.IncTokenCacheHit(site)
		}
		return token, nil
	}

	key := site + ":" + cred.Account
	result, err, _ := s.group.Do(key, func() (any, error) {
		// A login that finished while this caller was queued already
		// populated the cache.
		if token, err := s.cache.Get(ctx, site, cred.Account); err == nil && token != nil {
			return token, nil
		}
		return s.login(ctx, cred)
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.Token), nil
}

func (s *Service) resolveCredential(ctx context.Context, site, account string) (*domain.Credential, error) {
	if strings.TrimSpace(site) == "" {
		return nil, fmt.Errorf("%w: site is required", domain.ErrValidation)
	}
	if strings.TrimSpace(account) == "" {
		cred, err := s.credentials.BestForSite(ctx, site)
		if err != nil {
			return nil, err
		}
		return cred, nil
	}
	cred, err := s.credentials.GetByAccount(ctx, site, account)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", domain.ErrNoAvailableAccount, site, account)
	}
	if err != nil {
		return nil, err
	}
	if !cred.Active {
		return nil, fmt.Errorf("%w: %s/%s is disabled", domain.ErrNoAvailableAccount, site, account)
	}
	return cred, nil
}

// login drives full attempts against the portal, each with its own captcha
// retry budget. The automation session is torn down before returning.
func (s *Service) login(ctx context.Context, cred *domain.Credential) (*domain.Token, error) {
	start := s.now()
	attempts := 0
	lastKind := domain.LoginFailureUnknown
	var lastErr error

	session, err := s.driver.Open(ctx, cred.Site)
	if err != nil {
		s.finishFailure(ctx, cred, classifyKind(err), 0, start, err)
		return nil, &domain.LoginError{
			Site: cred.Site, Account: cred.Account,
			Kind: classifyKind(err), Attempts: 0, Cause: err,
		}
	}
	defer session.Close()

	for attempt := 0; attempt < s.cfg.maxLoginRetries(); attempt++ {
		if attempt > 0 {
			if err := session.Reset(ctx); err != nil {
				lastKind, lastErr = classifyKind(err), err
				continue
			}
		}

		attempts++
		token, kind, err := s.attemptOnce(ctx, session, cred)
		if err == nil {
			s.finishSuccess(ctx, cred, token, attempts, start)
			return token, nil
		}

		lastKind, lastErr = kind, err
		// Full-attempt retries exist for transport failures. A rejected
		// secret or an exhausted captcha budget is a final answer.
		if kind == domain.LoginFailureCredentials || kind == domain.LoginFailureCaptcha {
			break
		}
	}

	s.finishFailure(ctx, cred, lastKind, attempts, start, lastErr)
	return nil, &domain.LoginError{
		Site: cred.Site, Account: cred.Account,
		Kind: lastKind, Attempts: attempts, Cause: lastErr,
	}
}

// attemptOnce runs one filled form through the bounded captcha loop.
func (s *Service) attemptOnce(ctx context.Context, session LoginSession, cred *domain.Credential) (*domain.Token, domain.LoginFailureKind, error) {
	if err := session.FillCredentials(ctx, cred.Account, cred.Secret); err != nil {
		return nil, classifyKind(err), err
	}

	var previousHash [sha256.Size]byte
	maxTries := s.cfg.maxCaptchaRetries()

	for try := 0; try < maxTries; try++ {
		image, err := s.captchaForTry(ctx, session, try, previousHash)
		if err != nil {
			return nil, classifyKind(err), err
		}
		previousHash = sha256.Sum256(image)

		answer := s.solver.Solve(ctx, image)
		if answer == "" {
			// Unrecognizable image burns one captcha try.
			continue
		}

		outcome, err := session.Submit(ctx, answer)
		if err != nil {
			return nil, classifyKind(err), err
		}
		if outcome.CaptchaRejected {
			continue
		}
		if outcome.CredentialsRejected {
			return nil, domain.LoginFailureCredentials,
				fmt.Errorf("portal rejected credentials: %s", outcome.Message)
		}
		if outcome.Token == nil {
			return nil, domain.LoginFailureUnknown,
				fmt.Errorf("login succeeded but no token observed: %s", outcome.Message)
		}
		return s.completeToken(outcome.Token, cred), "", nil
	}

	return nil, domain.LoginFailureCaptcha,
		fmt.Errorf("%w after %d tries", domain.ErrCaptchaRecognitionFailed, maxTries)
}

// captchaForTry returns a fresh captcha image. Retries refresh the captcha
// and verify the image actually changed before it is solved again, so a
// wrong answer is never resubmitted against the same image.
func (s *Service) captchaForTry(ctx context.Context, session LoginSession, try int, previousHash [sha256.Size]byte) ([]byte, error) {
	if try == 0 {
		return session.CaptchaImage(ctx)
	}

	if err := session.RefreshCaptcha(ctx); err != nil {
		return nil, err
	}

	var image []byte
	var err error
	for probe := 0; probe < captchaRefreshProbes; probe++ {
		image, err = session.CaptchaImage(ctx)
		if err != nil {
			return nil, err
		}
		if sha256.Sum256(image) != previousHash {
			return image, nil
		}
		if err := s.sleep(ctx, captchaRefreshProbeDelay); err != nil {
			return nil, err
		}
	}

	s.logger.Warn("captcha image did not change after refresh, solving anyway")
	return image, nil
}

func (s *Service) completeToken(token *domain.Token, cred *domain.Credential) *domain.Token {
	now := s.now().UTC()
	token.Site = cred.Site
	token.Account = cred.Account
	if token.IssuedAt.IsZero() {
		token.IssuedAt = now
	}
	if token.ExpiresAt.IsZero() {
		token.ExpiresAt = now.Add(s.cfg.tokenTTL())
	}
	return token
}

func (s *Service) finishSuccess(ctx context.Context, cred *domain.Credential, token *domain.Token, attempts int, start time.Time) {
	now := s.now()
	if err := s.cache.Put(ctx, token); err != nil {
		s.logger.Error("failed to cache token", zap.Error(err))
	}
	if err := s.credentials.RecordSuccess(ctx, cred.ID, now.UTC()); err != nil {
		s.logger.Error("failed to record credential success", zap.Error(err))
	}

	preview := domain.PreviewToken(token.Token)
	s.appendAttempt(ctx, &domain.LoginAttempt{
		ID:           uuid.NewString(),
		Site:         cred.Site,
		Account:      cred.Account,
		Outcome:      domain.OutcomeSuccess,
		DurationMs:   now.Sub(start).Milliseconds(),
		AttemptCount: attempts,
		TokenPreview: &preview,
		CreatedAt:    now.UTC(),
	})
	if s.metrics != nil {
		s.metrics.IncLogin(cred.Site, "success")
		s.metrics.ObserveLoginDuration(cred.Site, now.Sub(start))
	}
}

func (s *Service) finishFailure(ctx context.Context, cred *domain.Credential, kind domain.LoginFailureKind, attempts int, start time.Time, cause error) {
	now := s.now()
	if err := s.credentials.RecordFailure(ctx, cred.ID); err != nil {
		s.logger.Error("failed to record credential failure", zap.Error(err))
	}

	var errText *string
	if cause != nil {
		value := cause.Error()
		errText = &value
	}
	s.appendAttempt(ctx, &domain.LoginAttempt{
		ID:           uuid.NewString(),
		Site:         cred.Site,
		Account:      cred.Account,
		Outcome:      outcomeForKind(kind),
		DurationMs:   now.Sub(start).Milliseconds(),
		AttemptCount: attempts,
		Error:        errText,
		CreatedAt:    now.UTC(),
	})
	if s.metrics != nil {
		s.metrics.IncLogin(cred.Site, string(kind))
	}
}

func (s *Service) appendAttempt(ctx context.Context, attempt *domain.LoginAttempt) {
	if err := s.attempts.Create(ctx, attempt); err != nil {
		s.logger.Error("failed to append login attempt audit row",
			zap.String("site", attempt.Site),
			zap.String("account", attempt.Account),
			zap.Error(err),
		)
	}
}

// AttemptHistory returns recent audit rows for an account.
func (s *Service) AttemptHistory(ctx context.Context, site, account string) ([]domain.LoginAttempt, error) {
	return s.attempts.ListByAccount(ctx, site, account, attemptHistoryFetchLimit)
}

func classifyKind(err error) domain.LoginFailureKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.LoginFailureTimeout
	}
	return domain.LoginFailureUnknown
}

func outcomeForKind(kind domain.LoginFailureKind) domain.AttemptOutcome {
	switch kind {
	case domain.LoginFailureCaptcha:
		return domain.OutcomeCaptchaFailed
	case domain.LoginFailureCredentials:
		return domain.OutcomeCredentialsRejected
	case domain.LoginFailureTimeout:
		return domain.OutcomeTimeout
	default:
		return domain.OutcomeError
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
