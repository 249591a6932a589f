package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Lawyer-ray/FachuanHybridSystem-sub003/internal/domain"
	"go.uber.org/zap"
)

type fakeCache struct {
	mu     sync.Mutex
	tokens map[string]*domain.Token
	now    func() time.Time
}

func newFakeCache(now func() time.Time) *fakeCache {
	return &fakeCache{tokens: make(map[string]*domain.Token), now: now}
}

func (c *fakeCache) Get(ctx context.Context, site, account string) (*domain.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, ok := c.tokens[site+":"+account]
	if !ok || token.Expired(c.now()) {
		return nil, nil
	}
	return token, nil
}

func (c *fakeCache) Put(ctx context.Context, token *domain.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[token.Site+":"+token.Account] = token
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, site, account string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, site+":"+account)
	return nil
}

type fakeSession struct {
	mu            sync.Mutex
	image         []byte
	resetFn       func(ctx context.Context) error
	submitFn      func(answer string, submitCount int) (*LoginOutcome, error)
	refreshes     int
	submits       int
	imagesServed  [][]byte
	refreshSwaps  [][]byte // image to serve after the nth refresh
	closed        bool
}

func (s *fakeSession) Reset(ctx context.Context) error {
	if s.resetFn != nil {
		return s.resetFn(ctx)
	}
	return nil
}

func (s *fakeSession) FillCredentials(ctx context.Context, account, secret string) error {
	return nil
}

func (s *fakeSession) CaptchaImage(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	img := s.image
	s.imagesServed = append(s.imagesServed, img)
	return img, nil
}

func (s *fakeSession) RefreshCaptcha(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if len(s.refreshSwaps) > 0 {
		s.image = s.refreshSwaps[0]
		s.refreshSwaps = s.refreshSwaps[1:]
	}
	return nil
}

func (s *fakeSession) Submit(ctx context.Context, answer string) (*LoginOutcome, error) {
	s.mu.Lock()
	s.submits++
	count := s.submits
	s.mu.Unlock()
	return s.submitFn(answer, count)
}

func (s *fakeSession) Close() { s.closed = true }

type fakeDriver struct {
	mu      sync.Mutex
	opens   int
	session *fakeSession
	delay   time.Duration
}

func (d *fakeDriver) Open(ctx context.Context, site string) (LoginSession, error) {
	d.mu.Lock()
	d.opens++
	d.mu.Unlock()
	if d.delay > 0 {
		time.Sleep(d.delay)
	}
	return d.session, nil
}

func (d *fakeDriver) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

type fakeSolver struct {
	mu     sync.Mutex
	solved [][]byte
	answer string
}

func (s *fakeSolver) Solve(ctx context.Context, image []byte) string {
	s.mu.Lock()
	s.solved = append(s.solved, image)
	s.mu.Unlock()
	return s.answer
}

type fakeCredentialRepo struct {
	cred      *domain.Credential
	successes int
	failures  int
}

func (r *fakeCredentialRepo) GetByID(ctx context.Context, id string) (*domain.Credential, error) {
	return r.cred, nil
}

func (r *fakeCredentialRepo) GetByAccount(ctx context.Context, site, account string) (*domain.Credential, error) {
	if r.cred == nil {
		return nil, domain.ErrNotFound
	}
	return r.cred, nil
}

func (r *fakeCredentialRepo) BestForSite(ctx context.Context, site string) (*domain.Credential, error) {
	if r.cred == nil {
		return nil, domain.ErrNoAvailableAccount
	}
	return r.cred, nil
}

func (r *fakeCredentialRepo) RecordSuccess(ctx context.Context, id string, at time.Time) error {
	r.successes++
	return nil
}

func (r *fakeCredentialRepo) RecordFailure(ctx context.Context, id string) error {
	r.failures++
	return nil
}

type fakeAttemptRepo struct {
	mu       sync.Mutex
	attempts []domain.LoginAttempt
}

func (r *fakeAttemptRepo) Create(ctx context.Context, a *domain.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *a)
	return nil
}

func (r *fakeAttemptRepo) ListByAccount(ctx context.Context, site, account string, limit int) ([]domain.LoginAttempt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts, nil
}

func testCredential() *domain.Credential {
	return &domain.Credential{
		ID:      "cred-1",
		Site:    "court-portal",
		Account: "lawyer01",
		Secret:  "secret",
		Active:  true,
	}
}

func successOutcome() *LoginOutcome {
	return &LoginOutcome{Token: &domain.Token{Token: "tok-abc", TokenType: "Bearer"}}
}

func newTestService(t *testing.T, driver *fakeDriver, solver *fakeSolver, cfg Config) (*Service, *fakeCache, *fakeCredentialRepo, *fakeAttemptRepo) {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	cache := newFakeCache(now)
	creds := &fakeCredentialRepo{cred: testCredential()}
	attempts := &fakeAttemptRepo{}

	svc, err := NewService(cache, driver, solver, creds, attempts, cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	svc.now = now
	svc.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return svc, cache, creds, attempts
}

func TestAcquireCacheHitPerformsNoLogin(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		image: []byte("captcha-1"),
		submitFn: func(answer string, submitCount int) (*LoginOutcome, error) {
			return successOutcome(), nil
		},
	}
	driver := &fakeDriver{session: session}
	svc, _, _, _ := newTestService(t, driver, &fakeSolver{answer: "AB12"}, Config{})

	first, err := svc.Acquire(context.Background(), "court-portal", "")
	if err != nil {
		t.Fatalf("Acquire() #1 error = %v", err)
	}
	second, err := svc.Acquire(context.Background(), "court-portal", "")
	if err != nil {
		t.Fatalf("Acquire() #2 error = %v", err)
	}

	if driver.openCount() != 1 {
		t.Fatalf("login driver opened %d times, want 1", driver.openCount())
	}
	if first.Token != second.Token {
		t.Fatalf("second Acquire() returned a different token")
	}
}

func TestAcquireExpiredTokenTriggersFreshLogin(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		image: []byte("captcha-1"),
		submitFn: func(answer string, submitCount int) (*LoginOutcome, error) {
			return successOutcome(), nil
		},
	}
	driver := &fakeDriver{session: session}
	svc, cache, _, _ := newTestService(t, driver, &fakeSolver{answer: "AB12"}, Config{})

	// Seed a token that expired a minute before the service clock.
	stale := &domain.Token{
		Site: "court-portal", Account: "lawyer01", Token: "stale-token",
		ExpiresAt: time.Date(2025, 3, 10, 11, 59, 0, 0, time.UTC),
	}
	_ = cache.Put(context.Background(), stale)

	token, err := svc.Acquire(context.Background(), "court-portal", "lawyer01")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if token.Token == "stale-token" {
		t.Fatal("Acquire() returned the expired token")
	}
	if driver.openCount() != 1 {
		t.Fatalf("login driver opened %d times, want 1", driver.openCount())
	}
}

func TestAcquireCaptchaRetryBoundaryIsExclusive(t *testing.T) {
	t.Parallel()

	// Portal rejects the first three captcha answers; a fourth submit would
	// succeed, but with max_captcha_retries=3 it must never be reached.
	session := &fakeSession{
		image: []byte("captcha-img-0"),
		submitFn: func(answer string, submitCount int) (*LoginOutcome, error) {
			if submitCount <= 3 {
				return &LoginOutcome{CaptchaRejected: true, Message: "验证码错误"}, nil
			}
			return successOutcome(), nil
		},
		refreshSwaps: [][]byte{
			[]byte("captcha-img-1"),
			[]byte("captcha-img-2"),
			[]byte("captcha-img-3"),
		},
	}
	driver := &fakeDriver{session: session}
	svc, _, creds, attempts := newTestService(t, driver, &fakeSolver{answer: "WRNG"}, Config{MaxCaptchaRetries: 3})

	_, err := svc.Acquire(context.Background(), "court-portal", "lawyer01")

	var loginErr *domain.LoginError
	if !errors.As(err, &loginErr) {
		t.Fatalf("Acquire() error = %v, want LoginError", err)
	}
	if loginErr.Kind != domain.LoginFailureCaptcha {
		t.Fatalf("LoginError.Kind = %s, want captcha", loginErr.Kind)
	}
	if session.submits != 3 {
		t.Fatalf("submit count = %d, want exactly 3", session.submits)
	}
	if creds.failures != 1 {
		t.Fatalf("credential failure count = %d, want 1", creds.failures)
	}
	if len(attempts.attempts) != 1 || attempts.attempts[0].Outcome != domain.OutcomeCaptchaFailed {
		t.Fatalf("audit rows = %+v, want one CAPTCHA_FAILED row", attempts.attempts)
	}
}

func TestCaptchaRetryObservesChangedImage(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		image: []byte("captcha-same"),
		submitFn: func(answer string, submitCount int) (*LoginOutcome, error) {
			if submitCount == 1 {
				return &LoginOutcome{CaptchaRejected: true}, nil
			}
			return successOutcome(), nil
		},
		refreshSwaps: [][]byte{[]byte("captcha-changed")},
	}
	driver := &fakeDriver{session: session}
	solver := &fakeSolver{answer: "AB12"}
	svc, _, _, _ := newTestService(t, driver, solver, Config{})

	if _, err := svc.Acquire(context.Background(), "court-portal", "lawyer01"); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	if len(solver.solved) != 2 {
		t.Fatalf("solver invoked %d times, want 2", len(solver.solved))
	}
	if string(solver.solved[0]) == string(solver.solved[1]) {
		t.Fatal("retry solved the same captcha image as the rejected attempt")
	}
	if session.refreshes != 1 {
		t.Fatalf("refresh count = %d, want 1", session.refreshes)
	}
}

func TestAcquireConcurrentMissesShareOneLogin(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		image: []byte("captcha-1"),
		submitFn: func(answer string, submitCount int) (*LoginOutcome, error) {
			return successOutcome(), nil
		},
	}
	driver := &fakeDriver{session: session, delay: 50 * time.Millisecond}
	svc, _, _, _ := newTestService(t, driver, &fakeSolver{answer: "AB12"}, Config{})

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Acquire(context.Background(), "court-portal", "lawyer01")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Acquire() goroutine %d error = %v", i, err)
		}
	}
	if driver.openCount() != 1 {
		t.Fatalf("login driver opened %d times, want 1 shared login", driver.openCount())
	}
}

func TestAcquireCredentialsRejectionDoesNotRetry(t *testing.T) {
	t.Parallel()

	session := &fakeSession{
		image: []byte("captcha-1"),
		submitFn: func(answer string, submitCount int) (*LoginOutcome, error) {
			return &LoginOutcome{CredentialsRejected: true, Message: "账号或密码错误"}, nil
		},
	}
	driver := &fakeDriver{session: session}
	svc, _, _, _ := newTestService(t, driver, &fakeSolver{answer: "AB12"}, Config{MaxLoginRetries: 3})

	_, err := svc.Acquire(context.Background(), "court-portal", "lawyer01")

	var loginErr *domain.LoginError
	if !errors.As(err, &loginErr) {
		t.Fatalf("Acquire() error = %v, want LoginError", err)
	}
	if loginErr.Kind != domain.LoginFailureCredentials {
		t.Fatalf("LoginError.Kind = %s, want credentials", loginErr.Kind)
	}
	if session.submits != 1 {
		t.Fatalf("submit count = %d, want 1 (no retry on rejected secret)", session.submits)
	}
	if !session.closed {
		t.Fatal("session was not torn down")
	}
}

func TestAcquireNoAvailableAccount(t *testing.T) {
	t.Parallel()

	driver := &fakeDriver{session: &fakeSession{}}
	svc, _, creds, _ := newTestService(t, driver, &fakeSolver{}, Config{})
	creds.cred = nil

	_, err := svc.Acquire(context.Background(), "court-portal", "")
	if !errors.Is(err, domain.ErrNoAvailableAccount) {
		t.Fatalf("Acquire() error = %v, want ErrNoAvailableAccount", err)
	}
	if driver.openCount() != 0 {
		t.Fatalf("login driver opened %d times, want 0", driver.openCount())
	}
}
