package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/digest/internal/apperror"
	"github.com/sakif/digest/internal/auth"
	"github.com/sakif/digest/internal/mail"
	"github.com/sakif/digest/internal/model"
)

// fakeStore is an in-memory repository.Store. Setting one of the *Err
// fields makes the matching method fail.
type fakeStore struct {
	mu sync.Mutex

	emails   map[string]*model.EmailAccount // by id
	oauth    map[string]*model.OAuthAccount // by id
	records  map[string]*model.VerificationRecord
	nextID   int
	creates  int
	oauthNew int

	getByEmailErr    error
	createAccountErr error
	createRecordErr  error
	getRecordErr     error
	markVerifiedErr  error
	deleteAccountErr error
	deleteRecordErr  error
	oauthErr         error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		emails:  map[string]*model.EmailAccount{},
		oauth:   map[string]*model.OAuthAccount{},
		records: map[string]*model.VerificationRecord{},
	}
}

func (f *fakeStore) id() string {
	f.nextID++
	return fmt.Sprintf("acc%04d", f.nextID)
}

func (f *fakeStore) CreateEmailAccount(_ context.Context, a *model.EmailAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createAccountErr != nil {
		return f.createAccountErr
	}
	for _, existing := range f.emails {
		if existing.Email == a.Email {
			return apperror.Conflict("an account with this email already exists")
		}
	}
	a.ID = f.id()
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	stored := *a
	f.emails[a.ID] = &stored
	f.creates++
	return nil
}

func (f *fakeStore) GetEmailAccountByID(_ context.Context, id string) (*model.EmailAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.emails[id]
	if !ok {
		return nil, apperror.NotFound("account not found")
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) GetEmailAccountByEmail(_ context.Context, email string) (*model.EmailAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getByEmailErr != nil {
		return nil, f.getByEmailErr
	}
	for _, a := range f.emails {
		if a.Email == email {
			copied := *a
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("account not found")
}

func (f *fakeStore) MarkEmailAccountVerified(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markVerifiedErr != nil {
		return f.markVerifiedErr
	}
	a, ok := f.emails[id]
	if !ok {
		return apperror.NotFound("account not found")
	}
	a.Verified = true
	return nil
}

func (f *fakeStore) DeleteEmailAccount(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteAccountErr != nil {
		return f.deleteAccountErr
	}
	delete(f.emails, id)
	return nil
}

func (f *fakeStore) GetOrCreateOAuthAccount(_ context.Context, a *model.OAuthAccount) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.oauthErr != nil {
		return false, f.oauthErr
	}
	for _, existing := range f.oauth {
		if existing.ProviderSubjectID == a.ProviderSubjectID {
			*a = *existing
			return false, nil
		}
	}
	a.ID = f.id()
	a.CreatedAt = time.Now()
	stored := *a
	f.oauth[a.ID] = &stored
	f.oauthNew++
	return true, nil
}

func (f *fakeStore) GetOAuthAccountByID(_ context.Context, id string) (*model.OAuthAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.oauth[id]
	if !ok {
		return nil, apperror.NotFound("account not found")
	}
	copied := *a
	return &copied, nil
}

func (f *fakeStore) CreateVerification(_ context.Context, r *model.VerificationRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createRecordErr != nil {
		return f.createRecordErr
	}
	if _, ok := f.records[r.AccountID]; ok {
		return apperror.Conflict("a verification is already pending for this account")
	}
	stored := *r
	f.records[r.AccountID] = &stored
	return nil
}

func (f *fakeStore) GetVerificationByAccountID(_ context.Context, accountID string) (*model.VerificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getRecordErr != nil {
		return nil, f.getRecordErr
	}
	r, ok := f.records[accountID]
	if !ok {
		return nil, apperror.NotFound("verification record not found")
	}
	copied := *r
	return &copied, nil
}

func (f *fakeStore) DeleteVerification(_ context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteRecordErr != nil {
		return f.deleteRecordErr
	}
	delete(f.records, accountID)
	return nil
}

func (f *fakeStore) ListExpiredVerifications(_ context.Context, cutoff time.Time, limit int) ([]model.VerificationRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.VerificationRecord
	for _, r := range f.records {
		if r.ExpiresAt.Before(cutoff) {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) Close() error               { return nil }

func (f *fakeStore) account(t *testing.T, email string) *model.EmailAccount {
	t.Helper()
	a, err := f.GetEmailAccountByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("account %q: %v", email, err)
	}
	return a
}

// fakeSender records every verification it is asked to send.
type fakeSender struct {
	mu   sync.Mutex
	sent []mail.Verification
	err  error
}

func (s *fakeSender) SendVerification(_ context.Context, msg mail.Verification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return s.err
}

// lastToken returns the plaintext token from the most recent link.
func (s *fakeSender) lastToken(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no verification email was sent")
	}
	link := s.sent[len(s.sent)-1].Link
	token, err := url.PathUnescape(link[strings.LastIndex(link, "/")+1:])
	if err != nil {
		t.Fatalf("unescaping token: %v", err)
	}
	return token
}

// fakeClock is a settable time source.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type testEnv struct {
	store  *fakeStore
	sender *fakeSender
	clock  *fakeClock
	ledger *VerificationLedger
	svc    *AuthService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newFakeStore()
	sender := &fakeSender{}
	clock := &fakeClock{t: time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)}
	passwords := auth.NewPasswordService(bcrypt.MinCost)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledger := NewVerificationLedger(store, store, passwords, sender, LedgerConfig{BaseURL: "http://localhost:8080/"}, logger)
	ledger.now = clock.Now

	return &testEnv{
		store:  store,
		sender: sender,
		clock:  clock,
		ledger: ledger,
		svc:    NewAuthService(store, store, ledger, passwords, logger),
	}
}

func (e *testEnv) signup(t *testing.T, name, email, password string) *Result {
	t.Helper()
	res, err := e.svc.Signup(context.Background(), SignupInput{FullName: name, Email: email, Password: password})
	if err != nil {
		t.Fatalf("Signup(%q) error = %v", email, err)
	}
	return res
}
