package account

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/splax/flock/internal/domain"
	"github.com/splax/flock/internal/repository"
	"github.com/splax/flock/internal/token"
	"github.com/splax/flock/pkg/config"
	"github.com/splax/flock/pkg/crypto"
)

type stubAccountRepository struct {
	mu       sync.Mutex
	accounts map[string]*domain.Account
}

func newStubAccountRepository() *stubAccountRepository {
	return &stubAccountRepository{accounts: make(map[string]*domain.Account)}
}

func (r *stubAccountRepository) CreateAccount(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Username == account.Username || existing.Email == account.Email {
			return repository.ErrDuplicate
		}
	}
	clone := *account
	r.accounts[account.Username] = &clone
	return nil
}

func (r *stubAccountRepository) GetAccountByUsername(_ context.Context, username string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[username]
	if !ok {
		return nil, repository.ErrNotFound
	}
	clone := *account
	return &clone, nil
}

func (r *stubAccountRepository) GetAccountByEmail(_ context.Context, email string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, account := range r.accounts {
		if account.Email == email {
			clone := *account
			return &clone, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *stubAccountRepository) SearchAccounts(_ context.Context, term string, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []string
	for _, account := range r.accounts {
		if strings.Contains(strings.ToLower(account.Username), strings.ToLower(term)) || account.Email == term {
			matches = append(matches, account.Username)
		}
	}
	sort.Strings(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (r *stubAccountRepository) UpdatePassword(_ context.Context, username string, passwordHash []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[username]
	if !ok {
		return repository.ErrNotFound
	}
	account.PasswordHash = passwordHash
	account.Verified = true
	account.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *stubAccountRepository) MarkVerified(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[username]
	if !ok {
		return repository.ErrNotFound
	}
	account.Verified = true
	account.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *stubAccountRepository) DeleteAccount(_ context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.accounts[username]; !ok {
		return repository.ErrNotFound
	}
	delete(r.accounts, username)
	return nil
}

type stubFollowRepository struct {
	mu    sync.Mutex
	edges map[[2]string]struct{}
}

func newStubFollowRepository() *stubFollowRepository {
	return &stubFollowRepository{edges: make(map[[2]string]struct{})}
}

func (r *stubFollowRepository) CreateFollow(_ context.Context, follower, followed string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]string{follower, followed}
	if _, ok := r.edges[key]; ok {
		return repository.ErrDuplicate
	}
	r.edges[key] = struct{}{}
	return nil
}

func (r *stubFollowRepository) ListFollowing(_ context.Context, username string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for edge := range r.edges {
		if edge[0] == username {
			out = append(out, edge[1])
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *stubFollowRepository) ListFollowers(_ context.Context, username string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for edge := range r.edges {
		if edge[1] == username {
			out = append(out, edge[0])
		}
	}
	sort.Strings(out)
	return out, nil
}

type notifierCall struct {
	kind     string
	username string
	email    string
	token    string
}

type stubNotifier struct {
	calls chan notifierCall
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{calls: make(chan notifierCall, 16)}
}

func (n *stubNotifier) Verify(_ context.Context, username, email, verifyToken string) error {
	n.calls <- notifierCall{kind: "verify", username: username, email: email, token: verifyToken}
	return nil
}

func (n *stubNotifier) Welcome(_ context.Context, username, email string) error {
	n.calls <- notifierCall{kind: "welcome", username: username, email: email}
	return nil
}

func (n *stubNotifier) ForgotPassword(_ context.Context, username, email, resetToken string) error {
	n.calls <- notifierCall{kind: "forgot", username: username, email: email, token: resetToken}
	return nil
}

func (n *stubNotifier) wait(t *testing.T, kind string) notifierCall {
	t.Helper()
	for {
		select {
		case call := <-n.calls:
			if call.kind == kind {
				return call
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s notification", kind)
		}
	}
}

type fixture struct {
	svc      Service
	accounts *stubAccountRepository
	follows  *stubFollowRepository
	notifier *stubNotifier
	tokens   token.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	accounts := newStubAccountRepository()
	follows := newStubFollowRepository()
	notifier := newStubNotifier()
	tokens := token.NewService("test-secret")
	cfg := config.Config{
		AccessTokenTTL: time.Hour,
		VerifyTokenTTL: time.Hour,
		ResetTokenTTL:  time.Hour,
		SearchLimit:    10,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(accounts, follows, tokens, token.NewMemoryConsumedStore(), notifier, logger, cfg)
	return &fixture{svc: svc, accounts: accounts, follows: follows, notifier: notifier, tokens: tokens}
}

func TestSignupCreatesUnverifiedAccount(t *testing.T) {
	f := newFixture(t)

	account, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if account.Verified {
		t.Fatalf("expected new account to be unverified")
	}
	if account.ID == "" {
		t.Fatalf("expected generated account id")
	}
	if got := account.CreatedAt.Sub(account.UpdatedAt); got != staleUpdatedAtOffset {
		t.Fatalf("expected updated_at backdated by %v, got %v", staleUpdatedAtOffset, got)
	}
	if err := crypto.ComparePassword(account.PasswordHash, "hunter22"); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}

	call := f.notifier.wait(t, "verify")
	if call.username != "alice" || call.email != "alice@example.com" {
		t.Fatalf("verification sent to wrong recipient: %+v", call)
	}
	if subject, _, err := f.tokens.Verify(call.token, token.PurposeVerify); err != nil || subject != "alice" {
		t.Fatalf("verification token invalid: subject=%q err=%v", subject, err)
	}
}

func TestSignupRejectsInvalidUsername(t *testing.T) {
	f := newFixture(t)
	for _, username := range []string{"", "ab", "has space", "way@bad", strings.Repeat("a", 31)} {
		if _, err := f.svc.Signup(context.Background(), username, "x@example.com", "pw"); !errors.Is(err, ErrInvalidUsername) {
			t.Fatalf("Signup(%q): expected ErrInvalidUsername, got %v", username, err)
		}
	}
}

func TestSignupRejectsDuplicateUsername(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if _, err := f.svc.Signup(context.Background(), "alice", "other@example.com", "pw"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
}

func TestConcurrentSignupSingleWinner(t *testing.T) {
	f := newFixture(t)

	const attempts = 8
	results := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "pw")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, taken int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrUsernameTaken):
			taken++
		default:
			t.Fatalf("unexpected signup error: %v", err)
		}
	}
	if wins != 1 || taken != attempts-1 {
		t.Fatalf("expected exactly one winner, got %d wins and %d rejections", wins, taken)
	}
}

func TestVerifyMarksAccountVerified(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	call := f.notifier.wait(t, "verify")

	username, err := f.svc.Verify(context.Background(), call.token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if username != "alice" {
		t.Fatalf("expected username alice, got %q", username)
	}
	account, err := f.accounts.GetAccountByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAccountByUsername: %v", err)
	}
	if !account.Verified {
		t.Fatalf("expected account to be verified")
	}
	welcome := f.notifier.wait(t, "welcome")
	if welcome.username != "alice" {
		t.Fatalf("welcome sent to wrong account: %+v", welcome)
	}

	// Verification tokens are stateless, replay is a harmless no-op.
	if _, err := f.svc.Verify(context.Background(), call.token); err != nil {
		t.Fatalf("repeat Verify: %v", err)
	}
}

func TestVerifyRejectsBadToken(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Verify(context.Background(), "garbage"); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("expected ErrVerificationInvalid, got %v", err)
	}
	access, err := f.tokens.Issue(token.PurposeAccess, "alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := f.svc.Verify(context.Background(), access); !errors.Is(err, ErrVerificationInvalid) {
		t.Fatalf("expected ErrVerificationInvalid for wrong purpose, got %v", err)
	}
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "hunter22"); err != nil {
		t.Fatalf("Signup: %v", err)
	}

	access, err := f.svc.Login(context.Background(), "alice", "hunter22")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if subject, _, err := f.tokens.Verify(access, token.PurposeAccess); err != nil || subject != "alice" {
		t.Fatalf("access token invalid: subject=%q err=%v", subject, err)
	}

	if _, err := f.svc.Login(context.Background(), "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "nobody", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t)
	if err := f.svc.ForgotPassword(context.Background(), "nobody@example.com"); !errors.Is(err, ErrNoSuchAccount) {
		t.Fatalf("expected ErrNoSuchAccount, got %v", err)
	}
}

func TestResetPasswordFlow(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "oldpass"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	f.notifier.wait(t, "verify")

	if err := f.svc.ForgotPassword(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	call := f.notifier.wait(t, "forgot")

	if err := f.svc.ResetPassword(context.Background(), "alice", call.token, "newpass"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, err := f.svc.Login(context.Background(), "alice", "oldpass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := f.svc.Login(context.Background(), "alice", "newpass"); err != nil {
		t.Fatalf("Login with new password: %v", err)
	}

	// A successful reset proves mailbox ownership, so it also verifies.
	account, err := f.accounts.GetAccountByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetAccountByUsername: %v", err)
	}
	if !account.Verified {
		t.Fatalf("expected account verified after reset")
	}

	// Reset tokens are single use.
	if err := f.svc.ResetPassword(context.Background(), "alice", call.token, "again"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid on replay, got %v", err)
	}
}

func TestResetPasswordRejectsMismatchedUsername(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	resetToken, err := f.tokens.Issue(token.PurposeReset, "alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := f.svc.ResetPassword(context.Background(), "mallory", resetToken, "pw2"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid, got %v", err)
	}
}

func TestResetPasswordRejectsWrongPurpose(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	verifyToken, err := f.tokens.Issue(token.PurposeVerify, "alice", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if err := f.svc.ResetPassword(context.Background(), "alice", verifyToken, "pw2"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expected ErrResetTokenInvalid, got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Signup(context.Background(), "alice", "alice@example.com", "pw"); err != nil {
		t.Fatalf("Signup: %v", err)
	}
	if err := f.svc.Delete(context.Background(), "alice"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.svc.Delete(context.Background(), "alice"); !errors.Is(err, ErrNoSuchAccount) {
		t.Fatalf("expected ErrNoSuchAccount on repeat delete, got %v", err)
	}
	if _, err := f.svc.Get(context.Background(), "alice"); !errors.Is(err, ErrNoSuchAccount) {
		t.Fatalf("expected ErrNoSuchAccount for deleted profile, got %v", err)
	}
}

func TestGetProfileIncludesFollowLists(t *testing.T) {
	f := newFixture(t)
	for _, username := range []string{"alice", "bob", "carol"} {
		if _, err := f.svc.Signup(context.Background(), username, username+"@example.com", "pw"); err != nil {
			t.Fatalf("Signup(%s): %v", username, err)
		}
	}
	if err := f.follows.CreateFollow(context.Background(), "alice", "bob"); err != nil {
		t.Fatalf("CreateFollow: %v", err)
	}
	if err := f.follows.CreateFollow(context.Background(), "carol", "alice"); err != nil {
		t.Fatalf("CreateFollow: %v", err)
	}

	profile, err := f.svc.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(profile.Following) != 1 || profile.Following[0] != "bob" {
		t.Fatalf("unexpected following list: %v", profile.Following)
	}
	if len(profile.Followers) != 1 || profile.Followers[0] != "carol" {
		t.Fatalf("unexpected followers list: %v", profile.Followers)
	}
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	for _, username := range []string{"alicia", "alice", "bob"} {
		if _, err := f.svc.Signup(context.Background(), username, username+"@example.com", "pw"); err != nil {
			t.Fatalf("Signup(%s): %v", username, err)
		}
	}

	results, err := f.svc.Search(context.Background(), "ali")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	want := []string{"alice", "alicia"}
	if len(results) != len(want) {
		t.Fatalf("expected %v, got %v", want, results)
	}
	for i := range want {
		if results[i] != want[i] {
			t.Fatalf("expected %v in ascending order, got %v", want, results)
		}
	}

	if _, err := f.svc.Search(context.Background(), "   "); !errors.Is(err, ErrMissingSearchTerm) {
		t.Fatalf("expected ErrMissingSearchTerm, got %v", err)
	}
}
