package accounts

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/quotarelay/quotarelay/internal/credstore"
	"github.com/quotarelay/quotarelay/internal/ratelimit"
	"github.com/quotarelay/quotarelay/internal/upstream"
)

// GroupClaude and GroupGemini are the two model families, each with an
// independent rotation cursor.
const (
	GroupClaude = "claude"
	GroupGemini = "gemini"
)

// GroupForModel decides routing by substring in the model name.
func GroupForModel(model string) string {
	if strings.Contains(strings.ToLower(model), GroupClaude) {
		return GroupClaude
	}
	return GroupGemini
}

// Error is a typed domain error carrying the HTTP status that should be
// surfaced to the caller.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string { return e.Message }

// ErrEmptyPool is returned by GetCredentials when the account pool is empty.
var ErrEmptyPool = &Error{StatusCode: 503, Message: "no accounts configured"}

// Credentials is the resolved bundle a caller needs to issue an upstream call.
type Credentials struct {
	AccessToken string
	ProjectID   string
	Account     *Account
}

// Manager composes the credential store, upstream OAuth client, per-group
// rotation cursors, and single-flight refresh/project-id resolution.
type Manager struct {
	store    *credstore.Store
	upstream *upstream.Client
	gate     *ratelimit.Gate
	log      *logrus.Logger

	mu       sync.RWMutex
	accounts []*Account
	cursors  map[string]int

	sfRefresh singleflight.Group
	sfProject singleflight.Group
}

// New builds a Manager. gate is the shared rate gate applied to OAuth and
// project-discovery calls; it may be nil.
func New(store *credstore.Store, client *upstream.Client, gate *ratelimit.Gate, log *logrus.Logger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		store:    store,
		upstream: client,
		gate:     gate,
		log:      log,
		cursors:  map[string]int{GroupClaude: 0, GroupGemini: 0},
	}
}

// Load reads the credential directory and rebuilds the pool, arming
// refresh timers for every loaded account and resetting both rotation
// cursors to 0.
func (m *Manager) Load() error {
	entries, err := m.store.Load()
	if err != nil {
		return err
	}
	return m.applyEntries(entries)
}

func (m *Manager) applyEntries(entries []credstore.Entry) error {
	accs := make([]*Account, 0, len(entries))
	for _, e := range entries {
		accs = append(accs, newAccount(e.FileName, e.Record))
	}

	m.mu.Lock()
	m.accounts = accs
	m.cursors[GroupClaude] = 0
	m.cursors[GroupGemini] = 0
	m.mu.Unlock()

	for _, a := range accs {
		m.armTimer(a)
	}
	return nil
}

// ReloadFromWatch is used as the credstore.Watch callback: it rebuilds the
// pool from freshly loaded entries without resetting cursors that still
// point at surviving accounts, following the same clamp rule as Delete.
func (m *Manager) ReloadFromWatch(entries []credstore.Entry) {
	if err := m.applyEntries(entries); err != nil {
		m.log.WithError(err).Warn("accounts: reload from watch failed")
	}
}

// Snapshot returns the current pool, in stable order.
func (m *Manager) Snapshot() []*Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Account(nil), m.accounts...)
}

// Rotate advances the group cursor modulo pool size; a no-op for pools of
// size <= 1.
func (m *Manager) Rotate(group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.accounts)
	if n <= 1 {
		return
	}
	m.cursors[group] = (m.cursors[group] + 1) % n
}

// CursorFor returns the group's current rotation cursor, clamped to the
// pool size.
func (m *Manager) CursorFor(group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clampCursor(group)
	return m.cursors[group]
}

func (m *Manager) clampCursor(group string) {
	n := len(m.accounts)
	if n == 0 {
		m.cursors[group] = 0
		return
	}
	c := m.cursors[group]
	if c < 0 || c >= n {
		m.cursors[group] = ((c % n) + n) % n
	}
}

// GetCredentials picks the current account for group, ensures its token is
// fresh and its projectId is set, then returns usable credentials.
func (m *Manager) GetCredentials(ctx context.Context, group string) (*Credentials, error) {
	m.mu.Lock()
	n := len(m.accounts)
	if n == 0 {
		m.mu.Unlock()
		return nil, ErrEmptyPool
	}
	m.clampCursor(group)
	idx := m.cursors[group]
	acc := m.accounts[idx]
	m.mu.Unlock()

	return m.prepare(ctx, acc)
}

// CredentialsForAccount ensures a specific account is refreshed and
// project-scoped, bypassing group rotation. Used by the orchestrator when
// the quota selector has already chosen an account index.
func (m *Manager) CredentialsForAccount(ctx context.Context, acc *Account) (*Credentials, error) {
	return m.prepare(ctx, acc)
}

// AccountAt returns the account at idx in the current snapshot, or nil.
func (m *Manager) AccountAt(idx int) *Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if idx < 0 || idx >= len(m.accounts) {
		return nil
	}
	return m.accounts[idx]
}

func (m *Manager) prepare(ctx context.Context, acc *Account) (*Credentials, error) {
	if acc.isExpired(time.Now()) {
		if err := m.refresh(ctx, acc); err != nil {
			return nil, err
		}
	}
	if !acc.hasProjectID() {
		if err := m.resolveProjectID(ctx, acc); err != nil {
			return nil, err
		}
	}
	rec := acc.Snapshot()
	return &Credentials{AccessToken: rec.AccessToken, ProjectID: rec.ProjectID, Account: acc}, nil
}

// refresh exchanges the refresh token for a fresh access token, sharing a
// single in-flight attempt across concurrent callers for the same account.
func (m *Manager) refresh(ctx context.Context, acc *Account) error {
	key := acc.FileName()
	_, err, _ := m.sfRefresh.Do(key, func() (any, error) {
		rec := acc.Snapshot()
		tok, err := m.upstream.RefreshToken(ctx, rec.RefreshToken)
		if err != nil {
			acc.scheduleTimer(refreshRetryBackoff, func() { _ = m.refresh(context.Background(), acc) })
			return nil, fmt.Errorf("refresh account %s: %w", key, err)
		}

		next := rec
		next.AccessToken = tok.AccessToken
		if tok.RefreshToken != "" {
			next.RefreshToken = tok.RefreshToken
		}
		next.TokenType = tok.TokenType
		next.ExpiryMs = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second).Add(-expirySafetyMargin).UnixMilli()
		// email and projectId are preserved across the swap.
		acc.setRecord(next)

		if next.ProjectID == "" {
			_ = m.resolveProjectID(ctx, acc)
		}

		if _, err := m.store.Persist(key, acc.Snapshot()); err != nil {
			m.log.WithError(err).WithField("account", key).Warn("accounts: persist after refresh failed")
		}
		m.armTimer(acc)
		return nil, nil
	})
	return err
}

// resolveProjectID resolves and persists an account's projectId, sharing a
// single in-flight attempt per account.
func (m *Manager) resolveProjectID(ctx context.Context, acc *Account) error {
	key := acc.FileName()
	_, err, _ := m.sfProject.Do(key, func() (any, error) {
		rec := acc.Snapshot()
		result, err := m.upstream.LoadProjectID(ctx, rec.AccessToken, m.gate)
		if err != nil {
			return nil, fmt.Errorf("resolve project id for %s: %w", key, err)
		}

		projectID := result.ProjectID
		if projectID == "" {
			if !upstream.HasPaidTierMarker(result.RawBody) {
				return nil, &Error{StatusCode: 500, Message: "account is not eligible"}
			}
			projectID = synthesizeProjectID()
		}

		next := rec
		next.ProjectID = projectID
		acc.setRecord(next)
		if _, err := m.store.Persist(key, next); err != nil {
			m.log.WithError(err).WithField("account", key).Warn("accounts: persist after project resolution failed")
		}
		return nil, nil
	})
	return err
}

func (m *Manager) armTimer(a *Account) {
	rec := a.Snapshot()
	delay := time.Until(time.UnixMilli(rec.ExpiryMs)) - refreshLeadTime
	a.scheduleTimer(delay, func() {
		if err := m.refresh(context.Background(), a); err != nil {
			m.log.WithError(err).WithField("account", a.FileName()).Warn("accounts: scheduled refresh failed")
		}
	})
}

// StopAll cancels every account's refresh timer, used on shutdown.
func (m *Manager) StopAll() {
	for _, a := range m.Snapshot() {
		a.cancelTimer()
	}
}

var projectAdjectives = []string{"swift", "quiet", "amber", "lucid", "brisk", "vivid", "bold", "calm", "eager", "sunny"}
var projectNouns = []string{"otter", "canyon", "harbor", "meadow", "falcon", "cinder", "willow", "granite", "delta", "ember"}
var base36 = "0123456789abcdefghijklmnopqrstuvwxyz"

// synthesizeProjectID builds an id like "swift-otter-a1b2c" when the
// upstream marks the account paidTier but returns no explicit project.
func synthesizeProjectID() string {
	adj := projectAdjectives[randIndex(len(projectAdjectives))]
	noun := projectNouns[randIndex(len(projectNouns))]
	suffix := make([]byte, 5)
	for i := range suffix {
		suffix[i] = base36[randIndex(len(base36))]
	}
	return fmt.Sprintf("%s-%s-%s", adj, noun, string(suffix))
}

func randIndex(n int) int {
	if n <= 0 {
		return 0
	}
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0
	}
	return int(v.Int64())
}
