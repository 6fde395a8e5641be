// Package accounts implements the credential lifecycle: an in-memory pool
// of accounts backed by credstore, proactive pre-expiry refresh, and
// per-group round-robin selection.
package accounts

import (
	"sync"
	"time"

	"github.com/quotarelay/quotarelay/internal/credstore"
)

// expirySafetyMargin is subtracted from an issued token's computed
// deadline (issuance + lifetime - 60s).
const expirySafetyMargin = 60 * time.Second

// refreshLeadTime is how far ahead of expiry the timer fires.
const refreshLeadTime = 10 * time.Minute

// refreshRetryBackoff is the re-arm delay after a failed refresh.
const refreshRetryBackoff = 60 * time.Second

// Account is the in-memory wrapper around one on-disk credential record,
// plus the transient state needed to serve traffic and refresh safely.
type Account struct {
	mu       sync.Mutex
	fileName string
	record   credstore.Record

	timer *time.Timer
}

func newAccount(fileName string, rec credstore.Record) *Account {
	return &Account{fileName: fileName, record: rec}
}

// FileName is the account's anchor identity within the pool.
func (a *Account) FileName() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fileName
}

// Snapshot returns a copy of the current credential record.
func (a *Account) Snapshot() credstore.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record
}

// Key returns the identity used for quota bookkeeping (accountKey).
func (a *Account) Key() string {
	return a.FileName()
}

func (a *Account) setRecord(rec credstore.Record) {
	a.mu.Lock()
	a.record = rec
	a.mu.Unlock()
}

func (a *Account) setFileName(name string) {
	a.mu.Lock()
	a.fileName = name
	a.mu.Unlock()
}

func (a *Account) isExpired(now time.Time) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.ExpiryMs < now.UnixMilli()
}

func (a *Account) hasProjectID() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.ProjectID != ""
}

func (a *Account) cancelTimer() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Account) scheduleTimer(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	if d < 0 {
		d = 0
	}
	a.timer = time.AfterFunc(d, fn)
}
