package accounts

import "github.com/quotarelay/quotarelay/internal/credstore"

// Add inserts or updates an account. If an account with the same e-mail
// already exists it reuses that slot (renaming the backing file on an
// e-mail mismatch is handled by credstore.Persist itself); otherwise a new
// slot is appended. Rotation cursors are left untouched unless the pool
// was empty before this call, in which case both become 0.
func (m *Manager) Add(fileNameHint string, rec credstore.Record) (*Account, error) {
	name, err := m.store.Persist(fileNameHint, rec)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	wasEmpty := len(m.accounts) == 0

	var target *Account
	if rec.Email != "" {
		for _, a := range m.accounts {
			if a.Snapshot().Email == rec.Email {
				target = a
				break
			}
		}
	}
	if target == nil {
		target = newAccount(name, rec)
		m.accounts = append(m.accounts, target)
	} else {
		target.setFileName(name)
		target.setRecord(rec)
	}

	if wasEmpty {
		m.cursors[GroupClaude] = 0
		m.cursors[GroupGemini] = 0
	}
	m.mu.Unlock()

	m.armTimer(target)
	return target, nil
}

// Delete removes fileName from the store and pool, then adjusts both
// rotation cursors: if the deleted index was below a cursor,
// decrement it; if equal, clamp it to the new tail.
func (m *Manager) Delete(fileName string) error {
	if err := m.store.Delete(fileName); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, a := range m.accounts {
		if a.FileName() == fileName {
			idx = i
			break
		}
	}
	if idx == -1 {
		return nil
	}

	m.accounts[idx].cancelTimer()
	m.accounts = append(m.accounts[:idx], m.accounts[idx+1:]...)

	for _, group := range []string{GroupClaude, GroupGemini} {
		c := m.cursors[group]
		switch {
		case c > idx:
			m.cursors[group] = c - 1
		case c == idx:
			m.cursors[group] = c
		}
		m.clampCursor(group)
	}
	return nil
}
