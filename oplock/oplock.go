// Package oplock provides coarse single-flight locks over the sheetflow
// database, keeping concurrent invocations of the same operation (submit,
// apply, run) from interleaving writes to the sheet and ledger.
package oplock

import (
	"database/sql"
	"os"
	"strconv"
	"time"

	"github.com/sheetflow/sheetflow/errors"
	"github.com/sheetflow/sheetflow/logger"
)

// Lock names used by the CLI commands.
const (
	LockSubmit = "submit"
	LockApply  = "apply"
	LockRun    = "run"
)

// DefaultTTL is how long a lock row is honored before it is presumed
// abandoned by a crashed process and reaped.
const DefaultTTL = 15 * time.Minute

// Manager acquires and releases named operation locks
type Manager struct {
	db     *sql.DB
	ttl    time.Duration
	holder string
}

// New creates a lock manager with the default TTL
func New(db *sql.DB) *Manager {
	return &Manager{
		db:     db,
		ttl:    DefaultTTL,
		holder: "pid:" + strconv.Itoa(os.Getpid()),
	}
}

// SetTTL overrides the stale-lock TTL
func (m *Manager) SetTTL(ttl time.Duration) {
	m.ttl = ttl
}

// Acquire takes the named lock and returns a release func. A held,
// non-stale lock yields a conflict error; locks older than the TTL are
// reaped first.
func (m *Manager) Acquire(name string) (func(), error) {
	cutoff := time.Now().UTC().Add(-m.ttl)
	if res, err := m.db.Exec(`DELETE FROM op_locks WHERE name = ? AND acquired_at < ?`, name, cutoff); err == nil {
		if n, _ := res.RowsAffected(); n > 0 {
			logger.Warnw("reaped stale operation lock", "name", name, "older_than", m.ttl)
		}
	}

	res, err := m.db.Exec(`
		INSERT OR IGNORE INTO op_locks (name, holder, acquired_at)
		VALUES (?, ?, ?)`,
		name, m.holder, time.Now().UTC(),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to acquire %s lock", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to check lock acquisition")
	}
	if n == 0 {
		return nil, errors.Wrapf(errors.ErrConflict, "a %s operation is already in progress", name)
	}

	release := func() {
		if _, err := m.db.Exec(`DELETE FROM op_locks WHERE name = ? AND holder = ?`, name, m.holder); err != nil {
			logger.Warnw("failed to release operation lock", "name", name, "error", err)
		}
	}
	return release, nil
}
