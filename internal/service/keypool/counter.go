package keypool

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// counterFile is the rotation cursor shared by all processes serving the
// same session directory.
const counterFile = "api_counter.txt"

// Counter hands out pool keys in strict round-robin order, persisting the
// cursor to disk. It exists for deployments that prefer deterministic
// rotation over random first picks.
type Counter struct {
	pool *Pool
	path string
	lock *flock.Flock
}

// NewCounter attaches a sequential cursor to the pool, stored under dir.
func NewCounter(pool *Pool, dir string) *Counter {
	path := filepath.Join(dir, counterFile)
	return &Counter{
		pool: pool,
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Next returns the key at the current cursor and advances it. The cursor
// file is flock-guarded so concurrent requests do not hand out the same
// position twice.
func (c *Counter) Next() (string, error) {
	if err := c.lock.Lock(); err != nil {
		return "", fmt.Errorf("lock key counter: %w", err)
	}
	defer func() { _ = c.lock.Unlock() }()

	counter := 0
	if raw, err := os.ReadFile(c.path); err == nil {
		if parsed, perr := strconv.Atoi(strings.TrimSpace(string(raw))); perr == nil && parsed >= 0 {
			counter = parsed
		}
	}

	key := c.pool.keys[counter%c.pool.Size()]

	next := (counter + 1) % c.pool.Size()
	if err := os.WriteFile(c.path, []byte(strconv.Itoa(next)), 0o644); err != nil {
		return "", fmt.Errorf("persist key counter: %w", err)
	}

	return key, nil
}
