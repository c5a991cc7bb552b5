// Test fixtures shared across packages: throwaway encrypted
// databases under test-* paths and a cleanup wrapper for TestMain.
package test

import (
	crypto_rand "crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/quorum-im/go-quorum/clock"
	"github.com/quorum-im/go-quorum/config"
	db "github.com/quorum-im/go-quorum/internal/db"
)

// DBCleanup wraps m.Run, sweeping test databases afterwards
// regardless of the exit code.
func DBCleanup(run func() int) int {
	code := run()
	deleteAll("*-journal")
	deleteAll("test-*")
	return code
}

func deleteAll(glob string) {
	paths, err := filepath.Glob(glob)
	if err != nil {
		panic(err)
	}
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			panic(err)
		}
		if info.IsDir() {
			deleteAll(filepath.Join(p, "*"))
			continue
		}
		if err := os.Remove(p); err != nil {
			panic(err)
		}
	}
}

func NewTestDatabase(c *config.Config) *db.Database {
	return NewTestDatabaseWithClock(c, clock.NewSystemClock())
}

// NewTestDatabaseWithClock builds an initialized, open database at a
// random test-* path under a fixed key. The clock threads through to
// anything time-dependent built on top.
func NewTestDatabaseWithClock(c *config.Config, cl clock.Clock) *db.Database {
	var id [8]byte
	if _, err := crypto_rand.Read(id[:]); err != nil {
		panic("short read from random source")
	}
	d, err := db.NewDatabase(c, cl, fmt.Sprintf("test-%x", id[:]))
	if err != nil {
		panic(err)
	}
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	if err := d.Initialize(key); err != nil {
		panic(err)
	}
	if err := d.Open(key); err != nil {
		panic(err)
	}
	return d
}
