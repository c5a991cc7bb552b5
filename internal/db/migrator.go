package db

import (
	"database/sql"
	"fmt"

	"github.com/quorum-im/go-quorum/config"
	"github.com/quorum-im/go-quorum/migration"
	"go.uber.org/zap"
)

// migrator applies a subsystem's ordered migration list. Each
// subsystem keeps its own _migrations_<name> table, so packages can
// evolve their schemas independently against the shared database.
type migrator struct {
	db         *Database
	name       string
	tableName  string
	log        *zap.SugaredLogger
	migrations []*migration.Migration
	lock       bool
}

func newMigrator(c *config.Config, db *Database, name string, migrations []*migration.Migration, lock bool) *migrator {
	return &migrator{
		db:         db,
		log:        c.Logger(name),
		name:       name,
		tableName:  "_migrations_" + name,
		migrations: migrations,
		lock:       lock,
	}
}

func (m *migrator) migrate() error {
	applied := 0
	err := m.run(fmt.Sprintf("prepare %s migrator", m.name), func() error {
		if _, err := m.db.Tx.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INT8 NOT NULL,
			version VARCHAR(255) NOT NULL,
			PRIMARY KEY (id)
		);
	`, m.tableName)); err != nil {
			return err
		}
		if err := m.db.Tx.Get(&applied, fmt.Sprintf("SELECT COUNT(*) FROM %s", m.tableName)); err != nil {
			return err
		}
		if applied > len(m.migrations) {
			return fmt.Errorf("database has %d %s migrations applied but only %d are defined", applied, m.name, len(m.migrations))
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := applied; i < len(m.migrations); i++ {
		if err := m.apply(i, m.migrations[i]); err != nil {
			return fmt.Errorf("applying %s migration %s: %w", m.name, m.migrations[i].Name, err)
		}
	}
	return nil
}

func (m *migrator) apply(id int, mig *migration.Migration) error {
	return m.run(mig.String(), func() error {
		m.log.Debugf("applying migration %s", mig.Name)
		if err := mig.Func(m.db.Tx.Tx); err != nil {
			return err
		}
		_, err := m.db.Tx.Exec(fmt.Sprintf("INSERT INTO %s (id, version) VALUES (?, ?)", m.tableName), id, mig.String())
		return err
	})
}

func (m *migrator) run(label string, f RunnerFunc) error {
	if m.lock {
		return m.db.Run(label, f)
	}
	return m.db.RunTx(label, &sql.TxOptions{Isolation: sql.LevelDefault, ReadOnly: false}, f)
}
