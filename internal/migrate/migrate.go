// Package migrate aplica os arquivos .sql de migrations/ em ordem, registrando cada versão em schema_migrations.
package migrate

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// lockKey serializa migrações entre o servidor e o cmd/reminder subindo ao mesmo tempo.
const lockKey = 7342001

// Run aplica as migrações pendentes de fsys. Cada arquivo roda em sua própria transação,
// junto com a linha em schema_migrations.
func Run(ctx context.Context, db *gorm.DB, fsys fs.FS) error {
	log := logrus.WithField("component", "migrate")
	return db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := conn.Exec("SELECT pg_advisory_lock(?)", lockKey).Error; err != nil {
			return fmt.Errorf("advisory lock: %w", err)
		}
		defer conn.Exec("SELECT pg_advisory_unlock(?)", lockKey)

		if err := ensureSchemaMigrations(conn); err != nil {
			return fmt.Errorf("schema_migrations: %w", err)
		}
		applied, err := appliedVersions(conn)
		if err != nil {
			return err
		}
		names, err := Pending(fsys, applied)
		if err != nil {
			return err
		}
		for _, name := range names {
			if err := apply(conn, fsys, name); err != nil {
				return err
			}
			log.WithField("version", Version(name)).Info("migração aplicada")
		}
		return nil
	})
}

// Version é o nome do arquivo sem a extensão: "001_consultations.sql" -> "001_consultations".
func Version(name string) string {
	return strings.TrimSuffix(path.Base(name), ".sql")
}

// Pending lista, em ordem, os .sql da raiz de fsys ainda não aplicados.
func Pending(fsys fs.FS, applied map[string]bool) ([]string, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") || applied[Version(e.Name())] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func apply(conn *gorm.DB, fsys fs.FS, name string) error {
	raw, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return conn.Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(string(raw)).Error; err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", Version(name)).Error; err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
		return nil
	})
}

func ensureSchemaMigrations(db *gorm.DB) error {
	return db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`).Error
}

func appliedVersions(db *gorm.DB) (map[string]bool, error) {
	var versions []string
	if err := db.Raw("SELECT version FROM schema_migrations").Scan(&versions).Error; err != nil {
		return nil, err
	}
	m := make(map[string]bool, len(versions))
	for _, v := range versions {
		m[v] = true
	}
	return m, nil
}
