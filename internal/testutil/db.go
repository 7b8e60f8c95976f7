package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/healapp/backend/internal/migrate"
	"github.com/healapp/backend/migrations"
)

// Postgres é um banco de teste já migrado.
type Postgres struct {
	URL  string
	DB   *gorm.DB
	Pool *pgxpool.Pool
	stop func()
}

func (p *Postgres) Close() {
	if p.Pool != nil {
		p.Pool.Close()
	}
	if sqlDB, err := p.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	if p.stop != nil {
		p.stop()
	}
}

// StartPostgres usa DATABASE_URL quando definido; senão sobe postgres:16-alpine via testcontainers.
// Em ambos os casos aplica as migrações embutidas.
func StartPostgres(ctx context.Context) (*Postgres, error) {
	url := os.Getenv("DATABASE_URL")
	stop := func() {}
	if url == "" {
		req := testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "heal_test",
				"POSTGRES_USER":     "test",
				"POSTGRES_PASSWORD": "testpass",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		}
		c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
		if err != nil {
			return nil, fmt.Errorf("start postgres container: %w", err)
		}
		stop = func() { _ = c.Terminate(context.Background()) }
		host, err := c.Host(ctx)
		if err != nil {
			stop()
			return nil, err
		}
		port, err := c.MappedPort(ctx, "5432")
		if err != nil {
			stop()
			return nil, err
		}
		url = fmt.Sprintf("postgres://test:testpass@%s:%s/heal_test?sslmode=disable", host, port.Port())
	}

	db, err := gorm.Open(postgres.Open(url), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		stop()
		return nil, err
	}
	if err := MustMigrate(ctx, db); err != nil {
		stop()
		return nil, err
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		stop()
		return nil, err
	}
	return &Postgres{URL: url, DB: db, Pool: pool, stop: stop}, nil
}

// MustMigrate aplica as migrações embutidas do repositório.
func MustMigrate(ctx context.Context, db *gorm.DB) error {
	return migrate.Run(ctx, db, migrations.FS)
}
