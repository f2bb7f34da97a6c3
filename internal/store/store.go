// Package store persists call records, conversation runs, knowledge-base
// entries, and webhook subscriptions behind narrow per-record interfaces.
//
// Postgres backs production deployments; tests run against an in-memory
// SQLite database through the same GORM models. Transcript sequences and
// evaluation results are stored as JSON columns since the pipeline always
// reads and writes them whole.
package store

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/voxlens/voxlens/types"
)

// Config selects the database backend.
type Config struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// DefaultConfig returns an in-memory SQLite configuration suitable for
// local development.
func DefaultConfig() Config {
	return Config{Driver: "sqlite", DSN: ":memory:"}
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config, logger *zap.Logger) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite", "":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = ":memory:"
		}
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s (supported: postgres, sqlite)", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	if err := db.AutoMigrate(&callRow{}, &runRow{}, &knowledgeRow{}, &subscriptionRow{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	if logger != nil {
		logger.Info("Database connected", zap.String("driver", cfg.Driver))
	}
	return db, nil
}

// Stores bundles the per-aggregate stores over one database handle.
type Stores struct {
	Calls         *CallStore
	Runs          *RunStore
	Knowledge     *KnowledgeStore
	Subscriptions *SubscriptionStore
}

// New builds the store bundle.
func New(db *gorm.DB) *Stores {
	return &Stores{
		Calls:         NewCallStore(db),
		Runs:          NewRunStore(db),
		Knowledge:     NewKnowledgeStore(db),
		Subscriptions: NewSubscriptionStore(db),
	}
}

func notFound(kind, id string) *types.Error {
	return types.NewError(types.ErrNotFound, fmt.Sprintf("%s %s not found", kind, id))
}
