package db

import (
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"parking-lot-backend/config"
	"parking-lot-backend/internal/model"
)

// Init initializes the database connection, runs migrations and seeds
// the spot table up to the configured lot size.
func Init(cfg *config.DatabaseConfig, totalSpots int) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMinutes) * time.Minute)

	log.Println("Running database migrations...")
	if err := Migrate(db); err != nil {
		return nil, err
	}

	if err := SeedSpots(db, totalSpots); err != nil {
		return nil, err
	}

	if cfg.EnableRangeGuard {
		log.Println("Range guard is enabled, applying exclusion-constraint DDL...")
		if err := applyRangeGuardDDL(db); err != nil {
			return nil, err
		}
	}

	log.Println("Database initialization complete.")
	return db, nil
}

// Migrate runs the schema migrations. Split out of Init so tests can
// run it against an in-memory database.
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Subscriber{},
		&model.Spot{},
		&model.Session{},
		&model.PushSubscription{},
	); err != nil {
		return fmt.Errorf("automigrate failed: %w", err)
	}
	return nil
}

// SeedSpots ensures spot rows 1..total exist. Existing rows keep their
// occupied flag; shrinking the lot is not supported here.
func SeedSpots(db *gorm.DB, total int) error {
	for id := int64(1); id <= int64(total); id++ {
		spot := model.Spot{ID: id}
		if err := db.FirstOrCreate(&spot, model.Spot{ID: id}).Error; err != nil {
			return fmt.Errorf("failed to seed spot %d: %w", id, err)
		}
	}
	return nil
}

// applyRangeGuardDDL installs the postgres constraints that make "one
// preorder/active session per spot per overlapping window" and "one
// active session per subscriber" hard store-level guarantees rather
// than application-level checks. A losing concurrent allocation
// surfaces as a constraint violation at commit, which the store maps
// to a conflict.
func applyRangeGuardDDL(db *gorm.DB) error {
	ddls := []string{
		"CREATE EXTENSION IF NOT EXISTS btree_gist;",

		"ALTER TABLE sessions " +
			"ADD CONSTRAINT sessions_window_valid CHECK (est_start < est_end);",

		"ALTER TABLE sessions " +
			"ADD CONSTRAINT sessions_one_per_spot_window EXCLUDE USING GIST (" +
			"spot_id WITH =, tstzrange(est_start, est_end, '[)') WITH &&" +
			") WHERE (spot_id IS NOT NULL AND status IN ('preorder', 'active'));",

		"CREATE UNIQUE INDEX IF NOT EXISTS sessions_one_active_per_subscriber " +
			"ON sessions (subscriber_id) WHERE status = 'active';",
	}

	for _, ddl := range ddls {
		if err := db.Exec(ddl).Error; err != nil {
			// Re-running against an already-guarded schema is fine.
			if isDuplicateObject(err) {
				continue
			}
			return fmt.Errorf("DDL failed on %q: %w", ddl, err)
		}
	}
	return nil
}

func isDuplicateObject(err error) bool {
	// 42710 duplicate_object: constraint already present from a
	// previous start.
	msg := err.Error()
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "42710")
}
