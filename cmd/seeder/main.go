//cmd/seeder/main.go
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/unclebandit/campaign-dispatcher/internal/config"
	"github.com/unclebandit/campaign-dispatcher/internal/db"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	conn, err := db.Open(context.Background(), cfg.DatabaseDSN())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer conn.Close()

	dir := os.Getenv("SEED_DIR")
	if dir == "" {
		dir = "seed"
	}

	// Schema first; the data files reference its tables.
	seedFiles := []string{
		"schema.sql",
		"subscribers.sql",
		"campaigns.sql",
	}

	for _, name := range seedFiles {
		file := filepath.Join(dir, name)
		content, err := os.ReadFile(file)
		if err != nil {
			logrus.WithError(err).Fatalf("failed to read %s", file)
		}

		if _, err := conn.Exec(string(content)); err != nil {
			logrus.WithError(err).Fatalf("failed to execute %s", file)
		}
		logrus.WithField("file", file).Info("Seeded")
	}

	logrus.Info("Database seeding completed successfully!")
}
