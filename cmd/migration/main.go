package main

import (
	"database/sql"
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pressly/goose/v3"

	_ "github.com/lib/pq"
)

type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
}

func main() {
	command := flag.String("command", "up", "goose command to run (up, down, status, redo, reset)")
	migrationsDir := flag.String("dir", "./db/migration", "directory holding the SQL migrations")
	flag.Parse()

	var cfg Config
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process config: %v", err)
	}

	if _, err := os.Stat(*migrationsDir); os.IsNotExist(err) {
		log.Fatalf("Migrations directory not found: %s", *migrationsDir)
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatalf("Failed to set goose dialect: %v", err)
	}

	log.Printf("Running goose %q against %s", *command, *migrationsDir)
	if err := goose.Run(*command, db, *migrationsDir, flag.Args()...); err != nil {
		log.Fatalf("goose %s failed: %v", *command, err)
	}
	log.Println("Migrations completed successfully!")
}
