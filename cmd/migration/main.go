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
	dir := flag.String("dir", "./db/migration", "Migrations directory")
	flag.Parse()

	var cfg Config
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found: %v", err)
	}
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process config: %v", err)
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

	if _, err := os.Stat(*dir); os.IsNotExist(err) {
		log.Fatalf("Migrations directory not found: %s", *dir)
	}

	log.Printf("Running migrations from: %s", *dir)
	if err := goose.Up(db, *dir); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Migrations completed successfully!")
}
