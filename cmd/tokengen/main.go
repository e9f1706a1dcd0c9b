package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/af-corp/warden/internal/auth"
	"github.com/af-corp/warden/internal/types"
	"github.com/jackc/pgx/v5"
)

func main() {
	name := flag.String("name", "", "human-friendly key name (required)")
	surface := flag.String("surface", "", "surface ID the key belongs to, e.g. slack, web (required)")
	tier := flag.String("tier", "standard", "rate-limit tier: standard, admin")
	env := flag.String("env", "prod", "environment prefix")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h)")
	dbURL := flag.String("db-url", "", "database URL (overrides env)")
	flag.Parse()

	if *name == "" || *surface == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -name and -surface are required")
		os.Exit(1)
	}
	// An unknown tier would be silently degraded to standard at lookup.
	if _, ok := types.ParseTier(*tier); !ok {
		log.Fatalf("unknown tier %q (valid: standard, admin)", *tier)
	}

	// Generate key
	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	keyHash := auth.HashKey(rawKey)
	keyPrefix := auth.KeyPrefix(rawKey)

	// Parse expiry
	dur, err := auth.ParseDuration(*expires)
	if err != nil {
		log.Fatalf("invalid expires: %v", err)
	}
	expiresAt := time.Now().Add(dur)

	// Connect to database
	dsn := *dbURL
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		host := envOrDefault("DB_HOST", "localhost")
		port := envOrDefault("DB_PORT", "5432")
		u := envOrDefault("DB_USER", "warden")
		pass := envOrDefault("DB_PASSWORD", "warden-dev")
		dbname := envOrDefault("DB_NAME", "warden")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", u, pass, host, port, dbname)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer conn.Close(ctx)

	// Insert key
	var keyID string
	err = conn.QueryRow(ctx, `
		INSERT INTO connector_keys (key_hash, key_prefix, name, surface_id, tier, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, keyHash, keyPrefix, *name, *surface, *tier, expiresAt).Scan(&keyID)
	if err != nil {
		log.Fatalf("failed to insert key: %v", err)
	}

	fmt.Println("=== Warden Connector Key Generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:     %s\n", keyID)
	fmt.Printf("  Key Prefix: %s\n", keyPrefix)
	fmt.Printf("  Surface:    %s\n", *surface)
	fmt.Printf("  Tier:       %s\n", *tier)
	fmt.Printf("  Expires:    %s\n", expiresAt.Format(time.RFC3339))
	fmt.Println()
	fmt.Println("  Connector Key (save this — it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("======================================")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
