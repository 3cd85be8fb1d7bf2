package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/vidfriends/streamgate/internal/auth"
	"github.com/vidfriends/streamgate/internal/config"
	"github.com/vidfriends/streamgate/internal/db"
	"github.com/vidfriends/streamgate/internal/models"
	"github.com/vidfriends/streamgate/internal/repositories"
	"github.com/vidfriends/streamgate/internal/storage"
)

// runUpload stores a local video file in the bucket under videoKey.
func runUpload(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: upload <videoKey> <file>")
	}
	videoKey, path := args[0], args[1]

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	client, err := storage.NewS3Client(ctx, cfg.ObjectStore)
	if err != nil {
		return err
	}

	key, err := storage.NewVideoUploader(client, cfg.ObjectStore.Bucket).Upload(ctx, videoKey, mime.TypeByExtension(filepath.Ext(path)), file)
	if err != nil {
		return err
	}

	fmt.Printf("uploaded %s to s3://%s/%s\n", path, cfg.ObjectStore.Bucket, key)
	return nil
}

// runToken mints a bearer token for local testing.
func runToken(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: token <userID>")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	token, identity, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL).Issue(args[0])
	if err != nil {
		return err
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", identity.ExpiresAt.Format(time.RFC3339))
	return nil
}

// runAudit prints a user's most recent access decisions.
func runAudit(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: audit <userID> [limit]")
	}

	limit := 20
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid limit %q", args[1])
		}
		limit = n
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, 1)
	if err != nil {
		return err
	}
	defer pool.Close()

	entries, err := repositories.NewPostgresAccessLog(pool).ListForUser(ctx, args[0], limit)
	if err != nil {
		return err
	}
	printAuditEntries(os.Stdout, entries)
	return nil
}

func printAuditEntries(w io.Writer, entries []models.AccessLogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "no access decisions recorded")
		return
	}
	for _, entry := range entries {
		outcome := "DENY "
		if entry.Granted {
			outcome = "GRANT"
		}
		fmt.Fprintf(w, "%s  %s  %-20s  %-24s  %s\n",
			entry.Timestamp.Format(time.RFC3339), outcome, entry.Reason, entry.ModuleID, entry.IPAddress)
	}
}
