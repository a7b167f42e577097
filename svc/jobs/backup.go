package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobkit/pkg/file"
	"github.com/dmitrymomot/jobkit/pkg/logger"
	"github.com/dmitrymomot/jobkit/pkg/queue"
)

// BackupPrefix is the storage prefix for database dumps.
const BackupPrefix = "backups/"

// Dumper writes a database dump to w.
type Dumper interface {
	Dump(ctx context.Context, w io.Writer) error
}

// CopyDumper dumps tables as CSV sections using COPY ... TO STDOUT.
type CopyDumper struct {
	pool   *pgxpool.Pool
	tables []string
}

// NewCopyDumper creates a CopyDumper. Table names may be schema qualified.
func NewCopyDumper(pool *pgxpool.Pool, tables []string) *CopyDumper {
	return &CopyDumper{pool: pool, tables: tables}
}

func (d *CopyDumper) Dump(ctx context.Context, w io.Writer) error {
	conn, err := d.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	for _, table := range d.tables {
		if _, err := fmt.Fprintf(w, "-- table: %s\n", table); err != nil {
			return err
		}
		sql := fmt.Sprintf("COPY %s TO STDOUT WITH (FORMAT csv, HEADER true)", CopyTarget(table))
		if _, err := conn.Conn().PgConn().CopyTo(ctx, w, sql); err != nil {
			return fmt.Errorf("dump %s: %w", table, err)
		}
	}
	return nil
}

// CopyTarget quotes a possibly schema qualified table name.
func CopyTarget(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

// BackupKey is the storage key for the dump produced by a job.
func BackupKey(at time.Time, jobID string) string {
	return BackupPrefix + at.UTC().Format("2006/01/02") + "/" + jobID + ".csv"
}

// BackupProcessor dumps the database and stores the result.
type BackupProcessor struct {
	dumper  Dumper
	storage file.Storage
	logger  *slog.Logger
}

// NewBackupProcessor creates a BackupProcessor.
func NewBackupProcessor(dumper Dumper, storage file.Storage, log *slog.Logger) *BackupProcessor {
	if log == nil {
		log = slog.Default()
	}
	return &BackupProcessor{dumper: dumper, storage: storage, logger: log}
}

// Process keys the dump by job ID, so a retried job replaces its own
// partial output instead of adding another object.
func (p *BackupProcessor) Process(ctx context.Context, payload DatabaseBackup, progress queue.Progress) error {
	job, ok := queue.JobFromContext(ctx)
	if !ok {
		return queue.Permanent(ErrNoJobContext)
	}

	var buf bytes.Buffer
	if err := p.dumper.Dump(ctx, &buf); err != nil {
		return errors.Join(errors.New("database dump failed"), err)
	}
	_ = progress.Update(ctx, 50)

	key := BackupKey(job.CreatedAt, job.ID)
	obj, err := p.storage.Put(ctx, key, &buf, "text/csv")
	if err != nil {
		return fmt.Errorf("upload backup: %w", err)
	}

	p.logger.InfoContext(ctx, "database backup stored",
		logger.JobID(job.ID),
		slog.String("key", obj.Key),
		slog.Int64("size", obj.Size),
		slog.String("reason", payload.Reason),
	)
	return nil
}
