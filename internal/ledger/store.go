package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"

	"comfybatch/internal/config"
)

// Store manages run history backed by SQLite. It is safe for concurrent use.
type Store struct {
	db   *sql.DB
	path string
}

// ErrRunNotFound is returned when no run matches an id or id prefix.
var ErrRunNotFound = errors.New("run not found")

// Open initializes or connects to the ledger database configured in cfg.
func Open(cfg *config.Config) (*Store, error) {
	return OpenPath(cfg.LedgerPath())
}

// OpenPath initializes or connects to the ledger database at dbPath.
func OpenPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// BeginRun inserts a running run.
func (s *Store) BeginRun(ctx context.Context, run Run) error {
	started := run.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, workflow, seed, status, started_at) VALUES (?, ?, ?, ?, ?)`,
		run.ID,
		run.Workflow,
		strconv.FormatUint(run.Seed, 10),
		RunRunning,
		formatTime(started),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RecordJob stores a job outcome.
func (s *Store) RecordJob(ctx context.Context, job Job) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (
            run_id, stage, job_index, kind, influencer, video, background, person,
            prompt, seed, status, error_kind, error_message, prompt_id, remote_path,
            artifact_path, bytes, sha256, started_at, finished_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.RunID,
		job.Stage,
		job.Index,
		job.Kind,
		nullableString(job.Influencer),
		nullableString(job.Video),
		nullableString(job.Background),
		nullableString(job.Person),
		nullableString(job.Prompt),
		int64(job.Seed),
		job.Status,
		nullableString(job.ErrorKind),
		nullableString(job.ErrorMessage),
		nullableString(job.PromptID),
		nullableString(job.RemotePath),
		nullableString(job.ArtifactPath),
		job.Bytes,
		nullableString(job.SHA256),
		nullableTime(job.StartedAt),
		nullableTime(job.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// FinishRun records the terminal status and counts of a run.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, counts Counts, runErr error) error {
	var errText any
	if runErr != nil {
		errText = runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, total = ?, succeeded = ?, failed = ?,
            skipped = ?, interrupted = ?, error = ? WHERE id = ?`,
		status,
		formatTime(time.Now()),
		counts.Total,
		counts.Succeeded,
		counts.Failed,
		counts.Skipped,
		counts.Interrupted,
		errText,
		id,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return nil
}

const runColumns = `id, workflow, seed, status, started_at, finished_at, total, succeeded, failed, skipped, interrupted, error`

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns the run whose id equals or starts with idOrPrefix. An
// ambiguous prefix resolves to the newest match.
func (s *Store) GetRun(ctx context.Context, idOrPrefix string) (Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE id = ? OR id LIKE ? || '%' ORDER BY id = ? DESC, started_at DESC LIMIT 1`,
		idOrPrefix, idOrPrefix, idOrPrefix)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, idOrPrefix)
	}
	return run, err
}

// RunJobs returns the recorded jobs of a run in stage and index order.
func (s *Store) RunJobs(ctx context.Context, runID string) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, stage, job_index, kind, influencer, video, background, person, prompt, seed,
            status, error_kind, error_message, prompt_id, remote_path, artifact_path, bytes, sha256,
            started_at, finished_at
         FROM jobs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			job                                                     Job
			influencer, video, background, person, prompt           sql.NullString
			errorKind, errorMessage, promptID, remotePath, artifact sql.NullString
			sha, startedAt, finishedAt                              sql.NullString
			seed, bytes                                             sql.NullInt64
		)
		if err := rows.Scan(
			&job.RunID, &job.Stage, &job.Index, &job.Kind, &influencer, &video, &background, &person, &prompt, &seed,
			&job.Status, &errorKind, &errorMessage, &promptID, &remotePath, &artifact, &bytes, &sha,
			&startedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job.Influencer = influencer.String
		job.Video = video.String
		job.Background = background.String
		job.Person = person.String
		job.Prompt = prompt.String
		job.Seed = uint32(seed.Int64)
		job.ErrorKind = errorKind.String
		job.ErrorMessage = errorMessage.String
		job.PromptID = promptID.String
		job.RemotePath = remotePath.String
		job.ArtifactPath = artifact.String
		job.Bytes = bytes.Int64
		job.SHA256 = sha.String
		job.StartedAt, _ = parseTimeString(startedAt.String)
		job.FinishedAt, _ = parseTimeString(finishedAt.String)
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run                   Run
		seed, status, started string
		finished, runErr      sql.NullString
	)
	if err := row.Scan(
		&run.ID, &run.Workflow, &seed, &status, &started, &finished,
		&run.Counts.Total, &run.Counts.Succeeded, &run.Counts.Failed, &run.Counts.Skipped, &run.Counts.Interrupted,
		&runErr,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Seed, _ = strconv.ParseUint(seed, 10, 64)
	run.Status = RunStatus(status)
	run.StartedAt, _ = parseTimeString(started)
	run.FinishedAt, _ = parseTimeString(finished.String)
	run.Error = runErr.String
	return run, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(value time.Time) string {
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}
