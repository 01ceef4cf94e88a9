package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/maxdollinger/unistage/pkg/utils"
)

var ErrRunNotFound = errors.New("run not found")

// Run is one invocation of the boot sequence.
type Run struct {
	ID         string     `json:"id"`
	Board      string     `json:"board"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	DomainID   *int       `json:"domain_id,omitempty"`
	ExitCode   *int       `json:"exit_code,omitempty"`
	Error      *string    `json:"error,omitempty"`
}

func InsertRun(ctx context.Context, db *sql.DB, board string) (*Run, error) {
	runID, err := utils.NewUUID7()
	if err != nil {
		return nil, fmt.Errorf("error generating run uuid: %w", err)
	}
	now := time.Now().Unix()

	query := `
		INSERT INTO runs (id, board, started_at)
		VALUES (?, ?, ?)
	`

	_, err = db.ExecContext(ctx, query, runID, board, now)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}

	return &Run{
		ID:        runID,
		Board:     board,
		StartedAt: time.Unix(now, 0),
	}, nil
}

// FinishRun stores the outcome. domainID is nil when no domain was created.
func FinishRun(ctx context.Context, db *sql.DB, runID string, domainID *int, exitCode int, runErr error) error {
	var errText *string
	if runErr != nil {
		s := runErr.Error()
		errText = &s
	}

	query := `
		UPDATE runs SET finished_at = ?, domain_id = ?, exit_code = ?, error = ?
		WHERE id = ?
	`
	res, err := db.ExecContext(ctx, query, time.Now().Unix(), domainID, exitCode, errText, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

const runColumns = `id, board, started_at, finished_at, domain_id, exit_code, error`

func GetRunByID(ctx context.Context, db *sql.DB, id string) (*Run, error) {
	row := db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return run, err
}

// ListRuns returns the most recent runs first.
func ListRuns(ctx context.Context, db *sql.DB, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var (
		run        Run
		startedAt  int64
		finishedAt sql.NullInt64
		domainID   sql.NullInt64
		exitCode   sql.NullInt64
		errText    sql.NullString
	)
	if err := s.Scan(&run.ID, &run.Board, &startedAt, &finishedAt, &domainID, &exitCode, &errText); err != nil {
		return nil, err
	}

	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &t
	}
	if domainID.Valid {
		id := int(domainID.Int64)
		run.DomainID = &id
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if errText.Valid {
		run.Error = &errText.String
	}
	return &run, nil
}
