// Package history persists finished runs to a SQLite database so past
// results can be re-rendered, compared, and pruned. One run maps to one
// row in runs plus child rows in scenario_results and issues.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"mcpharness/internal/logging"
	"mcpharness/internal/report"
	"mcpharness/internal/scenario"
)

// Store provides SQLite-backed storage for run reports.
type Store struct {
	mu sync.RWMutex

	db   *sql.DB
	path string
}

// Open opens (creating if needed) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}

	store := &Store{db: db, path: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.History("history store open at %s", path)
	return store, nil
}

// initialize creates the schema.
func (s *Store) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			suite_name TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME,
			duration_ms INTEGER DEFAULT 0,
			scenarios INTEGER DEFAULT 0,
			passed INTEGER DEFAULT 0,
			failed INTEGER DEFAULT 0,
			skipped INTEGER DEFAULT 0,
			errors INTEGER DEFAULT 0,
			environment TEXT,
			saved_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS scenario_results (
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			scenario_id TEXT NOT NULL,
			name TEXT,
			status TEXT NOT NULL,
			attempts INTEGER DEFAULT 0,
			duration_ms INTEGER DEFAULT 0,
			failure_reason TEXT,
			steps TEXT,

			PRIMARY KEY (run_id, scenario_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("create scenario_results table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS issues (
			issue_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(run_id),
			scenario_id TEXT,
			severity TEXT NOT NULL,
			category TEXT,
			message TEXT,
			evidence TEXT,
			screenshot TEXT,
			created_at DATETIME
		)
	`)
	if err != nil {
		return fmt.Errorf("create issues table: %w", err)
	}

	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_results_run ON scenario_results(run_id)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_issues_run ON issues(run_id)`)
	_, _ = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`)

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// SaveReport persists a run report. Saving the same run ID again
// replaces the previous record, so re-saving after amending a report
// is safe.
func (s *Store) SaveReport(ctx context.Context, rep *report.RunReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	envJSON, _ := json.Marshal(rep.Environment)

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, suite_name, started_at, finished_at, duration_ms,
			scenarios, passed, failed, skipped, errors, environment)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			suite_name = excluded.suite_name,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at,
			duration_ms = excluded.duration_ms,
			scenarios = excluded.scenarios,
			passed = excluded.passed,
			failed = excluded.failed,
			skipped = excluded.skipped,
			errors = excluded.errors,
			environment = excluded.environment
	`,
		rep.RunID, rep.SuiteName, rep.StartedAt, rep.FinishedAt, rep.DurationMs,
		rep.Totals.Scenarios, rep.Totals.Passed, rep.Totals.Failed,
		rep.Totals.Skipped, rep.Totals.Errors, string(envJSON),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}

	// Child rows are replaced wholesale; an upsert per row would leave
	// stale children behind when a re-save shrinks the result list.
	if _, err := tx.ExecContext(ctx, `DELETE FROM scenario_results WHERE run_id = ?`, rep.RunID); err != nil {
		return fmt.Errorf("clear scenario results: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM issues WHERE run_id = ?`, rep.RunID); err != nil {
		return fmt.Errorf("clear issues: %w", err)
	}

	for _, res := range rep.Results {
		stepsJSON, _ := json.Marshal(res.Steps)
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scenario_results (run_id, scenario_id, name, status, attempts,
				duration_ms, failure_reason, steps)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`,
			rep.RunID, res.ScenarioID, res.Name, string(res.Status), res.Attempts,
			res.DurationMs, res.FailureReason, string(stepsJSON),
		)
		if err != nil {
			return fmt.Errorf("save scenario result %s: %w", res.ScenarioID, err)
		}
	}

	for _, is := range rep.Issues {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO issues (issue_id, run_id, scenario_id, severity, category,
				message, evidence, screenshot, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			is.ID, rep.RunID, is.ScenarioID, string(is.Severity), is.Category,
			is.Message, is.Evidence, is.Screenshot, is.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("save issue %s: %w", is.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}

	logging.History("saved run %s (%d results, %d issues)", rep.RunID, len(rep.Results), len(rep.Issues))
	return nil
}

// GetRun loads a run report with its child rows. Returns nil when the
// run ID is unknown.
func (s *Store) GetRun(ctx context.Context, runID string) (*report.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rep := &report.RunReport{RunID: runID}
	var startedAt, finishedAt sql.NullTime
	var envJSON sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT suite_name, started_at, finished_at, duration_ms,
			scenarios, passed, failed, skipped, errors, environment
		FROM runs WHERE run_id = ?
	`, runID).Scan(
		&rep.SuiteName, &startedAt, &finishedAt, &rep.DurationMs,
		&rep.Totals.Scenarios, &rep.Totals.Passed, &rep.Totals.Failed,
		&rep.Totals.Skipped, &rep.Totals.Errors, &envJSON,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}

	if startedAt.Valid {
		rep.StartedAt = startedAt.Time
	}
	if finishedAt.Valid {
		rep.FinishedAt = finishedAt.Time
	}
	if envJSON.Valid && envJSON.String != "" && envJSON.String != "null" {
		_ = json.Unmarshal([]byte(envJSON.String), &rep.Environment)
	}

	if rep.Results, err = s.loadResults(ctx, runID); err != nil {
		return nil, err
	}
	if rep.Issues, err = s.loadIssues(ctx, runID); err != nil {
		return nil, err
	}

	// Issue severity counts are derived, not stored.
	if len(rep.Issues) > 0 {
		rep.Totals.IssuesBySeverity = make(map[report.Severity]int)
		for _, is := range rep.Issues {
			rep.Totals.IssuesBySeverity[is.Severity]++
		}
	}

	return rep, nil
}

func (s *Store) loadResults(ctx context.Context, runID string) ([]report.ScenarioResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scenario_id, name, status, attempts, duration_ms, failure_reason, steps
		FROM scenario_results WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load scenario results: %w", err)
	}
	defer rows.Close()

	var results []report.ScenarioResult
	for rows.Next() {
		var res report.ScenarioResult
		var status string
		var reason, stepsJSON sql.NullString

		if err := rows.Scan(&res.ScenarioID, &res.Name, &status, &res.Attempts,
			&res.DurationMs, &reason, &stepsJSON); err != nil {
			return nil, err
		}
		res.Status = scenario.Status(status)
		if reason.Valid {
			res.FailureReason = reason.String
		}
		if stepsJSON.Valid && stepsJSON.String != "" && stepsJSON.String != "null" {
			_ = json.Unmarshal([]byte(stepsJSON.String), &res.Steps)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

func (s *Store) loadIssues(ctx context.Context, runID string) ([]report.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT issue_id, scenario_id, severity, category, message, evidence, screenshot, created_at
		FROM issues WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load issues: %w", err)
	}
	defer rows.Close()

	var issues []report.Issue
	for rows.Next() {
		var is report.Issue
		var severity string
		var scenarioID, category, evidence, screenshot sql.NullString
		var createdAt sql.NullTime

		if err := rows.Scan(&is.ID, &scenarioID, &severity, &category,
			&is.Message, &evidence, &screenshot, &createdAt); err != nil {
			return nil, err
		}
		is.Severity = report.Severity(severity)
		if scenarioID.Valid {
			is.ScenarioID = scenarioID.String
		}
		if category.Valid {
			is.Category = category.String
		}
		if evidence.Valid {
			is.Evidence = evidence.String
		}
		if screenshot.Valid {
			is.Screenshot = screenshot.String
		}
		if createdAt.Valid {
			is.CreatedAt = createdAt.Time
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

// RunSummary is one row of the recent-runs listing.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	SuiteName  string    `json:"suite_name"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Scenarios  int       `json:"scenarios"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Errors     int       `json:"errors"`
}

// RecentRuns lists the newest runs, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, suite_name, started_at, duration_ms, scenarios, passed, failed, skipped, errors
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var startedAt sql.NullTime
		if err := rows.Scan(&sum.RunID, &sum.SuiteName, &startedAt, &sum.DurationMs,
			&sum.Scenarios, &sum.Passed, &sum.Failed, &sum.Skipped, &sum.Errors); err != nil {
			return nil, err
		}
		if startedAt.Valid {
			sum.StartedAt = startedAt.Time
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

// LatestRunID returns the most recent run's ID, empty when the store
// holds nothing.
func (s *Store) LatestRunID(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var runID string
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id FROM runs ORDER BY started_at DESC LIMIT 1
	`).Scan(&runID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return runID, nil
}

// Prune deletes runs older than retentionDays along with their child
// rows, returning how many runs were removed. retentionDays <= 0 keeps
// everything.
func (s *Store) Prune(ctx context.Context, retentionDays int) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -retentionDays)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM issues WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("prune issues: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM scenario_results WHERE run_id IN (SELECT run_id FROM runs WHERE started_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("prune scenario results: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}
	n, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}

	if n > 0 {
		logging.History("pruned %d runs older than %d days", n, retentionDays)
	}
	return int(n), nil
}
