package result

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pathdx/cdst-go/pkg/errors"
)

// SQLiteStore persists the flat allocation-row layout so downstream
// consumers can query results without the scheduler in memory.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed bootstraps) the result database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "cdst_results.db"
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to open result database")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initDB(); err != nil {
		db.Close()
		return nil, err
	}

	// WAL keeps writers from blocking the read paths
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.Unknown, "failed to enable WAL mode")
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.Unknown, "failed to set synchronous pragma")
	}

	return store, nil
}

func (s *SQLiteStore) initDB() error {
	schema := `
	CREATE TABLE IF NOT EXISTS allocation_rows (
		scenario_id         TEXT NOT NULL,
		solution_index      INTEGER NOT NULL,
		area_id             TEXT NOT NULL,
		lab_id              TEXT NOT NULL,
		test_id             TEXT NOT NULL,
		allocated_tests     INTEGER NOT NULL,
		distance_km         REAL NOT NULL,
		travel_time_minutes REAL NOT NULL,
		transport_cost      REAL NOT NULL,
		processing_cost     REAL NOT NULL,
		total_cost          REAL NOT NULL,
		utilization_score   REAL NOT NULL,
		accessibility_score REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_allocation_rows_scenario
		ON allocation_rows(scenario_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to initialize result schema")
	}
	return nil
}

// Save replaces the stored rows for the result's scenario. The write is
// transactional: readers never observe a half-written result.
func (s *SQLiteStore) Save(ctx context.Context, res *Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to begin result transaction")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM allocation_rows WHERE scenario_id = ?", res.ScenarioID); err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to clear previous rows")
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO allocation_rows (
			scenario_id, solution_index, area_id, lab_id, test_id,
			allocated_tests, distance_km, travel_time_minutes,
			transport_cost, processing_cost, total_cost,
			utilization_score, accessibility_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, errors.Unknown, "failed to prepare row insert")
	}
	defer stmt.Close()

	for si, sol := range res.Solutions {
		for _, row := range sol.Rows {
			if _, err := stmt.ExecContext(ctx,
				row.ScenarioID, si, row.AreaID, row.LabID, row.TestID,
				row.AllocatedTests, row.DistanceKM, row.TravelTimeMinutes,
				row.TransportCost, row.ProcessingCost, row.TotalCost,
				row.UtilizationScore, row.AccessibilityScore,
			); err != nil {
				return errors.Wrap(err, errors.Unknown, "failed to insert allocation row")
			}
		}
	}

	return tx.Commit()
}

// LoadRows returns the persisted rows of one scenario's first solution
// ordering, grouped by solution index.
func (s *SQLiteStore) LoadRows(ctx context.Context, scenarioID string) ([][]AllocationRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT solution_index, area_id, lab_id, test_id, allocated_tests,
			distance_km, travel_time_minutes, transport_cost,
			processing_cost, total_cost, utilization_score, accessibility_score
		FROM allocation_rows WHERE scenario_id = ?
		ORDER BY solution_index, rowid`, scenarioID)
	if err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to query allocation rows")
	}
	defer rows.Close()

	var solutions [][]AllocationRow
	for rows.Next() {
		var si int
		row := AllocationRow{ScenarioID: scenarioID}
		if err := rows.Scan(&si, &row.AreaID, &row.LabID, &row.TestID,
			&row.AllocatedTests, &row.DistanceKM, &row.TravelTimeMinutes,
			&row.TransportCost, &row.ProcessingCost, &row.TotalCost,
			&row.UtilizationScore, &row.AccessibilityScore); err != nil {
			return nil, errors.Wrap(err, errors.Unknown, "failed to scan allocation row")
		}
		for len(solutions) <= si {
			solutions = append(solutions, nil)
		}
		solutions[si] = append(solutions[si], row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.Unknown, "failed to read allocation rows")
	}

	if len(solutions) == 0 {
		return nil, errors.Newf(errors.ResourceNotFound, "no stored result for scenario %s", scenarioID)
	}

	return solutions, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
