package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore backs the knowledge store with Postgres so several hosts can share
// one repository. Per-(SUT, key) serialization falls out of atomic
// INSERT ... ON CONFLICT DO UPDATE statements; no advisory locks needed.
type PGStore struct {
	pool *pgxpool.Pool
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS knowledge_stats (
	sut            TEXT NOT NULL,
	operation_id   TEXT NOT NULL,
	total_attempts BIGINT NOT NULL DEFAULT 0,
	successes      BIGINT NOT NULL DEFAULT 0,
	failures       BIGINT NOT NULL DEFAULT 0,
	avg_duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	common_errors  JSONB NOT NULL DEFAULT '{}',
	PRIMARY KEY (sut, operation_id)
);
CREATE TABLE IF NOT EXISTS knowledge_patterns (
	sut           TEXT NOT NULL,
	id            TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	trigger       JSONB NOT NULL,
	steps         JSONB NOT NULL,
	step_sig      TEXT NOT NULL,
	success_count BIGINT NOT NULL DEFAULT 0,
	failure_count BIGINT NOT NULL DEFAULT 0,
	last_used     TIMESTAMPTZ,
	PRIMARY KEY (sut, id),
	UNIQUE (sut, step_sig)
);
CREATE TABLE IF NOT EXISTS knowledge_pitfalls (
	sut              TEXT NOT NULL,
	id               TEXT NOT NULL,
	structural_key   TEXT NOT NULL,
	trigger          JSONB NOT NULL,
	error_pattern    TEXT NOT NULL DEFAULT '',
	resolution       TEXT NOT NULL DEFAULT '',
	occurrence_count BIGINT NOT NULL DEFAULT 0,
	last_occurred    TIMESTAMPTZ,
	PRIMARY KEY (sut, id),
	UNIQUE (sut, structural_key)
);
`

// NewPGStore connects to Postgres and creates the schema if missing.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect knowledge db: %w", err)
	}
	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate knowledge db: %w", err)
	}
	return &PGStore{pool: pool}, nil
}

func (s *PGStore) Patterns(ctx context.Context, sut string) ([]Pattern, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, trigger, steps, success_count, failure_count, COALESCE(last_used, 'epoch')
		 FROM knowledge_patterns WHERE sut = $1 ORDER BY id`, sut)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pattern
	for rows.Next() {
		var p Pattern
		var trigger, steps []byte
		if err := rows.Scan(&p.ID, &p.Name, &trigger, &steps, &p.SuccessCount, &p.FailureCount, &p.LastUsed); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(trigger, &p.Trigger); err != nil {
			return nil, fmt.Errorf("decode pattern %s trigger: %w", p.ID, err)
		}
		if err := json.Unmarshal(steps, &p.Steps); err != nil {
			return nil, fmt.Errorf("decode pattern %s steps: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) Pitfalls(ctx context.Context, sut string) ([]Pitfall, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, trigger, error_pattern, resolution, occurrence_count, COALESCE(last_occurred, 'epoch')
		 FROM knowledge_pitfalls WHERE sut = $1 ORDER BY id`, sut)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Pitfall
	for rows.Next() {
		var p Pitfall
		var trigger []byte
		if err := rows.Scan(&p.ID, &trigger, &p.ErrorPattern, &p.Resolution, &p.OccurrenceCount, &p.LastOccurred); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(trigger, &p.Trigger); err != nil {
			return nil, fmt.Errorf("decode pitfall %s trigger: %w", p.ID, err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PGStore) Stats(ctx context.Context, sut string) (map[string]OperationStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT operation_id, total_attempts, successes, failures, avg_duration_ms, common_errors
		 FROM knowledge_stats WHERE sut = $1`, sut)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]OperationStats)
	for rows.Next() {
		var row OperationStats
		var commonErrors []byte
		if err := rows.Scan(&row.OperationID, &row.TotalAttempts, &row.Successes, &row.Failures, &row.AvgDurationMS, &commonErrors); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(commonErrors, &row.CommonErrors); err != nil {
			return nil, fmt.Errorf("decode stats %s errors: %w", row.OperationID, err)
		}
		out[row.OperationID] = row
	}
	return out, rows.Err()
}

func (s *PGStore) RecordAttempt(ctx context.Context, sut, operationID string, success bool, durationMS int64, errSig string) error {
	successN, failureN := int64(0), int64(0)
	errorsDelta := map[string]int64{}
	if success {
		successN = 1
	} else {
		failureN = 1
		if errSig != "" {
			errorsDelta[ErrorSignature(errSig)] = 1
		}
	}
	rawErrors, err := json.Marshal(errorsDelta)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO knowledge_stats (sut, operation_id, total_attempts, successes, failures, avg_duration_ms, common_errors)
		VALUES ($1, $2, 1, $3, $4, $5, $6)
		ON CONFLICT (sut, operation_id) DO UPDATE SET
			avg_duration_ms = (knowledge_stats.avg_duration_ms * knowledge_stats.total_attempts + $5) / (knowledge_stats.total_attempts + 1),
			total_attempts  = knowledge_stats.total_attempts + 1,
			successes       = knowledge_stats.successes + $3,
			failures        = knowledge_stats.failures + $4,
			common_errors   = (
				SELECT COALESCE(jsonb_object_agg(key, total), '{}') FROM (
					SELECT key, SUM(value::bigint) AS total
					FROM (
						SELECT * FROM jsonb_each_text(knowledge_stats.common_errors)
						UNION ALL
						SELECT * FROM jsonb_each_text($6::jsonb)
					) merged GROUP BY key
				) summed
			)`,
		sut, operationID, successN, failureN, float64(durationMS), rawErrors)
	return err
}

func (s *PGStore) UpsertPattern(ctx context.Context, sut string, p Pattern) error {
	trigger, err := json.Marshal(p.Trigger)
	if err != nil {
		return err
	}
	steps, err := json.Marshal(p.Steps)
	if err != nil {
		return err
	}
	var lastUsed *time.Time
	if !p.LastUsed.IsZero() {
		lastUsed = &p.LastUsed
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO knowledge_patterns (sut, id, name, trigger, steps, step_sig, success_count, failure_count, last_used)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (sut, step_sig) DO UPDATE SET
			success_count = knowledge_patterns.success_count + $7,
			failure_count = knowledge_patterns.failure_count + $8,
			last_used     = GREATEST(knowledge_patterns.last_used, $9)`,
		sut, p.ID, p.Name, trigger, steps, p.StepSignature(), p.SuccessCount, p.FailureCount, lastUsed)
	return err
}

func (s *PGStore) RecordPatternOutcome(ctx context.Context, sut, patternID string, success bool) error {
	successN, failureN := int64(0), int64(0)
	if success {
		successN = 1
	} else {
		failureN = 1
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE knowledge_patterns
		SET success_count = success_count + $3,
		    failure_count = failure_count + $4,
		    last_used = now()
		WHERE sut = $1 AND id = $2`,
		sut, patternID, successN, failureN)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pattern %q not found for sut %q", patternID, sut)
	}
	return nil
}

func (s *PGStore) UpsertPitfall(ctx context.Context, sut string, p Pitfall) error {
	trigger, err := json.Marshal(p.Trigger)
	if err != nil {
		return err
	}
	occurrences := p.OccurrenceCount
	if occurrences == 0 {
		occurrences = 1
	}
	var lastOccurred *time.Time
	if !p.LastOccurred.IsZero() {
		lastOccurred = &p.LastOccurred
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO knowledge_pitfalls (sut, id, structural_key, trigger, error_pattern, resolution, occurrence_count, last_occurred)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (sut, structural_key) DO UPDATE SET
			occurrence_count = knowledge_pitfalls.occurrence_count + $7,
			last_occurred    = GREATEST(knowledge_pitfalls.last_occurred, $8),
			resolution       = CASE WHEN knowledge_pitfalls.resolution = '' THEN $6 ELSE knowledge_pitfalls.resolution END`,
		sut, p.ID, p.Trigger.Key(p.ErrorPattern), trigger, p.ErrorPattern, p.Resolution, occurrences, lastOccurred)
	return err
}

// Close releases the connection pool.
func (s *PGStore) Close() error {
	s.pool.Close()
	return nil
}
