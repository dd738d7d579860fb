package knowledge

import "context"

// Store is the persistence boundary for per-SUT knowledge. Implementations
// must serialize mutations per (SUT, key): two concurrent RecordAttempt
// calls for the same operation both land, and N concurrent writers produce
// exactly N increments. Reads may return data that is stale by a concurrent
// write; they must never block behind a writer indefinitely.
type Store interface {
	Patterns(ctx context.Context, sut string) ([]Pattern, error)
	Pitfalls(ctx context.Context, sut string) ([]Pitfall, error)
	Stats(ctx context.Context, sut string) (map[string]OperationStats, error)

	// RecordAttempt increments the stats row for one operation attempt.
	// errSig is empty on success.
	RecordAttempt(ctx context.Context, sut, operationID string, success bool, durationMS int64, errSig string) error

	// UpsertPattern inserts the pattern or, when a pattern with the same id
	// or the same step signature already exists, merges counts into it.
	UpsertPattern(ctx context.Context, sut string, p Pattern) error

	// RecordPatternOutcome bumps a pattern's success or failure count.
	RecordPatternOutcome(ctx context.Context, sut, patternID string, success bool) error

	// UpsertPitfall inserts the pitfall or increments the occurrence count
	// of an existing pitfall with the same structural key.
	UpsertPitfall(ctx context.Context, sut string, p Pitfall) error

	Close() error
}
