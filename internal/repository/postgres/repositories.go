package postgres

import "github.com/jackc/pgx/v5/pgxpool"

// Repositories groups concrete PostgreSQL repository implementations.
type Repositories struct {
	Matches *MatchRepository
	Reports *ReportRepository
	Outbox  *OutboxRepository
}

// NewRepositories wires all repositories backed by the provided pool.
func NewRepositories(pool *pgxpool.Pool, outboxMaxAttempts int) *Repositories {
	outbox := NewOutboxRepository(pool, outboxMaxAttempts)
	return &Repositories{
		Matches: NewMatchRepository(pool).WithOutbox(outbox),
		Reports: NewReportRepository(pool),
		Outbox:  outbox,
	}
}
