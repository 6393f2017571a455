package ticket

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/uma-engine/go-core/pkg/types"
)

// pq error code for unique_violation
const pqUniqueViolation = "23505"

// PostgresStore persists permission tickets in PostgreSQL. The unique
// index on (resource_id, scope_id, requester) makes duplicate rejection
// atomic at the database level.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a ticket store over an open database handle
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a ticket, mapping a unique violation to a ConflictError
func (s *PostgresStore) Create(ctx context.Context, ticket *types.PermissionTicket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_tickets
			(id, resource_id, scope_id, owner, requester, granted, created_at, granted_at, resource_server_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		ticket.ID, ticket.ResourceID, ticket.ScopeID, ticket.Owner,
		ticket.Requester, ticket.Granted, ticket.CreatedTimestamp,
		ticket.GrantedTimestamp, ticket.ResourceServerID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			return &types.ConflictError{
				Entity: "permission ticket",
				Detail: ticket.ResourceID + "/" + ticket.ScopeID + "/" + ticket.Requester,
			}
		}
		return fmt.Errorf("failed to insert ticket: %w", err)
	}
	return nil
}

// Update replaces the mutable fields of a stored ticket
func (s *PostgresStore) Update(ctx context.Context, ticket *types.PermissionTicket) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE permission_tickets
		SET resource_id = $2, scope_id = $3, owner = $4, requester = $5,
			granted = $6, granted_at = $7
		WHERE id = $1 AND resource_server_id = $8`,
		ticket.ID, ticket.ResourceID, ticket.ScopeID, ticket.Owner,
		ticket.Requester, ticket.Granted, ticket.GrantedTimestamp,
		ticket.ResourceServerID,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			return &types.ConflictError{
				Entity: "permission ticket",
				Detail: ticket.ResourceID + "/" + ticket.ScopeID + "/" + ticket.Requester,
			}
		}
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &types.NotFoundError{Entity: "permission ticket", ID: ticket.ID}
	}
	return nil
}

// Delete removes a ticket
func (s *PostgresStore) Delete(ctx context.Context, serverID, id string) error {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM permission_tickets
		WHERE id = $1 AND resource_server_id = $2`,
		id, serverID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete ticket: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &types.NotFoundError{Entity: "permission ticket", ID: id}
	}
	return nil
}

// FindByID retrieves one ticket
func (s *PostgresStore) FindByID(ctx context.Context, serverID, id string) (*types.PermissionTicket, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, resource_id, scope_id, owner, requester, granted, created_at, granted_at, resource_server_id
		FROM permission_tickets
		WHERE id = $1 AND resource_server_id = $2`,
		id, serverID,
	)

	ticket, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, &types.NotFoundError{Entity: "permission ticket", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ticket: %w", err)
	}
	return ticket, nil
}

// Find filters tickets on the canonical filter keys with pagination
func (s *PostgresStore) Find(ctx context.Context, serverID string, filters map[string]string, first, max int) ([]*types.PermissionTicket, error) {
	var conditions []string
	args := []interface{}{serverID}

	addCondition := func(clause string, value interface{}) {
		args = append(args, value)
		conditions = append(conditions, fmt.Sprintf(clause, len(args)))
	}

	for key, value := range filters {
		switch key {
		case types.FilterResource:
			addCondition("resource_id = $%d", value)
		case types.FilterScope:
			addCondition("scope_id = $%d", value)
		case types.FilterScopeIsNull:
			isNull, _ := strconv.ParseBool(value)
			if isNull {
				conditions = append(conditions, "scope_id = ''")
			} else {
				conditions = append(conditions, "scope_id <> ''")
			}
		case types.FilterOwner:
			addCondition("owner = $%d", value)
		case types.FilterRequester:
			addCondition("requester = $%d", value)
		case types.FilterGranted:
			granted, _ := strconv.ParseBool(value)
			addCondition("granted = $%d", granted)
		}
	}

	query := `
		SELECT id, resource_id, scope_id, owner, requester, granted, created_at, granted_at, resource_server_id
		FROM permission_tickets
		WHERE resource_server_id = $1`
	if len(conditions) > 0 {
		query += " AND " + strings.Join(conditions, " AND ")
	}

	if max <= 0 || max > DefaultMaxResults {
		max = DefaultMaxResults
	}
	if first < 0 {
		first = 0
	}
	args = append(args, max)
	query += fmt.Sprintf(" ORDER BY created_at, id LIMIT $%d", len(args))
	args = append(args, first)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []*types.PermissionTicket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ticket: %w", err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

// DeleteByResource removes every ticket of a resource
func (s *PostgresStore) DeleteByResource(ctx context.Context, serverID, resourceID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM permission_tickets
		WHERE resource_server_id = $1 AND resource_id = $2`,
		serverID, resourceID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tickets for resource %s: %w", resourceID, err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(row rowScanner) (*types.PermissionTicket, error) {
	var t types.PermissionTicket
	var grantedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.ResourceID, &t.ScopeID, &t.Owner, &t.Requester,
		&t.Granted, &t.CreatedTimestamp, &grantedAt, &t.ResourceServerID,
	)
	if err != nil {
		return nil, err
	}
	if grantedAt.Valid {
		t.GrantedTimestamp = &grantedAt.Time
	}
	return &t, nil
}
