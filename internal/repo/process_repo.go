package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shaiso/Conveyor/internal/domain"
)

// ProcessRepo — репозиторий для работы с определениями процессов.
type ProcessRepo struct {
	pool *pgxpool.Pool
}

// NewProcessRepo создаёт новый ProcessRepo.
func NewProcessRepo(pool *pgxpool.Pool) *ProcessRepo {
	return &ProcessRepo{pool: pool}
}

// Create создаёт новый процесс.
func (r *ProcessRepo) Create(ctx context.Context, proc *domain.Process) error {
	activitiesJSON, err := json.Marshal(proc.Activities)
	if err != nil {
		return fmt.Errorf("marshal activities: %w", err)
	}

	query := `
		INSERT INTO processes (id, name, start_activity, activities, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err = r.pool.Exec(ctx, query,
		proc.ID,
		proc.Name,
		proc.StartActivity,
		activitiesJSON,
		proc.IsActive,
		proc.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert process: %w", err)
	}
	return nil
}

// GetByID возвращает процесс по ID.
func (r *ProcessRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Process, error) {
	query := `
		SELECT id, name, start_activity, activities, is_active, created_at
		FROM processes
		WHERE id = $1
	`
	return r.scanProcess(r.pool.QueryRow(ctx, query, id))
}

// GetByName возвращает процесс по имени.
func (r *ProcessRepo) GetByName(ctx context.Context, name string) (*domain.Process, error) {
	query := `
		SELECT id, name, start_activity, activities, is_active, created_at
		FROM processes
		WHERE name = $1
	`
	return r.scanProcess(r.pool.QueryRow(ctx, query, name))
}

// List возвращает список процессов.
func (r *ProcessRepo) List(ctx context.Context, limit, offset int) ([]domain.Process, error) {
	query := `
		SELECT id, name, start_activity, activities, is_active, created_at
		FROM processes
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}
	defer rows.Close()

	var procs []domain.Process
	for rows.Next() {
		proc, err := r.scanProcessFromRows(rows)
		if err != nil {
			return nil, err
		}
		procs = append(procs, *proc)
	}
	return procs, rows.Err()
}

// Update обновляет процесс.
func (r *ProcessRepo) Update(ctx context.Context, proc *domain.Process) error {
	activitiesJSON, err := json.Marshal(proc.Activities)
	if err != nil {
		return fmt.Errorf("marshal activities: %w", err)
	}

	query := `
		UPDATE processes
		SET name = $2, start_activity = $3, activities = $4, is_active = $5
		WHERE id = $1
	`
	result, err := r.pool.Exec(ctx, query,
		proc.ID,
		proc.Name,
		proc.StartActivity,
		activitiesJSON,
		proc.IsActive,
	)
	if err != nil {
		return fmt.Errorf("update process: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет процесс.
func (r *ProcessRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM processes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete process: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Helpers ---

func (r *ProcessRepo) scanProcess(row pgx.Row) (*domain.Process, error) {
	var proc domain.Process
	var activitiesJSON []byte

	err := row.Scan(
		&proc.ID,
		&proc.Name,
		&proc.StartActivity,
		&activitiesJSON,
		&proc.IsActive,
		&proc.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan process: %w", err)
	}

	if activitiesJSON != nil {
		if err := json.Unmarshal(activitiesJSON, &proc.Activities); err != nil {
			return nil, fmt.Errorf("unmarshal activities: %w", err)
		}
	}

	return &proc, nil
}

func (r *ProcessRepo) scanProcessFromRows(rows pgx.Rows) (*domain.Process, error) {
	var proc domain.Process
	var activitiesJSON []byte

	err := rows.Scan(
		&proc.ID,
		&proc.Name,
		&proc.StartActivity,
		&activitiesJSON,
		&proc.IsActive,
		&proc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan process: %w", err)
	}

	if activitiesJSON != nil {
		if err := json.Unmarshal(activitiesJSON, &proc.Activities); err != nil {
			return nil, fmt.Errorf("unmarshal activities: %w", err)
		}
	}

	return &proc, nil
}
