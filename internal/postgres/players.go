package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/steptrack/steptrack/internal/domain"
)

// CreatePlayer registers a player under an already-derived API key.
func (s *Store) CreatePlayer(ctx context.Context, apiKey, machineTag, name string) (*domain.Player, error) {
	query := `
		INSERT INTO players (api_key, machine_tag, name)
		VALUES ($1, $2, NULLIF($3, ''))
		RETURNING id, created_at
	`
	player := domain.Player{
		APIKey:     apiKey,
		MachineTag: machineTag,
		Name:       name,
	}
	err := s.pool.QueryRow(ctx, query, apiKey, machineTag, name).
		Scan(&player.ID, &player.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrPlayerExists
		}
		return nil, fmt.Errorf("creating player: %w", err)
	}
	return &player, nil
}

// PlayerByAPIKey resolves a player by its derived API key.
func (s *Store) PlayerByAPIKey(ctx context.Context, apiKey string) (*domain.Player, error) {
	query := `
		SELECT id, api_key, machine_tag, COALESCE(name, ''), created_at
		FROM players
		WHERE api_key = $1
	`
	player, err := scanPlayer(s.pool.QueryRow(ctx, query, apiKey))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUnknownAPIKey
		}
		return nil, fmt.Errorf("getting player by api key: %w", err)
	}
	return player, nil
}

// Player returns a player by id.
func (s *Store) Player(ctx context.Context, id int64) (*domain.Player, error) {
	query := `
		SELECT id, api_key, machine_tag, COALESCE(name, ''), created_at
		FROM players
		WHERE id = $1
	`
	player, err := scanPlayer(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player: %w", err)
	}
	return player, nil
}

func scanPlayer(row pgx.Row) (*domain.Player, error) {
	var p domain.Player
	err := row.Scan(&p.ID, &p.APIKey, &p.MachineTag, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// AddRival declares rivalID a rival of playerID. The relation is
// one-directional and adding an existing rival is a no-op. Self-rivalry is
// rejected by the caller before reaching the store; the table CHECK is the
// backstop.
func (s *Store) AddRival(ctx context.Context, playerID, rivalID int64) error {
	query := `
		INSERT INTO rivals (player_id, rival_id)
		VALUES ($1, $2)
		ON CONFLICT (player_id, rival_id) DO NOTHING
	`
	_, err := s.pool.Exec(ctx, query, playerID, rivalID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23514":
				return domain.ErrSelfRival
			case "23503":
				return domain.ErrPlayerNotFound
			}
		}
		return fmt.Errorf("adding rival: %w", err)
	}
	return nil
}

// RemoveRival removes a rival declaration.
func (s *Store) RemoveRival(ctx context.Context, playerID, rivalID int64) error {
	result, err := s.pool.Exec(ctx,
		`DELETE FROM rivals WHERE player_id = $1 AND rival_id = $2`, playerID, rivalID)
	if err != nil {
		return fmt.Errorf("removing rival: %w", err)
	}
	if result.RowsAffected() == 0 {
		return domain.ErrPlayerNotFound
	}
	return nil
}

// Rivals returns the players the given player has declared as rivals.
func (s *Store) Rivals(ctx context.Context, playerID int64) ([]domain.Player, error) {
	query := `
		SELECT p.id, p.api_key, p.machine_tag, COALESCE(p.name, ''), p.created_at
		FROM players p
		JOIN rivals r ON r.rival_id = p.id
		WHERE r.player_id = $1
		ORDER BY p.id
	`
	rows, err := s.pool.Query(ctx, query, playerID)
	if err != nil {
		return nil, fmt.Errorf("listing rivals: %w", err)
	}
	defer rows.Close()

	var out []domain.Player
	for rows.Next() {
		p, err := scanPlayer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning rival: %w", err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading rivals: %w", err)
	}
	return out, nil
}
