package ledger

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/tunnelpay/internal/domain"
)

// PostgresStore is the production Store. Per-tunnel linearizability comes
// from row-level locking: every mutation runs in a transaction that takes
// SELECT ... FOR UPDATE on the tunnel row, so two charges against the same
// tunnel serialize while distinct tunnels proceed in parallel.
type PostgresStore struct {
	db *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &PostgresStore{db: pool}, nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

const tunnelColumns = "id, owner, payer_public_key, total_deposited, claimed_amount, pending_amount, nonce, latest_signature, status, created_at"

func scanTunnel(row pgx.Row) (*domain.Tunnel, error) {
	var (
		t                                  domain.Tunnel
		id, payerPub, signature            []byte
		deposited, claimed, pending, nonce int64
		status                             string
	)
	err := row.Scan(&id, &t.Owner, &payerPub, &deposited, &claimed, &pending, &nonce, &signature, &status, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTunnelNotFound
		}
		return nil, err
	}
	copy(t.ID[:], id)
	t.PayerPublicKey = ed25519.PublicKey(payerPub)
	t.TotalDeposited = uint64(deposited)
	t.ClaimedAmount = uint64(claimed)
	t.PendingAmount = uint64(pending)
	t.Nonce = uint64(nonce)
	t.LatestSignature = signature
	t.Status = domain.Status(status)
	return &t, nil
}

func (s *PostgresStore) Create(ctx context.Context, id domain.TunnelID, owner string, payerPub ed25519.PublicKey, totalDeposited uint64) (*domain.Tunnel, error) {
	if err := checkDeposit(0, totalDeposited); err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx,
		`INSERT INTO tunnels (id, owner, payer_public_key, total_deposited, claimed_amount, pending_amount, nonce, status)
		 VALUES ($1, $2, $3, $4, 0, 0, 0, $5)
		 RETURNING `+tunnelColumns,
		id[:], owner, []byte(payerPub), int64(totalDeposited), string(domain.StatusActive))
	t, err := scanTunnel(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrTunnelExists
		}
		return nil, fmt.Errorf("tunnel insert failed: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) Get(ctx context.Context, id domain.TunnelID) (*domain.Tunnel, error) {
	row := s.db.QueryRow(ctx, "SELECT "+tunnelColumns+" FROM tunnels WHERE id = $1", id[:])
	return scanTunnel(row)
}

func (s *PostgresStore) ListByOwner(ctx context.Context, owner string) ([]*domain.Tunnel, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+tunnelColumns+" FROM tunnels WHERE owner = $1 ORDER BY created_at DESC", owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tunnels := make([]*domain.Tunnel, 0)
	for rows.Next() {
		t, err := scanTunnel(rows)
		if err != nil {
			return nil, err
		}
		tunnels = append(tunnels, t)
	}
	return tunnels, rows.Err()
}

// withTunnelLock runs fn inside a transaction holding the row lock for id.
func (s *PostgresStore) withTunnelLock(ctx context.Context, id domain.TunnelID, fn func(tx pgx.Tx, t *domain.Tunnel) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, "SELECT "+tunnelColumns+" FROM tunnels WHERE id = $1 FOR UPDATE", id[:])
	t, err := scanTunnel(row)
	if err != nil {
		return err
	}
	if err := fn(tx, t); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) ApplyTopup(ctx context.Context, id domain.TunnelID, amount uint64) error {
	return s.withTunnelLock(ctx, id, func(tx pgx.Tx, t *domain.Tunnel) error {
		if err := checkDeposit(t.TotalDeposited, amount); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			"UPDATE tunnels SET total_deposited = total_deposited + $1 WHERE id = $2",
			int64(amount), id[:])
		return err
	})
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id domain.TunnelID, next domain.Status) error {
	return s.withTunnelLock(ctx, id, func(tx pgx.Tx, t *domain.Tunnel) error {
		if !t.Status.CanTransition(next) {
			return domain.ErrInvalidTransition
		}
		_, err := tx.Exec(ctx, "UPDATE tunnels SET status = $1 WHERE id = $2", string(next), id[:])
		return err
	})
}

func (s *PostgresStore) CompareAndAdvance(ctx context.Context, id domain.TunnelID, charge, expectedNonce uint64, signature []byte) (uint64, uint64, error) {
	var newCumulative, newNonce uint64
	err := s.withTunnelLock(ctx, id, func(tx pgx.Tx, t *domain.Tunnel) error {
		if err := checkAdvance(t, charge, expectedNonce); err != nil {
			return err
		}
		t.PendingAmount += charge
		t.Nonce++
		_, err := tx.Exec(ctx,
			"UPDATE tunnels SET pending_amount = $1, nonce = $2, latest_signature = $3 WHERE id = $4",
			int64(t.PendingAmount), int64(t.Nonce), signature, id[:])
		if err != nil {
			return fmt.Errorf("charge update failed: %w", err)
		}
		newCumulative = t.Cumulative()
		newNonce = t.Nonce
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return newCumulative, newNonce, nil
}

func (s *PostgresStore) Reconcile(ctx context.Context, id domain.TunnelID, settledCumulative uint64) (*domain.Tunnel, error) {
	var settled *domain.Tunnel
	err := s.withTunnelLock(ctx, id, func(tx pgx.Tx, t *domain.Tunnel) error {
		if err := checkReconcile(t, settledCumulative); err != nil {
			return err
		}
		t.PendingAmount = t.Cumulative() - settledCumulative
		t.ClaimedAmount = settledCumulative
		_, err := tx.Exec(ctx,
			"UPDATE tunnels SET claimed_amount = $1, pending_amount = $2 WHERE id = $3",
			int64(t.ClaimedAmount), int64(t.PendingAmount), id[:])
		if err != nil {
			return fmt.Errorf("reconcile update failed: %w", err)
		}
		settled = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}
