package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jcmexdev/dvp-settlement/internal/coordinator"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

var _ coordinator.StateStore = (*StateStore)(nil)

// StateStore keeps the single coordinator_state row and the custody markers
// in coordinator_custody.
type StateStore struct {
	db *sql.DB
}

func (s *StateStore) Load(ctx context.Context) (coordinator.State, error) {
	const q = `SELECT registry_ref, admin, paused, version_tag, initialized FROM coordinator_state WHERE id = 1`

	var (
		st                  coordinator.State
		registryRef, admin  string
		paused, initialized int
	)
	err := s.db.QueryRowContext(ctx, q).Scan(&registryRef, &admin, &paused, &st.VersionTag, &initialized)
	if errors.Is(err, sql.ErrNoRows) {
		return coordinator.State{}, nil
	}
	if err != nil {
		return coordinator.State{}, fmt.Errorf("sqlite: load coordinator state: %w", err)
	}
	st.RegistryRef = settlement.Address(registryRef)
	st.Admin = settlement.Address(admin)
	st.Paused = paused != 0
	st.Initialized = initialized != 0

	st.Delivered, err = s.loadCustody(ctx)
	if err != nil {
		return coordinator.State{}, err
	}
	return st, nil
}

// loadCustody returns nil when no order has units in custody.
func (s *StateStore) loadCustody(ctx context.Context) (map[settlement.OrderID]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT order_id, units FROM coordinator_custody`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load custody: %w", err)
	}
	defer rows.Close()

	var out map[settlement.OrderID]uint64
	for rows.Next() {
		var id, units string
		if err := rows.Scan(&id, &units); err != nil {
			return nil, fmt.Errorf("sqlite: scan custody: %w", err)
		}
		n, err := strconv.ParseUint(units, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("sqlite: custody of %q: %w", id, err)
		}
		if out == nil {
			out = make(map[settlement.OrderID]uint64)
		}
		out[settlement.OrderID(id)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: load custody: %w", err)
	}
	return out, nil
}

func (s *StateStore) Save(ctx context.Context, st coordinator.State) error {
	const q = `
		INSERT INTO coordinator_state (id, registry_ref, admin, paused, version_tag, initialized)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			registry_ref = excluded.registry_ref,
			admin        = excluded.admin,
			paused       = excluded.paused,
			version_tag  = excluded.version_tag,
			initialized  = excluded.initialized`

	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, q,
			string(st.RegistryRef),
			string(st.Admin),
			boolToInt(st.Paused),
			st.VersionTag,
			boolToInt(st.Initialized),
		)
		if err != nil {
			return fmt.Errorf("sqlite: save coordinator state: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM coordinator_custody`); err != nil {
			return fmt.Errorf("sqlite: clear custody: %w", err)
		}
		for id, units := range st.Delivered {
			_, err := tx.ExecContext(ctx, `INSERT INTO coordinator_custody (order_id, units) VALUES (?, ?)`,
				string(id), strconv.FormatUint(units, 10))
			if err != nil {
				return fmt.Errorf("sqlite: save custody of %q: %w", id, err)
			}
		}
		return nil
	})
}
