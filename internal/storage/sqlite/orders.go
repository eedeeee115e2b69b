package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/dvp-settlement/internal/registry"
	"github.com/jcmexdev/dvp-settlement/internal/settlement"
)

var _ registry.Store = (*OrderStore)(nil)

// OrderStore is the SQLite implementation of registry.Store. Every method
// that touches an index runs in one transaction with the record change.
type OrderStore struct {
	db *sql.DB
}

const orderColumns = `id, business_id, units_required, aux_detail, aux_address, ledger_ref, currency,
	amount, issued_amount, sender, receiver, status, mint_time, holder, approved`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (registry.Order, error) {
	var (
		o                    registry.Order
		units, aux           string
		amount, issued       string
		mintTime             string
		status               int
		auxAddr, ledgerRef   string
		sender, receiver     string
		holder, approved, id string
	)
	err := row.Scan(&id, &o.BusinessID, &units, &aux, &auxAddr, &ledgerRef, &o.Currency,
		&amount, &issued, &sender, &receiver, &status, &mintTime, &holder, &approved)
	if err != nil {
		return registry.Order{}, err
	}

	o.ID = settlement.OrderID(id)
	o.AuxAddress = settlement.Address(auxAddr)
	o.LedgerRef = settlement.Address(ledgerRef)
	o.Sender = settlement.Address(sender)
	o.Receiver = settlement.Address(receiver)
	o.Holder = settlement.Address(holder)
	o.Approved = settlement.Address(approved)
	o.Status = settlement.Status(status)

	if o.UnitsRequired, err = parseUint(units); err != nil {
		return registry.Order{}, err
	}
	if o.AuxDetail, err = parseUint(aux); err != nil {
		return registry.Order{}, err
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return registry.Order{}, fmt.Errorf("sqlite: parse amount %q: %w", amount, err)
	}
	if o.IssuedAmount, err = decimal.NewFromString(issued); err != nil {
		return registry.Order{}, fmt.Errorf("sqlite: parse issued amount %q: %w", issued, err)
	}
	if o.MintTime, err = parseRFC3339(mintTime); err != nil {
		return registry.Order{}, err
	}
	return o, nil
}

func (s *OrderStore) Get(ctx context.Context, id settlement.OrderID) (registry.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, string(id))
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Order{}, fmt.Errorf("order %q: %w", id, settlement.ErrNotFound)
	}
	if err != nil {
		return registry.Order{}, fmt.Errorf("sqlite: get order %q: %w", id, err)
	}
	return o, nil
}

func (s *OrderStore) Used(ctx context.Context, id settlement.OrderID) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM used_ids WHERE id = ?`, string(id)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: used %q: %w", id, err)
	}
	return n > 0, nil
}

func (s *OrderStore) Insert(ctx context.Context, o registry.Order) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		var n int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE id = ?`, string(o.ID)).Scan(&n); err != nil {
			return fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
		}
		if n > 0 {
			return fmt.Errorf("order %q: %w", o.ID, settlement.ErrDuplicate)
		}

		const q = `INSERT INTO orders (` + orderColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err := tx.ExecContext(ctx, q,
			string(o.ID),
			o.BusinessID,
			strconv.FormatUint(o.UnitsRequired, 10),
			strconv.FormatUint(o.AuxDetail, 10),
			string(o.AuxAddress),
			string(o.LedgerRef),
			o.Currency,
			o.Amount.String(),
			o.IssuedAmount.String(),
			string(o.Sender),
			string(o.Receiver),
			int(o.Status),
			formatTime(o.MintTime),
			string(o.Holder),
			string(o.Approved),
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert order %q: %w", o.ID, err)
		}

		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO used_ids (id) VALUES (?)`, string(o.ID)); err != nil {
			return fmt.Errorf("sqlite: tombstone %q: %w", o.ID, err)
		}
		if err := appendHolder(ctx, tx, o.Holder, o.ID); err != nil {
			return err
		}
		if o.BusinessID != "" {
			if err := setBusiness(ctx, tx, o.BusinessID, o.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *OrderStore) Update(ctx context.Context, expect settlement.Status, o registry.Order) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		var (
			status int
			holder string
		)
		err := tx.QueryRowContext(ctx, `SELECT status, holder FROM orders WHERE id = ?`, string(o.ID)).Scan(&status, &holder)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("order %q: %w", o.ID, settlement.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("sqlite: update order %q: %w", o.ID, err)
		}
		if settlement.Status(status) != expect {
			return &settlement.StatusError{ID: o.ID, Want: expect, Actual: settlement.Status(status)}
		}

		const q = `UPDATE orders SET amount = ?, status = ?, holder = ?, approved = ? WHERE id = ? AND status = ?`
		if _, err := tx.ExecContext(ctx, q,
			o.Amount.String(), int(o.Status), string(o.Holder), string(o.Approved), string(o.ID), int(expect),
		); err != nil {
			return fmt.Errorf("sqlite: update order %q: %w", o.ID, err)
		}

		if !settlement.Address(holder).Equal(o.Holder) {
			if err := removeHolder(ctx, tx, o.ID); err != nil {
				return err
			}
			if err := appendHolder(ctx, tx, o.Holder, o.ID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *OrderStore) Delete(ctx context.Context, id settlement.OrderID) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		business, err := businessOf(ctx, tx, id)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, string(id)); err != nil {
			return fmt.Errorf("sqlite: delete order %q: %w", id, err)
		}
		if err := removeHolder(ctx, tx, id); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM business_ids WHERE business_id = ? AND order_id = ?`, business, string(id),
		); err != nil {
			return fmt.Errorf("sqlite: delete business id of %q: %w", id, err)
		}
		return nil
	})
}

func (s *OrderStore) Discard(ctx context.Context, id settlement.OrderID, prevBusiness settlement.OrderID) error {
	return inTx(ctx, s.db, func(tx *sql.Tx) error {
		business, err := businessOf(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, q := range []string{
			`DELETE FROM orders WHERE id = ?`,
			`DELETE FROM used_ids WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, q, string(id)); err != nil {
				return fmt.Errorf("sqlite: discard order %q: %w", id, err)
			}
		}
		if err := removeHolder(ctx, tx, id); err != nil {
			return err
		}

		if business == "" {
			return nil
		}
		if prevBusiness == settlement.NoOrder {
			if _, err := tx.ExecContext(ctx, `DELETE FROM business_ids WHERE business_id = ?`, business); err != nil {
				return fmt.Errorf("sqlite: discard business id %q: %w", business, err)
			}
			return nil
		}
		return setBusiness(ctx, tx, business, prevBusiness)
	})
}

func (s *OrderStore) ByBusinessID(ctx context.Context, businessID string) (settlement.OrderID, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT order_id FROM business_ids WHERE business_id = ?`, businessID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return settlement.NoOrder, nil
	}
	if err != nil {
		return settlement.NoOrder, fmt.Errorf("sqlite: by business id %q: %w", businessID, err)
	}
	return settlement.OrderID(id), nil
}

func (s *OrderStore) ByHolder(ctx context.Context, holder settlement.Address) ([]settlement.OrderID, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT order_id FROM holder_index WHERE holder = ? ORDER BY seq`, string(holder.Normalize()))
	if err != nil {
		return nil, fmt.Errorf("sqlite: by holder %q: %w", holder, err)
	}
	defer rows.Close()

	ids := make([]settlement.OrderID, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scan holder index: %w", err)
		}
		ids = append(ids, settlement.OrderID(id))
	}
	return ids, rows.Err()
}

func (s *OrderStore) SetOperator(ctx context.Context, holder, operator settlement.Address, approved bool) error {
	q := `DELETE FROM operators WHERE holder = ? AND operator = ?`
	if approved {
		q = `INSERT OR IGNORE INTO operators (holder, operator) VALUES (?, ?)`
	}
	if _, err := s.db.ExecContext(ctx, q, string(holder.Normalize()), string(operator.Normalize())); err != nil {
		return fmt.Errorf("sqlite: set operator: %w", err)
	}
	return nil
}

func (s *OrderStore) IsOperator(ctx context.Context, holder, operator settlement.Address) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM operators WHERE holder = ? AND operator = ?`,
		string(holder.Normalize()), string(operator.Normalize()),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: is operator: %w", err)
	}
	return n > 0, nil
}

func (s *OrderStore) LoadState(ctx context.Context) (registry.State, error) {
	var paused int
	err := s.db.QueryRowContext(ctx, `SELECT paused FROM registry_state WHERE id = 1`).Scan(&paused)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.State{}, nil
	}
	if err != nil {
		return registry.State{}, fmt.Errorf("sqlite: load registry state: %w", err)
	}
	return registry.State{Paused: paused != 0}, nil
}

func (s *OrderStore) SaveState(ctx context.Context, st registry.State) error {
	const q = `
		INSERT INTO registry_state (id, paused) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET paused = excluded.paused`
	if _, err := s.db.ExecContext(ctx, q, boolToInt(st.Paused)); err != nil {
		return fmt.Errorf("sqlite: save registry state: %w", err)
	}
	return nil
}

func appendHolder(ctx context.Context, tx *sql.Tx, holder settlement.Address, id settlement.OrderID) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO holder_index (holder, order_id) VALUES (?, ?)`, string(holder.Normalize()), string(id),
	); err != nil {
		return fmt.Errorf("sqlite: index holder of %q: %w", id, err)
	}
	return nil
}

func removeHolder(ctx context.Context, tx *sql.Tx, id settlement.OrderID) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM holder_index WHERE order_id = ?`, string(id)); err != nil {
		return fmt.Errorf("sqlite: unindex holder of %q: %w", id, err)
	}
	return nil
}

func setBusiness(ctx context.Context, tx *sql.Tx, business string, id settlement.OrderID) error {
	const q = `
		INSERT INTO business_ids (business_id, order_id) VALUES (?, ?)
		ON CONFLICT(business_id) DO UPDATE SET order_id = excluded.order_id`
	if _, err := tx.ExecContext(ctx, q, business, string(id)); err != nil {
		return fmt.Errorf("sqlite: index business id %q: %w", business, err)
	}
	return nil
}

func businessOf(ctx context.Context, tx *sql.Tx, id settlement.OrderID) (string, error) {
	var business string
	err := tx.QueryRowContext(ctx, `SELECT business_id FROM orders WHERE id = ?`, string(id)).Scan(&business)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("order %q: %w", id, settlement.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("sqlite: read order %q: %w", id, err)
	}
	return business, nil
}
