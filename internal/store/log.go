package store

import (
	"context"
	"fmt"

	"github.com/qpdb/mentat/internal/ir"
)

// Transactions returns the transaction log after the given tx entid.
// Pass 0 to read from tx0. Datoms within a transaction are returned in
// application order; retractions carry Added=false.
//
// Returns an empty slice (not nil) if no transactions follow afterTx.
func (s *Store) Transactions(ctx context.Context, afterTx ir.Entid) ([]ir.TxRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.tx, m.uuid, m.instant, t.e, COALESCE(a.v, ''), t.v, t.value_type_tag, t.added
		FROM tx_meta m
		JOIN transactions t ON t.tx = m.tx
		LEFT JOIN datoms a ON a.e = t.a AND a.a = ?
		WHERE m.tx > ?
		ORDER BY m.tx ASC, t.id ASC
	`, int64(entIdent), int64(afterTx))
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	records := []ir.TxRecord{}
	for rows.Next() {
		var (
			tx, e, instant int64
			txUUID         string
			rawAttr        any
			rawVal         any
			tag            int
			added          bool
		)
		if err := rows.Scan(&tx, &txUUID, &instant, &e, &rawAttr, &rawVal, &tag, &added); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		v, err := decodeValue(rawVal, tag)
		if err != nil {
			return nil, err
		}

		if n := len(records); n == 0 || records[n-1].TxID != ir.Entid(tx) {
			records = append(records, ir.TxRecord{
				TxID:    ir.Entid(tx),
				UUID:    txUUID,
				Instant: ir.Instant(instant).Time(),
			})
		}
		rec := &records[len(records)-1]
		rec.Datoms = append(rec.Datoms, ir.Datom{
			E:     ir.Entid(e),
			A:     ir.Keyword(textOf(rawAttr)),
			V:     v,
			Tx:    ir.Entid(tx),
			Added: added,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transactions: %w", err)
	}
	return records, nil
}

func textOf(raw any) string {
	switch t := raw.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	default:
		return ""
	}
}
