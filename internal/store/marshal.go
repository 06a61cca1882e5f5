package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/qpdb/mentat/internal/ir"
)

// Value type tags stored alongside each value. The v column has no type
// affinity, so SQLite keeps integers, reals, text and blobs as given; the
// tag disambiguates values that share a storage class (ref/long/instant).
const (
	tagRef     = 0
	tagBoolean = 1
	tagInstant = 4
	tagLong    = 5
	tagDouble  = 6
	tagString  = 10
	tagUUID    = 11
	tagKeyword = 13
)

// encodeValue converts a resolved value to its SQL representation and tag.
// TempIDs must be resolved to Entids before encoding.
func encodeValue(v ir.Value) (any, int, error) {
	switch val := v.(type) {
	case ir.Entid:
		return int64(val), tagRef, nil
	case ir.Bool:
		if val {
			return int64(1), tagBoolean, nil
		}
		return int64(0), tagBoolean, nil
	case ir.Instant:
		return int64(val), tagInstant, nil
	case ir.Long:
		return int64(val), tagLong, nil
	case ir.Double:
		return float64(val), tagDouble, nil
	case ir.String:
		return string(val), tagString, nil
	case ir.UUID:
		b := uuid.UUID(val)
		return b[:], tagUUID, nil
	case ir.Keyword:
		return string(val), tagKeyword, nil
	default:
		return nil, 0, fmt.Errorf("encode value: unsupported %T", v)
	}
}

// decodeValue converts a stored value back using its tag.
// go-sqlite3 may return TEXT as string or []byte depending on how it was
// bound, so both are accepted.
func decodeValue(raw any, tag int) (ir.Value, error) {
	switch tag {
	case tagRef, tagBoolean, tagInstant, tagLong:
		n, ok := raw.(int64)
		if !ok {
			return nil, fmt.Errorf("decode value: tag %d expects integer, got %T", tag, raw)
		}
		switch tag {
		case tagRef:
			return ir.Entid(n), nil
		case tagBoolean:
			return ir.Bool(n != 0), nil
		case tagInstant:
			return ir.Instant(n), nil
		default:
			return ir.Long(n), nil
		}
	case tagDouble:
		switch f := raw.(type) {
		case float64:
			return ir.Double(f), nil
		case int64:
			return ir.Double(float64(f)), nil
		}
		return nil, fmt.Errorf("decode value: tag %d expects real, got %T", tag, raw)
	case tagString, tagKeyword:
		var s string
		switch t := raw.(type) {
		case string:
			s = t
		case []byte:
			s = string(t)
		default:
			return nil, fmt.Errorf("decode value: tag %d expects text, got %T", tag, raw)
		}
		if tag == tagKeyword {
			return ir.Keyword(s), nil
		}
		return ir.String(s), nil
	case tagUUID:
		b, ok := raw.([]byte)
		if !ok {
			return nil, fmt.Errorf("decode value: tag %d expects blob, got %T", tag, raw)
		}
		u, err := uuid.FromBytes(b)
		if err != nil {
			return nil, fmt.Errorf("decode value: %w", err)
		}
		return ir.UUID(u), nil
	default:
		return nil, fmt.Errorf("decode value: unknown tag %d", tag)
	}
}

// valueTypeTag returns the tag used for values of an attribute type.
func valueTypeTag(t ir.ValueType) int {
	switch t {
	case ir.ValueTypeRef:
		return tagRef
	case ir.ValueTypeBoolean:
		return tagBoolean
	case ir.ValueTypeInstant:
		return tagInstant
	case ir.ValueTypeLong:
		return tagLong
	case ir.ValueTypeDouble:
		return tagDouble
	case ir.ValueTypeString:
		return tagString
	case ir.ValueTypeUUID:
		return tagUUID
	default:
		return tagKeyword
	}
}

// insertDatom asserts (e a v) at tx and records the assertion in the log.
func insertDatom(ctx context.Context, q querier, e, a ir.Entid, v ir.Value, tx ir.Entid) error {
	raw, tag, err := encodeValue(v)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx,
		"INSERT INTO datoms (e, a, v, value_type_tag, tx) VALUES (?, ?, ?, ?, ?)",
		int64(e), int64(a), raw, tag, int64(tx),
	); err != nil {
		return fmt.Errorf("insert datom (%d %d %s): %w", e, a, ir.FormatValue(v), err)
	}
	return logDatom(ctx, q, e, a, raw, tag, tx, true)
}

// deleteDatom retracts (e a v) at tx and records the retraction in the log.
func deleteDatom(ctx context.Context, q querier, e, a ir.Entid, v ir.Value, tx ir.Entid) error {
	raw, tag, err := encodeValue(v)
	if err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx,
		"DELETE FROM datoms WHERE e = ? AND a = ? AND value_type_tag = ? AND v = ?",
		int64(e), int64(a), tag, raw,
	); err != nil {
		return fmt.Errorf("delete datom (%d %d %s): %w", e, a, ir.FormatValue(v), err)
	}
	return logDatom(ctx, q, e, a, raw, tag, tx, false)
}

func logDatom(ctx context.Context, q querier, e, a ir.Entid, raw any, tag int, tx ir.Entid, added bool) error {
	if _, err := q.ExecContext(ctx,
		"INSERT INTO transactions (e, a, v, value_type_tag, tx, added) VALUES (?, ?, ?, ?, ?, ?)",
		int64(e), int64(a), raw, tag, int64(tx), added,
	); err != nil {
		return fmt.Errorf("log datom: %w", err)
	}
	return nil
}
