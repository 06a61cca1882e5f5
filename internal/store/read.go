package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/qpdb/mentat/internal/ir"
)

// ReadVocabularies returns every committed vocabulary, including the core
// vocabulary, and every installed attribute.
//
// All reads happen inside one SQL transaction so the result is a single
// consistent snapshot. Vocabulary attributes are ordered by installation.
func (s *Store) ReadVocabularies(ctx context.Context) (ir.Vocabularies, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Vocabularies{}, fmt.Errorf("read vocabularies: begin tx: %w", err)
	}
	defer tx.Rollback() // Read-only; never committed

	sch, err := loadSchema(ctx, tx)
	if err != nil {
		return ir.Vocabularies{}, fmt.Errorf("read vocabularies: %w", err)
	}

	out := ir.NewVocabularies()
	for _, def := range sch.attrs {
		out.Attributes[def.Name] = def
	}

	versions, err := readRefs(ctx, tx, entSchemaVersion)
	if err != nil {
		return ir.Vocabularies{}, fmt.Errorf("read vocabularies: %w", err)
	}
	members, err := readRefs(ctx, tx, entSchemaAttribute)
	if err != nil {
		return ir.Vocabularies{}, fmt.Errorf("read vocabularies: %w", err)
	}

	for _, ver := range versions {
		name, ok := sch.names[ver.e]
		if !ok {
			continue
		}
		n, ok := ver.v.(ir.Long)
		if !ok || n <= 0 || n > math.MaxUint32 {
			return ir.Vocabularies{}, fmt.Errorf("read vocabularies: %s has invalid version %s", name, ir.FormatValue(ver.v))
		}
		out.ByName[name] = ir.Vocabulary{
			Name:       name,
			Entid:      ver.e,
			Version:    ir.Version(n),
			Attributes: []ir.Definition{},
		}
	}

	for _, m := range members {
		name, ok := sch.names[m.e]
		if !ok {
			continue
		}
		vocab, ok := out.ByName[name]
		if !ok {
			continue
		}
		ref, _ := m.v.(ir.Entid)
		def, ok := sch.attrs[ref]
		if !ok {
			continue
		}
		vocab.Attributes = append(vocab.Attributes, def)
		out.ByName[name] = vocab
		out.Owners[def.Name] = name
	}

	return out, nil
}

type entityValue struct {
	e ir.Entid
	v ir.Value
}

// readRefs returns every (e, v) for attribute a, ordered by entity then value.
func readRefs(ctx context.Context, q querier, a ir.Entid) ([]entityValue, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT e, v, value_type_tag
		FROM datoms
		WHERE a = ?
		ORDER BY e ASC, v ASC
	`, int64(a))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", coreName(a), err)
	}
	defer rows.Close()

	var out []entityValue
	for rows.Next() {
		var e int64
		var raw any
		var tag int
		if err := rows.Scan(&e, &raw, &tag); err != nil {
			return nil, fmt.Errorf("scan %s: %w", coreName(a), err)
		}
		v, err := decodeValue(raw, tag)
		if err != nil {
			return nil, err
		}
		out = append(out, entityValue{ir.Entid(e), v})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", coreName(a), err)
	}
	return out, nil
}

// Entity returns the current values of every attribute on one entity.
// Ref values are returned as Entids.
//
// Returns an empty map (not nil) if the entity has no datoms.
func (s *Store) Entity(ctx context.Context, ref ir.EntityRef) (map[ir.Keyword][]ir.Value, error) {
	var e ir.Entid
	switch r := ref.(type) {
	case ir.Entid:
		e = r
	case ir.Keyword:
		var err error
		if e, err = lookupIdent(ctx, s.db, r); err != nil {
			return nil, fmt.Errorf("entity: %w", err)
		}
	default:
		return nil, fmt.Errorf("entity: unsupported reference %T", ref)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT a.v, a.value_type_tag, d.v, d.value_type_tag
		FROM datoms d
		JOIN datoms a ON a.e = d.a AND a.a = ?
		WHERE d.e = ?
		ORDER BY d.a ASC, d.rowid ASC
	`, int64(entIdent), int64(e))
	if err != nil {
		return nil, fmt.Errorf("entity: query: %w", err)
	}
	defer rows.Close()

	out := make(map[ir.Keyword][]ir.Value)
	for rows.Next() {
		var rawAttr, rawVal any
		var attrTag, valTag int
		if err := rows.Scan(&rawAttr, &attrTag, &rawVal, &valTag); err != nil {
			return nil, fmt.Errorf("entity: scan: %w", err)
		}
		attr, err := decodeValue(rawAttr, attrTag)
		if err != nil {
			return nil, fmt.Errorf("entity: %w", err)
		}
		v, err := decodeValue(rawVal, valTag)
		if err != nil {
			return nil, fmt.Errorf("entity: %w", err)
		}
		kw, _ := attr.(ir.Keyword)
		out[kw] = append(out[kw], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entity: iterate: %w", err)
	}
	return out, nil
}

// HasMultipleValues reports whether any entity holds more than one value
// for attr. Used to decide whether narrowing to cardinality one is safe.
func (s *Store) HasMultipleValues(ctx context.Context, attr ir.Keyword) (bool, error) {
	a, err := lookupIdent(ctx, s.db, attr)
	if err != nil {
		return false, fmt.Errorf("has multiple values: %w", err)
	}
	return hasMultipleValues(ctx, s.db, a)
}

// HasDuplicateValues reports whether two entities share a value for attr.
// Used to decide whether adding uniqueness is safe.
func (s *Store) HasDuplicateValues(ctx context.Context, attr ir.Keyword) (bool, error) {
	a, err := lookupIdent(ctx, s.db, attr)
	if err != nil {
		return false, fmt.Errorf("has duplicate values: %w", err)
	}
	return hasDuplicateValues(ctx, s.db, a)
}

// lookupIdent resolves an ident to its entid.
func lookupIdent(ctx context.Context, q querier, kw ir.Keyword) (ir.Entid, error) {
	var e int64
	err := q.QueryRowContext(ctx,
		"SELECT e FROM datoms WHERE a = ? AND value_type_tag = ? AND v = ?",
		int64(entIdent), tagKeyword, string(kw),
	).Scan(&e)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %s", ErrUnknownIdent, kw)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup ident %s: %w", kw, err)
	}
	return ir.Entid(e), nil
}
