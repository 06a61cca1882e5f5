package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/qpdb/mentat/internal/ir"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// schema is the attribute schema derived from committed datoms.
// It is rebuilt per transaction; the store keeps no cache.
type schema struct {
	idents map[ir.Keyword]ir.Entid
	names  map[ir.Entid]ir.Keyword
	attrs  map[ir.Entid]ir.Definition
}

// schemaFields holds the raw schema-attribute values of one entity.
type schemaFields map[ir.Entid]ir.Value

// loadSchema reads every ident and every complete attribute definition.
func loadSchema(ctx context.Context, q querier) (*schema, error) {
	fields, err := readSchemaFields(ctx, q, 0)
	if err != nil {
		return nil, err
	}

	sch := &schema{
		idents: make(map[ir.Keyword]ir.Entid),
		names:  make(map[ir.Entid]ir.Keyword),
		attrs:  make(map[ir.Entid]ir.Definition),
	}
	for e, f := range fields {
		if kw, ok := f[entIdent].(ir.Keyword); ok {
			sch.idents[kw] = e
			sch.names[e] = kw
		}
	}
	for e, f := range fields {
		if _, ok := f[entValueType]; !ok {
			continue
		}
		def, err := sch.definition(e, f)
		if err != nil {
			// Incomplete attributes are rejected at commit time; skip them here.
			continue
		}
		sch.attrs[e] = def
	}
	return sch, nil
}

// readSchemaFields reads schema-attribute datoms, for one entity when e is
// non-zero, otherwise for all entities.
func readSchemaFields(ctx context.Context, q querier, e ir.Entid) (map[ir.Entid]schemaFields, error) {
	query := `
		SELECT e, a, v, value_type_tag
		FROM datoms
		WHERE a BETWEEN ? AND ?`
	args := []any{int64(entIdent), int64(entNoHistory)}
	if e != 0 {
		query += " AND e = ?"
		args = append(args, int64(e))
	}
	query += " ORDER BY e ASC, a ASC"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query schema: %w", err)
	}
	defer rows.Close()

	out := make(map[ir.Entid]schemaFields)
	for rows.Next() {
		var ent, attr int64
		var raw any
		var tag int
		if err := rows.Scan(&ent, &attr, &raw, &tag); err != nil {
			return nil, fmt.Errorf("scan schema: %w", err)
		}
		v, err := decodeValue(raw, tag)
		if err != nil {
			return nil, err
		}
		f, ok := out[ir.Entid(ent)]
		if !ok {
			f = make(schemaFields)
			out[ir.Entid(ent)] = f
		}
		f[ir.Entid(attr)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema: %w", err)
	}
	return out, nil
}

// isAttribute reports whether f carries any field beyond :db/ident.
func (f schemaFields) isAttribute() bool {
	for a := range f {
		if a != entIdent {
			return true
		}
	}
	return false
}

// definition builds the Definition described by the fields of entity e.
func (sch *schema) definition(e ir.Entid, f schemaFields) (ir.Definition, error) {
	name, ok := f[entIdent].(ir.Keyword)
	if !ok {
		return ir.Definition{}, fmt.Errorf("attribute %d: missing %s", e, ir.DBIdent)
	}
	def := ir.Definition{Name: name}

	vt, err := sch.enum(f, entValueType)
	if err != nil {
		return ir.Definition{}, fmt.Errorf("attribute %s: %w", name, err)
	}
	if def.ValueType, err = ir.ValueTypeFromKeyword(vt); err != nil {
		return ir.Definition{}, fmt.Errorf("attribute %s: %w", name, err)
	}

	card, err := sch.enum(f, entCardinality)
	if err != nil {
		return ir.Definition{}, fmt.Errorf("attribute %s: %w", name, err)
	}
	if def.Cardinality, err = ir.CardinalityFromKeyword(card); err != nil {
		return ir.Definition{}, fmt.Errorf("attribute %s: %w", name, err)
	}

	if _, ok := f[entUnique]; ok {
		u, err := sch.enum(f, entUnique)
		if err != nil {
			return ir.Definition{}, fmt.Errorf("attribute %s: %w", name, err)
		}
		if def.Unique, err = ir.UniqueFromKeyword(u); err != nil {
			return ir.Definition{}, fmt.Errorf("attribute %s: %w", name, err)
		}
	}

	def.Index = f.flag(entIndex)
	def.Fulltext = f.flag(entFulltext)
	def.Component = f.flag(entIsComponent)
	def.NoHistory = f.flag(entNoHistory)
	return def, nil
}

// enum resolves the ref stored under attribute a to the enum's ident.
func (sch *schema) enum(f schemaFields, a ir.Entid) (ir.Keyword, error) {
	v, ok := f[a]
	if !ok {
		return "", fmt.Errorf("missing %s", coreName(a))
	}
	ref, ok := v.(ir.Entid)
	if !ok {
		return "", fmt.Errorf("%s: expected ref, got %T", coreName(a), v)
	}
	kw, ok := sch.names[ref]
	if !ok {
		return "", fmt.Errorf("%s: entity %d has no ident", coreName(a), ref)
	}
	return kw, nil
}

func (f schemaFields) flag(a ir.Entid) bool {
	b, _ := f[a].(ir.Bool)
	return bool(b)
}

// attribute looks up an installed attribute by ident.
func (sch *schema) attribute(kw ir.Keyword) (ir.Entid, ir.Definition, bool) {
	e, ok := sch.idents[kw]
	if !ok {
		return 0, ir.Definition{}, false
	}
	def, ok := sch.attrs[e]
	return e, def, ok
}

// coreName returns the ident of a core attribute entid.
func coreName(a ir.Entid) ir.Keyword {
	for _, ca := range coreAttributes {
		if ca.id == a {
			return ca.def.Name
		}
	}
	return ir.Keyword(fmt.Sprintf(":db/unknown-%d", a))
}
