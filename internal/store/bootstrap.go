package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"

	"github.com/qpdb/mentat/internal/ir"
)

// Fixed entids of the core schema. These never change once a store is
// bootstrapped; the db partition is reserved for them.
const (
	entIdent           ir.Entid = 1
	entValueType       ir.Entid = 2
	entCardinality     ir.Entid = 3
	entUnique          ir.Entid = 4
	entIndex           ir.Entid = 5
	entFulltext        ir.Entid = 6
	entIsComponent     ir.Entid = 7
	entNoHistory       ir.Entid = 8
	entTxInstant       ir.Entid = 9
	entSchemaVersion   ir.Entid = 10
	entSchemaAttribute ir.Entid = 11
	entCoreVocabulary  ir.Entid = 12
)

// Entid partitions.
const (
	partDB   = "db"
	partUser = "user"
	partTx   = "tx"

	dbPartStart   ir.Entid = 0
	userPartStart ir.Entid = 0x10000
	txPartStart   ir.Entid = 0x10000000

	// tx0 is the bootstrap transaction.
	tx0 = txPartStart
)

// coreSchemaVersion is the version recorded on :db.schema/core.
const coreSchemaVersion = ir.CoreSchemaVersion

// coreAttributes are installed at tx0, in entid order.
var coreAttributes = []struct {
	id  ir.Entid
	def ir.Definition
}{
	{entIdent, ir.NewDefinition(ir.DBIdent, ir.ValueTypeKeyword).WithUnique(ir.UniqueIdentity).Indexed()},
	{entValueType, ir.NewDefinition(ir.DBValueType, ir.ValueTypeRef)},
	{entCardinality, ir.NewDefinition(ir.DBCardinality, ir.ValueTypeRef)},
	{entUnique, ir.NewDefinition(ir.DBUnique, ir.ValueTypeRef)},
	{entIndex, ir.NewDefinition(ir.DBIndex, ir.ValueTypeBoolean)},
	{entFulltext, ir.NewDefinition(ir.DBFulltext, ir.ValueTypeBoolean)},
	{entIsComponent, ir.NewDefinition(ir.DBIsComponent, ir.ValueTypeBoolean)},
	{entNoHistory, ir.NewDefinition(ir.DBNoHistory, ir.ValueTypeBoolean)},
	{entTxInstant, ir.NewDefinition(ir.DBTxInstant, ir.ValueTypeInstant).Indexed()},
	{entSchemaVersion, ir.NewDefinition(ir.DBSchemaVersion, ir.ValueTypeLong)},
	{entSchemaAttribute, ir.NewDefinition(ir.DBSchemaAttribute, ir.ValueTypeRef).Many().WithUnique(ir.UniqueValue)},
}

// enumIdents maps each enum keyword to its fixed entid.
var enumIdents = func() map[ir.Keyword]ir.Entid {
	m := make(map[ir.Keyword]ir.Entid)
	for i, vt := range ir.ValueTypes {
		m[vt.Keyword()] = ir.Entid(20 + i)
	}
	m[ir.CardinalityOne.Keyword()] = 30
	m[ir.CardinalityMany.Keyword()] = 31
	m[ir.UniqueValue.Keyword()] = 40
	m[ir.UniqueIdentity.Keyword()] = 41
	return m
}()

// bootstrap installs the core schema at tx0 inside one SQL transaction.
// Core datoms are written directly; Transact cannot run before the
// attributes it validates against exist.
func (s *Store) bootstrap(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	instant := s.clock.Now()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO tx_meta (tx, uuid, instant) VALUES (?, ?, ?)",
		int64(tx0), s.ids.Generate(), int64(ir.NewInstant(instant)),
	); err != nil {
		return fmt.Errorf("bootstrap: insert tx: %w", err)
	}

	type rawDatom struct {
		e, a ir.Entid
		v    ir.Value
	}
	var datoms []rawDatom
	add := func(e, a ir.Entid, v ir.Value) {
		datoms = append(datoms, rawDatom{e, a, v})
	}

	add(tx0, entTxInstant, ir.NewInstant(instant))
	for _, ca := range coreAttributes {
		add(ca.id, entIdent, ca.def.Name)
		add(ca.id, entValueType, enumIdents[ca.def.ValueType.Keyword()])
		add(ca.id, entCardinality, enumIdents[ca.def.Cardinality.Keyword()])
		if ca.def.Unique != ir.UniqueNone {
			add(ca.id, entUnique, enumIdents[ca.def.Unique.Keyword()])
		}
		if ca.def.Index {
			add(ca.id, entIndex, ir.Bool(true))
		}
	}
	for _, kw := range sortedEnumIdents() {
		add(enumIdents[kw], entIdent, kw)
	}
	add(entCoreVocabulary, entIdent, ir.CoreVocabulary)
	add(entCoreVocabulary, entSchemaVersion, ir.Long(coreSchemaVersion))
	for _, ca := range coreAttributes {
		add(entCoreVocabulary, entSchemaAttribute, ca.id)
	}

	for _, d := range datoms {
		if err := insertDatom(ctx, tx, d.e, d.a, d.v, tx0); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}

	parts := []struct {
		name  string
		start ir.Entid
		next  ir.Entid
	}{
		{partDB, dbPartStart, 100},
		{partUser, userPartStart, userPartStart},
		{partTx, txPartStart, tx0 + 1},
	}
	for _, p := range parts {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO parts (part, start, idx) VALUES (?, ?, ?)",
			p.name, int64(p.start), int64(p.next),
		); err != nil {
			return fmt.Errorf("bootstrap: insert part %s: %w", p.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bootstrap: commit: %w", err)
	}
	return nil
}

// sortedEnumIdents returns enum idents in entid order so tx0 is logged
// deterministically.
func sortedEnumIdents() []ir.Keyword {
	kws := make([]ir.Keyword, 0, len(enumIdents))
	for kw := range enumIdents {
		kws = append(kws, kw)
	}
	slices.SortFunc(kws, func(a, b ir.Keyword) int {
		return int(enumIdents[a] - enumIdents[b])
	})
	return kws
}

// verifyCoreSchema checks that the store carries the core vocabulary at the
// version this build understands.
func (s *Store) verifyCoreSchema(ctx context.Context) error {
	var raw any
	var tag int
	err := s.db.QueryRowContext(ctx,
		"SELECT v, value_type_tag FROM datoms WHERE e = ? AND a = ?",
		int64(entCoreVocabulary), int64(entSchemaVersion),
	).Scan(&raw, &tag)
	if errors.Is(err, sql.ErrNoRows) {
		return &CoreSchemaError{Wanted: coreSchemaVersion}
	}
	if err != nil {
		return fmt.Errorf("verify core schema: %w", err)
	}

	v, err := decodeValue(raw, tag)
	if err != nil {
		return fmt.Errorf("verify core schema: %w", err)
	}
	got, ok := v.(ir.Long)
	if !ok || ir.Version(got) != coreSchemaVersion {
		return &CoreSchemaError{Wanted: coreSchemaVersion, Got: ir.Version(got), Present: ok}
	}
	return nil
}
