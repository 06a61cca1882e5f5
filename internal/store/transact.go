package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/qpdb/mentat/internal/ir"
)

// Transact commits facts atomically: either every fact applies or none do.
//
// Entities may be named by Entid, by ident Keyword, or by TempID. A TempID
// asserting a :db.unique/identity value already held by an entity resolves
// to that entity (upsert); remaining TempIDs are allocated in the user
// partition in order of first appearance. Idents asserted earlier in the
// same transaction may be used as entity refs and ref values, and attributes
// installed earlier in the same transaction may be used by later facts.
//
// Attribute installation and alteration are validated before commit:
//   - an attribute needs :db/ident, :db/valueType and :db/cardinality
//   - a value type change requires that no values exist
//   - narrowing to cardinality one requires no multi-valued entities
//   - adding uniqueness requires no duplicate values
//
// Unique collisions and failed :db/cas checks return *ConflictError.
func (s *Store) Transact(ctx context.Context, facts []ir.Fact) (ir.TxReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.TxReport{}, fmt.Errorf("transact: begin tx: %w", mapSQLiteError(err))
	}
	defer tx.Rollback() // No-op if committed

	w, err := s.newTxWriter(ctx, tx)
	if err != nil {
		return ir.TxReport{}, fmt.Errorf("transact: %w", mapSQLiteError(err))
	}

	if err := w.apply(ctx, facts); err != nil {
		return ir.TxReport{}, fmt.Errorf("transact: %w", mapSQLiteError(err))
	}

	if err := w.validateSchema(ctx); err != nil {
		return ir.TxReport{}, fmt.Errorf("transact: %w", err)
	}

	if err := w.savePartitions(ctx); err != nil {
		return ir.TxReport{}, fmt.Errorf("transact: %w", mapSQLiteError(err))
	}

	if err := tx.Commit(); err != nil {
		return ir.TxReport{}, fmt.Errorf("transact: commit: %w", mapSQLiteError(err))
	}

	s.logger.Debug("transaction committed",
		"tx", int64(w.report.TxID),
		"facts", len(facts),
		"datoms", len(w.report.Datoms))

	return w.report, nil
}

// txWriter applies facts inside one SQL transaction.
type txWriter struct {
	q querier

	// before is the schema as committed when the transaction began.
	before *schema

	// sch is reloaded when a fact uses an attribute installed earlier in
	// the same transaction.
	sch *schema

	nextUser ir.Entid
	tempids  map[ir.TempID]ir.Entid
	pending  map[ir.Keyword]ir.Entid
	touched  map[ir.Entid]bool
	report   ir.TxReport
}

func (s *Store) newTxWriter(ctx context.Context, q querier) (*txWriter, error) {
	sch, err := loadSchema(ctx, q)
	if err != nil {
		return nil, err
	}

	txID, err := readPart(ctx, q, partTx)
	if err != nil {
		return nil, err
	}
	nextUser, err := readPart(ctx, q, partUser)
	if err != nil {
		return nil, err
	}

	instant := s.clock.Now().UTC()
	txUUID := s.ids.Generate()
	if _, err := q.ExecContext(ctx,
		"INSERT INTO tx_meta (tx, uuid, instant) VALUES (?, ?, ?)",
		int64(txID), txUUID, int64(ir.NewInstant(instant)),
	); err != nil {
		return nil, fmt.Errorf("insert tx: %w", err)
	}

	w := &txWriter{
		q:        q,
		before:   sch,
		sch:      sch,
		nextUser: nextUser,
		tempids:  make(map[ir.TempID]ir.Entid),
		pending:  make(map[ir.Keyword]ir.Entid),
		touched:  make(map[ir.Entid]bool),
		report: ir.TxReport{
			TxID:    txID,
			UUID:    txUUID,
			Instant: ir.NewInstant(instant).Time(),
		},
	}

	inst := ir.NewInstant(instant)
	if err := insertDatom(ctx, q, txID, entTxInstant, inst, txID); err != nil {
		return nil, err
	}
	w.record(txID, ir.DBTxInstant, inst, true)
	return w, nil
}

func readPart(ctx context.Context, q querier, part string) (ir.Entid, error) {
	var idx int64
	if err := q.QueryRowContext(ctx, "SELECT idx FROM parts WHERE part = ?", part).Scan(&idx); err != nil {
		return 0, fmt.Errorf("read partition %s: %w", part, err)
	}
	return ir.Entid(idx), nil
}

func (w *txWriter) savePartitions(ctx context.Context) error {
	if _, err := w.q.ExecContext(ctx,
		"UPDATE parts SET idx = ? WHERE part = ?", int64(w.nextUser), partUser,
	); err != nil {
		return fmt.Errorf("save partition %s: %w", partUser, err)
	}
	if _, err := w.q.ExecContext(ctx,
		"UPDATE parts SET idx = ? WHERE part = ?", int64(w.report.TxID+1), partTx,
	); err != nil {
		return fmt.Errorf("save partition %s: %w", partTx, err)
	}
	w.report.TempIDs = w.tempids
	return nil
}

// apply resolves tempids and idents, then applies facts in order.
func (w *txWriter) apply(ctx context.Context, facts []ir.Fact) error {
	if err := w.upsertTempIDs(ctx, facts); err != nil {
		return err
	}

	for _, f := range facts {
		if t, ok := f.Entity.(ir.TempID); ok {
			w.allocate(t)
		}
		if t, ok := f.Value.(ir.TempID); ok {
			w.allocate(t)
		}
	}

	for _, f := range facts {
		if f.Attribute != ir.DBIdent || f.Op == ir.OpRetract {
			continue
		}
		kw, ok := f.Value.(ir.Keyword)
		if !ok {
			continue
		}
		if _, exists := w.sch.idents[kw]; exists {
			continue
		}
		e, err := w.resolveEntity(f.Entity)
		if err != nil {
			return err
		}
		w.pending[kw] = e
	}

	for i, f := range facts {
		if err := w.applyFact(ctx, f); err != nil {
			return fmt.Errorf("fact %d [%s %v %s]: %w", i, f.Op, f.Entity, f.Attribute, err)
		}
	}
	return nil
}

// upsertTempIDs maps a TempID to an existing entity when the TempID asserts
// a unique identity value that entity already holds.
func (w *txWriter) upsertTempIDs(ctx context.Context, facts []ir.Fact) error {
	for _, f := range facts {
		t, ok := f.Entity.(ir.TempID)
		if !ok || f.Op == ir.OpRetract {
			continue
		}
		if _, done := w.tempids[t]; done {
			continue
		}
		a, def, ok := w.sch.attribute(f.Attribute)
		if !ok || def.Unique != ir.UniqueIdentity {
			continue
		}
		if _, isTemp := f.Value.(ir.TempID); isTemp {
			continue
		}
		v, err := w.coerce(def, f.Value)
		if err != nil {
			// Reported with context when the fact is applied.
			continue
		}
		holder, found, err := w.holderOf(ctx, a, v, 0)
		if err != nil {
			return err
		}
		if found {
			w.tempids[t] = holder
		}
	}
	return nil
}

func (w *txWriter) allocate(t ir.TempID) {
	if _, ok := w.tempids[t]; ok {
		return
	}
	w.tempids[t] = w.nextUser
	w.nextUser++
}

func (w *txWriter) resolveEntity(ref ir.EntityRef) (ir.Entid, error) {
	switch r := ref.(type) {
	case ir.Entid:
		if r <= 0 {
			return 0, fmt.Errorf("invalid entid %d", r)
		}
		return r, nil
	case ir.Keyword:
		return w.resolveIdent(r)
	case ir.TempID:
		e, ok := w.tempids[r]
		if !ok {
			return 0, fmt.Errorf("unallocated tempid %q", string(r))
		}
		return e, nil
	default:
		return 0, fmt.Errorf("unsupported entity reference %T", ref)
	}
}

func (w *txWriter) resolveIdent(kw ir.Keyword) (ir.Entid, error) {
	if e, ok := w.sch.idents[kw]; ok {
		return e, nil
	}
	if e, ok := w.pending[kw]; ok {
		return e, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownIdent, kw)
}

// attribute looks up kw, reloading the schema once if kw was installed
// earlier in this transaction.
func (w *txWriter) attribute(ctx context.Context, kw ir.Keyword) (ir.Entid, ir.Definition, error) {
	if a, def, ok := w.sch.attribute(kw); ok {
		return a, def, nil
	}
	if _, ok := w.pending[kw]; ok {
		sch, err := loadSchema(ctx, w.q)
		if err != nil {
			return 0, ir.Definition{}, err
		}
		w.sch = sch
		if a, def, ok := w.sch.attribute(kw); ok {
			return a, def, nil
		}
	}
	return 0, ir.Definition{}, fmt.Errorf("%w: %s", ErrUnknownAttribute, kw)
}

// coerce checks v against the attribute's value type and resolves ref values.
func (w *txWriter) coerce(def ir.Definition, v ir.Value) (ir.Value, error) {
	mismatch := func() error {
		return fmt.Errorf("%w: %s expects %s, got %T", ErrValueType, def.Name, def.ValueType, v)
	}

	switch def.ValueType {
	case ir.ValueTypeRef:
		ref, ok := v.(ir.EntityRef)
		if !ok {
			return nil, mismatch()
		}
		e, err := w.resolveEntity(ref)
		if err != nil {
			return nil, err
		}
		return e, nil
	case ir.ValueTypeBoolean:
		if _, ok := v.(ir.Bool); ok {
			return v, nil
		}
	case ir.ValueTypeInstant:
		if _, ok := v.(ir.Instant); ok {
			return v, nil
		}
	case ir.ValueTypeLong:
		if _, ok := v.(ir.Long); ok {
			return v, nil
		}
	case ir.ValueTypeDouble:
		if _, ok := v.(ir.Double); ok {
			return v, nil
		}
	case ir.ValueTypeString:
		if _, ok := v.(ir.String); ok {
			return v, nil
		}
	case ir.ValueTypeKeyword:
		if kw, ok := v.(ir.Keyword); ok {
			if def.Name == ir.DBIdent {
				if err := kw.Validate(); err != nil {
					return nil, err
				}
			}
			return v, nil
		}
	case ir.ValueTypeUUID:
		if _, ok := v.(ir.UUID); ok {
			return v, nil
		}
	}
	return nil, mismatch()
}

func (w *txWriter) applyFact(ctx context.Context, f ir.Fact) error {
	if f.Value == nil {
		return errors.New("missing value")
	}

	e, err := w.resolveEntity(f.Entity)
	if err != nil {
		return err
	}
	if e < userPartStart {
		return fmt.Errorf("%w: entity %d belongs to the core schema", ErrSchemaAlteration, e)
	}

	a, def, err := w.attribute(ctx, f.Attribute)
	if err != nil {
		return err
	}

	v, err := w.coerce(def, f.Value)
	if err != nil {
		return err
	}

	switch f.Op {
	case ir.OpAdd:
		return w.add(ctx, e, a, def, v)
	case ir.OpRetract:
		return w.retract(ctx, e, a, def, v)
	case ir.OpCAS:
		return w.cas(ctx, e, a, def, f.Old, v)
	default:
		return fmt.Errorf("unknown op %d", f.Op)
	}
}

func (w *txWriter) add(ctx context.Context, e, a ir.Entid, def ir.Definition, v ir.Value) error {
	exists, err := w.exists(ctx, e, a, v)
	if err != nil || exists {
		return err
	}

	if def.Unique != ir.UniqueNone {
		holder, found, err := w.holderOf(ctx, a, v, e)
		if err != nil {
			return err
		}
		if found {
			return &ConflictError{Kind: ConflictUnique, Entity: holder, Attribute: def.Name, Actual: v}
		}
	}

	if def.Cardinality == ir.CardinalityOne {
		current, err := w.values(ctx, e, a)
		if err != nil {
			return err
		}
		for _, old := range current {
			if err := deleteDatom(ctx, w.q, e, a, old, w.report.TxID); err != nil {
				return err
			}
			w.record(e, def.Name, old, false)
		}
	}

	if err := insertDatom(ctx, w.q, e, a, v, w.report.TxID); err != nil {
		return err
	}
	w.record(e, def.Name, v, true)
	w.touch(e, a)
	return nil
}

func (w *txWriter) retract(ctx context.Context, e, a ir.Entid, def ir.Definition, v ir.Value) error {
	exists, err := w.exists(ctx, e, a, v)
	if err != nil || !exists {
		return err
	}
	if err := deleteDatom(ctx, w.q, e, a, v, w.report.TxID); err != nil {
		return err
	}
	w.record(e, def.Name, v, false)
	w.touch(e, a)
	return nil
}

func (w *txWriter) cas(ctx context.Context, e, a ir.Entid, def ir.Definition, old, v ir.Value) error {
	if def.Cardinality != ir.CardinalityOne {
		return fmt.Errorf("%s on cardinality-many attribute %s", ir.OpCAS, def.Name)
	}

	var expected ir.Value
	if old != nil {
		var err error
		if expected, err = w.coerce(def, old); err != nil {
			return err
		}
	}

	current, err := w.values(ctx, e, a)
	if err != nil {
		return err
	}
	var actual ir.Value
	if len(current) > 0 {
		actual = current[0]
	}
	if actual != expected {
		return &ConflictError{Kind: ConflictCAS, Entity: e, Attribute: def.Name, Expected: expected, Actual: actual}
	}
	return w.add(ctx, e, a, def, v)
}

func (w *txWriter) record(e ir.Entid, a ir.Keyword, v ir.Value, added bool) {
	w.report.Datoms = append(w.report.Datoms, ir.Datom{E: e, A: a, V: v, Tx: w.report.TxID, Added: added})
}

func (w *txWriter) touch(e, a ir.Entid) {
	if a >= entIdent && a <= entNoHistory {
		w.touched[e] = true
	}
}

func (w *txWriter) exists(ctx context.Context, e, a ir.Entid, v ir.Value) (bool, error) {
	raw, tag, err := encodeValue(v)
	if err != nil {
		return false, err
	}
	var one int
	err = w.q.QueryRowContext(ctx,
		"SELECT 1 FROM datoms WHERE e = ? AND a = ? AND value_type_tag = ? AND v = ?",
		int64(e), int64(a), tag, raw,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup datom: %w", err)
	}
	return true, nil
}

// holderOf returns an entity other than except that holds v for a.
func (w *txWriter) holderOf(ctx context.Context, a ir.Entid, v ir.Value, except ir.Entid) (ir.Entid, bool, error) {
	raw, tag, err := encodeValue(v)
	if err != nil {
		return 0, false, err
	}
	var holder int64
	err = w.q.QueryRowContext(ctx,
		"SELECT e FROM datoms WHERE a = ? AND value_type_tag = ? AND v = ? AND e != ? ORDER BY e LIMIT 1",
		int64(a), tag, raw, int64(except),
	).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("lookup unique value: %w", err)
	}
	return ir.Entid(holder), true, nil
}

func (w *txWriter) values(ctx context.Context, e, a ir.Entid) ([]ir.Value, error) {
	rows, err := w.q.QueryContext(ctx,
		"SELECT v, value_type_tag FROM datoms WHERE e = ? AND a = ? ORDER BY rowid",
		int64(e), int64(a),
	)
	if err != nil {
		return nil, fmt.Errorf("query values: %w", err)
	}
	defer rows.Close()

	var out []ir.Value
	for rows.Next() {
		var raw any
		var tag int
		if err := rows.Scan(&raw, &tag); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		v, err := decodeValue(raw, tag)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return out, nil
}

// validateSchema checks every entity whose schema fields changed.
func (w *txWriter) validateSchema(ctx context.Context) error {
	if len(w.touched) == 0 {
		return nil
	}

	after, err := loadSchema(ctx, w.q)
	if err != nil {
		return err
	}

	for _, e := range slices.Sorted(maps.Keys(w.touched)) {
		all, err := readSchemaFields(ctx, w.q, e)
		if err != nil {
			return err
		}
		fields := all[e]
		old, existed := w.before.attrs[e]

		if !fields.isAttribute() {
			if existed {
				return fmt.Errorf("%w: attribute %s cannot be uninstalled", ErrSchemaAlteration, old.Name)
			}
			continue
		}

		def, err := after.definition(e, fields)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaAlteration, err)
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrSchemaAlteration, err)
		}
		if !existed {
			continue
		}

		if def.ValueType != old.ValueType {
			used, err := hasValues(ctx, w.q, e)
			if err != nil {
				return err
			}
			if used {
				return fmt.Errorf("%w: %s has values; cannot change value type from %s to %s",
					ErrSchemaAlteration, def.Name, old.ValueType, def.ValueType)
			}
		}
		if old.Cardinality == ir.CardinalityMany && def.Cardinality == ir.CardinalityOne {
			multi, err := hasMultipleValues(ctx, w.q, e)
			if err != nil {
				return err
			}
			if multi {
				return fmt.Errorf("%w: %s has entities with several values; cannot narrow to cardinality one",
					ErrSchemaAlteration, def.Name)
			}
		}
		if old.Unique == ir.UniqueNone && def.Unique != ir.UniqueNone {
			dup, err := hasDuplicateValues(ctx, w.q, e)
			if err != nil {
				return err
			}
			if dup {
				return fmt.Errorf("%w: %s has duplicate values; cannot add uniqueness",
					ErrSchemaAlteration, def.Name)
			}
		}
	}
	return nil
}

func hasValues(ctx context.Context, q querier, a ir.Entid) (bool, error) {
	return queryExists(ctx, q, "SELECT 1 FROM datoms WHERE a = ? LIMIT 1", a)
}

func hasMultipleValues(ctx context.Context, q querier, a ir.Entid) (bool, error) {
	return queryExists(ctx, q,
		"SELECT 1 FROM datoms WHERE a = ? GROUP BY e HAVING COUNT(*) > 1 LIMIT 1", a)
}

func hasDuplicateValues(ctx context.Context, q querier, a ir.Entid) (bool, error) {
	return queryExists(ctx, q,
		"SELECT 1 FROM datoms WHERE a = ? GROUP BY value_type_tag, v HAVING COUNT(DISTINCT e) > 1 LIMIT 1", a)
}

func queryExists(ctx context.Context, q querier, query string, a ir.Entid) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, int64(a)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query attribute %d: %w", a, err)
	}
	return true, nil
}
