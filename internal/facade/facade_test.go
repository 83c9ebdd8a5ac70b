package facade

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/data-capture/internal/capture"
)

func TestValidateBatch_RejectsEmpty(t *testing.T) {
	err := validateBatch(nil)
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}

func TestValidateBatch_RejectsMissingFieldName(t *testing.T) {
	err := validateBatch([]capture.FieldSave{{Value: "x"}})
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}

func TestValidateBatch_RejectsDuplicateFieldName(t *testing.T) {
	err := validateBatch([]capture.FieldSave{
		{FieldName: "amount", Value: "1"},
		{FieldName: "amount", Value: "2"},
	})
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}

func TestValidateBatch_AcceptsDistinctFields(t *testing.T) {
	err := validateBatch([]capture.FieldSave{
		{FieldName: "amount", Value: "1"},
		{FieldName: "label", Value: "x"},
	})
	assert.NoError(t, err)
}

func TestApplyDefaults_FillsOnlyEmptyFields(t *testing.T) {
	out := applyDefaults([]capture.FieldSave{
		{FieldName: "amount", ChangeReason: "manual override"},
		{FieldName: "label"},
	}, capture.SaveDefaults{ChangeReason: "batch import", EventType: "import", SignatureType: "system"})

	assert.Equal(t, "manual override", out[0].ChangeReason, "an explicit per-field value must not be overwritten")
	assert.Equal(t, "import", out[0].EventType)
	assert.Equal(t, "batch import", out[1].ChangeReason)
	assert.Equal(t, "system", out[1].SignatureType)
}

// --- Engine integration tests against an in-memory fake Gateway ---

type fieldDefRow struct {
	id, application, fieldName, dataType, label string
	active                                       bool
}

type contextGroupRow struct{ id, application, fingerprint string }
type contextItemRow struct{ contextGroupID, key, value string }
type hotRow struct {
	id, fieldDefinitionID, contextGroupID string
	valueString, valueNumber              *string
	currentVersionID                      string
	currentVersionNum                     int64
	updatedAt                             time.Time
}
type versionRow struct {
	id, captureDataID                     string
	seq                                    int64
	valueString, valueNumber               *string
	changedAt                              time.Time
	changedBy, changeReason, sig, eventTyp string
}

type memStore struct {
	mu           sync.Mutex
	fieldDefs    []fieldDefRow
	contextGrps  []contextGroupRow
	contextItems []contextItemRow
	hotRows      []hotRow
	versions     []versionRow
	nextID       int
}

func (s *memStore) genID(prefix string) string {
	s.nextID++
	return fmt.Sprintf("%s-%d", prefix, s.nextID)
}

type memGateway struct{ store *memStore }

func newMemGateway() *memGateway { return &memGateway{store: &memStore{}} }

func (g *memGateway) Dialect() capture.Dialect { return capture.DialectPostgres }
func (g *memGateway) Begin(ctx context.Context) (capture.Tx, error) {
	return &memTx{store: g.store}, nil
}
func (g *memGateway) QueryRow(ctx context.Context, query string, args ...any) capture.Row {
	return (&memTx{store: g.store}).QueryRow(ctx, query, args...)
}
func (g *memGateway) Query(ctx context.Context, query string, args ...any) (capture.Rows, error) {
	return (&memTx{store: g.store}).Query(ctx, query, args...)
}
func (g *memGateway) Exec(ctx context.Context, query string, args ...any) (capture.Result, error) {
	return (&memTx{store: g.store}).Exec(ctx, query, args...)
}

type memTx struct {
	store     *memStore
	committed bool
}

func (tx *memTx) Commit(ctx context.Context) error   { tx.committed = true; return nil }
func (tx *memTx) Rollback(ctx context.Context) error { return nil }

func (tx *memTx) QueryRow(ctx context.Context, query string, args ...any) capture.Row {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.Contains(query, "FROM context_group "):
		application, fingerprint := args[0].(string), args[1].(string)
		for _, g := range s.contextGrps {
			if g.application == application && g.fingerprint == fingerprint {
				return memRow{vals: []any{g.id}}
			}
		}
		return memRow{err: sql.ErrNoRows}

	case strings.Contains(query, "FROM field_definition"):
		application, fieldName := args[0].(string), args[1].(string)
		for _, d := range s.fieldDefs {
			if d.application == application && d.fieldName == fieldName {
				return memRow{vals: []any{
					d.id, d.application, d.fieldName, d.dataType, d.label, []byte(nil), d.active,
					time.Unix(0, 0).UTC(), time.Unix(0, 0).UTC(), "seed", "seed",
				}}
			}
		}
		return memRow{err: sql.ErrNoRows}

	case strings.Contains(query, "FROM capture_data") && strings.Contains(query, "value_string"):
		contextGroupID, fieldDefinitionID := args[0].(string), args[1].(string)
		for _, h := range s.hotRows {
			if h.fieldDefinitionID == fieldDefinitionID && h.contextGroupID == contextGroupID {
				return memRow{vals: []any{h.id, h.valueString, h.valueNumber, h.currentVersionID, h.currentVersionNum, h.updatedAt}}
			}
		}
		return memRow{err: sql.ErrNoRows}

	case strings.Contains(query, "FROM capture_data"):
		fieldDefinitionID, contextGroupID := args[0].(string), args[1].(string)
		for _, h := range s.hotRows {
			if h.fieldDefinitionID == fieldDefinitionID && h.contextGroupID == contextGroupID {
				return memRow{vals: []any{h.id, h.currentVersionNum}}
			}
		}
		return memRow{err: sql.ErrNoRows}
	}
	return memRow{err: fmt.Errorf("unhandled QueryRow: %s", query)}
}

func (tx *memTx) Query(ctx context.Context, query string, args ...any) (capture.Rows, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if !strings.Contains(query, "FROM capture_data_version") {
		return nil, fmt.Errorf("unhandled Query: %s", query)
	}
	captureDataID := args[0].(string)
	var rows []versionRow
	for _, v := range s.versions {
		if v.captureDataID == captureDataID {
			rows = append(rows, v)
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	return &memVersionRows{rows: rows}, nil
}

type memVersionRows struct {
	rows []versionRow
	pos  int
}

func (r *memVersionRows) Next() bool { return r.pos < len(r.rows) }
func (r *memVersionRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	r.pos++
	*dest[0].(*int64) = row.seq
	*dest[1].(**string) = row.valueString
	*dest[2].(**string) = row.valueNumber
	*dest[3].(*time.Time) = row.changedAt
	*dest[4].(*string) = row.changedBy
	*dest[5].(*string) = row.changeReason
	*dest[6].(*string) = row.sig
	*dest[7].(*string) = row.eventTyp
	return nil
}
func (r *memVersionRows) Close() error { return nil }
func (r *memVersionRows) Err() error   { return nil }

func (tx *memTx) Exec(ctx context.Context, query string, args ...any) (capture.Result, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case strings.Contains(query, "INSERT INTO context_group "):
		s.contextGrps = append(s.contextGrps, contextGroupRow{id: args[0].(string), application: args[1].(string), fingerprint: args[2].(string)})
		return memResult{}, nil

	case strings.Contains(query, "INSERT INTO context_group_item"):
		s.contextItems = append(s.contextItems, contextItemRow{contextGroupID: args[1].(string), key: args[2].(string), value: args[3].(string)})
		return memResult{}, nil

	case strings.Contains(query, "INSERT INTO capture_data_version"):
		var vs, vn *string
		if p, ok := args[3].(*string); ok {
			vs = p
		}
		if p, ok := args[4].(*string); ok {
			vn = p
		}
		s.versions = append(s.versions, versionRow{
			id: args[0].(string), captureDataID: args[1].(string), seq: args[2].(int64),
			valueString: vs, valueNumber: vn, changedAt: args[5].(time.Time), changedBy: args[6].(string),
			changeReason: args[7].(string), sig: args[8].(string), eventTyp: args[9].(string),
		})
		return memResult{}, nil

	case strings.Contains(query, "INSERT INTO capture_data "):
		var vs, vn *string
		if p, ok := args[3].(*string); ok {
			vs = p
		}
		if p, ok := args[4].(*string); ok {
			vn = p
		}
		s.hotRows = append(s.hotRows, hotRow{
			id: args[0].(string), fieldDefinitionID: args[1].(string), contextGroupID: args[2].(string),
			valueString: vs, valueNumber: vn, currentVersionID: args[5].(string), currentVersionNum: args[6].(int64),
			updatedAt: args[8].(time.Time),
		})
		return memResult{}, nil

	case strings.Contains(query, "UPDATE capture_data"):
		var vs, vn *string
		if p, ok := args[0].(*string); ok {
			vs = p
		}
		if p, ok := args[1].(*string); ok {
			vn = p
		}
		datumID := args[5].(string)
		for i := range s.hotRows {
			if s.hotRows[i].id == datumID {
				s.hotRows[i].valueString = vs
				s.hotRows[i].valueNumber = vn
				s.hotRows[i].currentVersionID = args[2].(string)
				s.hotRows[i].currentVersionNum = args[3].(int64)
			}
		}
		return memResult{}, nil
	}
	return nil, fmt.Errorf("unhandled Exec: %s", query)
}

type memRow struct {
	vals []any
	err  error
}

func (r memRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case **string:
			*p = r.vals[i].(*string)
		case *bool:
			*p = r.vals[i].(bool)
		case *int64:
			*p = r.vals[i].(int64)
		case *time.Time:
			*p = r.vals[i].(time.Time)
		case *[]byte:
			*p = r.vals[i].([]byte)
		default:
			return fmt.Errorf("unsupported scan dest %T", d)
		}
	}
	return nil
}

type memResult struct{}

func (memResult) RowsAffected() (int64, error) { return 1, nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func seedField(store *memStore, application, fieldName, dataType string) {
	store.fieldDefs = append(store.fieldDefs, fieldDefRow{
		id: store.genID("field"), application: application, fieldName: fieldName, dataType: dataType, active: true,
	})
}

func TestEngine_SaveRecord_ThenGetRecord_RoundTrips(t *testing.T) {
	gw := newMemGateway()
	seedField(gw.store, "billing", "amount", "number")
	e := New(gw, nil, nil, fixedClock{time.Unix(1000, 0).UTC()}, nil)

	result, err := e.SaveRecord(context.Background(), "billing", map[string]string{"account_id": "42"},
		[]capture.FieldSave{{FieldName: "amount", Value: 99.5}}, capture.SaveDefaults{}, "alice")
	require.NoError(t, err)
	require.Len(t, result.Saved, 1)
	assert.Equal(t, int64(1), result.Saved[0].SequentialVersionNum)

	views, err := e.GetRecord(context.Background(), "billing", map[string]string{"account_id": "42"}, []string{"amount"})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "99.5", views[0].Value)
}

func TestEngine_SaveRecord_SecondWriteIncrementsVersion(t *testing.T) {
	gw := newMemGateway()
	seedField(gw.store, "billing", "amount", "number")
	e := New(gw, nil, nil, fixedClock{time.Unix(1000, 0).UTC()}, nil)
	keys := map[string]string{"account_id": "42"}

	_, err := e.SaveRecord(context.Background(), "billing", keys, []capture.FieldSave{{FieldName: "amount", Value: 1.0}}, capture.SaveDefaults{}, "alice")
	require.NoError(t, err)
	result, err := e.SaveRecord(context.Background(), "billing", keys, []capture.FieldSave{{FieldName: "amount", Value: 2.0}}, capture.SaveDefaults{}, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.Saved[0].SequentialVersionNum)

	trail, err := e.GetFieldAuditTrail(context.Background(), "billing", keys, "amount")
	require.NoError(t, err)
	require.Len(t, trail, 2)
}

func TestEngine_SaveRecord_UnknownFieldRejected(t *testing.T) {
	gw := newMemGateway()
	e := New(gw, nil, nil, fixedClock{time.Now()}, nil)
	_, err := e.SaveRecord(context.Background(), "billing", map[string]string{"account_id": "42"},
		[]capture.FieldSave{{FieldName: "missing", Value: "x"}}, capture.SaveDefaults{}, "alice")
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindUnknownField))
}

func TestEngine_SaveRecord_DuplicateFieldInBatchRejected(t *testing.T) {
	gw := newMemGateway()
	seedField(gw.store, "billing", "amount", "number")
	e := New(gw, nil, nil, fixedClock{time.Now()}, nil)
	_, err := e.SaveRecord(context.Background(), "billing", map[string]string{"account_id": "42"},
		[]capture.FieldSave{{FieldName: "amount", Value: 1.0}, {FieldName: "amount", Value: 2.0}}, capture.SaveDefaults{}, "alice")
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}

func TestEngine_DefineField_RejectsBadInput(t *testing.T) {
	gw := newMemGateway()
	e := New(gw, nil, nil, fixedClock{time.Now()}, nil)
	_, err := e.DefineField(context.Background(), "billing", capture.FieldDefinitionInput{FieldName: "", DataType: capture.DataTypeString}, "alice")
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}
