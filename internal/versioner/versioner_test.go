package versioner

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/data-capture/internal/capture"
	"github.com/vitaliisemenov/data-capture/internal/dictionary"
)

func TestSerializeValue_Number(t *testing.T) {
	s, n, err := serializeValue("amount", 12.5, capture.DataTypeNumber)
	require.NoError(t, err)
	assert.Nil(t, s)
	require.NotNil(t, n)
	assert.Equal(t, "12.5", *n)
}

func TestSerializeValue_NumberFromString(t *testing.T) {
	_, n, err := serializeValue("amount", "99.99", capture.DataTypeNumber)
	require.NoError(t, err)
	require.NotNil(t, n)
	assert.Equal(t, "99.99", *n)
}

func TestSerializeValue_NumberRejectsGarbage(t *testing.T) {
	_, _, err := serializeValue("amount", "not-a-number", capture.DataTypeNumber)
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}

func TestSerializeValue_String(t *testing.T) {
	s, n, err := serializeValue("label", "hello", capture.DataTypeString)
	require.NoError(t, err)
	assert.Nil(t, n)
	require.NotNil(t, s)
	assert.Equal(t, "hello", *s)
}

func TestSerializeValue_StringRejectsNonString(t *testing.T) {
	_, _, err := serializeValue("label", 42, capture.DataTypeString)
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}

func TestSerializeValue_Boolean(t *testing.T) {
	s, _, err := serializeValue("active", true, capture.DataTypeBoolean)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "true", *s)

	s, _, err = serializeValue("active", "false", capture.DataTypeBoolean)
	require.NoError(t, err)
	assert.Equal(t, "false", *s)
}

func TestSerializeValue_Date(t *testing.T) {
	ts := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	s, _, err := serializeValue("effective_date", ts, capture.DataTypeDate)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "2026-01-15T10:30:00Z", *s)

	s, _, err = serializeValue("effective_date", "2026-01-15T10:30:00Z", capture.DataTypeDate)
	require.NoError(t, err)
	assert.Equal(t, "2026-01-15T10:30:00Z", *s)
}

func TestSerializeValue_DateRejectsBadFormat(t *testing.T) {
	_, _, err := serializeValue("effective_date", "01/15/2026", capture.DataTypeDate)
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}

func TestSerializeValue_RejectsNil(t *testing.T) {
	_, _, err := serializeValue("amount", nil, capture.DataTypeNumber)
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInvalidInput))
}

// --- SaveField integration against fakes ---

type fakeRow struct {
	id  string
	num int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.id
	*dest[1].(*int64) = r.num
	return nil
}

type fakeTx struct {
	hotRowExists bool
	hotID        string
	hotVersion   int64
	execs        []string
	queries      []string
}

func (f *fakeTx) QueryRow(ctx context.Context, query string, args ...any) capture.Row {
	f.queries = append(f.queries, query)
	if !f.hotRowExists {
		return fakeRow{err: sql.ErrNoRows}
	}
	return fakeRow{id: f.hotID, num: f.hotVersion}
}
func (f *fakeTx) Query(ctx context.Context, query string, args ...any) (capture.Rows, error) {
	return nil, fmt.Errorf("not used")
}
func (f *fakeTx) Exec(ctx context.Context, query string, args ...any) (capture.Result, error) {
	f.execs = append(f.execs, query)
	return fakeResult{}, nil
}
func (f *fakeTx) Commit(ctx context.Context) error   { return nil }
func (f *fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeResult struct{}

func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeRepo struct {
	defs map[string]*capture.FieldDefinition
}

func (r *fakeRepo) GetByName(ctx context.Context, q capture.Querier, application, fieldName string) (*capture.FieldDefinition, error) {
	return r.defs[application+"/"+fieldName], nil
}
func (r *fakeRepo) Lookup(ctx context.Context, q capture.Querier, application string, fieldNames []string) (map[string]*capture.FieldDefinition, error) {
	return nil, nil
}
func (r *fakeRepo) ListByApplication(ctx context.Context, q capture.Querier, application string) ([]*capture.FieldDefinition, error) {
	return nil, nil
}
func (r *fakeRepo) Insert(ctx context.Context, q capture.Querier, def *capture.FieldDefinition) error {
	return nil
}
func (r *fakeRepo) Update(ctx context.Context, q capture.Querier, def *capture.FieldDefinition) error {
	return nil
}
func (r *fakeRepo) InsertVersion(ctx context.Context, q capture.Querier, v *capture.FieldDefinitionVersion) error {
	return nil
}
func (r *fakeRepo) ListVersions(ctx context.Context, q capture.Querier, fieldDefinitionID string) ([]*capture.FieldDefinitionVersion, error) {
	return nil, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestVersioner_SaveField_FirstWriteStartsAtSequenceOne(t *testing.T) {
	repo := &fakeRepo{defs: map[string]*capture.FieldDefinition{
		"billing/amount": {ID: "field-1", Application: "billing", FieldName: "amount", DataType: capture.DataTypeNumber, Active: true},
	}}
	v := NewVersioner(repo, capture.DialectPostgres, fixedClock{time.Now()}, nil)
	tx := &fakeTx{hotRowExists: false}

	result, err := v.SaveField(context.Background(), tx, "billing", "ctx-1", capture.FieldSave{
		FieldName: "amount",
		Value:     42.0,
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "field-1", result.FieldDefinitionID)
	assert.Equal(t, int64(1), result.SequentialVersionNum)
}

func TestVersioner_SaveField_SubsequentWriteIncrementsSequence(t *testing.T) {
	repo := &fakeRepo{defs: map[string]*capture.FieldDefinition{
		"billing/amount": {ID: "field-1", Application: "billing", FieldName: "amount", DataType: capture.DataTypeNumber, Active: true},
	}}
	v := NewVersioner(repo, capture.DialectPostgres, fixedClock{time.Now()}, nil)
	tx := &fakeTx{hotRowExists: true, hotID: "datum-1", hotVersion: 5}

	result, err := v.SaveField(context.Background(), tx, "billing", "ctx-1", capture.FieldSave{
		FieldName: "amount",
		Value:     "100",
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "datum-1", result.CaptureDataID)
	assert.Equal(t, int64(6), result.SequentialVersionNum)
}

func TestVersioner_SaveField_UnknownField(t *testing.T) {
	repo := &fakeRepo{defs: map[string]*capture.FieldDefinition{}}
	v := NewVersioner(repo, capture.DialectPostgres, fixedClock{time.Now()}, nil)
	tx := &fakeTx{}

	_, err := v.SaveField(context.Background(), tx, "billing", "ctx-1", capture.FieldSave{FieldName: "missing"}, "alice")
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindUnknownField))
}

func TestVersioner_SaveField_InactiveField(t *testing.T) {
	repo := &fakeRepo{defs: map[string]*capture.FieldDefinition{
		"billing/amount": {ID: "field-1", Application: "billing", FieldName: "amount", DataType: capture.DataTypeNumber, Active: false},
	}}
	v := NewVersioner(repo, capture.DialectPostgres, fixedClock{time.Now()}, nil)
	tx := &fakeTx{}

	_, err := v.SaveField(context.Background(), tx, "billing", "ctx-1", capture.FieldSave{FieldName: "amount", Value: 1.0}, "alice")
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInactiveField))
}

func TestLockHotRow_PostgresAddsForUpdate(t *testing.T) {
	v := NewVersioner(&fakeRepo{}, capture.DialectPostgres, fixedClock{time.Now()}, nil)
	tx := &fakeTx{hotRowExists: true, hotID: "d1", hotVersion: 3}
	h, err := v.lockHotRow(context.Background(), tx, "field-1", "ctx-1")
	require.NoError(t, err)
	assert.Equal(t, "d1", h.id)
	assert.Equal(t, int64(3), h.currentVersionNum)
	require.Len(t, tx.queries, 1)
	assert.Contains(t, tx.queries[0], "FOR UPDATE")
}

func TestLockHotRow_MissingRowReturnsNil(t *testing.T) {
	v := NewVersioner(&fakeRepo{}, capture.DialectPostgres, fixedClock{time.Now()}, nil)
	tx := &fakeTx{hotRowExists: false}
	h, err := v.lockHotRow(context.Background(), tx, "field-1", "ctx-1")
	require.NoError(t, err)
	assert.Nil(t, h)
}

var _ dictionary.Repository = (*fakeRepo)(nil)
