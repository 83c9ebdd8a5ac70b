package dictionary

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/data-capture/internal/capture"
)

// fakeTx/fakeGateway satisfy capture.Tx/capture.Gateway with no-op query
// behavior, since these tests exercise Service against a fakeRepository
// and never issue real SQL.

type fakeTx struct {
	committed, rolledBack bool
}

func (t *fakeTx) QueryRow(ctx context.Context, query string, args ...any) capture.Row { return nil }
func (t *fakeTx) Query(ctx context.Context, query string, args ...any) (capture.Rows, error) {
	return nil, nil
}
func (t *fakeTx) Exec(ctx context.Context, query string, args ...any) (capture.Result, error) {
	return nil, nil
}
func (t *fakeTx) Commit(ctx context.Context) error   { t.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { t.rolledBack = true; return nil }

type fakeGateway struct {
	lastTx *fakeTx
}

func (g *fakeGateway) QueryRow(ctx context.Context, query string, args ...any) capture.Row { return nil }
func (g *fakeGateway) Query(ctx context.Context, query string, args ...any) (capture.Rows, error) {
	return nil, nil
}
func (g *fakeGateway) Exec(ctx context.Context, query string, args ...any) (capture.Result, error) {
	return nil, nil
}
func (g *fakeGateway) Begin(ctx context.Context) (capture.Tx, error) {
	g.lastTx = &fakeTx{}
	return g.lastTx, nil
}
func (g *fakeGateway) Dialect() capture.Dialect { return capture.DialectPostgres }

type fakeRepository struct {
	byName    map[string]*capture.FieldDefinition
	inserted  []*capture.FieldDefinition
	updated   []*capture.FieldDefinition
	versions  []*capture.FieldDefinitionVersion
	failErr   error
}

func (r *fakeRepository) GetByName(ctx context.Context, q capture.Querier, application, fieldName string) (*capture.FieldDefinition, error) {
	if r.failErr != nil {
		return nil, r.failErr
	}
	return r.byName[application+"/"+fieldName], nil
}
func (r *fakeRepository) Lookup(ctx context.Context, q capture.Querier, application string, fieldNames []string) (map[string]*capture.FieldDefinition, error) {
	out := make(map[string]*capture.FieldDefinition)
	for _, n := range fieldNames {
		if d, ok := r.byName[application+"/"+n]; ok {
			out[n] = d
		}
	}
	return out, nil
}
func (r *fakeRepository) ListByApplication(ctx context.Context, q capture.Querier, application string) ([]*capture.FieldDefinition, error) {
	var out []*capture.FieldDefinition
	for _, d := range r.byName {
		if d.Application == application {
			out = append(out, d)
		}
	}
	return out, nil
}
func (r *fakeRepository) Insert(ctx context.Context, q capture.Querier, def *capture.FieldDefinition) error {
	def.ID = "generated-id"
	r.inserted = append(r.inserted, def)
	if r.byName == nil {
		r.byName = make(map[string]*capture.FieldDefinition)
	}
	r.byName[def.Application+"/"+def.FieldName] = def
	return nil
}
func (r *fakeRepository) Update(ctx context.Context, q capture.Querier, def *capture.FieldDefinition) error {
	r.updated = append(r.updated, def)
	return nil
}
func (r *fakeRepository) InsertVersion(ctx context.Context, q capture.Querier, v *capture.FieldDefinitionVersion) error {
	r.versions = append(r.versions, v)
	return nil
}
func (r *fakeRepository) ListVersions(ctx context.Context, q capture.Querier, fieldDefinitionID string) ([]*capture.FieldDefinitionVersion, error) {
	return r.versions, nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestService_DefineField_CreatesOnFirstCall(t *testing.T) {
	gw := &fakeGateway{}
	repo := &fakeRepository{}
	svc := NewService(gw, repo, fixedClock{time.Unix(1000, 0).UTC()}, nil)

	def, err := svc.DefineField(context.Background(), "billing", capture.FieldDefinitionInput{
		FieldName: "amount",
		DataType:  capture.DataTypeNumber,
		Label:     "Amount",
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "billing", def.Application)
	assert.Equal(t, "amount", def.FieldName)
	assert.True(t, def.Active, "Active defaults to true when input.Active is nil")
	assert.Len(t, repo.inserted, 1)
	assert.Len(t, repo.versions, 1)
	assert.Equal(t, "field defined", repo.versions[0].ChangeDescription)
	assert.Nil(t, repo.versions[0].PreviousBlob, "first version has no previous snapshot")
	assert.True(t, gw.lastTx.committed)
}

func TestService_DefineField_UpdatesExisting(t *testing.T) {
	gw := &fakeGateway{}
	repo := &fakeRepository{byName: map[string]*capture.FieldDefinition{
		"billing/amount": {
			ID: "existing-id", Application: "billing", FieldName: "amount",
			DataType: capture.DataTypeString, Label: "Old Label", Active: true,
		},
	}}
	svc := NewService(gw, repo, fixedClock{time.Unix(2000, 0).UTC()}, nil)

	def, err := svc.DefineField(context.Background(), "billing", capture.FieldDefinitionInput{
		FieldName: "amount",
		DataType:  capture.DataTypeNumber,
		Label:     "New Label",
	}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "existing-id", def.ID, "update reuses the existing definition's identity")
	assert.Equal(t, capture.DataTypeNumber, def.DataType)
	assert.Equal(t, "New Label", def.Label)
	assert.Len(t, repo.updated, 1)
	assert.Len(t, repo.versions, 1)
	assert.Equal(t, "field updated", repo.versions[0].ChangeDescription)
	assert.NotNil(t, repo.versions[0].PreviousBlob, "update records a previous snapshot")
}

func TestService_DefineField_RejectsInvalidInput(t *testing.T) {
	gw := &fakeGateway{}
	repo := &fakeRepository{}
	svc := NewService(gw, repo, fixedClock{time.Now()}, nil)

	cases := []struct {
		name        string
		application string
		input       capture.FieldDefinitionInput
	}{
		{"empty application", "", capture.FieldDefinitionInput{FieldName: "x", DataType: capture.DataTypeString}},
		{"empty field name", "billing", capture.FieldDefinitionInput{DataType: capture.DataTypeString}},
		{"invalid data type", "billing", capture.FieldDefinitionInput{FieldName: "x", DataType: "currency"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.DefineField(context.Background(), tc.application, tc.input, "actor")
			require.Error(t, err)
			assert.True(t, capture.Is(err, capture.KindInvalidInput))
			assert.True(t, gw.lastTx == nil || gw.lastTx.rolledBack || !gw.lastTx.committed)
		})
	}
}

func TestService_DefineField_ExplicitActiveFalse(t *testing.T) {
	gw := &fakeGateway{}
	repo := &fakeRepository{}
	svc := NewService(gw, repo, fixedClock{time.Now()}, nil)
	inactive := false

	def, err := svc.DefineField(context.Background(), "billing", capture.FieldDefinitionInput{
		FieldName: "amount",
		DataType:  capture.DataTypeNumber,
		Active:    &inactive,
	}, "alice")
	require.NoError(t, err)
	assert.False(t, def.Active)
}

func TestGetActiveField_UnknownAndInactive(t *testing.T) {
	repo := &fakeRepository{byName: map[string]*capture.FieldDefinition{
		"billing/inactive_field": {ID: "id-1", Application: "billing", FieldName: "inactive_field", Active: false},
	}}

	_, err := GetActiveField(context.Background(), repo, nil, "billing", "missing_field")
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindUnknownField))

	_, err = GetActiveField(context.Background(), repo, nil, "billing", "inactive_field")
	require.Error(t, err)
	assert.True(t, capture.Is(err, capture.KindInactiveField))
}

func TestGetActiveField_Active(t *testing.T) {
	repo := &fakeRepository{byName: map[string]*capture.FieldDefinition{
		"billing/amount": {ID: "id-2", Application: "billing", FieldName: "amount", Active: true},
	}}
	def, err := GetActiveField(context.Background(), repo, nil, "billing", "amount")
	require.NoError(t, err)
	assert.Equal(t, "id-2", def.ID)
}
