// Package dictionary implements the Field Dictionary: the registry of
// what may be stored, keyed by (application, field_name), with an
// append-only history of definition changes.
package dictionary

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/data-capture/internal/capture"
	capturestorage "github.com/vitaliisemenov/data-capture/internal/capture/storage"
)

// Repository persists FieldDefinitions and their version history.
// Every method accepts a capture.Querier so callers can run it either
// directly against the Gateway or inside an open capture.Tx.
type Repository interface {
	GetByName(ctx context.Context, q capture.Querier, application, fieldName string) (*capture.FieldDefinition, error)
	Lookup(ctx context.Context, q capture.Querier, application string, fieldNames []string) (map[string]*capture.FieldDefinition, error)
	ListByApplication(ctx context.Context, q capture.Querier, application string) ([]*capture.FieldDefinition, error)
	Insert(ctx context.Context, q capture.Querier, def *capture.FieldDefinition) error
	Update(ctx context.Context, q capture.Querier, def *capture.FieldDefinition) error
	InsertVersion(ctx context.Context, q capture.Querier, v *capture.FieldDefinitionVersion) error
	ListVersions(ctx context.Context, q capture.Querier, fieldDefinitionID string) ([]*capture.FieldDefinitionVersion, error)
}

type repository struct {
	logger *slog.Logger
}

// NewRepository constructs the default field_definition / field_definition_version repository.
func NewRepository(logger *slog.Logger) Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &repository{logger: logger}
}

const fieldDefinitionColumns = `
	id, application, field_name, data_type, label, attributes_blob, active,
	created_at, updated_at, created_by, updated_by
`

func scanFieldDefinition(row capture.Row) (*capture.FieldDefinition, error) {
	var d capture.FieldDefinition
	var dataType string
	err := row.Scan(
		&d.ID, &d.Application, &d.FieldName, &dataType, &d.Label, &d.Attributes, &d.Active,
		&d.CreatedAt, &d.UpdatedAt, &d.CreatedBy, &d.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	d.DataType = capture.DataType(dataType)
	return &d, nil
}

func (r *repository) GetByName(ctx context.Context, q capture.Querier, application, fieldName string) (*capture.FieldDefinition, error) {
	query := `SELECT ` + fieldDefinitionColumns + ` FROM field_definition WHERE application = $1 AND field_name = $2`
	row := q.QueryRow(ctx, query, application, fieldName)
	def, err := scanFieldDefinition(row)
	if err != nil {
		if capturestorage.IsNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan field_definition: %w", err)
	}
	return def, nil
}

func (r *repository) Lookup(ctx context.Context, q capture.Querier, application string, fieldNames []string) (map[string]*capture.FieldDefinition, error) {
	result := make(map[string]*capture.FieldDefinition, len(fieldNames))
	if len(fieldNames) == 0 {
		return result, nil
	}

	// Built as individual lookups rather than an IN(...) clause so the
	// placeholder numbering stays dialect-portable across pgx and sqlite.
	for _, name := range fieldNames {
		def, err := r.GetByName(ctx, q, application, name)
		if err != nil {
			return nil, err
		}
		if def != nil {
			result[name] = def
		}
	}
	return result, nil
}

func (r *repository) ListByApplication(ctx context.Context, q capture.Querier, application string) ([]*capture.FieldDefinition, error) {
	query := `SELECT ` + fieldDefinitionColumns + ` FROM field_definition WHERE application = $1 ORDER BY field_name ASC`
	rows, err := q.Query(ctx, query, application)
	if err != nil {
		return nil, fmt.Errorf("query field_definition: %w", err)
	}
	defer rows.Close()

	var defs []*capture.FieldDefinition
	for rows.Next() {
		def, err := scanFieldDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field_definition: %w", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field_definition: %w", err)
	}
	return defs, nil
}

func (r *repository) Insert(ctx context.Context, q capture.Querier, def *capture.FieldDefinition) error {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}
	query := `
		INSERT INTO field_definition (
			id, application, field_name, data_type, label, attributes_blob, active,
			created_at, updated_at, created_by, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := q.Exec(ctx, query,
		def.ID, def.Application, def.FieldName, string(def.DataType), def.Label, def.Attributes, def.Active,
		def.CreatedAt, def.UpdatedAt, def.CreatedBy, def.UpdatedBy,
	)
	if err != nil {
		return fmt.Errorf("insert field_definition: %w", err)
	}
	return nil
}

func (r *repository) Update(ctx context.Context, q capture.Querier, def *capture.FieldDefinition) error {
	query := `
		UPDATE field_definition
		SET data_type = $1, label = $2, attributes_blob = $3, active = $4, updated_at = $5, updated_by = $6
		WHERE id = $7
	`
	res, err := q.Exec(ctx, query, string(def.DataType), def.Label, def.Attributes, def.Active, def.UpdatedAt, def.UpdatedBy, def.ID)
	if err != nil {
		return fmt.Errorf("update field_definition: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("field_definition %s: no rows updated", def.ID)
	}
	return nil
}

func (r *repository) InsertVersion(ctx context.Context, q capture.Querier, v *capture.FieldDefinitionVersion) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	query := `
		INSERT INTO field_definition_version (
			id, field_definition_id, effective_from, actor, change_description, previous_blob, new_blob
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := q.Exec(ctx, query, v.ID, v.FieldDefinitionID, v.EffectiveFrom, v.Actor, v.ChangeDescription, v.PreviousBlob, v.NewBlob)
	if err != nil {
		return fmt.Errorf("insert field_definition_version: %w", err)
	}
	return nil
}

func (r *repository) ListVersions(ctx context.Context, q capture.Querier, fieldDefinitionID string) ([]*capture.FieldDefinitionVersion, error) {
	query := `
		SELECT id, field_definition_id, effective_from, actor, change_description, previous_blob, new_blob
		FROM field_definition_version
		WHERE field_definition_id = $1
		ORDER BY effective_from DESC
	`
	rows, err := q.Query(ctx, query, fieldDefinitionID)
	if err != nil {
		return nil, fmt.Errorf("query field_definition_version: %w", err)
	}
	defer rows.Close()

	var versions []*capture.FieldDefinitionVersion
	for rows.Next() {
		var v capture.FieldDefinitionVersion
		if err := rows.Scan(&v.ID, &v.FieldDefinitionID, &v.EffectiveFrom, &v.Actor, &v.ChangeDescription, &v.PreviousBlob, &v.NewBlob); err != nil {
			return nil, fmt.Errorf("scan field_definition_version: %w", err)
		}
		versions = append(versions, &v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field_definition_version: %w", err)
	}
	return versions, nil
}

// snapshotBlob serializes a FieldDefinition into the opaque blob shape
// stored on field_definition_version.previous_blob / new_blob.
func snapshotBlob(def *capture.FieldDefinition) ([]byte, error) {
	type snapshot struct {
		FieldName  string          `json:"field_name"`
		DataType   capture.DataType `json:"data_type"`
		Label      string          `json:"label"`
		Attributes json.RawMessage `json:"attributes,omitempty"`
		Active     bool            `json:"active"`
	}
	attrs := def.Attributes
	if len(attrs) == 0 {
		attrs = nil
	}
	return json.Marshal(snapshot{
		FieldName:  def.FieldName,
		DataType:   def.DataType,
		Label:      def.Label,
		Attributes: attrs,
		Active:     def.Active,
	})
}
