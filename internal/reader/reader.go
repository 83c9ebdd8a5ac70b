// Package reader implements the read side of the engine: getRecord and
// getFieldAuditTrail. Both operations are read-only and never open a
// transaction of their own; they run directly against the Gateway.
package reader

import (
	"context"
	"log/slog"
	"time"

	"github.com/vitaliisemenov/data-capture/internal/capture"
	capturestorage "github.com/vitaliisemenov/data-capture/internal/capture/storage"
	"github.com/vitaliisemenov/data-capture/internal/contextresolver"
)

// Dictionary is the subset of the Field Dictionary's service surface the
// Reader depends on.
type Dictionary interface {
	Lookup(ctx context.Context, application string, fieldNames []string) (map[string]*capture.FieldDefinition, error)
	ListByApplication(ctx context.Context, application string) ([]*capture.FieldDefinition, error)
}

// Reader answers getRecord and getFieldAuditTrail.
type Reader struct {
	gw       capture.Gateway
	dict     Dictionary
	resolver *contextresolver.Resolver
	cache    Cache
	logger   *slog.Logger
}

// NewReader constructs a Reader. cache may be nil, in which case every
// read goes straight to the Gateway.
func NewReader(gw capture.Gateway, dict Dictionary, resolver *contextresolver.Resolver, cache Cache, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{gw: gw, dict: dict, resolver: resolver, cache: cache, logger: logger}
}

// InvalidateHotRow evicts the cached entry for one (context_group_id,
// field_definition_id) pair. Called by the facade immediately after a
// saveRecord commit touches that pair, so no reader can observe a
// stale cached value once the write is durable.
func (r *Reader) InvalidateHotRow(ctx context.Context, contextGroupID, fieldDefinitionID string) {
	if r.cache == nil {
		return
	}
	r.cache.Invalidate(ctx, HotRowKey(contextGroupID, fieldDefinitionID))
}

// GetRecord returns the current value of every requested field for the
// context identified by businessKeys. A nil or empty fieldNames means
// "every field defined for application". A field with no captured value
// yet is still present in the result with a nil Value/Version/UpdatedAt.
// If the context itself has never been resolved, every requested field
// comes back uncaptured rather than the call failing.
func (r *Reader) GetRecord(ctx context.Context, application string, businessKeys map[string]string, fieldNames []string) ([]capture.FieldView, error) {
	defs, err := r.resolveFieldDefs(ctx, application, fieldNames)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		return []capture.FieldView{}, nil
	}

	contextGroupID, err := r.resolver.ResolveNonCreating(ctx, r.gw, application, businessKeys)
	if err != nil {
		return nil, err
	}

	views := make([]capture.FieldView, 0, len(defs))
	for _, def := range defs {
		view := capture.FieldView{
			FieldName:  def.FieldName,
			Label:      def.Label,
			DataType:   def.DataType,
			Attributes: def.Attributes,
		}
		if contextGroupID != "" {
			datum, err := r.loadHotRow(ctx, contextGroupID, def.ID)
			if err != nil {
				return nil, err
			}
			if datum != nil {
				view.Value = decodeValue(def.DataType, datum.valueString, datum.valueNumber)
				v := datum.currentVersionNum
				view.Version = &v
				updatedAt := datum.updatedAt
				view.UpdatedAt = &updatedAt
				view.HotRowID = datum.id
				view.VersionID = datum.currentVersionID
			}
		}
		views = append(views, view)
	}
	return views, nil
}

// GetFieldAuditTrail returns every recorded version of one field within
// one context, oldest first. An undefined field is rejected with
// UnknownField; a defined field that has never been captured, or a
// context that has never been resolved, returns an empty slice.
func (r *Reader) GetFieldAuditTrail(ctx context.Context, application string, businessKeys map[string]string, fieldName string) ([]capture.VersionRecord, error) {
	defs, err := r.dict.Lookup(ctx, application, []string{fieldName})
	if err != nil {
		return nil, err
	}
	def, ok := defs[fieldName]
	if !ok {
		return nil, capture.ErrUnknownField(application, fieldName)
	}

	contextGroupID, err := r.resolver.ResolveNonCreating(ctx, r.gw, application, businessKeys)
	if err != nil {
		return nil, err
	}
	if contextGroupID == "" {
		return []capture.VersionRecord{}, nil
	}

	datum, err := r.loadHotRow(ctx, contextGroupID, def.ID)
	if err != nil {
		return nil, err
	}
	if datum == nil {
		return []capture.VersionRecord{}, nil
	}

	rows, err := r.gw.Query(ctx, `
		SELECT sequential_version_num, value_string_versioned, value_number_versioned, changed_at, changed_by, change_reason, signature_type, event_type
		FROM capture_data_version
		WHERE capture_data_id = $1
		ORDER BY sequential_version_num ASC
	`, datum.id)
	if err != nil {
		return nil, capture.ErrStorage(err, "query capture_data_version")
	}
	defer rows.Close()

	var records []capture.VersionRecord
	for rows.Next() {
		var vr capture.VersionRecord
		var valueString, valueNumber *string
		if err := rows.Scan(&vr.SequentialVersionNum, &valueString, &valueNumber, &vr.ChangedAt, &vr.ChangedBy, &vr.ChangeReason, &vr.SignatureType, &vr.EventType); err != nil {
			return nil, capture.ErrStorage(err, "scan capture_data_version")
		}
		vr.Value = decodeValue(def.DataType, valueString, valueNumber)
		records = append(records, vr)
	}
	if err := rows.Err(); err != nil {
		return nil, capture.ErrStorage(err, "iterate capture_data_version")
	}
	if records == nil {
		records = []capture.VersionRecord{}
	}
	return records, nil
}

func (r *Reader) resolveFieldDefs(ctx context.Context, application string, fieldNames []string) ([]*capture.FieldDefinition, error) {
	if len(fieldNames) == 0 {
		return r.dict.ListByApplication(ctx, application)
	}
	found, err := r.dict.Lookup(ctx, application, fieldNames)
	if err != nil {
		return nil, err
	}
	defs := make([]*capture.FieldDefinition, 0, len(fieldNames))
	for _, name := range fieldNames {
		def, ok := found[name]
		if !ok {
			return nil, capture.ErrUnknownField(application, name)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

type hotDatum struct {
	id                string
	valueString       *string
	valueNumber       *string
	currentVersionID  string
	currentVersionNum int64
	updatedAt         time.Time
}

func (r *Reader) loadHotRow(ctx context.Context, contextGroupID, fieldDefinitionID string) (*hotDatum, error) {
	key := HotRowKey(contextGroupID, fieldDefinitionID)
	if r.cache != nil {
		if d, ok := r.cache.Get(ctx, key); ok {
			return d, nil
		}
	}

	row := r.gw.QueryRow(ctx, `
		SELECT id, value_string, value_number, current_version_id, current_version_num, updated_at
		FROM capture_data
		WHERE context_group_id = $1 AND field_definition_id = $2
	`, contextGroupID, fieldDefinitionID)

	var d hotDatum
	if err := row.Scan(&d.id, &d.valueString, &d.valueNumber, &d.currentVersionID, &d.currentVersionNum, &d.updatedAt); err != nil {
		if capturestorage.IsNoRows(err) {
			return nil, nil
		}
		return nil, capture.ErrStorage(err, "load capture_data row")
	}

	if r.cache != nil {
		r.cache.Set(ctx, key, &d)
	}
	return &d, nil
}

func decodeValue(dt capture.DataType, valueString, valueNumber *string) any {
	if dt == capture.DataTypeNumber {
		if valueNumber == nil {
			return nil
		}
		return *valueNumber
	}
	if valueString == nil {
		return nil
	}
	return *valueString
}
