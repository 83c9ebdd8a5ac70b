// Package versioner implements the Value Versioner: the only component
// that writes capture_data and capture_data_version rows, and the sole
// place where the "gap-free sequential version per (context_group,
// field)" invariant is enforced.
package versioner

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/data-capture/internal/capture"
	capturestorage "github.com/vitaliisemenov/data-capture/internal/capture/storage"
	"github.com/vitaliisemenov/data-capture/internal/dictionary"
)

// Versioner appends a new CaptureDatumVersion for a single field within
// a context group and maintains the corresponding capture_data hot row.
// It is stateless between calls and safe for concurrent use.
type Versioner struct {
	repo    dictionary.Repository
	clock   capture.Clock
	dialect capture.Dialect
	logger  *slog.Logger
}

// NewVersioner constructs a Versioner. repo is used to resolve the
// target field's definition within the caller's transaction. dialect
// comes from the Gateway the caller's transactions are opened against,
// since capture.Tx itself carries no dialect of its own.
func NewVersioner(repo dictionary.Repository, dialect capture.Dialect, clock capture.Clock, logger *slog.Logger) *Versioner {
	if clock == nil {
		clock = capture.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Versioner{repo: repo, dialect: dialect, clock: clock, logger: logger}
}

// hotRow is the current state of a capture_data row, or nil if the
// (context_group_id, field_definition_id) pair has never been captured.
type hotRow struct {
	id               string
	currentVersionNum int64
}

// SaveField executes the per-field capture protocol inside tx:
//  1. resolve the field definition, rejecting unknown/inactive fields
//  2. serialize the value into the field's typed storage slot
//  3. lock the hot row for (context_group_id, field_definition_id), if one exists
//  4. compute the next gap-free sequential version number
//  5. insert the new capture_data_version row
//  6. upsert the capture_data hot row to point at the new version
//  7. return a FieldSaveResult describing what happened
//
// tx must be shared with the Context Resolver call that produced
// contextGroupID; both calls must commit or roll back together.
func (v *Versioner) SaveField(ctx context.Context, tx capture.Tx, application, contextGroupID string, fs capture.FieldSave, actor string) (*capture.FieldSaveResult, error) {
	def, err := dictionary.GetActiveField(ctx, v.repo, tx, application, fs.FieldName)
	if err != nil {
		return nil, err
	}

	valueString, valueNumber, err := serializeValue(fs.FieldName, fs.Value, def.DataType)
	if err != nil {
		return nil, err
	}

	hot, err := v.lockHotRow(ctx, tx, def.ID, contextGroupID)
	if err != nil {
		return nil, err
	}

	now := v.clock.Now()
	nextSeq := int64(1)
	datumID := uuid.NewString()
	if hot != nil {
		nextSeq = hot.currentVersionNum + 1
		datumID = hot.id
	}

	versionID := uuid.NewString()
	if err := v.insertVersion(ctx, tx, versionID, datumID, nextSeq, valueString, valueNumber, fs, now, actor); err != nil {
		return nil, err
	}

	if err := v.upsertHotRow(ctx, tx, hot, datumID, def.ID, contextGroupID, versionID, nextSeq, valueString, valueNumber, now); err != nil {
		return nil, err
	}

	v.logger.Debug("field version saved",
		"application", application,
		"context_group_id", contextGroupID,
		"field_name", fs.FieldName,
		"sequential_version_num", nextSeq,
	)

	return &capture.FieldSaveResult{
		FieldName:            fs.FieldName,
		FieldDefinitionID:    def.ID,
		CaptureDataID:        datumID,
		VersionID:            versionID,
		SequentialVersionNum: nextSeq,
	}, nil
}

// lockHotRow reads the hot row, if any, under the strongest available
// row-level exclusive mode: FOR UPDATE on Postgres. On SQLite the
// surrounding transaction already holds the database's single writer
// slot (internal/storage restricts the SQLite pool to one connection),
// so a plain read is equivalent: a second writer blocks opening its
// transaction rather than blocking on this statement.
func (v *Versioner) lockHotRow(ctx context.Context, tx capture.Tx, fieldDefinitionID, contextGroupID string) (*hotRow, error) {
	query := `SELECT id, current_version_num FROM capture_data WHERE field_definition_id = $1 AND context_group_id = $2`
	if v.dialect == capture.DialectPostgres {
		query += ` FOR UPDATE`
	}

	row := tx.QueryRow(ctx, query, fieldDefinitionID, contextGroupID)
	var h hotRow
	if err := row.Scan(&h.id, &h.currentVersionNum); err != nil {
		if capturestorage.IsNoRows(err) {
			return nil, nil
		}
		return nil, capture.ErrStorage(err, "lock capture_data row")
	}
	return &h, nil
}

func (v *Versioner) insertVersion(ctx context.Context, tx capture.Tx, versionID, datumID string, seq int64, valueString, valueNumber *string, fs capture.FieldSave, now time.Time, actor string) error {
	query := `
		INSERT INTO capture_data_version (
			id, capture_data_id, sequential_version_num, value_string_versioned, value_number_versioned,
			changed_at, changed_by, change_reason, signature_type, event_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := tx.Exec(ctx, query,
		versionID, datumID, seq, valueString, valueNumber,
		now, actor, fs.ChangeReason, fs.SignatureType, fs.EventType,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return capture.ErrConflict("concurrent write to the same field in this context group")
		}
		return capture.ErrStorage(err, "insert capture_data_version")
	}
	return nil
}

func (v *Versioner) upsertHotRow(ctx context.Context, tx capture.Tx, hot *hotRow, datumID, fieldDefinitionID, contextGroupID, versionID string, seq int64, valueString, valueNumber *string, now time.Time) error {
	if hot == nil {
		query := `
			INSERT INTO capture_data (
				id, field_definition_id, context_group_id,
				value_string, value_number, current_version_id, current_version_num,
				created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`
		_, err := tx.Exec(ctx, query,
			datumID, fieldDefinitionID, contextGroupID,
			valueString, valueNumber, versionID, seq,
			now, now,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return capture.ErrConflict("concurrent first write to this field in this context group")
			}
			return capture.ErrStorage(err, "insert capture_data")
		}
		return nil
	}

	query := `
		UPDATE capture_data
		SET value_string = $1, value_number = $2, current_version_id = $3, current_version_num = $4, updated_at = $5
		WHERE id = $6
	`
	_, err := tx.Exec(ctx, query, valueString, valueNumber, versionID, seq, now, datumID)
	if err != nil {
		return capture.ErrStorage(err, "update capture_data")
	}
	return nil
}

// serializeValue converts a FieldSave's dynamically-typed Value into the
// two physical storage slots per the fixed serialization policy: numbers
// go in value_number as a decimal string (never a binary float, to avoid
// precision loss), everything else, including dates and booleans,
// goes in value_string using a single uniform textual form so both
// backends and every reader agree on representation.
func serializeValue(fieldName string, value any, dt capture.DataType) (valueString, valueNumber *string, err error) {
	if value == nil {
		return nil, nil, capture.ErrInvalidInput("field %q requires a non-null value", fieldName)
	}

	switch dt {
	case capture.DataTypeNumber:
		s, err := numberToString(value)
		if err != nil {
			return nil, nil, capture.ErrInvalidInput("field %q: %v", fieldName, err)
		}
		return nil, &s, nil

	case capture.DataTypeString:
		s, ok := value.(string)
		if !ok {
			return nil, nil, capture.ErrInvalidInput("field %q expects a string value", fieldName)
		}
		return &s, nil, nil

	case capture.DataTypeBoolean:
		s, err := booleanToString(value)
		if err != nil {
			return nil, nil, capture.ErrInvalidInput("field %q: %v", fieldName, err)
		}
		return &s, nil, nil

	case capture.DataTypeDate:
		s, err := dateToString(value)
		if err != nil {
			return nil, nil, capture.ErrInvalidInput("field %q: %v", fieldName, err)
		}
		return &s, nil, nil

	default:
		return nil, nil, capture.ErrInvalidInput("field %q has an unsupported data type %q", fieldName, dt)
	}
}

func numberToString(value any) (string, error) {
	switch n := value.(type) {
	case string:
		if _, err := strconv.ParseFloat(n, 64); err != nil {
			return "", fmt.Errorf("%q is not a valid number", n)
		}
		return n, nil
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	default:
		return "", fmt.Errorf("expected a numeric value, got %T", value)
	}
}

func booleanToString(value any) (string, error) {
	switch b := value.(type) {
	case bool:
		return strconv.FormatBool(b), nil
	case string:
		parsed, err := strconv.ParseBool(b)
		if err != nil {
			return "", fmt.Errorf("%q is not a valid boolean", b)
		}
		return strconv.FormatBool(parsed), nil
	default:
		return "", fmt.Errorf("expected a boolean value, got %T", value)
	}
}

func dateToString(value any) (string, error) {
	switch d := value.(type) {
	case time.Time:
		return d.UTC().Format(time.RFC3339), nil
	case string:
		if _, err := time.Parse(time.RFC3339, d); err != nil {
			return "", fmt.Errorf("%q is not an RFC 3339 timestamp", d)
		}
		return d, nil
	default:
		return "", fmt.Errorf("expected a date value, got %T", value)
	}
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unique") || strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate key")
}
