// Package capture holds the domain types, error taxonomy, and dependency
// interfaces shared by the field dictionary, context resolver, value
// versioner, reader, and service facade.
package capture

import "time"

// DataType is the set of scalar types a FieldDefinition may declare.
type DataType string

const (
	DataTypeString  DataType = "string"
	DataTypeNumber  DataType = "number"
	DataTypeDate    DataType = "date"
	DataTypeBoolean DataType = "boolean"
)

// Valid reports whether d is one of the four supported data types.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeString, DataTypeNumber, DataTypeDate, DataTypeBoolean:
		return true
	}
	return false
}

// UsesNumericSlot reports whether values of this type are carried in
// value_number rather than value_string.
func (d DataType) UsesNumericSlot() bool {
	return d == DataTypeNumber
}

// FieldDefinition is the identity of a typed slot, keyed by (Application, FieldName).
type FieldDefinition struct {
	ID         string
	Application string
	FieldName  string
	DataType   DataType
	Label      string
	Attributes []byte // opaque attribute bag, carried through unexamined
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
	CreatedBy  string
	UpdatedBy  string
}

// FieldDefinitionInput is the caller-supplied shape for defineField.
type FieldDefinitionInput struct {
	FieldName  string   `validate:"required"`
	DataType   DataType `validate:"required,oneof=string number date boolean"`
	Label      string
	Attributes []byte
	Active     *bool // nil means "leave active as true on create, unchanged on update"
}

// FieldDefinitionVersion is an append-only record of a definition change.
type FieldDefinitionVersion struct {
	ID                string
	FieldDefinitionID string
	EffectiveFrom     time.Time
	Actor             string
	ChangeDescription string
	PreviousBlob      []byte // nil on first insert
	NewBlob           []byte
}

// ContextGroup is the resolved persistent identity of a set of business keys.
type ContextGroup struct {
	ID          string
	Application string
	Fingerprint string
	CreatedAt   time.Time
}

// ContextGroupItem is one (key, value) business pair belonging to a ContextGroup.
type ContextGroupItem struct {
	ID             string
	ContextGroupID string
	Key            string
	Value          string
}

// CaptureDatum is the hot row: the current active value for (ContextGroupID, FieldDefinitionID).
type CaptureDatum struct {
	ID                string
	FieldDefinitionID string
	ContextGroupID    string
	ValueString       *string
	ValueNumber       *string // decimal(38,10) carried as string to avoid float precision loss
	CurrentVersionID  string
	CurrentVersionNum int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CaptureDatumVersion is one immutable save of a field within a context.
type CaptureDatumVersion struct {
	ID                  string
	CaptureDataID       string
	SequentialVersionNum int64
	ValueString         *string
	ValueNumber         *string
	ChangedAt           time.Time
	ChangedBy           string
	ChangeReason        string
	SignatureType       string
	EventType           string
}

// AuditEvent is a coarse, optional cross-cutting log entry.
type AuditEvent struct {
	ID           string
	Timestamp    time.Time
	Actor        string
	Application  string
	EventType    string
	AffectedType string
	AffectedID   string
	Details      []byte
}

// FieldSave is one per-field request within a saveRecord batch.
type FieldSave struct {
	FieldName     string `validate:"required"`
	Value         any    // string, float64/decimal-as-string, bool, or time.Time/ISO string depending on the field's data type
	ChangeReason  string
	EventType     string
	SignatureType string
}

// SaveDefaults supplies batch-level fallbacks applied when a FieldSave omits them.
type SaveDefaults struct {
	ChangeReason  string
	EventType     string
	SignatureType string
}

// FieldSaveResult is the per-field outcome reported by saveRecord.
type FieldSaveResult struct {
	FieldName            string
	FieldDefinitionID    string
	CaptureDataID        string
	VersionID            string
	SequentialVersionNum int64
}

// SaveRecordResult is the aggregate outcome of a saveRecord call.
type SaveRecordResult struct {
	ContextGroupID string
	Saved          []FieldSaveResult
}

// FieldView is one entry of a getRecord response: the field's current value
// joined with its dictionary metadata.
type FieldView struct {
	FieldName  string
	Value      any
	Label      string
	DataType   DataType
	Attributes []byte
	Version    *int64
	UpdatedAt  *time.Time
	HotRowID   string
	VersionID  string
}

// VersionRecord is one entry of a getFieldAuditTrail response.
type VersionRecord struct {
	SequentialVersionNum int64
	Value                any
	ChangedAt            time.Time
	ChangedBy            string
	ChangeReason         string
	EventType            string
	SignatureType        string
}
