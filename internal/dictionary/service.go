package dictionary

import (
	"context"
	"log/slog"

	"github.com/vitaliisemenov/data-capture/internal/capture"
)

// Service is the Field Dictionary's public surface: defineField and lookup.
type Service struct {
	gw     capture.Gateway
	repo   Repository
	clock  capture.Clock
	logger *slog.Logger
}

// NewService constructs the Field Dictionary service.
func NewService(gw capture.Gateway, repo Repository, clock capture.Clock, logger *slog.Logger) *Service {
	if clock == nil {
		clock = capture.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gw: gw, repo: repo, clock: clock, logger: logger}
}

// DefineField creates or updates a FieldDefinition for (application, definition.FieldName)
// and appends a FieldDefinitionVersion capturing the transition. Runs in its
// own transaction; it is never called from inside a saveRecord transaction.
func (s *Service) DefineField(ctx context.Context, application string, input capture.FieldDefinitionInput, actor string) (*capture.FieldDefinition, error) {
	if application == "" {
		return nil, capture.ErrInvalidInput("application is required")
	}
	if input.FieldName == "" {
		return nil, capture.ErrInvalidInput("field_name is required")
	}
	if !input.DataType.Valid() {
		return nil, capture.ErrInvalidInput("data_type %q is invalid", input.DataType)
	}

	tx, err := s.gw.Begin(ctx)
	if err != nil {
		return nil, capture.ErrStorage(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	existing, err := s.repo.GetByName(ctx, tx, application, input.FieldName)
	if err != nil {
		return nil, capture.ErrStorage(err, "look up existing field definition")
	}

	now := s.clock.Now()
	active := true
	if input.Active != nil {
		active = *input.Active
	}

	var previousBlob []byte
	var def *capture.FieldDefinition
	var changeDescription string

	if existing == nil {
		def = &capture.FieldDefinition{
			Application: application,
			FieldName:   input.FieldName,
			DataType:    input.DataType,
			Label:       input.Label,
			Attributes:  input.Attributes,
			Active:      active,
			CreatedAt:   now,
			UpdatedAt:   now,
			CreatedBy:   actor,
			UpdatedBy:   actor,
		}
		if err := s.repo.Insert(ctx, tx, def); err != nil {
			return nil, capture.ErrStorage(err, "insert field definition")
		}
		changeDescription = "field defined"
	} else {
		previousBlob, err = snapshotBlob(existing)
		if err != nil {
			return nil, capture.ErrStorage(err, "snapshot previous field definition")
		}

		def = existing
		def.DataType = input.DataType
		def.Label = input.Label
		def.Attributes = input.Attributes
		if input.Active != nil {
			def.Active = *input.Active
		}
		def.UpdatedAt = now
		def.UpdatedBy = actor

		if err := s.repo.Update(ctx, tx, def); err != nil {
			return nil, capture.ErrStorage(err, "update field definition")
		}
		changeDescription = "field updated"
	}

	newBlob, err := snapshotBlob(def)
	if err != nil {
		return nil, capture.ErrStorage(err, "snapshot new field definition")
	}

	version := &capture.FieldDefinitionVersion{
		FieldDefinitionID: def.ID,
		EffectiveFrom:     now,
		Actor:             actor,
		ChangeDescription: changeDescription,
		PreviousBlob:      previousBlob,
		NewBlob:           newBlob,
	}
	if err := s.repo.InsertVersion(ctx, tx, version); err != nil {
		return nil, capture.ErrStorage(err, "insert field definition version")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, capture.ErrStorage(err, "commit field definition")
	}

	s.logger.Info("field defined",
		"application", application,
		"field_name", def.FieldName,
		"data_type", def.DataType,
		"actor", actor,
		"created", existing == nil,
	)

	return def, nil
}

// Lookup performs a bulk read of field definitions for the Reader and
// Value Versioner. Unknown names are simply absent from the result map.
func (s *Service) Lookup(ctx context.Context, application string, fieldNames []string) (map[string]*capture.FieldDefinition, error) {
	defs, err := s.repo.Lookup(ctx, s.gw, application, fieldNames)
	if err != nil {
		return nil, capture.ErrStorage(err, "lookup field definitions")
	}
	return defs, nil
}

// ListByApplication returns every field defined for application, used by
// getRecord when the caller does not narrow the field set.
func (s *Service) ListByApplication(ctx context.Context, application string) ([]*capture.FieldDefinition, error) {
	defs, err := s.repo.ListByApplication(ctx, s.gw, application)
	if err != nil {
		return nil, capture.ErrStorage(err, "list field definitions")
	}
	return defs, nil
}

// LookupWithin is Lookup run against an already-open transaction, used by
// the Value Versioner so field resolution shares the saveRecord tx.
func (s *Service) LookupWithin(ctx context.Context, q capture.Querier, application string, fieldNames []string) (map[string]*capture.FieldDefinition, error) {
	defs, err := s.repo.Lookup(ctx, q, application, fieldNames)
	if err != nil {
		return nil, capture.ErrStorage(err, "lookup field definitions")
	}
	return defs, nil
}

// GetActiveField resolves a single field within an open transaction and
// classifies UnknownField / InactiveField per the Value Versioner's protocol.
func GetActiveField(ctx context.Context, repo Repository, q capture.Querier, application, fieldName string) (*capture.FieldDefinition, error) {
	def, err := repo.GetByName(ctx, q, application, fieldName)
	if err != nil {
		return nil, capture.ErrStorage(err, "resolve field %q", fieldName)
	}
	if def == nil {
		return nil, capture.ErrUnknownField(application, fieldName)
	}
	if !def.Active {
		return nil, capture.ErrInactiveField(application, fieldName)
	}
	return def, nil
}
