// Package facade composes the Field Dictionary, Context Resolver, Value
// Versioner, and Reader into the engine's single public surface:
// defineField, saveRecord, getRecord, and getFieldAuditTrail.
package facade

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/vitaliisemenov/data-capture/internal/capture"
	"github.com/vitaliisemenov/data-capture/internal/contextresolver"
	"github.com/vitaliisemenov/data-capture/internal/dictionary"
	"github.com/vitaliisemenov/data-capture/internal/lock"
	"github.com/vitaliisemenov/data-capture/internal/reader"
	"github.com/vitaliisemenov/data-capture/internal/versioner"
)

// Engine is the Service Facade.
type Engine struct {
	gw        capture.Gateway
	dict      *dictionary.Service
	resolver  *contextresolver.Resolver
	versioner *versioner.Versioner
	reader    *reader.Reader
	preLock   *lock.Manager
	validate  *validator.Validate
	clock     capture.Clock
	logger    *slog.Logger
}

// New wires the four components over gw into a single Engine. cache is
// the optional read-through cache in front of the Reader's hot-row
// lookups; pass nil to disable it (every read goes straight to gw).
// preLock is the optional pre-transaction Redis lock (nil disables it,
// or pass a Manager built with Config.Enabled=false to the same
// effect).
func New(gw capture.Gateway, cache reader.Cache, preLock *lock.Manager, clock capture.Clock, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = capture.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if preLock == nil {
		preLock = lock.NewManager(nil, nil, logger)
	}

	repo := dictionary.NewRepository(logger)
	dict := dictionary.NewService(gw, repo, clock, logger)
	resolver := contextresolver.NewResolver(clock, logger)
	v := versioner.NewVersioner(repo, gw.Dialect(), clock, logger)
	rd := reader.NewReader(gw, dict, resolver, cache, logger)

	return &Engine{
		gw:        gw,
		dict:      dict,
		resolver:  resolver,
		versioner: v,
		reader:    rd,
		preLock:   preLock,
		validate:  validator.New(),
		clock:     clock,
		logger:    logger,
	}
}

// DefineField registers or updates a field's identity in the dictionary.
// It is never part of a saveRecord transaction.
func (e *Engine) DefineField(ctx context.Context, application string, input capture.FieldDefinitionInput, actor string) (*capture.FieldDefinition, error) {
	if err := e.validate.Struct(input); err != nil {
		return nil, capture.ErrInvalidInput("defineField: %s", err.Error())
	}
	return e.dict.DefineField(ctx, application, input, actor)
}

// SaveRecord resolves the context for businessKeys and appends one new
// version per field in fields, all inside a single transaction: either
// every field is recorded, or none are. A capture.KindConflict on the
// first attempt (a concurrent writer touching the same context and
// field) is retried exactly once after a full rollback; any other
// error, or a second Conflict, is returned unchanged.
func (e *Engine) SaveRecord(ctx context.Context, application string, businessKeys map[string]string, fields []capture.FieldSave, defaults capture.SaveDefaults, actor string) (*capture.SaveRecordResult, error) {
	if err := validateBatch(fields); err != nil {
		return nil, err
	}
	fields = applyDefaults(fields, defaults)

	for _, fs := range fields {
		if err := e.validate.Struct(fs); err != nil {
			return nil, capture.ErrInvalidInput("saveRecord: %s", err.Error())
		}
	}

	fingerprint, err := contextresolver.Fingerprint(application, businessKeys)
	if err != nil {
		return nil, err
	}
	lockKey := lock.Key(application, fingerprint)
	held, acquired, err := e.preLock.Acquire(ctx, lockKey)
	if err != nil {
		return nil, capture.ErrStorage(err, "acquire pre-lock")
	}
	if !acquired {
		return nil, capture.ErrConflict("context %s is already being saved by another writer", lockKey)
	}
	defer held.Release(ctx)

	result, err := e.attemptSaveRecord(ctx, application, businessKeys, fields, actor)
	if err != nil && capture.Is(err, capture.KindConflict) {
		result, err = e.attemptSaveRecord(ctx, application, businessKeys, fields, actor)
	}
	return result, err
}

func (e *Engine) attemptSaveRecord(ctx context.Context, application string, businessKeys map[string]string, fields []capture.FieldSave, actor string) (*capture.SaveRecordResult, error) {
	tx, err := e.gw.Begin(ctx)
	if err != nil {
		return nil, capture.ErrStorage(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	contextGroupID, err := e.resolver.Resolve(ctx, tx, application, businessKeys)
	if err != nil {
		return nil, err
	}

	saved := make([]capture.FieldSaveResult, 0, len(fields))
	for _, fs := range fields {
		fr, err := e.versioner.SaveField(ctx, tx, application, contextGroupID, fs, actor)
		if err != nil {
			return nil, err
		}
		saved = append(saved, *fr)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, capture.ErrStorage(err, "commit saveRecord")
	}

	for _, fr := range saved {
		e.reader.InvalidateHotRow(ctx, contextGroupID, fr.FieldDefinitionID)
	}

	e.logger.Info("record saved",
		"application", application,
		"context_group_id", contextGroupID,
		"field_count", len(saved),
		"actor", actor,
	)

	return &capture.SaveRecordResult{ContextGroupID: contextGroupID, Saved: saved}, nil
}

// GetRecord is a pure read delegated to the Reader.
func (e *Engine) GetRecord(ctx context.Context, application string, businessKeys map[string]string, fieldNames []string) ([]capture.FieldView, error) {
	return e.reader.GetRecord(ctx, application, businessKeys, fieldNames)
}

// GetFieldAuditTrail is a pure read delegated to the Reader.
func (e *Engine) GetFieldAuditTrail(ctx context.Context, application string, businessKeys map[string]string, fieldName string) ([]capture.VersionRecord, error) {
	return e.reader.GetFieldAuditTrail(ctx, application, businessKeys, fieldName)
}

func validateBatch(fields []capture.FieldSave) error {
	if len(fields) == 0 {
		return capture.ErrInvalidInput("saveRecord requires at least one field")
	}
	seen := make(map[string]struct{}, len(fields))
	for _, fs := range fields {
		if fs.FieldName == "" {
			return capture.ErrInvalidInput("field_name is required")
		}
		if _, dup := seen[fs.FieldName]; dup {
			return capture.ErrInvalidInput("field %q appears more than once in the same saveRecord batch", fs.FieldName)
		}
		seen[fs.FieldName] = struct{}{}
	}
	return nil
}

func applyDefaults(fields []capture.FieldSave, defaults capture.SaveDefaults) []capture.FieldSave {
	out := make([]capture.FieldSave, len(fields))
	for i, fs := range fields {
		if fs.ChangeReason == "" {
			fs.ChangeReason = defaults.ChangeReason
		}
		if fs.EventType == "" {
			fs.EventType = defaults.EventType
		}
		if fs.SignatureType == "" {
			fs.SignatureType = defaults.SignatureType
		}
		out[i] = fs
	}
	return out
}
