// Package contextresolver maps an application name plus an unordered set
// of business-key pairs to a stable context_group identifier, creating
// the group and its items the first time the set is seen.
package contextresolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/vitaliisemenov/data-capture/internal/capture"
	capturestorage "github.com/vitaliisemenov/data-capture/internal/capture/storage"
)

// Resolver implements context group lookup-or-create.
type Resolver struct {
	clock  capture.Clock
	logger *slog.Logger
}

// NewResolver constructs a Resolver.
func NewResolver(clock capture.Clock, logger *slog.Logger) *Resolver {
	if clock == nil {
		clock = capture.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{clock: clock, logger: logger}
}

// canonicalPair is one (key, value) entry after validation and sorting.
type canonicalPair struct {
	Key   string
	Value string
}

// canonicalize sorts the input by key and rejects duplicate keys or an
// empty set, matching step 1 of the resolveContext algorithm.
func canonicalize(keys map[string]string) ([]canonicalPair, error) {
	if len(keys) == 0 {
		return nil, capture.ErrInvalidContext("business key set must not be empty")
	}

	pairs := make([]canonicalPair, 0, len(keys))
	for k, v := range keys {
		if k == "" {
			return nil, capture.ErrInvalidContext("business key must not be empty")
		}
		if v == "" {
			return nil, capture.ErrInvalidContext("business key %q has an empty value", k)
		}
		pairs = append(pairs, canonicalPair{Key: k, Value: v})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Key < pairs[j].Key })

	// Go maps cannot carry duplicate keys, so a true "duplicate key in
	// the caller's input" can only arise from a caller that pre-flattens
	// a list of pairs into this map; guard it anyway for that path.
	for i := 1; i < len(pairs); i++ {
		if pairs[i].Key == pairs[i-1].Key {
			return nil, capture.ErrInvalidContext("duplicate business key %q", pairs[i].Key)
		}
	}

	return pairs, nil
}

// Fingerprint computes the deterministic, collision-resistant digest of a
// canonicalized business-key set used for the (application, fingerprint)
// uniqueness constraint. Two inputs with the same set of pairs, regardless
// of original ordering, always produce the same fingerprint.
func Fingerprint(application string, keys map[string]string) (string, error) {
	pairs, err := canonicalize(keys)
	if err != nil {
		return "", err
	}
	return fingerprintPairs(application, pairs), nil
}

func fingerprintPairs(application string, pairs []canonicalPair) string {
	var b strings.Builder
	b.WriteString(application)
	for _, p := range pairs {
		b.WriteByte(0)
		b.WriteString(p.Key)
		b.WriteByte(0)
		b.WriteString(p.Value)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Resolve maps (application, keys) to a context_group id, creating the
// group and its items if this is the first time the set has been seen.
// It runs inside q, which the caller may be a bare Gateway (read-only
// resolution outside a write) or an open Tx shared with the Versioner.
func (r *Resolver) Resolve(ctx context.Context, q capture.Querier, application string, keys map[string]string) (string, error) {
	pairs, err := canonicalize(keys)
	if err != nil {
		return "", err
	}
	fingerprint := fingerprintPairs(application, pairs)

	if id, err := r.lookupByFingerprint(ctx, q, application, fingerprint); err != nil {
		return "", err
	} else if id != "" {
		return id, nil
	}

	id, err := r.insertGroup(ctx, q, application, fingerprint, pairs)
	if err != nil {
		if capture.Is(err, capture.KindConflict) {
			// Lost the race to a concurrent first-time resolution; the
			// unique index on (application, fingerprint) is our second
			// line of defense, so re-read and return the winner's row.
			existingID, lookupErr := r.lookupByFingerprint(ctx, q, application, fingerprint)
			if lookupErr != nil {
				return "", lookupErr
			}
			if existingID != "" {
				return existingID, nil
			}
		}
		return "", err
	}
	return id, nil
}

// ResolveNonCreating looks up an existing context group without creating
// one, for the Reader's getRecord path. Returns ("", nil) if no group
// exists yet for this set.
func (r *Resolver) ResolveNonCreating(ctx context.Context, q capture.Querier, application string, keys map[string]string) (string, error) {
	pairs, err := canonicalize(keys)
	if err != nil {
		return "", err
	}
	fingerprint := fingerprintPairs(application, pairs)
	return r.lookupByFingerprint(ctx, q, application, fingerprint)
}

func (r *Resolver) lookupByFingerprint(ctx context.Context, q capture.Querier, application, fingerprint string) (string, error) {
	row := q.QueryRow(ctx, `SELECT id FROM context_group WHERE application = $1 AND fingerprint = $2`, application, fingerprint)
	var id string
	if err := row.Scan(&id); err != nil {
		if capturestorage.IsNoRows(err) {
			return "", nil
		}
		return "", capture.ErrStorage(err, "look up context group")
	}
	return id, nil
}

func (r *Resolver) insertGroup(ctx context.Context, q capture.Querier, application, fingerprint string, pairs []canonicalPair) (string, error) {
	id := uuid.NewString()
	now := r.clock.Now()

	_, err := q.Exec(ctx, `INSERT INTO context_group (id, application, fingerprint, created_at) VALUES ($1, $2, $3, $4)`,
		id, application, fingerprint, now)
	if err != nil {
		if isUniqueViolation(err) {
			return "", capture.ErrConflict("concurrent context group creation for application %q", application)
		}
		return "", capture.ErrStorage(err, "insert context group")
	}

	for _, p := range pairs {
		itemID := uuid.NewString()
		_, err := q.Exec(ctx, `INSERT INTO context_group_item (id, context_group_id, key, value) VALUES ($1, $2, $3, $4)`,
			itemID, id, p.Key, p.Value)
		if err != nil {
			return "", capture.ErrStorage(err, "insert context group item %q", p.Key)
		}
	}

	r.logger.Debug("context group created", "application", application, "context_group_id", id, "item_count", len(pairs))
	return id, nil
}

// isUniqueViolation recognizes a unique-constraint violation across both
// the pgx and the modernc.org/sqlite error shapes without importing
// either driver's error types into the core package.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "unique") || strings.Contains(msg, "UNIQUE") || strings.Contains(msg, "duplicate key")
}

// Items loads the business-key pairs belonging to a resolved context group.
func Items(ctx context.Context, q capture.Querier, contextGroupID string) (map[string]string, error) {
	rows, err := q.Query(ctx, `SELECT key, value FROM context_group_item WHERE context_group_id = $1`, contextGroupID)
	if err != nil {
		return nil, capture.ErrStorage(err, "query context group items")
	}
	defer rows.Close()

	items := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, capture.ErrStorage(err, "scan context group item")
		}
		items[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, capture.ErrStorage(err, "iterate context group items")
	}
	return items, nil
}
