// Package identity implements C4: the get-or-create resolver mapping a
// textual reference (uuid, slug, or name) to a stable internal id,
// serialized per (project, entity-kind, name) so concurrent reports
// naming the same new benchmark create exactly one row.
package identity

import (
	"context"
	"database/sql"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/units"
)

// Kind is the entity kind being resolved; it selects the backing table.
type Kind string

const (
	KindBranch    Kind = "branch"
	KindTestbed   Kind = "testbed"
	KindMeasure   Kind = "measure"
	KindBenchmark Kind = "benchmark"
)

const cacheSize = 4096

// Execer is the subset of *sql.DB / *sql.Tx a Resolver needs. Passing a
// *sql.Tx lets report writes (C7) resolve identities inside the same
// transaction as the rows that reference them, without a second
// connection contending for the store's single writer.
type Execer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Resolver resolves textual references to internal ids against a single
// table per Kind, with an in-process cache and request-collapsing so
// that two concurrent lookups for a brand-new name issue one INSERT.
type Resolver struct {
	db    Execer
	group singleflight.Group
	cache *lru.Cache
}

// New returns a Resolver backed by db.
func New(db Execer) *Resolver {
	cache, err := lru.New(cacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which cacheSize never is.
		panic(err)
	}
	return &Resolver{db: db, cache: cache}
}

// Scoped returns a Resolver sharing this Resolver's cache but issuing
// queries against dbtx instead -- typically an in-flight *sql.Tx.
func (r *Resolver) Scoped(dbtx Execer) *Resolver {
	return &Resolver{db: dbtx, cache: r.cache}
}

func tableFor(k Kind) string {
	switch k {
	case KindBranch:
		return "branches"
	case KindTestbed:
		return "testbeds"
	case KindMeasure:
		return "measures"
	case KindBenchmark:
		return "benchmarks"
	default:
		panic(fmt.Sprintf("identity: unknown kind %q", k))
	}
}

func cacheKey(projectID int64, kind Kind, ref string) string {
	return fmt.Sprintf("%d/%s/%s", projectID, kind, ref)
}

// Resolve maps ref (a uuid, slug, or name) to the row's internal id
// within projectID's scope. If no row matches and creatable is false,
// it returns apierror.NotFound. If creatable is true, it validates ref
// with units.ValidateName, creates the row (generating a slug from ref
// if ref is not already slug-shaped) and returns the new id.
//
// Concurrent Resolve calls for the same (projectID, kind, ref) are
// collapsed into a single underlying database round trip via
// singleflight, so a brand-new name is only ever inserted once.
func (r *Resolver) Resolve(ctx context.Context, projectID int64, kind Kind, ref string, creatable bool) (int64, error) {
	if cached, ok := r.cache.Get(cacheKey(projectID, kind, ref)); ok {
		return cached.(int64), nil
	}

	key := cacheKey(projectID, kind, ref)
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		return r.resolveOnce(ctx, projectID, kind, ref, creatable)
	})
	if err != nil {
		return 0, err
	}
	id := v.(int64)
	r.cache.Add(key, id)
	return id, nil
}

func (r *Resolver) resolveOnce(ctx context.Context, projectID int64, kind Kind, ref string, creatable bool) (int64, error) {
	table := tableFor(kind)

	id, found, err := r.lookup(ctx, table, projectID, ref)
	if err != nil {
		return 0, err
	}
	if found {
		return id, nil
	}
	if !creatable {
		return 0, apierror.New(apierror.NotFound, "%s %q not found in project", kind, ref)
	}
	if err := units.ValidateName(ref); err != nil {
		return 0, err
	}
	return r.create(ctx, table, projectID, ref)
}

func (r *Resolver) lookup(ctx context.Context, table string, projectID int64, ref string) (int64, bool, error) {
	var id int64
	query := fmt.Sprintf(`SELECT id FROM %s WHERE project_id = ? AND (uuid = ? OR slug = ? OR name = ?)`, table)
	err := r.db.QueryRowContext(ctx, query, projectID, ref, ref, ref).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		return 0, false, nil
	case err != nil:
		return 0, false, skerr.Wrapf(err, "looking up %s %q", table, ref)
	default:
		return id, true, nil
	}
}

// create inserts a new row under ref, retrying once on a UNIQUE
// violation (another process won the race) by re-running lookup.
//
// Every table this resolver creates into has (uuid, project_id, name,
// slug) as its only NOT NULL columns without a default; measures also
// carries a `units` column, defaulted to '' at the schema level so a
// measure first seen on the ingestion path (§4.4: always creatable) can
// be created here too, with its unit filled in later out-of-band.
func (r *Resolver) create(ctx context.Context, table string, projectID int64, ref string) (int64, error) {
	slug := deriveSlug(ref)
	query := fmt.Sprintf(`INSERT INTO %s (uuid, project_id, name, slug) VALUES (?, ?, ?, ?)`, table)
	result, err := r.db.ExecContext(ctx, query, uuid.New().String(), projectID, ref, slug)
	if err != nil {
		// Another concurrent resolveOnce may have won the UNIQUE(project_id, slug)
		// race between our lookup and this insert; fall back to re-reading it.
		if id, found, lookupErr := r.lookup(ctx, table, projectID, ref); lookupErr == nil && found {
			return id, nil
		}
		return 0, skerr.Wrapf(err, "creating %s %q", table, ref)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, skerr.Wrap(err)
	}
	return id, nil
}

// deriveSlug treats ref as already slug-shaped if it parses as a uuid
// (a caller resolving by uuid can't also be the one inventing a new
// row), otherwise derives a slug from it as a name.
func deriveSlug(ref string) string {
	if _, err := uuid.Parse(ref); err == nil {
		return ref
	}
	return units.Slugify(ref)
}
