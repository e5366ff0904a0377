package api

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"go.bencher.dev/core/bencher/ambient/skerr"
	"go.bencher.dev/core/bencher/apierror"
	"go.bencher.dev/core/bencher/model"
)

// resolveProject looks projectRef (uuid or slug) up directly: unlike
// branches, testbeds, measures, and benchmarks, projects are never
// get-or-created from a report, so this bypasses identity.Resolver.
func resolveProject(ctx context.Context, deps Deps, projectRef string) (model.Project, error) {
	row := deps.Store.DB.QueryRowContext(ctx, `
		SELECT id, uuid, organization_id, name, slug, visibility, created, modified
		FROM projects WHERE uuid = ? OR slug = ?`, projectRef, projectRef)

	var p model.Project
	var rawUUID string
	err := row.Scan(&p.ID, &rawUUID, &p.OrganizationID, &p.Name, &p.Slug, &p.Visibility, &p.Created, &p.Modified)
	switch {
	case err == sql.ErrNoRows:
		return model.Project{}, apierror.New(apierror.NotFound, "project %q not found", projectRef)
	case err != nil:
		return model.Project{}, skerr.Wrapf(err, "looking up project %q", projectRef)
	}
	p.UUID, err = uuid.Parse(rawUUID)
	if err != nil {
		return model.Project{}, skerr.Wrapf(err, "parsing project uuid")
	}
	return p, nil
}
