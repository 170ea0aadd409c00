// Package db documents the relational shape this service requires from the
// external persistence layer. Migrations are owned by the surrounding
// platform; the DDL here is the contract the repositories are written
// against.
package db

// Schema is the reference DDL for the orchestrator's tables.
//
// The partial unique index on (provider, provider_handle) is load-bearing:
// the handle is the correlation key for webhook and poll signals and must be
// unique among non-terminal jobs only, so a retried generation may reuse a
// handle a finished job once held.
const Schema = `
CREATE TABLE IF NOT EXISTS generation_jobs (
    id                UUID PRIMARY KEY,
    user_id           TEXT NOT NULL,
    provider          TEXT NOT NULL,
    asset_kind        TEXT NOT NULL,
    instruction       TEXT NOT NULL DEFAULT '',
    variables         JSONB NOT NULL DEFAULT '{}'::jsonb,
    provider_handle   TEXT NOT NULL DEFAULT '',
    state             TEXT NOT NULL DEFAULT 'initiated',
    review            TEXT NOT NULL DEFAULT '',
    title             TEXT NOT NULL DEFAULT '',
    description       TEXT NOT NULL DEFAULT '',
    artifact_url      TEXT NOT NULL DEFAULT '',
    artifact_key      TEXT NOT NULL DEFAULT '',
    provider_metadata JSONB,
    cost_record_id    UUID,
    error_reason      TEXT NOT NULL DEFAULT '',
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS generation_jobs_active_handle
    ON generation_jobs (provider, provider_handle)
    WHERE provider_handle <> '' AND state NOT IN ('completed', 'failed');

CREATE INDEX IF NOT EXISTS generation_jobs_user_created
    ON generation_jobs (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS cost_records (
    id                 UUID PRIMARY KEY,
    job_id             UUID NOT NULL UNIQUE REFERENCES generation_jobs (id),
    base_cost          NUMERIC(12, 6) NOT NULL,
    processing_cost    NUMERIC(12, 6) NOT NULL,
    storage_cost       NUMERIC(12, 6) NOT NULL,
    total_cost         NUMERIC(12, 6) NOT NULL,
    processing_seconds DOUBLE PRECISION NOT NULL DEFAULT 0,
    token_count        INTEGER,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`
