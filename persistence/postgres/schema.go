package postgres

const schema = `
CREATE TABLE IF NOT EXISTS automation_workflows (
	id          TEXT PRIMARY KEY,
	pipeline_id TEXT NOT NULL,
	stage_id    TEXT NOT NULL,
	status      TEXT NOT NULL,
	payload     JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS automation_workflows_stage_idx ON automation_workflows (pipeline_id, stage_id);

CREATE TABLE IF NOT EXISTS automation_runs (
	id                    TEXT PRIMARY KEY,
	workflow_id           TEXT NOT NULL,
	entity_id             TEXT NOT NULL,
	status                TEXT NOT NULL,
	partition_id          INTEGER NOT NULL,
	scheduled_dispatch_at TIMESTAMPTZ,
	version               BIGINT NOT NULL,
	created_at            TIMESTAMPTZ NOT NULL,
	payload               JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS automation_runs_due_idx ON automation_runs (partition_id, scheduled_dispatch_at) WHERE status = 'waiting';
CREATE INDEX IF NOT EXISTS automation_runs_workflow_idx ON automation_runs (workflow_id);
CREATE INDEX IF NOT EXISTS automation_runs_entity_idx ON automation_runs (entity_id) WHERE status = 'waiting';
`
