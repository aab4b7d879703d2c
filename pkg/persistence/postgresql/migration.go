package postgresql

// migrations returns the ordered schema migrations for the approval engine.
func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS flows (
				id UUID PRIMARY KEY,
				flow_no VARCHAR(64),
				name VARCHAR(255) NOT NULL,
				description TEXT,
				icon VARCHAR(128),
				category VARCHAR(128),
				status VARCHAR(32) NOT NULL,
				version INTEGER NOT NULL DEFAULT 1,
				form_schema JSONB,
				nodes JSONB NOT NULL DEFAULT '[]',
				lines JSONB NOT NULL DEFAULT '[]',
				settings JSONB,
				created_by BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				published_at TIMESTAMP WITH TIME ZONE,
				deleted_at TIMESTAMP WITH TIME ZONE
			);

			CREATE TABLE IF NOT EXISTS flow_versions (
				flow_id UUID NOT NULL,
				version INTEGER NOT NULL,
				snapshot JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (flow_id, version)
			);

			CREATE TABLE IF NOT EXISTS instances (
				id UUID PRIMARY KEY,
				instance_no VARCHAR(64),
				flow_id UUID NOT NULL,
				flow_version INTEGER NOT NULL,
				title VARCHAR(255) NOT NULL,
				status VARCHAR(32) NOT NULL,
				current_node_ids JSONB NOT NULL DEFAULT '[]',
				applicant_id BIGINT NOT NULL,
				business_key VARCHAR(128),
				business_type VARCHAR(128),
				form_data JSONB,
				urgency VARCHAR(16) NOT NULL DEFAULT 'NORMAL',
				tags JSONB,
				attachments JSONB,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				ended_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX IF NOT EXISTS idx_instances_applicant ON instances (applicant_id, started_at DESC);
			CREATE INDEX IF NOT EXISTS idx_instances_flow ON instances (flow_id, flow_version);
			CREATE INDEX IF NOT EXISTS idx_instances_status ON instances (status);

			CREATE TABLE IF NOT EXISTS steps (
				id UUID PRIMARY KEY,
				step_no VARCHAR(64),
				instance_id UUID NOT NULL REFERENCES instances (id) ON DELETE CASCADE,
				node_id VARCHAR(128) NOT NULL,
				node_name VARCHAR(255),
				node_type VARCHAR(32) NOT NULL,
				approval_type VARCHAR(32),
				round INTEGER NOT NULL DEFAULT 1,
				assignee_id BIGINT NOT NULL,
				status VARCHAR(32) NOT NULL,
				action VARCHAR(32),
				opinion TEXT,
				attachments JSONB,
				delegated_from BIGINT,
				returned_from VARCHAR(128),
				is_read BOOLEAN NOT NULL DEFAULT FALSE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX IF NOT EXISTS idx_steps_instance ON steps (instance_id, started_at);
			CREATE INDEX IF NOT EXISTS idx_steps_assignee ON steps (assignee_id, status, started_at DESC);
		`,
	}
}
