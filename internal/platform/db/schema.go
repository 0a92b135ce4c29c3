package db

// migrations holds the embedded schema, ordered by version.
var migrations = []Migration{
	{
		Version: 1,
		Name:    "001_lab_order",
		SQL: `
CREATE TABLE IF NOT EXISTS lab_order (
    id UUID PRIMARY KEY,
    org_id BIGINT NOT NULL,
    patient_id UUID NOT NULL,
    encounter_id UUID,
    requester_id UUID,
    test_code VARCHAR(64) NOT NULL,
    test_name VARCHAR(255) NOT NULL,
    priority VARCHAR(32) NOT NULL DEFAULT 'routine',
    delivery_method VARCHAR(32) NOT NULL,
    status VARCHAR(32) NOT NULL DEFAULT 'draft',
    requisition_number VARCHAR(64),
    external_order_id VARCHAR(128),
    transmitted_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
-- safety net behind the atomic allocator
CREATE UNIQUE INDEX IF NOT EXISTS idx_lab_order_requisition
    ON lab_order (requisition_number) WHERE requisition_number IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_lab_order_status ON lab_order (status);
CREATE INDEX IF NOT EXISTS idx_lab_order_patient ON lab_order (patient_id);
`,
	},
	{
		Version: 2,
		Name:    "002_lab_result",
		SQL: `
CREATE TABLE IF NOT EXISTS lab_result (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES lab_order (id),
    patient_id UUID NOT NULL,
    test_code VARCHAR(64) NOT NULL,
    test_name VARCHAR(255) NOT NULL,
    result_value VARCHAR(255) NOT NULL,
    units VARCHAR(64),
    reference_range VARCHAR(128),
    abnormal_flag VARCHAR(8) NOT NULL DEFAULT 'N',
    result_available_at TIMESTAMPTZ NOT NULL,
    reviewed_by VARCHAR(128),
    reviewed_at TIMESTAMPTZ,
    review_note TEXT,
    critical_notified_at TIMESTAMPTZ,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CONSTRAINT lab_result_review_paired CHECK ((reviewed_by IS NULL) = (reviewed_at IS NULL))
);
CREATE INDEX IF NOT EXISTS idx_lab_result_order ON lab_result (order_id);
CREATE INDEX IF NOT EXISTS idx_lab_result_patient ON lab_result (patient_id);
CREATE INDEX IF NOT EXISTS idx_lab_result_flag ON lab_result (abnormal_flag) WHERE reviewed_by IS NULL;
`,
	},
	{
		Version: 3,
		Name:    "003_order_status_history",
		SQL: `
CREATE TABLE IF NOT EXISTS order_status_history (
    id UUID PRIMARY KEY,
    order_id UUID NOT NULL REFERENCES lab_order (id),
    from_status VARCHAR(32) NOT NULL,
    to_status VARCHAR(32) NOT NULL,
    changed_by VARCHAR(128) NOT NULL,
    changed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    reason TEXT
);
CREATE INDEX IF NOT EXISTS idx_order_status_history_order ON order_status_history (order_id);
`,
	},
	{
		Version: 4,
		Name:    "004_result_review_audit",
		SQL: `
CREATE TABLE IF NOT EXISTS result_review_audit (
    id UUID PRIMARY KEY,
    result_id UUID NOT NULL REFERENCES lab_result (id),
    action VARCHAR(32) NOT NULL,
    actor_id VARCHAR(128) NOT NULL,
    note TEXT,
    occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_result_review_audit_result ON result_review_audit (result_id);
`,
	},
	{
		Version: 5,
		Name:    "005_requisition_counter",
		SQL: `
CREATE TABLE IF NOT EXISTS requisition_counter (
    org_id BIGINT NOT NULL,
    seq_date DATE NOT NULL,
    counter INTEGER NOT NULL,
    PRIMARY KEY (org_id, seq_date)
);
`,
	},
}
