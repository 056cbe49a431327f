package postgres

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 001: CREATE ENTITLEMENTS
// ══════════════════════════════════════════════════════════════════════════════

const migration001Up = `
-- Migration: Create entitlements table
-- Version: 001

CREATE TABLE IF NOT EXISTS entitlements (
    user_id BIGINT PRIMARY KEY,
    activated_at TIMESTAMP WITH TIME ZONE NOT NULL,
    last_delivered_index INTEGER NOT NULL DEFAULT -1,
    updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),

    CONSTRAINT valid_user_id CHECK (user_id > 0),
    CONSTRAINT valid_last_delivered_index CHECK (last_delivered_index >= -1)
);

CREATE INDEX IF NOT EXISTS idx_entitlements_activated_at ON entitlements(activated_at);
`

// ══════════════════════════════════════════════════════════════════════════════
// MIGRATION 002: CREATE ENTITLEMENT LOCKS
// ══════════════════════════════════════════════════════════════════════════════

const migration002Up = `
-- Migration: Per-user lock leases
-- Version: 002

CREATE TABLE IF NOT EXISTS entitlement_locks (
    user_id BIGINT PRIMARY KEY,
    token TEXT NOT NULL,
    expires_at TIMESTAMP WITH TIME ZONE NOT NULL
);
`
