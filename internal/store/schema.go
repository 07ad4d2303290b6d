package store

// schemaStatements creates every table and index the memory engine owns if
// they are not already present. Mirrors the initSchema() shape
// (one ordered slice of idempotent DDL, executed inside a single
// transaction at bootstrap) from sqlite_bm25.go's schema block, generalized
// from the BM25-only FTS schema to the full memory/quadrant/graph schema.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		content TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		importance TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		embedding BLOB,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed_at TIMESTAMP,
		expires_at TIMESTAMP,
		consolidated_from TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_project_type_created
		ON memories(project_path, memory_type, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_project_expires
		ON memories(project_path, expires_at)`,

	`CREATE TABLE IF NOT EXISTS codebase_files (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		file_path TEXT NOT NULL,
		content TEXT,
		content_hash TEXT,
		language TEXT,
		embedding BLOB,
		last_indexed TIMESTAMP,
		UNIQUE(project_path, file_path)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_codebase_files_project_path
		ON codebase_files(project_path, file_path)`,

	`CREATE TABLE IF NOT EXISTS memory_strength (
		memory_id TEXT PRIMARY KEY,
		stability REAL NOT NULL,
		retrievability REAL NOT NULL,
		last_review TIMESTAMP,
		review_count INTEGER NOT NULL DEFAULT 0,
		interval_days INTEGER NOT NULL DEFAULT 1,
		ease_factor REAL NOT NULL DEFAULT 2.0
	)`,

	`CREATE TABLE IF NOT EXISTS memory_associations (
		source_id TEXT NOT NULL,
		target_id TEXT NOT NULL,
		link_type TEXT NOT NULL,
		strength REAL NOT NULL,
		co_activation_count INTEGER NOT NULL DEFAULT 0,
		last_co_activation TIMESTAMP,
		decay_rate REAL NOT NULL DEFAULT 0.05,
		PRIMARY KEY (source_id, target_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_associations_target
		ON memory_associations(target_id)`,

	`CREATE TABLE IF NOT EXISTS memory_chains (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		memory_ids TEXT NOT NULL DEFAULT '[]',
		chain_type TEXT NOT NULL,
		importance TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		last_accessed_at TIMESTAMP,
		access_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_chains_project
		ON memory_chains(project_path)`,

	`CREATE TABLE IF NOT EXISTS memory_quadrants (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		name TEXT,
		level INTEGER NOT NULL,
		parent_id TEXT NOT NULL DEFAULT '',
		child_ids TEXT NOT NULL DEFAULT '[]',
		centroid BLOB,
		radius REAL NOT NULL DEFAULT 0,
		keywords TEXT NOT NULL DEFAULT '[]',
		memory_count INTEGER NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		max_memories INTEGER NOT NULL DEFAULT 0,
		min_memories INTEGER NOT NULL DEFAULT 0,
		max_radius REAL NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_quadrants_project_level
		ON memory_quadrants(project_path, level)`,

	`CREATE TABLE IF NOT EXISTS quadrant_assignments (
		memory_id TEXT PRIMARY KEY,
		quadrant_id TEXT NOT NULL,
		distance_to_centroid REAL NOT NULL DEFAULT 0,
		assigned_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_quadrant_assignments_quadrant
		ON quadrant_assignments(quadrant_id)`,

	`CREATE TABLE IF NOT EXISTS code_explanations (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		file_path TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		explanation TEXT NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		embedding BLOB,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		helpful_count INTEGER NOT NULL DEFAULT 0,
		unhelpful_count INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_code_explanations_project_file
		ON code_explanations(project_path, file_path)`,

	`CREATE TABLE IF NOT EXISTS code_prompt_links (
		id TEXT PRIMARY KEY,
		project_path TEXT NOT NULL,
		explanation_id TEXT NOT NULL,
		memory_id TEXT NOT NULL DEFAULT '',
		prompt TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_code_prompt_links_explanation
		ON code_prompt_links(project_path, explanation_id)`,
	`CREATE INDEX IF NOT EXISTS idx_code_prompt_links_memory
		ON code_prompt_links(project_path, memory_id)`,

	`CREATE TABLE IF NOT EXISTS code_access_patterns (
		project_path TEXT NOT NULL,
		file_path TEXT NOT NULL,
		access_count INTEGER NOT NULL DEFAULT 0,
		last_accessed TIMESTAMP,
		PRIMARY KEY (project_path, file_path)
	)`,

	`CREATE TABLE IF NOT EXISTS kv_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}
