package sqlstore

// Each dialect carries its own DDL. Statements are executed one at a time
// because the MySQL driver rejects multi-statement Exec by default.

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS boards (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS board_columns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		board_id INTEGER NOT NULL REFERENCES boards(id),
		name TEXT NOT NULL,
		stage TEXT NOT NULL,
		position INTEGER NOT NULL,
		wip_limit INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS identifier_counters (
		board_id INTEGER NOT NULL,
		prefix TEXT NOT NULL,
		next_value INTEGER NOT NULL,
		PRIMARY KEY (board_id, prefix)
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		board_id INTEGER NOT NULL REFERENCES boards(id),
		column_id INTEGER NOT NULL REFERENCES board_columns(id),
		identifier TEXT NOT NULL,
		item_type TEXT NOT NULL CHECK (item_type IN ('task', 'goal')),
		kind TEXT NOT NULL DEFAULT '',
		parent_id INTEGER,
		position INTEGER NOT NULL DEFAULT 0,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		priority TEXT NOT NULL,
		complexity TEXT NOT NULL DEFAULT '',
		required_capabilities TEXT NOT NULL DEFAULT '',
		needs_review INTEGER NOT NULL DEFAULT 0,
		review_status TEXT NOT NULL DEFAULT '',
		review_notes TEXT NOT NULL DEFAULT '',
		assigned_to TEXT,
		assigned_agent INTEGER,
		claimed_at TEXT,
		claim_expires_at TEXT,
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_by TEXT NOT NULL DEFAULT '',
		completed_at TEXT,
		completion_summary TEXT NOT NULL DEFAULT '',
		UNIQUE (board_id, identifier)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_items_column ON items(column_id, position)`,
	`CREATE INDEX IF NOT EXISTS idx_items_board_status ON items(board_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_items_parent ON items(parent_id)`,
	`CREATE TABLE IF NOT EXISTS item_dependencies (
		item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		depends_on TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (item_id, depends_on)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_dependencies_target ON item_dependencies(depends_on)`,
	`CREATE TABLE IF NOT EXISTS item_files (
		item_id INTEGER NOT NULL REFERENCES items(id) ON DELETE CASCADE,
		file_path TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		position INTEGER NOT NULL,
		PRIMARY KEY (item_id, file_path)
	)`,
	`CREATE TABLE IF NOT EXISTS item_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL,
		identifier TEXT NOT NULL,
		event_type TEXT NOT NULL,
		actor TEXT NOT NULL,
		old_value TEXT NOT NULL DEFAULT '',
		new_value TEXT NOT NULL DEFAULT '',
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_item_events_item ON item_events(item_id)`,
}

var doltSchema = []string{
	`CREATE TABLE IF NOT EXISTS boards (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		created_at VARCHAR(40) NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS board_columns (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		board_id BIGINT NOT NULL,
		name VARCHAR(64) NOT NULL,
		stage VARCHAR(32) NOT NULL,
		position INT NOT NULL,
		wip_limit INT NOT NULL DEFAULT 0,
		INDEX idx_board_columns_board (board_id),
		FOREIGN KEY (board_id) REFERENCES boards(id)
	)`,
	`CREATE TABLE IF NOT EXISTS identifier_counters (
		board_id BIGINT NOT NULL,
		prefix VARCHAR(8) NOT NULL,
		next_value INT NOT NULL,
		PRIMARY KEY (board_id, prefix)
	)`,
	`CREATE TABLE IF NOT EXISTS items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		board_id BIGINT NOT NULL,
		column_id BIGINT NOT NULL,
		identifier VARCHAR(32) NOT NULL,
		item_type VARCHAR(8) NOT NULL,
		kind VARCHAR(16) NOT NULL DEFAULT '',
		parent_id BIGINT NULL,
		position INT NOT NULL DEFAULT 0,
		title VARCHAR(500) NOT NULL,
		description TEXT NOT NULL,
		status VARCHAR(32) NOT NULL,
		priority VARCHAR(16) NOT NULL,
		complexity VARCHAR(16) NOT NULL DEFAULT '',
		required_capabilities VARCHAR(512) NOT NULL DEFAULT '',
		needs_review TINYINT(1) NOT NULL DEFAULT 0,
		review_status VARCHAR(32) NOT NULL DEFAULT '',
		review_notes TEXT NOT NULL,
		assigned_to VARCHAR(255) NULL,
		assigned_agent TINYINT(1) NULL,
		claimed_at VARCHAR(40) NULL,
		claim_expires_at VARCHAR(40) NULL,
		created_by VARCHAR(255) NOT NULL DEFAULT '',
		created_at VARCHAR(40) NOT NULL,
		updated_at VARCHAR(40) NOT NULL,
		completed_by VARCHAR(255) NOT NULL DEFAULT '',
		completed_at VARCHAR(40) NULL,
		completion_summary TEXT NOT NULL,
		UNIQUE KEY uq_items_identifier (board_id, identifier),
		INDEX idx_items_column (column_id, position),
		INDEX idx_items_board_status (board_id, status),
		INDEX idx_items_parent (parent_id)
	)`,
	`CREATE TABLE IF NOT EXISTS item_dependencies (
		item_id BIGINT NOT NULL,
		depends_on VARCHAR(32) NOT NULL,
		position INT NOT NULL,
		PRIMARY KEY (item_id, depends_on),
		INDEX idx_item_dependencies_target (depends_on)
	)`,
	`CREATE TABLE IF NOT EXISTS item_files (
		item_id BIGINT NOT NULL,
		file_path VARCHAR(512) NOT NULL,
		note VARCHAR(1024) NOT NULL DEFAULT '',
		position INT NOT NULL,
		PRIMARY KEY (item_id, file_path)
	)`,
	`CREATE TABLE IF NOT EXISTS item_events (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		item_id BIGINT NOT NULL,
		identifier VARCHAR(32) NOT NULL,
		event_type VARCHAR(64) NOT NULL,
		actor VARCHAR(255) NOT NULL,
		old_value TEXT NOT NULL,
		new_value TEXT NOT NULL,
		comment TEXT NOT NULL,
		created_at VARCHAR(40) NOT NULL,
		INDEX idx_item_events_item (item_id)
	)`,
}
