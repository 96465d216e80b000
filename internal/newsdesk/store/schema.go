package store

import (
	"fmt"

	"github.com/RobinCoderZhao/newsdesk/pkg/storage"
)

// schema is portable between SQLite and PostgreSQL; %[1]s is the driver's
// auto-increment primary key definition. Timestamps are TEXT in
// storage.TimeLayout.
const schema = `
CREATE TABLE IF NOT EXISTS authors (
    id          %[1]s,
    name        TEXT NOT NULL,
    slug        TEXT NOT NULL UNIQUE,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
    id          %[1]s,
    name        TEXT NOT NULL,
    slug        TEXT NOT NULL UNIQUE,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS articles (
    id           %[1]s,
    external_id  TEXT NOT NULL,
    source       TEXT NOT NULL,
    source_name  TEXT NOT NULL,
    author_id    BIGINT REFERENCES authors(id) ON DELETE SET NULL,
    title        TEXT NOT NULL,
    description  TEXT NOT NULL DEFAULT '',
    content      TEXT,
    url          TEXT NOT NULL,
    image_url    TEXT,
    published_at TEXT NOT NULL,
    created_at   TEXT NOT NULL,
    updated_at   TEXT NOT NULL,
    UNIQUE (external_id, source)
);

CREATE TABLE IF NOT EXISTS article_category (
    article_id   BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
    category_id  BIGINT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
    PRIMARY KEY (article_id, category_id)
);

CREATE TABLE IF NOT EXISTS users (
    id             %[1]s,
    name           TEXT NOT NULL,
    email          TEXT NOT NULL UNIQUE,
    password_hash  TEXT NOT NULL,
    created_at     TEXT NOT NULL,
    updated_at     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS user_preferences (
    user_id               BIGINT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
    preferred_sources     TEXT NOT NULL DEFAULT '[]',
    preferred_categories  TEXT NOT NULL DEFAULT '[]',
    preferred_authors     TEXT NOT NULL DEFAULT '[]',
    created_at            TEXT NOT NULL,
    updated_at            TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS fetch_runs (
    id           TEXT PRIMARY KEY,
    source       TEXT NOT NULL,
    status       TEXT NOT NULL,
    articles     INTEGER NOT NULL DEFAULT 0,
    error        TEXT NOT NULL DEFAULT '',
    started_at   TEXT NOT NULL,
    finished_at  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_articles_published ON articles(published_at);
CREATE INDEX IF NOT EXISTS idx_articles_source ON articles(source);
CREATE INDEX IF NOT EXISTS idx_articles_author ON articles(author_id);
CREATE INDEX IF NOT EXISTS idx_article_category_category ON article_category(category_id);
CREATE INDEX IF NOT EXISTS idx_fetch_runs_started ON fetch_runs(started_at);
`

// tables in drop order (dependents first).
var tables = []string{
	"article_category",
	"articles",
	"authors",
	"categories",
	"user_preferences",
	"users",
	"fetch_runs",
}

// Schema returns the DDL for db's driver.
func Schema(db *storage.DB) string {
	return fmt.Sprintf(schema, db.IDColumn())
}
