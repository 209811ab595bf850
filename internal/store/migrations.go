package store

const schema = `
CREATE TABLE IF NOT EXISTS people (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    person_key   TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    category     TEXT NOT NULL DEFAULT '',
    country      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS observations (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    person_id   INTEGER NOT NULL REFERENCES people(id),
    metric_key  TEXT NOT NULL,
    pillar      TEXT NOT NULL,
    source      TEXT NOT NULL,
    date        TEXT NOT NULL,
    value_num   REAL,
    value_text  TEXT,
    unit        TEXT NOT NULL,
    raw_json    TEXT NOT NULL DEFAULT '{}',
    updated_at  DATETIME NOT NULL,
    UNIQUE(person_id, metric_key, date)
);

CREATE INDEX IF NOT EXISTS idx_observations_metric_date ON observations(metric_key, date);
CREATE INDEX IF NOT EXISTS idx_observations_person ON observations(person_id);
`
