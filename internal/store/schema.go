package store

// Schema is applied on open. Lessons are read-only from the engine's point
// of view (seeded by the surrounding platform); chat messages and homework
// submissions are the engine's write-through durability for session state.
const schema = `
CREATE TABLE IF NOT EXISTS lessons (
    id         TEXT PRIMARY KEY,
    files      TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS chat_messages (
    id        TEXT PRIMARY KEY,
    pair_a    TEXT NOT NULL,
    pair_b    TEXT NOT NULL,
    from_user TEXT NOT NULL,
    to_user   TEXT NOT NULL,
    text      TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_messages_pair
    ON chat_messages (pair_a, pair_b, timestamp);

CREATE TABLE IF NOT EXISTS homework_submissions (
    lesson_id    TEXT NOT NULL,
    session_id   TEXT NOT NULL,
    learner_id   TEXT NOT NULL,
    files        TEXT NOT NULL,
    submitted_at TIMESTAMP NOT NULL,
    PRIMARY KEY (lesson_id, session_id, learner_id)
);
`
