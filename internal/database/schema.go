package database

// documents holds one JSON document per row; the bot replaces whole documents.
const schema = `
CREATE TABLE IF NOT EXISTS documents (
    name VARCHAR(191) NOT NULL PRIMARY KEY,
    body LONGTEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);
`
