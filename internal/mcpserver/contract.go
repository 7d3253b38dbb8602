package mcpserver

// MemoryFormatContract describes the canonical memory record format
// that LLM consumers should follow when writing memories.
const MemoryFormatContract = `# Muninn Memory Format Contract

Every memory stored in Muninn is a Markdown file with a YAML header.
Files are the source of truth; the index, graph and embedding caches
are derived from them and can always be rebuilt.

## Structure

` + "```" + `markdown
---
id: decision-use-postgres           # REQUIRED - <type>-<slug>, unique per scope
type: decision                      # REQUIRED - see types below
title: Use Postgres                 # REQUIRED - human-readable title
created: 2025-01-15T10:00:00Z       # REQUIRED - RFC 3339
updated: 2025-01-15T10:00:00Z       # REQUIRED - RFC 3339, bumped on every edit
tags:                               # list; always carries one scope:<name> tag
  - database
  - scope:project
severity: high                      # OPTIONAL - low | medium | high | critical
source: 2025-01-15 planning call    # OPTIONAL - where the knowledge came from
links:                              # OPTIONAL - ids of related memories
  - learning-connection-pooling
meta:                               # OPTIONAL - free-form key/value pairs
  ticket: PROJ-142
---

Body text in standard Markdown. This is the memory content.
` + "```" + `

## Types

Permanent (kept until deleted): decision, learning, gotcha, artifact,
reference, hub. Temporary (session-scoped): breadcrumb, session.

Permanent memories live under ` + "`" + `permanent/<type>/<id>.md` + "`" + `, temporary
ones under ` + "`" + `temporary/<type>/<id>.md` + "`" + `. The path is always derived
from type and id; never place a file elsewhere.

## Rules

1. **The YAML header is mandatory.** The ` + "```" + `---` + "```" + ` fences must be the
   first thing in the file.
2. **The id starts with the type.** It is a lowercase kebab-case slug
   of the title prefixed by the type (e.g. ` + "`" + `gotcha-n-plus-one-queries` + "`" + `).
   When writing through the tools the id is derived automatically.
3. **Tags** are lowercase kebab-case. One ` + "`" + `scope:<name>` + "`" + ` tag is managed
   by the store and must not be removed.
4. **Links** reference other memories by id. Unknown ids are tolerated
   but reported during health checks.
5. **Timestamps** are RFC 3339 in UTC.
6. **Encoding** is UTF-8 with a trailing newline.

## Example

` + "```" + `markdown
---
id: gotcha-sqlite-busy-timeout
type: gotcha
title: SQLite busy timeout defaults to zero
created: 2025-01-20T09:30:00Z
updated: 2025-01-20T09:30:00Z
tags:
  - sqlite
  - scope:project
severity: medium
links:
  - decision-use-sqlite-sidecar
---

Concurrent writers fail immediately with SQLITE_BUSY unless a busy
timeout is set on the connection string.
` + "```" + `
`
