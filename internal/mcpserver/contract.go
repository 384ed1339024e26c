package mcpserver

// DocumentFormatContract describes the on-disk project layout and document
// format that LLM consumers can rely on when reading projects.
const DocumentFormatContract = `# LCCA Project Format

Every project lives in its own directory under the projects root. The
directory name is the project id (8 lowercase hex characters).

## Files

- ` + "`" + `project.json` + "`" + `: the canonical document, rewritten wholesale on every save.
- ` + "`" + `project.json.bak` + "`" + `: the canonical document as it was before the latest save.
- ` + "`" + `project.lock` + "`" + `: present while a session has the project open.
- ` + "`" + `checkpoints/<name>__<YYYYMMDDHHMMSS>.json` + "`" + `: named snapshots, never overwritten.

## Document

UTF-8 JSON, one object, pretty-printed with 4-space indentation. The
` + "`" + `metadata` + "`" + ` object is mandatory; every other top-level key is a section owned by
one input form and is opaque to the persistence layer.

` + "```" + `json
{
    "metadata": {
        "project_name": "Bridge 12",
        "created_at": "2024-03-01 09:30:00.000000",
        "author": "Ada"
    },
    "traffic": {
        "adt": 1200
    }
}
` + "```" + `

## Rules

1. ` + "`" + `metadata.project_name` + "`" + ` is the display name; the id is used when it is missing.
2. ` + "`" + `metadata.created_at` + "`" + ` is local time, ` + "`" + `YYYY-MM-DD HH:MM:SS.ffffff` + "`" + `.
3. Unknown metadata keys and sections are preserved verbatim.
4. A project is listed iff ` + "`" + `project.json` + "`" + ` or its backup is non-empty.
5. Checkpoint names keep letters, digits, spaces, and underscores; a blank name
   becomes ` + "`" + `Backup` + "`" + ` on disk.
`
