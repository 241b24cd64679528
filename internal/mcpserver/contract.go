package mcpserver

// NoteFormatContract describes the note fields the store accepts and the
// Markdown form create_note takes when given a document.
const NoteFormatContract = `# Notehub Note Format Contract

A note has exactly three user-supplied fields.

| Field   | Rules                                                   |
|---------|---------------------------------------------------------|
| title   | REQUIRED, 1–50 characters                               |
| content | OPTIONAL, at most 500 characters                        |
| tag     | REQUIRED, one of: Todo, Work, Personal, Meeting, Shopping |

Tags are matched case-insensitively and stored in the capitalisation above.

## Markdown form

create_note also accepts a whole Markdown document in the ` + "`" + `markdown` + "`" + ` argument:

` + "```" + `markdown
---
title: Weekly standup           # or use a leading "# Heading"
tag: Meeting                    # or tags: [meeting], or an inline #Meeting
---

Discussed the roadmap.
` + "```" + `

- The frontmatter ` + "`" + `title` + "`" + ` wins over the first H1 heading; an H1 used as the
  title is removed from the content.
- The body after the frontmatter becomes the content.
- Explicit title/content/tag arguments override values from the document.

## Listing

list_notes returns one page (12 notes per page, newest first) plus the page
count. Changing the search always starts again from page 1; a page past the
end is clamped to the last page.

## Deleting

Deletes are not idempotent: deleting an id twice reports not found the
second time.
`
