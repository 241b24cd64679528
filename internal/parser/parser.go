// Package parser turns a Markdown document into the fields of a new note.
package parser

import (
	"bytes"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/notehub/internal/models"
)

var tagRe = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_-]*)`)

// Result holds the output of parsing a Markdown document.
type Result struct {
	Frontmatter map[string]any
	Title       string
	Tag         models.Tag
	Body        string
}

// Fields returns the note fields carried by the document.
func (r *Result) Fields() models.NoteFields {
	return models.NoteFields{Title: r.Title, Content: r.Body, Tag: r.Tag}
}

// Parse extracts the title, tag and body from raw Markdown bytes.
//
// The title is the frontmatter "title", else the first H1 heading, which is
// then dropped from the body. The tag is the frontmatter "tag", else the first
// known entry of "tags", else the first inline #Tag naming a known tag.
// Unknown tags are ignored and leave Tag empty for validation to report.
func Parse(data []byte) (*Result, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, err
	}

	title, body := deriveTitle(fm, body)
	return &Result{
		Frontmatter: fm,
		Title:       title,
		Tag:         deriveTag(fm, body),
		Body:        strings.TrimSpace(body),
	}, nil
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the Markdown body. If no frontmatter is found the entire content is body.
func splitFrontmatter(data []byte) (map[string]any, string, error) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data), nil
	}

	// Find end delimiter.
	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter: treat everything as body.
		return nil, string(data), nil
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML: keep the whole document as body.
		return nil, string(data), nil
	}

	return fm, body, nil
}

// deriveTitle returns the frontmatter "title" if present, otherwise the first
// H1 heading with that heading removed from body.
func deriveTitle(fm map[string]any, body string) (string, string) {
	if s, ok := fm["title"].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s), body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			rest := append(lines[:i:i], lines[i+1:]...)
			return strings.TrimSpace(trimmed[2:]), strings.Join(rest, "\n")
		}
	}
	return "", body
}

func deriveTag(fm map[string]any, body string) models.Tag {
	if s, ok := fm["tag"].(string); ok {
		if t, ok := models.ParseTag(s); ok {
			return t
		}
	}
	if list, ok := fm["tags"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				if t, ok := models.ParseTag(s); ok {
					return t
				}
			}
		}
	}
	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		if t, ok := models.ParseTag(m[1]); ok {
			return t
		}
	}
	return ""
}
