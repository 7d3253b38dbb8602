package record

import (
	"bytes"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/muninn/internal/apperr"
)

// delimiter fences the YAML header block at the top of every record file.
const delimiter = "---"

// frontmatter is the on-disk header shape. Field order here is the
// serialisation order; optional fields are omitted when absent. Tags are
// always written, possibly as an empty list.
type frontmatter struct {
	ID       string         `yaml:"id,omitempty"`
	Type     string         `yaml:"type"`
	Title    string         `yaml:"title"`
	Created  time.Time      `yaml:"created"`
	Updated  time.Time      `yaml:"updated"`
	Scope    string         `yaml:"scope,omitempty"`
	Severity string         `yaml:"severity,omitempty"`
	Source   string         `yaml:"source,omitempty"`
	Tags     []string       `yaml:"tags"`
	Links    []string       `yaml:"links,omitempty"`
	Meta     map[string]any `yaml:"meta,omitempty"`
}

// Marshal serialises a record to its file form: delimited YAML header, a
// blank line, then the body with a trailing newline. Round-trip stable with
// Parse for every field including optional ones.
func Marshal(r *Record) ([]byte, error) {
	fm := frontmatter{
		ID:       r.ID,
		Type:     r.Type,
		Title:    r.Title,
		Created:  r.Created,
		Updated:  r.Updated,
		Scope:    r.Scope,
		Severity: r.Severity,
		Source:   r.Source,
		Tags:     r.Tags,
		Links:    r.Links,
		Meta:     r.Meta,
	}
	if fm.Tags == nil {
		fm.Tags = []string{}
	}

	header, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, apperr.Format("marshal header: %v", err)
	}

	var b bytes.Buffer
	b.WriteString(delimiter + "\n")
	b.Write(header)
	b.WriteString(delimiter + "\n")
	body := strings.Trim(r.Content, "\n")
	if body != "" {
		b.WriteString("\n")
		b.WriteString(body)
	}
	b.WriteString("\n")
	return b.Bytes(), nil
}

// Parse decodes a record file strictly. A missing or malformed header block
// is a format error; a well-formed header missing required fields (type,
// title, tags list, created, updated) is a validation error. Body leading
// and trailing blank lines are trimmed; interior content is untouched.
func Parse(data []byte) (*Record, error) {
	fm, body, err := split(data)
	if err != nil {
		return nil, err
	}

	r := fromFrontmatter(fm, body)
	if err := checkRequired(fm); err != nil {
		return nil, err
	}
	return r, nil
}

// ParseLenient decodes as much of a record file as possible for repair
// tooling: missing required fields are tolerated, and content without a
// parseable header becomes a bare body. The error is non-nil only when the
// data cannot be interpreted at all (never for missing fields).
func ParseLenient(data []byte) *Record {
	fm, body, err := split(data)
	if err != nil {
		return &Record{Content: strings.Trim(string(data), "\n")}
	}
	return fromFrontmatter(fm, body)
}

func split(data []byte) (*frontmatter, string, error) {
	if !bytes.HasPrefix(data, []byte(delimiter+"\n")) {
		return nil, "", apperr.Format("record header missing %q delimiter", delimiter)
	}
	rest := data[len(delimiter)+1:]

	var headerBlock, after []byte
	if bytes.HasPrefix(rest, []byte(delimiter)) {
		// Empty header block: the closing delimiter follows immediately.
		after = rest[len(delimiter):]
	} else {
		end := bytes.Index(rest, []byte("\n"+delimiter))
		if end < 0 {
			return nil, "", apperr.Format("record header not terminated by %q", delimiter)
		}
		headerBlock = rest[:end+1]
		after = rest[end+1+len(delimiter):]
	}
	// The closing delimiter must end its line.
	if len(after) > 0 && after[0] != '\n' {
		return nil, "", apperr.Format("record header delimiter not on its own line")
	}

	var fm frontmatter
	if err := yaml.Unmarshal(headerBlock, &fm); err != nil {
		return nil, "", apperr.Format("record header not valid YAML: %v", err)
	}

	body := strings.Trim(string(after), "\n")
	return &fm, body, nil
}

func fromFrontmatter(fm *frontmatter, body string) *Record {
	return &Record{
		ID:       fm.ID,
		Type:     fm.Type,
		Title:    fm.Title,
		Created:  fm.Created,
		Updated:  fm.Updated,
		Scope:    fm.Scope,
		Severity: fm.Severity,
		Source:   fm.Source,
		Tags:     fm.Tags,
		Links:    fm.Links,
		Meta:     fm.Meta,
		Content:  body,
	}
}

func checkRequired(fm *frontmatter) error {
	switch {
	case fm.Type == "":
		return apperr.Validation("record header missing required field: type")
	case fm.Title == "":
		return apperr.Validation("record header missing required field: title")
	case fm.Tags == nil:
		return apperr.Validation("record header missing required field: tags (must be a list)")
	case fm.Created.IsZero():
		return apperr.Validation("record header missing required field: created")
	case fm.Updated.IsZero():
		return apperr.Validation("record header missing required field: updated")
	}
	return nil
}
