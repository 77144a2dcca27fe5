// Package markdown reads and writes entity files: a ---, delimited YAML
// front-matter block followed by a Markdown body.
//
// Serialization is deterministic: canonical key ordering, normalized UTC
// timestamps, and yaml.v3 block style throughout, so that two equivalent
// metadata mappings always produce byte-identical output and
// serialize(parse(s)) is a fixed point.
package markdown

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/untoldecay/kira/internal/types"
)

const delimiter = "---"

// Document is a parsed entity file.
type Document struct {
	Frontmatter map[string]any
	Content     string
}

// canonicalOrder lists front-matter keys in their serialization order:
// identity, timestamps, classification, relationships, optional. Unknown
// keys are appended alphabetically; x-kira always serializes last.
var canonicalOrder = []string{
	// identity
	"id", "kind", "title",
	// timestamps
	"created", "updated", "due_date", "start_time", "end_time", "done_ts",
	// classification
	"status", "priority", "category", "tags", "estimate", "blocked_reason",
	"location", "attendees", "description",
	// relationships
	"relates_to", "depends_on", "blocks", "child_of", "part_of",
	"references", "mentions", "links_to", "tagged_with", "follows", "precedes",
}

// timestampKeys are front-matter keys whose string values are normalized to
// ISO-8601 UTC with a numeric offset before serialization.
var timestampKeys = map[string]bool{
	"created":       true,
	"updated":       true,
	"due_date":      true,
	"start_time":    true,
	"end_time":      true,
	"done_ts":       true,
	"last_write_ts": true,
}

// Parse splits a document into front-matter and body. A document without
// front-matter is valid (empty mapping); malformed front-matter is an error.
func Parse(raw string) (*Document, error) {
	if !strings.HasPrefix(raw, delimiter+"\n") && raw != delimiter {
		return &Document{Frontmatter: map[string]any{}, Content: raw}, nil
	}

	rest := strings.TrimPrefix(raw, delimiter+"\n")
	end := strings.Index(rest, "\n"+delimiter)
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated front-matter block", types.ErrIO)
	}
	fmBlock := rest[:end+1]
	body := rest[end+1+len(delimiter):]

	var fm map[string]any
	if err := yaml.Unmarshal([]byte(fmBlock), &fm); err != nil {
		return nil, fmt.Errorf("%w: malformed front-matter: %v", types.ErrIO, err)
	}
	if fm == nil {
		fm = map[string]any{}
	}

	// Body is separated from the closing delimiter by exactly one blank line.
	body = strings.TrimPrefix(body, "\n")
	body = strings.TrimPrefix(body, "\n")
	return &Document{Frontmatter: fm, Content: body}, nil
}

// Serialize renders the document in canonical form. The output always ends
// with a trailing newline; a document with no front-matter keys serializes
// as the bare body.
func Serialize(doc *Document) (string, error) {
	content := strings.TrimRight(doc.Content, "\n")
	if len(doc.Frontmatter) == 0 {
		if content == "" {
			return "", nil
		}
		return content + "\n", nil
	}

	node, err := mappingNode(doc.Frontmatter, orderedKeys(doc.Frontmatter))
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return "", fmt.Errorf("%w: encoding front-matter: %v", types.ErrIO, err)
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("%w: encoding front-matter: %v", types.ErrIO, err)
	}

	var out strings.Builder
	out.WriteString(delimiter + "\n")
	out.Write(buf.Bytes())
	out.WriteString(delimiter + "\n")
	if content != "" {
		out.WriteString("\n")
		out.WriteString(content)
		out.WriteString("\n")
	}
	return out.String(), nil
}

// orderedKeys returns the keys of fm in canonical order: the fixed list
// first, then unknown keys alphabetically, then x-kira.
func orderedKeys(fm map[string]any) []string {
	known := make(map[string]bool, len(canonicalOrder))
	var keys []string
	for _, k := range canonicalOrder {
		known[k] = true
		if _, ok := fm[k]; ok {
			keys = append(keys, k)
		}
	}
	var unknown []string
	for k := range fm {
		if !known[k] && k != types.MetaSync {
			unknown = append(unknown, k)
		}
	}
	sort.Strings(unknown)
	keys = append(keys, unknown...)
	if _, ok := fm[types.MetaSync]; ok {
		keys = append(keys, types.MetaSync)
	}
	return keys
}

// mappingNode builds a yaml mapping node with the given key order. Nested
// mappings keep the same discipline recursively (alphabetical keys).
func mappingNode(m map[string]any, keys []string) (*yaml.Node, error) {
	node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	for _, k := range keys {
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: k}
		valNode, err := valueNode(k, m[k])
		if err != nil {
			return nil, err
		}
		node.Content = append(node.Content, keyNode, valNode)
	}
	return node, nil
}

func valueNode(key string, v any) (*yaml.Node, error) {
	switch val := v.(type) {
	case time.Time:
		return scalarString(val.UTC().Format("2006-01-02T15:04:05+00:00")), nil
	case string:
		if timestampKeys[key] {
			if ts, err := parseTimestamp(val); err == nil {
				return scalarString(ts.UTC().Format("2006-01-02T15:04:05+00:00")), nil
			}
		}
		return scalarString(val), nil
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return mappingNode(val, keys)
	case []any:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range val {
			n, err := valueNode("", item)
			if err != nil {
				return nil, err
			}
			seq.Content = append(seq.Content, n)
		}
		return seq, nil
	case []string:
		seq := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range val {
			seq.Content = append(seq.Content, scalarString(item))
		}
		return seq, nil
	default:
		n := &yaml.Node{}
		if err := n.Encode(v); err != nil {
			return nil, fmt.Errorf("%w: encoding value for %q: %v", types.ErrIO, key, err)
		}
		return n, nil
	}
}

// scalarString builds a string scalar, forcing quotes where plain style
// would be ambiguous ([, {, -, leading space, wiki links, YAML specials).
func scalarString(s string) *yaml.Node {
	n := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
	if needsQuoting(s) {
		n.Style = yaml.DoubleQuotedStyle
	}
	return n
}

func needsQuoting(s string) bool {
	if s == "" {
		return false
	}
	switch s[0] {
	case '[', '{', '-', ' ', '*', '&', '!', '%', '@', '`', '"', '\'', '>', '|', '#':
		return true
	}
	if strings.HasSuffix(s, " ") {
		return true
	}
	return strings.ContainsAny(s, ":#\n\t")
}

// parseTimestamp accepts the ISO-8601 shapes the kernel persists or imports.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
