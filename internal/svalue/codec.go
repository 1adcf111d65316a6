package svalue

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/mlld-lang/mlld-sub002/internal/security"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"
)

// DetectAndParse implements the "automatic JSON detection" rule from
// Environment.executeCommand: if raw parses as JSON, wrap as
// StructuredValue(json); otherwise StructuredValue(text).
func DetectAndParse(raw string, mx security.Descriptor) *Value {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return New(Text, raw, nil, mx)
	}
	var data any
	if err := json.Unmarshal([]byte(trimmed), &data); err == nil {
		return New(JSON, raw, data, mx)
	}
	return New(Text, raw, nil, mx)
}

// ParseJSON parses raw as JSON, returning a Value of Type JSON.
// encoding/json is stdlib by design here — no example repo in the
// retrieval pack imports a third-party JSON library for anything beyond
// what the stdlib already provides cleanly; see DESIGN.md.
func ParseJSON(raw string, mx security.Descriptor) (*Value, error) {
	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return New(JSON, raw, data, mx), nil
}

// ParseYAML parses raw as YAML via gopkg.in/yaml.v3.
func ParseYAML(raw string, mx security.Descriptor) (*Value, error) {
	var data any
	if err := yaml.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return New(YAML, raw, normalizeYAML(data), mx), nil
}

// normalizeYAML converts map[string]interface{} keys that yaml.v3 may
// decode as map[any]any into map[string]any, so field access (svalue.Field)
// works uniformly across json/yaml/toml-sourced data.
func normalizeYAML(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeYAML(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if ks, ok := k.(string); ok {
				out[ks] = normalizeYAML(val)
			}
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeYAML(val)
		}
		return out
	default:
		return v
	}
}

// ParseTOML parses raw as TOML via github.com/BurntSushi/toml.
func ParseTOML(raw string, mx security.Descriptor) (*Value, error) {
	var data map[string]any
	if err := toml.Unmarshal([]byte(raw), &data); err != nil {
		return nil, err
	}
	return New(TOML, raw, normalizeYAML(data), mx), nil
}

// ParseCSV parses raw as CSV, producing an array of row-objects keyed by
// the header row. encoding/csv is stdlib here: the retrieval pack carries
// no third-party CSV library (see DESIGN.md "stdlib justifications").
func ParseCSV(raw string, mx security.Descriptor) (*Value, error) {
	r := csv.NewReader(strings.NewReader(raw))
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	v := New(CSV, raw, nil, mx)
	if len(records) == 0 {
		v.data = []any{}
		return v, nil
	}
	header := records[0]
	rows := make([]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, h := range header {
			if i < len(rec) {
				row[h] = rec[i]
			}
		}
		rows = append(rows, row)
	}
	v.data = rows
	v.SetMetadata("rowCount", len(rows))
	v.SetMetadata("header", header)
	return v, nil
}

// ParseXML parses raw as XML into a generic node tree.
// encoding/xml is stdlib here: no third-party XML library appears in the
// retrieval pack (see DESIGN.md "stdlib justifications").
func ParseXML(raw string, mx security.Descriptor) (*Value, error) {
	dec := xml.NewDecoder(strings.NewReader(raw))
	node, err := decodeXMLNode(dec)
	if err != nil {
		return nil, err
	}
	return New(XML, raw, node, mx), nil
}

func decodeXMLNode(dec *xml.Decoder) (any, error) {
	var stack []map[string]any
	var root map[string]any
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := map[string]any{"_tag": t.Name.Local}
			stack = append(stack, node)
		case xml.CharData:
			if len(stack) > 0 {
				txt := strings.TrimSpace(string(t))
				if txt != "" {
					stack[len(stack)-1]["_text"] = txt
				}
			}
		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			node := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				root = node
			} else {
				parent := stack[len(stack)-1]
				children, _ := parent["_children"].([]any)
				parent["_children"] = append(children, node)
			}
		}
	}
	if root == nil {
		return map[string]any{}, nil
	}
	return root, nil
}

// ParseHTML wraps raw HTML as a Value of Type HTML; the data projection is
// the raw string (HTML is treated as opaque text data in this evaluator —
// a tree projection is left to the output-formatting collaborator, which
// scopes out of the core).
func ParseHTML(raw string, mx security.Descriptor) *Value {
	return New(HTML, raw, raw, mx)
}

// ParseMarkdown wraps raw Markdown as a Value of Type Markdown. The data
// projection is a goldmark AST walked into a section list, grounding
// content.extractSection's `<path # heading>` support.
func ParseMarkdown(raw string, mx security.Descriptor) *Value {
	md := goldmark.New()
	reader := text.NewReader([]byte(raw))
	doc := md.Parser().Parse(reader)
	sections := collectMarkdownSections(doc, []byte(raw))
	return New(Markdown, raw, map[string]any{"sections": sections}, mx)
}

// MarkdownSection is one heading-delimited section of a markdown document.
type MarkdownSection struct {
	Heading string
	Level int
	Text string
}

func collectMarkdownSections(doc ast.Node, source []byte) []any {
	var out []any
	var cur *MarkdownSection
	var body bytes.Buffer

	flush := func() {
		if cur != nil {
			cur.Text = strings.TrimSpace(body.String())
			out = append(out, map[string]any{
				"heading": cur.Heading,
				"level": cur.Level,
				"text": cur.Text,
			})
		}
		body.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if h, ok := n.(*ast.Heading); ok {
			flush()
			cur = &MarkdownSection{Heading: string(h.Text(source)), Level: h.Level}
			return ast.WalkSkipChildren, nil
		}
		if cur != nil {
			if l, ok := n.(*ast.Text); ok {
				body.Write(l.Segment.Value(source))
				body.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	flush()
	return out
}
