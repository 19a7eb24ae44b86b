package glossary

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/optim-dev/aina/pkg/terminology/internalerr"
)

// Format names a glossary source encoding.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// FormatFromPath guesses the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".csv":
		return FormatCSV, nil
	}
	return "", fmt.Errorf("glossary %s: unknown extension: %w", path, internalerr.ErrInvalidInput)
}

// Load reads and validates a glossary file.
func Load(path string) ([]Entry, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	entries, err := Decode(f, format)
	if err != nil {
		return nil, fmt.Errorf("glossary %s: %w", path, err)
	}
	return entries, nil
}

// Decode parses and validates a glossary from r.
func Decode(r io.Reader, format Format) ([]Entry, error) {
	var (
		records []record
		err     error
	)
	switch format {
	case FormatYAML:
		records, err = decodeYAML(r)
	case FormatJSON:
		records, err = decodeJSON(r)
	case FormatCSV:
		records, err = decodeCSV(r)
	default:
		return nil, fmt.Errorf("format %q: %w", format, internalerr.ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, len(records))
	for i, rec := range records {
		entries[i] = rec.entry()
	}
	if err := Validate(entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// FromRecords validates entries posted in the field layout of the source
// spreadsheet export (terme_recomanat, variants_no_normatives, ...).
func FromRecords(data []byte) ([]Entry, error) {
	return Decode(bytes.NewReader(data), FormatJSON)
}

// record accepts both the English field names and the Catalan ones used by
// the spreadsheet export. Catalan names fill whatever the English ones leave empty.
type record struct {
	ID              string   `json:"id" yaml:"id"`
	RecommendedTerm string   `json:"recommendedTerm" yaml:"recommended_term"`
	Category        string   `json:"category" yaml:"category"`
	Variants        flexList `json:"nonNormativeVariants" yaml:"variants"`
	Domain          string   `json:"domain" yaml:"domain"`
	UsageContext    string   `json:"usageContext" yaml:"usage_context"`
	Justification   string   `json:"justification" yaml:"justification"`
	Source          string   `json:"source" yaml:"source"`
	Examples        flexList `json:"examples" yaml:"examples"`
	CounterExamples flexList `json:"counterExamples" yaml:"counter_examples"`

	TermeRecomanat       string   `json:"terme_recomanat" yaml:"terme_recomanat"`
	Categoria            string   `json:"categoria" yaml:"categoria"`
	VariantsNoNormatives flexList `json:"variants_no_normatives" yaml:"variants_no_normatives"`
	Ambit                string   `json:"ambit" yaml:"ambit"`
	ContextDUs           string   `json:"context_d_us" yaml:"context_d_us"`
	NotesLinguistiques   string   `json:"notes_linguistiques" yaml:"notes_linguistiques"`
	Comentari            string   `json:"comentari" yaml:"comentari"`
	Font                 string   `json:"font" yaml:"font"`
	ExemplesCorrectes    flexList `json:"exemples_correctes" yaml:"exemples_correctes"`
	ExemplesIncorrectes  flexList `json:"exemples_incorrectes" yaml:"exemples_incorrectes"`
}

func (r record) entry() Entry {
	return Entry{
		ID:                   r.ID,
		RecommendedTerm:      firstNonEmpty(r.RecommendedTerm, r.TermeRecomanat),
		Category:             Category(firstNonEmpty(r.Category, r.Categoria)),
		NonNormativeVariants: firstList(r.Variants, r.VariantsNoNormatives),
		Domain:               firstNonEmpty(r.Domain, r.Ambit),
		UsageContext:         firstNonEmpty(r.UsageContext, r.ContextDUs),
		Justification:        firstNonEmpty(r.Justification, r.NotesLinguistiques, r.Comentari),
		Source:               firstNonEmpty(r.Source, r.Font),
		Examples:             firstList(r.Examples, r.ExemplesCorrectes),
		CounterExamples:      firstList(r.CounterExamples, r.ExemplesIncorrectes),
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstList(lists ...flexList) []string {
	for _, l := range lists {
		if len(l) > 0 {
			return []string(l)
		}
	}
	return nil
}

// flexList decodes either a list of strings or one comma-separated string.
type flexList []string

func splitList(s string) flexList {
	var out flexList
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (l *flexList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("want string or list of strings: %w", err)
	}
	*l = splitList(s)
	return nil
}

func (l *flexList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	}
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	*l = splitList(s)
	return nil
}

func decodeYAML(r io.Reader) ([]record, error) {
	var doc struct {
		Entries []record `yaml:"entries"`
	}
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return doc.Entries, nil
}

// decodeJSON accepts a bare array, {"entries": [...]} or {"glossary": [...]}.
func decodeJSON(r io.Reader) ([]record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []record
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decode json: %w", err)
		}
		return list, nil
	}
	var doc struct {
		Entries  []record `json:"entries"`
		Glossary []record `json:"glossary"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if len(doc.Entries) > 0 {
		return doc.Entries, nil
	}
	return doc.Glossary, nil
}

var csvColumns = map[string]string{
	"terme recomanat":               "recommended",
	"terme no normatiu o inadequat": "variants",
	"context d'ús":                  "context",
	"id":                            "id",
	"categoria":                     "category",
	"àmbit":                         "domain",
	"comentari/notes lingüístiques": "notes",
	"font":                          "source",
	"exemple 1":                     "ex1",
	"exemple 2":                     "ex2",
	"exemple 3":                     "ex3",
	"exemple incorrecte 1":          "bad1",
	"exemple incorrecte 2":          "bad2",
}

// decodeCSV reads the ';'-separated spreadsheet export. Columns are matched
// by header name, so their order does not matter.
func decodeCSV(r io.Reader) ([]record, error) {
	cr := csv.NewReader(r)
	cr.Comma = ';'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		h = strings.ReplaceAll(h, "’", "'")
		if name, ok := csvColumns[h]; ok {
			cols[name] = i
		}
	}
	if _, ok := cols["recommended"]; !ok {
		return nil, &internalerr.SchemaError{Field: "Terme recomanat", Reason: "missing csv column"}
	}

	var out []record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("csv line %d: %w", line, err)
		}
		get := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		if get("recommended") == "" && get("id") == "" {
			continue
		}
		out = append(out, record{
			ID:              get("id"),
			RecommendedTerm: get("recommended"),
			Category:        get("category"),
			Variants:        splitList(get("variants")),
			Domain:          get("domain"),
			UsageContext:    get("context"),
			Justification:   get("notes"),
			Source:          get("source"),
			Examples:        nonEmpty(get("ex1"), get("ex2"), get("ex3")),
			CounterExamples: nonEmpty(get("bad1"), get("bad2")),
		})
	}
	return out, nil
}

func nonEmpty(vals ...string) flexList {
	var out flexList
	for _, v := range vals {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
