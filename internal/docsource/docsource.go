// Package docsource turns input files into plain text for detection:
// plain text, HTML pages and JSONL batches of documents.
package docsource

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/optim-dev/aina/internal/logging"
)

// Format of an input document.
type Format string

const (
	Text Format = "text"
	HTML Format = "html"
)

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm", ".xhtml":
		return HTML
	}
	return Text
}

// Read returns the text of r in the given format.
func Read(r io.Reader, format Format) (string, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if format == HTML {
		return StripHTML(string(data)), nil
	}
	return string(data), nil
}

// ReadFile reads path, or stdin when path is "-".
func ReadFile(path string, format Format) (string, error) {
	if path == "-" {
		return Read(os.Stdin, format)
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if format == "" {
		format = FormatFromPath(path)
	}
	return Read(f, format)
}

// skipped elements never contribute text.
var skipped = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Noscript: true, atom.Template: true, atom.Head: true,
}

// block elements end a paragraph.
var block = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true, atom.Td: true, atom.Th: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Section: true, atom.Article: true, atom.Blockquote: true, atom.Pre: true, atom.Table: true,
}

// StripHTML extracts the visible text of a page. Block elements become line
// breaks and runs of blank lines are collapsed.
func StripHTML(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// Fallback to string if parsing fails
		return s
	}

	var buf strings.Builder
	var extractText func(*html.Node)
	extractText = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
		if n.Type == html.ElementNode && block[n.DataAtom] {
			buf.WriteByte('\n')
		}
	}
	extractText(doc)

	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// Document is one entry of a JSONL batch.
type Document struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	// HTML is used when Text is empty.
	HTML string `json:"html,omitempty"`
}

// LoadJSONL reads one document per line. Malformed lines are skipped with a
// warning; an input without any valid document is an error.
func LoadJSONL(r io.Reader, log logging.Logger) ([]Document, error) {
	log = logging.OrDefault(log)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16<<20)

	var docs []Document
	for line := 1; sc.Scan(); line++ {
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var d Document
		if err := json.Unmarshal(raw, &d); err != nil {
			log.Warn("skipping malformed document", logging.Int("line", line), logging.Err(err))
			continue
		}
		if d.Text == "" && d.HTML != "" {
			d.Text = StripHTML(d.HTML)
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("line-%d", line)
		}
		docs = append(docs, d)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no valid documents found")
	}
	return docs, nil
}
