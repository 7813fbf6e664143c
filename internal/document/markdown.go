package document

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// MarshalMarkdown writes d as YAML frontmatter followed by the card content
// verbatim.
func MarshalMarkdown(d Document) ([]byte, error) {
	fm, err := yaml.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("document: marshal frontmatter %s: %w", d.ID, err)
	}
	var buf bytes.Buffer
	buf.WriteString(delim + "\n")
	buf.Write(fm)
	buf.WriteString(delim + "\n")
	if d.Data != nil {
		buf.WriteString(*d.Data)
	}
	return buf.Bytes(), nil
}

// UnmarshalMarkdown splits YAML frontmatter (between leading --- lines) from
// the content body. Without frontmatter the whole file is content and every
// other field is reported missing by ToProp. Invalid YAML is an error.
func UnmarshalMarkdown(data []byte) (Document, error) {
	var d Document
	if !bytes.HasPrefix(data, []byte(delim+"\n")) {
		body := string(data)
		d.Data = &body
		return d, nil
	}

	rest := data[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim+"\n"))
	if idx < 0 {
		// No closing delimiter: treat everything as content.
		body := string(data)
		d.Data = &body
		return d, nil
	}

	if err := yaml.Unmarshal(rest[:idx], &d); err != nil {
		return Document{}, fmt.Errorf("document: parse frontmatter: %w", err)
	}
	body := string(rest[idx+len(delim)+2:])
	d.Data = &body
	return d, nil
}

// ScanRevision extracts the _rev value from the frontmatter of data line by
// line, without decoding the YAML. It returns "" when there is none.
func ScanRevision(data []byte) string {
	if !bytes.HasPrefix(data, []byte(delim+"\n")) {
		return ""
	}
	for _, line := range strings.Split(string(data[len(delim)+1:]), "\n") {
		if strings.TrimRight(line, "\r") == delim {
			break
		}
		v, ok := strings.CutPrefix(line, "_rev:")
		if !ok {
			continue
		}
		return strings.Trim(strings.TrimSpace(v), `"'`)
	}
	return ""
}
