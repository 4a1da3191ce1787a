package ingest

import (
	"encoding/csv"
	"errors"
	"regexp"
	"strings"

	"facesignal/internal/normalize"
)

var (
	reTimestamp = regexp.MustCompile(`^\s*([0-9]{4}-[0-9]{2}-[0-9]{2}[ T][0-9:.+-Z]+)`)
	reKV        = regexp.MustCompile(`([a-zA-Z_][a-zA-Z0-9_]*)=([^\s]+)`)
)

var ErrUnrecognized = errors.New("unrecognized frame line")

// Parser decodes one frame per line: a JSON object, a CSV row, or
// space-separated key=value pairs. It keeps CSV header state, so use one
// Parser per stream.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields and no error for blank lines and CSV headers.
func (p *Parser) ParseLine(line string) (*normalize.FrameFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		fields, err := ParseJSONBytes([]byte(trim))
		if err != nil {
			return nil, err
		}
		fields.Raw = line
		return fields, nil
	}
	if strings.Contains(trim, "=") {
		fields, err := parsePlain(trim)
		if err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, ",") {
		fields, err := p.csv.Parse(trim)
		if err != nil {
			return nil, err
		}
		if fields != nil {
			fields.Raw = line
		}
		return fields, nil
	}
	return nil, ErrUnrecognized
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parsePlain(line string) (*normalize.FrameFields, error) {
	kv := map[string]string{}
	matches := reKV.FindAllStringSubmatch(line, -1)
	if len(matches) == 0 {
		return nil, ErrUnrecognized
	}
	for _, match := range matches {
		kv[columnKey(match[1])] = match[2]
	}
	if firstNonEmpty(kv, timestampKeys...) == "" {
		if ts := extractTimestamp(line); ts != "" {
			kv["timestamp"] = ts
		}
	}
	return ParseJSONMap(flatToMap(kv))
}

func extractTimestamp(line string) string {
	m := reTimestamp.FindStringSubmatchIndex(line)
	if len(m) >= 4 {
		return strings.TrimSpace(line[m[2]:m[3]])
	}
	return ""
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// flatToMap lifts gaze_<dir> and bs_<name> columns into nested maps and
// drops empty cells so that a row without an ear value means no face.
func flatToMap(kv map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(kv))
	gaze := map[string]interface{}{}
	blend := map[string]interface{}{}
	for k, v := range kv {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		switch {
		case strings.HasPrefix(k, "gaze_"):
			gaze[strings.TrimPrefix(k, "gaze_")] = v
		case strings.HasPrefix(k, "bs_"):
			blend[strings.TrimPrefix(k, "bs_")] = v
		default:
			out[k] = v
		}
	}
	if len(gaze) > 0 {
		out["gaze"] = gaze
	}
	if len(blend) > 0 {
		out["blendshapes"] = blend
	}
	return out
}

var positionalColumns = []string{"timestamp", "session_id", "ear", "mar", "yaw", "pitch", "roll", "emotion", "emotion_score"}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

func (p *CSVParser) Parse(line string) (*normalize.FrameFields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	names := positionalColumns
	if p.header != nil {
		names = p.header
	}
	kv := make(map[string]string, len(names))
	for i, name := range names {
		if i >= len(record) {
			break
		}
		kv[name] = record[i]
	}
	return ParseJSONMap(flatToMap(kv))
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		v = strings.ToLower(strings.TrimSpace(v))
		switch v {
		case "timestamp", "time", "ts", "session_id", "session", "ear", "mar", "yaw", "emotion":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = columnKey(v)
	}
	return out
}

// columnKey lowercases a column or key name. Blendshape names are
// camelCase, so for bs_ and gaze_ columns only the prefix is lowercased.
func columnKey(name string) string {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	for _, prefix := range []string{"bs_", "gaze_"} {
		if strings.HasPrefix(lower, prefix) {
			return prefix + name[len(prefix):]
		}
	}
	return lower
}
