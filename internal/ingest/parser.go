package ingest

import (
	"regexp"
	"strings"

	"edgesentry/internal/normalize"
)

var reKV = regexp.MustCompile(`(?i)([a-zA-Z_]+)=([^\s]+)`)

// Parser turns one transport line into event fields. JSON objects carry the
// full structure; plain key=value lines cover detectors that emit flat text,
// with behaviors separated by commas or pipes.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

func (p *Parser) ParseLine(line string) (*normalize.EventFields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	fields := parsePlain(trim)
	if fields == nil {
		return nil, nil
	}
	fields.Raw = line
	return fields, nil
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

func parsePlain(line string) *normalize.EventFields {
	kv := map[string]string{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		kv[strings.ToLower(match[1])] = match[2]
	}
	if len(kv) == 0 {
		return nil
	}
	fields := &normalize.EventFields{}
	fields.EntityType = firstNonEmpty(kv, "entity_type", "entitytype", "type", "class")
	fields.EntityID = firstNonEmpty(kv, "entity_id", "entityid", "id", "track_id")
	fields.Location = firstNonEmpty(kv, "location", "zone", "area", "camera")
	fields.Timestamp = firstNonEmpty(kv, "timestamp", "time", "ts")
	fields.Confidence = firstNonEmpty(kv, "detection_confidence", "confidence", "score")
	if raw := firstNonEmpty(kv, "behaviors", "actions", "activities"); raw != "" {
		parts := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '|' })
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				fields.Behaviors = append(fields.Behaviors, p)
			}
		}
	}
	return fields
}

func firstNonEmpty(m map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(m[k]); v != "" {
			return v
		}
	}
	return ""
}
