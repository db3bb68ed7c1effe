// Package normalize converts loosely structured transport payloads into
// perception events. Timestamps arrive as unix seconds, unix milliseconds or
// any of the common text layouts and come out as milliseconds since epoch.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"edgesentry/internal/config"
	"edgesentry/internal/model"
)

// Detection confidence assumed when a transport does not carry one.
const defaultConfidence = 0.5

type EventFields struct {
	EntityType string
	EntityID   string
	Location   string
	Timestamp  string
	Behaviors  []string
	Spatial    map[string]any
	Metadata   map[string]string
	Confidence string
	Source     string
	Raw        string
}

func Normalize(fields EventFields, cfg *config.Config) (model.PerceptionEvent, error) {
	location := strings.TrimSpace(fields.Location)
	if location == "" {
		location = cfg.Ingest.Parser.DefaultLocation
	}

	loc := time.UTC
	if cfg.Ingest.Parser.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Ingest.Parser.Timezone); err == nil {
			loc = l
		}
	}

	ts := time.Now().UTC()
	if fields.Timestamp != "" {
		parsed, err := ParseTimestamp(fields.Timestamp, loc)
		if err != nil {
			return model.PerceptionEvent{}, fmt.Errorf("parse timestamp: %w", err)
		}
		ts = parsed.UTC()
	}

	confidence := defaultConfidence
	if v := strings.TrimSpace(fields.Confidence); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return model.PerceptionEvent{}, fmt.Errorf("parse confidence: %w", err)
		}
		confidence = parsed
	}

	return model.PerceptionEvent{
		EntityType:          strings.ToLower(strings.TrimSpace(fields.EntityType)),
		EntityID:            strings.TrimSpace(fields.EntityID),
		Location:            location,
		Timestamp:           ts.UnixMilli(),
		Behaviors:           cleanBehaviors(fields.Behaviors),
		Spatial:             fields.Spatial,
		Metadata:            fields.Metadata,
		DetectionConfidence: confidence,
		Source:              fields.Source,
	}, nil
}

func cleanBehaviors(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, b := range in {
		b = strings.ToLower(strings.TrimSpace(b))
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z0700",
	"Jan 02 15:04:05",
	"Jan 2 15:04:05",
}

func ParseTimestamp(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if isNumeric(value) {
		if ts, err := parseUnix(value); err == nil {
			return ts, nil
		}
	}
	for _, layout := range timestampLayouts {
		if layout == "Jan 02 15:04:05" || layout == "Jan 2 15:04:05" {
			if t, err := time.ParseInLocation(layout, value, loc); err == nil {
				now := time.Now().In(loc)
				return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), nil
			}
			continue
		}
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp format: %q", value)
}

func isNumeric(value string) bool {
	for _, ch := range value {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return len(value) > 0
}

func parseUnix(value string) (time.Time, error) {
	if len(value) >= 13 {
		ms, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ms*int64(time.Millisecond)).UTC(), nil
	}
	sec, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}
