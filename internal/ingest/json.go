package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"edgesentry/internal/config"
	"edgesentry/internal/model"
	"edgesentry/internal/normalize"
)

// DecodeEvents decodes a transport payload carrying either one event object
// or an array of them. Objects that decode but fail normalization are counted
// in failed instead of aborting the batch.
func DecodeEvents(data []byte, cfg *config.Config, source string) (events []model.PerceptionEvent, failed int, err error) {
	trim := bytes.TrimSpace(data)
	if len(trim) == 0 {
		return nil, 0, errors.New("empty payload")
	}
	var objs []map[string]interface{}
	if trim[0] == '[' {
		if err := json.Unmarshal(trim, &objs); err != nil {
			return nil, 0, err
		}
	} else {
		var obj map[string]interface{}
		if err := json.Unmarshal(trim, &obj); err != nil {
			return nil, 0, err
		}
		objs = append(objs, obj)
	}
	events = make([]model.PerceptionEvent, 0, len(objs))
	for _, obj := range objs {
		ev, nerr := normalize.Normalize(*ParseJSONMap(obj), cfg)
		if nerr != nil {
			failed++
			continue
		}
		ev.Source = source
		events = append(events, ev)
	}
	return events, failed, nil
}

func ParseJSONBytes(data []byte) (*normalize.EventFields, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	return ParseJSONMap(obj), nil
}

func ParseJSONMap(obj map[string]interface{}) *normalize.EventFields {
	fields := &normalize.EventFields{}
	fields.EntityType = firstString(obj, "entity_type", "entitytype", "type", "class")
	fields.EntityID = firstString(obj, "entity_id", "entityid", "id", "track_id")
	fields.Location = firstString(obj, "location", "zone", "area", "camera")
	fields.Timestamp = firstString(obj, "timestamp", "time", "ts")
	fields.Confidence = firstString(obj, "detection_confidence", "confidence", "score")
	fields.Behaviors = stringList(obj, "behaviors", "actions", "activities")
	fields.Spatial = mapValue(obj, "spatial", "spatial_data", "bbox")
	fields.Metadata = stringMap(obj, "metadata", "meta", "attributes")
	return fields
}

func firstString(obj map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok && v != nil {
			s := strings.TrimSpace(fmt.Sprint(v))
			if s != "" {
				return s
			}
		}
	}
	return ""
}

// stringList accepts a JSON array of values or a comma-separated string.
func stringList(obj map[string]interface{}, keys ...string) []string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok || v == nil {
			continue
		}
		switch vv := v.(type) {
		case []interface{}:
			out := make([]string, 0, len(vv))
			for _, item := range vv {
				out = append(out, fmt.Sprint(item))
			}
			return out
		case string:
			parts := strings.Split(vv, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			return out
		}
	}
	return nil
}

func mapValue(obj map[string]interface{}, keys ...string) map[string]any {
	for _, k := range keys {
		if m, ok := obj[k].(map[string]interface{}); ok {
			return m
		}
	}
	return nil
}

func stringMap(obj map[string]interface{}, keys ...string) map[string]string {
	for _, k := range keys {
		m, ok := obj[k].(map[string]interface{})
		if !ok {
			continue
		}
		out := make(map[string]string, len(m))
		for key, val := range m {
			out[strings.ToLower(key)] = fmt.Sprint(val)
		}
		return out
	}
	return nil
}
