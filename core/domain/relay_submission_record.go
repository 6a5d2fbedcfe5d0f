package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SubmissionFromRecord builds a Submission from a decoded collector record.
// Field attributes may sit on the field itself or inside its "settings" object;
// top-level values win. fields may be a list or an object keyed by field id.
func SubmissionFromRecord(raw map[string]any) *Submission {
	sub := &Submission{
		FormID: ParseFormID(raw, "form_id", "id"),
		Raw:    raw,
	}

	if settings, ok := raw["settings"].(map[string]any); ok {
		sub.Title = stringAttr(settings, "title")
	}
	if t := stringAttr(raw, "title"); t != "" && sub.Title == "" {
		sub.Title = t
	}

	for i, f := range fieldList(raw["fields"]) {
		sub.Fields = append(sub.Fields, fieldFromRecord(f, i))
	}
	return sub
}

func fieldList(v any) []map[string]any {
	switch fields := v.(type) {
	case []any:
		list := make([]map[string]any, 0, len(fields))
		for _, f := range fields {
			if m, ok := f.(map[string]any); ok {
				list = append(list, m)
			}
		}
		return list
	case map[string]any:
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			if errA == nil && errB == nil {
				return a < b
			}
			return keys[i] < keys[j]
		})
		list := make([]map[string]any, 0, len(fields))
		for _, k := range keys {
			if m, ok := fields[k].(map[string]any); ok {
				list = append(list, m)
			}
		}
		return list
	}
	return nil
}

func fieldFromRecord(f map[string]any, index int) FieldDescriptor {
	settings, _ := f["settings"].(map[string]any)

	// settings win for label and type; the key lives at the top level.
	fromSettings := func(name string) string {
		if s := stringAttr(settings, name); s != "" {
			return s
		}
		return stringAttr(f, name)
	}
	key := stringAttr(f, "key")
	if key == "" {
		key = stringAttr(settings, "key")
	}

	field := FieldDescriptor{
		Key:   key,
		Label: fromSettings("label"),
		Type:  fromSettings("type"),
		Value: f["value"],
	}
	if field.Value == nil && settings != nil {
		field.Value = settings["value"]
	}
	if field.Key == "" {
		if id := ParseFormID(f, "id"); id != 0 {
			field.Key = fmt.Sprintf("field_%d", id)
		} else {
			field.Key = fmt.Sprintf("field_%d", index+1)
		}
	}

	opts, ok := settings["options"]
	if !ok {
		opts = f["options"]
	}
	field.Options = optionList(opts)
	return field
}

func optionList(v any) []ChoiceOption {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	options := make([]ChoiceOption, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		options = append(options, ChoiceOption{
			Value: m["value"],
			Label: stringAttr(m, "label"),
		})
	}
	return options
}

func stringAttr(m map[string]any, name string) string {
	if m == nil {
		return ""
	}
	switch v := m[name].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
