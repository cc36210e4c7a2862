package metadata

import "strings"

// metaTag is the parsed form of a `meta` struct tag
type metaTag struct {
	skip        bool
	framework   bool
	label       string
	description string
	format      string
	dataType    string
	refList     string
}

func parseMetaTag(raw string) metaTag {
	var tag metaTag
	raw = strings.TrimSpace(raw)
	if raw == "-" {
		tag.skip = true
		return tag
	}

	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, hasValue := strings.Cut(part, "=")
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.TrimSpace(value)

		if !hasValue {
			if key == "framework" {
				tag.framework = true
			}
			continue
		}

		switch key {
		case "label":
			tag.label = value
		case "description":
			tag.description = value
		case "format":
			tag.format = value
		case "type":
			tag.dataType = value
		case "reflist":
			tag.refList = value
		}
	}
	return tag
}
