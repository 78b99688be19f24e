package proxy

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// partFields are the fields of which at least one must be present in every
// request part.
var partFields = []string{"text", "inline_data", "function_call", "function_response"}

// validateGenerateContent checks a generateContent request body before the
// first upstream attempt: the body must be a JSON object whose `contents` is
// a non-empty array of objects, each carrying a non-empty `parts` array of
// objects with at least one content field.
func validateGenerateContent(body []byte) error {
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return fmt.Errorf("request body must be a JSON object")
	}

	contents := parsed.Get("contents")
	if !contents.Exists() {
		return fmt.Errorf("missing required field 'contents'")
	}
	if !contents.IsArray() {
		return fmt.Errorf("field 'contents' must be an array")
	}
	items := contents.Array()
	if len(items) == 0 {
		return fmt.Errorf("field 'contents' cannot be empty")
	}

	for i, content := range items {
		if !content.IsObject() {
			return fmt.Errorf("content item %d must be an object", i)
		}
		parts := content.Get("parts")
		if !parts.Exists() {
			return fmt.Errorf("content item %d missing required field 'parts'", i)
		}
		if !parts.IsArray() {
			return fmt.Errorf("field 'parts' in content item %d must be an array", i)
		}
		partItems := parts.Array()
		if len(partItems) == 0 {
			return fmt.Errorf("field 'parts' in content item %d cannot be empty", i)
		}
		for j, part := range partItems {
			if !part.IsObject() {
				return fmt.Errorf("part %d in content item %d must be an object", j, i)
			}
			hasContent := false
			for _, field := range partFields {
				if part.Get(field).Exists() {
					hasContent = true
					break
				}
			}
			if !hasContent {
				return fmt.Errorf("part %d in content item %d must contain at least one content field (text, inline_data, function_call, or function_response)", j, i)
			}
		}
	}
	return nil
}
