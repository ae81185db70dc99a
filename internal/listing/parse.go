package listing

import (
	"encoding/json"
	"strings"

	"github.com/tjfontaine/threadsketch/internal/core/domain"
)

// maxTitleLength is the commerce platform's product title limit.
const maxTitleLength = 255

// Extract returns the first well-formed JSON object embedded in text.
// Models often wrap the object in prose ("Sure! Here you go: {...}"), so every
// '{' is tried as a starting point until one decodes.
func Extract(text string) (json.RawMessage, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&raw); err == nil {
			return raw, true
		}
	}
	return nil, false
}

type completion struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Tags        json.RawMessage `json:"tags"`
}

// Parse reads listing fields out of a text completion. It fails unless a JSON
// object with a non-empty title and description is found. Tags are optional;
// non-string entries are dropped. The returned Description is the plain text
// as written by the model and Tags are not yet normalized.
func Parse(text string) (domain.ListingMetadata, bool) {
	raw, found := Extract(text)
	if !found {
		return domain.ListingMetadata{}, false
	}

	var c completion
	if err := json.Unmarshal(raw, &c); err != nil {
		return domain.ListingMetadata{}, false
	}

	title := strings.TrimSpace(c.Title)
	description := strings.TrimSpace(c.Description)
	if title == "" || description == "" {
		return domain.ListingMetadata{}, false
	}
	if r := []rune(title); len(r) > maxTitleLength {
		title = strings.TrimSpace(string(r[:maxTitleLength]))
	}

	return domain.ListingMetadata{
		Title:       title,
		Description: description,
		Tags:        decodeTags(c.Tags),
		Source:      domain.ListingSourceAI,
	}, true
}

func decodeTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}

	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		var tags []string
		for _, v := range list {
			if s, ok := v.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	}

	// "tags": "a, b, c"
	var csv string
	if err := json.Unmarshal(raw, &csv); err == nil {
		return strings.Split(csv, ",")
	}
	return nil
}

// NormalizeTags trims, drops empties and de-duplicates tags case-insensitively
// keeping first-seen order, then appends required. Required tags always keep
// their exact form; a differently cased copy in tags is dropped in favour of
// it.
func NormalizeTags(tags []string, required ...string) []string {
	seen := make(map[string]bool, len(tags)+len(required))
	out := make([]string, 0, len(tags)+len(required))

	reserved := make(map[string]bool, len(required))
	for _, r := range required {
		if r = strings.TrimSpace(r); r != "" {
			reserved[strings.ToLower(r)] = true
		}
	}

	add := func(tag string, allowReserved bool) {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			return
		}
		key := strings.ToLower(tag)
		if seen[key] || (reserved[key] && !allowReserved) {
			return
		}
		seen[key] = true
		out = append(out, tag)
	}

	for _, t := range tags {
		add(t, false)
	}
	for _, t := range required {
		add(t, true)
	}
	return out
}
