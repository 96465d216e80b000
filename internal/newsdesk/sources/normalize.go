package sources

import (
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	"2006-01-02",
}

// parseTime parses a provider timestamp into UTC at second precision. An
// empty or unparseable value yields fallback.
func parseTime(s string, fallback time.Time) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback.UTC().Truncate(time.Second)
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Second)
		}
	}
	return fallback.UTC().Truncate(time.Second)
}

const generalCategory = "general"

var guardianSections = map[string]string{
	"world":         "world",
	"uk-news":       "national",
	"us-news":       "national",
	"politics":      "politics",
	"business":      "business",
	"technology":    "technology",
	"science":       "science",
	"environment":   "environment",
	"sport":         "sports",
	"football":      "sports",
	"culture":       "entertainment",
	"film":          "entertainment",
	"music":         "entertainment",
	"books":         "entertainment",
	"lifeandstyle":  "lifestyle",
	"fashion":       "lifestyle",
	"food":          "lifestyle",
	"travel":        "travel",
	"money":         "business",
	"education":     "education",
	"society":       "society",
	"media":         "media",
	"law":           "law",
	"commentisfree": "opinion",
}

var nytSections = map[string]string{
	"world":       "world",
	"u.s.":        "national",
	"us":          "national",
	"politics":    "politics",
	"business":    "business",
	"technology":  "technology",
	"science":     "science",
	"climate":     "environment",
	"sports":      "sports",
	"arts":        "entertainment",
	"movies":      "entertainment",
	"theater":     "entertainment",
	"books":       "entertainment",
	"style":       "lifestyle",
	"food":        "lifestyle",
	"travel":      "travel",
	"magazine":    "magazine",
	"opinion":     "opinion",
	"health":      "health",
	"realestate":  "realestate",
	"automobiles": "automobiles",
	"obituaries":  "obituaries",
	"upshot":      "analysis",
	"nyregion":    "local",
}

// guardianCategory maps a Guardian section id. A missing section is looked
// up as "news"; anything outside the map falls back to "general".
func guardianCategory(sectionID string) string {
	sectionID = strings.ToLower(strings.TrimSpace(sectionID))
	if sectionID == "" {
		sectionID = "news"
	}
	if c, ok := guardianSections[sectionID]; ok {
		return c
	}
	return generalCategory
}

func nytCategory(section string) string {
	if c, ok := nytSections[strings.ToLower(strings.TrimSpace(section))]; ok {
		return c
	}
	return generalCategory
}

