package util

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// FormatFileSize converts a size in bytes into a human readable unit string.
func FormatFileSize(bytes float64) string {
	units := []string{"B", "KB", "MB", "GB", "TB"}
	i := 0
	value := bytes
	for value > 1000 && i < len(units)-1 {
		value = value / 1000
		i++
	}
	rounded := math.Round(value*100) / 100
	return strconv.FormatFloat(rounded, 'f', -1, 64) + " " + units[i]
}

// ParseMetadataDate parses the "dd-mm-yyyy" date format used by dataset
// metadata documents.
func ParseMetadataDate(value string) (time.Time, error) {
	parsed, errParse := time.Parse("02-01-2006", value)
	if errParse != nil {
		return time.Time{}, fmt.Errorf("util: parse metadata date %q: %w", value, errParse)
	}
	return parsed, nil
}

// FormatLastUpdated converts a "dd-mm-yyyy" metadata date into the display
// layout, defaulting to "2 January 2006" when layout is empty.
func FormatLastUpdated(value, layout string) (string, error) {
	parsed, errParse := ParseMetadataDate(value)
	if errParse != nil {
		return "", errParse
	}
	if layout == "" {
		layout = "2 January 2006"
	}
	return parsed.Format(layout), nil
}

// HideAPIKey obscures an API key for logging, showing only the first and last
// few characters.
func HideAPIKey(apiKey string) string {
	if len(apiKey) > 8 {
		return apiKey[:4] + "..." + apiKey[len(apiKey)-4:]
	} else if len(apiKey) > 4 {
		return apiKey[:2] + "..." + apiKey[len(apiKey)-2:]
	} else if len(apiKey) > 2 {
		return apiKey[:1] + "..." + apiKey[len(apiKey)-1:]
	}
	return apiKey
}
