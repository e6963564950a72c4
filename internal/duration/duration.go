/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package duration parses the human time-to-live strings used in
// DevServer specs, e.g. "30m", "4h", "1d" or compounds like "1h30m".
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var part = regexp.MustCompile(`(\d+)([dhms])`)

// Parse converts a duration string into a time.Duration. Units are
// d (days), h, m and s; multiple units may be concatenated. The whole
// string must be consumed, so "90x" or "1h junk" are rejected.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration is empty")
	}

	matches := part.FindAllStringSubmatch(s, -1)
	if len(matches) == 0 {
		return 0, fmt.Errorf("invalid duration format: %q", s)
	}

	var consumed strings.Builder
	var total time.Duration
	for _, m := range matches {
		consumed.WriteString(m[0])
		value, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %q", s)
		}
		switch m[2] {
		case "d":
			total += time.Duration(value) * 24 * time.Hour
		case "h":
			total += time.Duration(value) * time.Hour
		case "m":
			total += time.Duration(value) * time.Minute
		case "s":
			total += time.Duration(value) * time.Second
		}
	}

	if consumed.String() != s {
		return 0, fmt.Errorf("invalid duration format: %q", s)
	}
	return total, nil
}
