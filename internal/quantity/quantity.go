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

// Package quantity normalizes Kubernetes resource-quantity strings into
// a common numeric unit so heterogeneous quantities ("500m" vs "0.5",
// "1Gi" vs "1073741824") can be compared directly.
package quantity

import (
	"fmt"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/api/resource"
)

// Binary suffixes are powers of 1024, decimal suffixes powers of 1000.
// Binary suffixes must be checked first: "1Ki" also ends in "i" but
// never in a decimal suffix, while "1k" must not match "Ki".
var (
	binarySuffixes = []struct {
		suffix     string
		multiplier float64
	}{
		{"Ki", 1 << 10},
		{"Mi", 1 << 20},
		{"Gi", 1 << 30},
		{"Ti", 1 << 40},
		{"Pi", 1 << 50},
		{"Ei", 1 << 60},
	}
	decimalSuffixes = []struct {
		suffix     string
		multiplier float64
	}{
		{"k", 1e3},
		{"M", 1e6},
		{"G", 1e9},
		{"T", 1e12},
		{"P", 1e15},
		{"E", 1e18},
	}
)

// Parse converts a resource-quantity string into a float64:
// CPU millicores ("500m" -> 0.5), binary memory suffixes as powers of
// 1024 ("1Gi" -> 1073741824), decimal suffixes as powers of 1000
// ("1G" -> 1000000000), bare numbers pass through.
func Parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("quantity is empty")
	}

	if strings.HasSuffix(s, "m") {
		value, err := strconv.ParseFloat(strings.TrimSuffix(s, "m"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid quantity %q", s)
		}
		return value / 1000.0, nil
	}

	for _, b := range binarySuffixes {
		if strings.HasSuffix(s, b.suffix) {
			value, err := strconv.ParseFloat(strings.TrimSuffix(s, b.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid quantity %q", s)
			}
			return value * b.multiplier, nil
		}
	}

	for _, d := range decimalSuffixes {
		if strings.HasSuffix(s, d.suffix) {
			value, err := strconv.ParseFloat(strings.TrimSuffix(s, d.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid quantity %q", s)
			}
			return value * d.multiplier, nil
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q", s)
	}
	return value, nil
}

// FromQuantity normalizes a typed quantity through its canonical string
// form. Unparseable values count as zero so a single malformed entry
// does not abort a whole scheduling sweep.
func FromQuantity(q resource.Quantity) float64 {
	v, err := Parse(q.String())
	if err != nil {
		return 0
	}
	return v
}
