package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DateLayout is the calendar date format used by extracts.
const DateLayout = "2006-01-02"

// Money is a decimal amount accepted as a JSON/YAML number or string.
type Money struct {
	decimal.Decimal
}

// UnmarshalYAML parses scalar nodes through decimal to avoid float rounding.
func (m *Money) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: amount must be a scalar", node.Line)
	}
	d, err := parseMoney(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	m.Decimal = d
	return nil
}

func parseMoney(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(raw, "'", ""))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", raw)
	}
	return d, nil
}

// Day is a calendar date without time of day.
type Day struct {
	time.Time
}

// UnmarshalJSON accepts "2006-01-02" or an RFC 3339 timestamp.
func (d *Day) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	t, err := parseDay(raw)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// UnmarshalYAML accepts the same formats as UnmarshalJSON.
func (d *Day) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: date must be a scalar", node.Line)
	}
	t, err := parseDay(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	d.Time = t
	return nil
}

func parseDay(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(DateLayout, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		y, m, day := t.Date()
		return time.Date(y, m, day, 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("invalid date %q, want %s", raw, DateLayout)
}

// ClockTime is an HH:MM time of day.
type ClockTime string

// UnmarshalYAML keeps the literal scalar text.
func (c *ClockTime) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: time must be a scalar", node.Line)
	}
	*c = ClockTime(strings.TrimSpace(node.Value))
	return nil
}

func parseBool(raw string) (bool, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "":
		return false, nil
	case "yes", "y", "x", "ja":
		return true, nil
	case "no", "n", "nein":
		return false, nil
	}
	return strconv.ParseBool(raw)
}
