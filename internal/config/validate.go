package config

import (
	"fmt"
	"reflect"
	"strings"
)

// Validate checks the whole configuration: keybindings parse without
// collisions and the streaming tunables are internally consistent.
func (c *Config) Validate() error {
	if err := ValidateKeys(&c.Keys); err != nil {
		return err
	}
	return validateStream(&c.Stream)
}

// validateStream bounds-checks the flush cadence and budgets.
func validateStream(s *StreamConfig) error {
	if s.FrameIntervalMs < 1 {
		return fmt.Errorf("frame_interval_ms must be at least 1, got %d", s.FrameIntervalMs)
	}
	if s.NormalBudget < 1 {
		return fmt.Errorf("normal_budget must be positive, got %d", s.NormalBudget)
	}
	if s.TightBudget < 1 {
		return fmt.Errorf("tight_budget must be positive, got %d", s.TightBudget)
	}
	if s.TightBudget > s.NormalBudget {
		return fmt.Errorf("tight_budget (%d) must not exceed normal_budget (%d)", s.TightBudget, s.NormalBudget)
	}
	if s.HighWaterMark < s.NormalBudget {
		return fmt.Errorf("high_water_mark (%d) must be at least normal_budget (%d)", s.HighWaterMark, s.NormalBudget)
	}
	if s.FollowSlack < 0 {
		return fmt.Errorf("follow_slack must not be negative, got %d", s.FollowSlack)
	}
	return nil
}

// ValidateKeys checks for duplicate keybindings and invalid key strings.
func ValidateKeys(keys *KeyBindings) error {
	// Build a map of key -> action names for duplicate detection
	keyMap := make(map[string][]string)

	v := reflect.ValueOf(keys).Elem()
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldName := t.Field(i).Name

		if field.Kind() != reflect.String {
			continue
		}

		keyStr := field.String()
		if keyStr == "" {
			continue
		}

		// Validate that the key string can be parsed
		_, err := ParseKey(keyStr)
		if err != nil {
			return fmt.Errorf("invalid key for %s: %w", fieldName, err)
		}

		// Case-sensitive on purpose: "r" and "R" are distinct bindings
		keyMap[keyStr] = append(keyMap[keyStr], fieldName)
	}

	// Check for duplicates
	var duplicates []string
	for key, actions := range keyMap {
		if len(actions) > 1 {
			duplicates = append(duplicates, fmt.Sprintf("key %q is used by: %s", key, strings.Join(actions, ", ")))
		}
	}

	if len(duplicates) > 0 {
		return fmt.Errorf("duplicate keybindings found:\n  %s", strings.Join(duplicates, "\n  "))
	}

	return nil
}
