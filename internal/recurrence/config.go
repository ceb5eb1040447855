package recurrence

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
)

// ModeConfig carries the mode-specific data that the structured rule fields
// do not model. Implementations are DateListConfig, AdvancedConfig and RawConfig.
type ModeConfig interface {
	isModeConfig()
	normalized() ModeConfig
}

// DateListConfig is the explicit date list of single_date and
// multiple_specific_dates rules.
type DateListConfig struct {
	Dates []Date `json:"dates"`
}

// AdvancedConfig is the escape hatch of custom_advanced rules. Dates and the
// RRULE expansion are merged, then filtered by ByMonthday when it is set.
type AdvancedConfig struct {
	Dates      []Date          `json:"dates,omitempty"`
	ByMonthday []int           `json:"by_monthday,omitempty"`
	RRule      string          `json:"rrule,omitempty"`
	Extra      json.RawMessage `json:"extra,omitempty"`
}

// RawConfig preserves configuration the engine does not interpret.
type RawConfig struct {
	Data json.RawMessage
}

func (DateListConfig) isModeConfig() {}
func (AdvancedConfig) isModeConfig() {}
func (RawConfig) isModeConfig()      {}

func (c DateListConfig) normalized() ModeConfig {
	return DateListConfig{Dates: sortedDates(c.Dates)}
}

func (c AdvancedConfig) normalized() ModeConfig {
	c.Dates = sortedDates(c.Dates)
	c.ByMonthday = sortedUnique(c.ByMonthday)
	return c
}

func (c RawConfig) normalized() ModeConfig {
	return c
}

var errInvalidRawConfig = errors.New("recurrence: config is not valid JSON")

// EncodeConfig serializes cfg for storage. A nil config encodes as nil.
func EncodeConfig(cfg ModeConfig) (json.RawMessage, error) {
	switch c := cfg.(type) {
	case nil:
		return nil, nil
	case RawConfig:
		if len(c.Data) == 0 {
			return nil, nil
		}
		return c.Data, nil
	default:
		return json.Marshal(c)
	}
}

// DecodeConfig parses stored configuration into the variant that mode uses.
// Empty input yields a nil config.
func DecodeConfig(mode Mode, data []byte) (ModeConfig, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, nil
	}
	switch mode {
	case ModeSingleDate, ModeMultipleDates:
		var cfg DateListConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	case ModeCustomAdvanced:
		var cfg AdvancedConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	default:
		if !json.Valid(data) {
			return nil, errInvalidRawConfig
		}
		return RawConfig{Data: json.RawMessage(slices.Clone(data))}, nil
	}
}

func sortedDates(dates []Date) []Date {
	if len(dates) == 0 {
		return nil
	}
	out := slices.Clone(dates)
	slices.SortFunc(out, Date.Compare)
	return slices.CompactFunc(out, func(a, b Date) bool { return a.Compare(b) == 0 })
}

func configDates(cfg ModeConfig) []Date {
	switch c := cfg.(type) {
	case DateListConfig:
		return c.Dates
	case AdvancedConfig:
		return c.Dates
	}
	return nil
}
