package recurrence

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const (
	overridePrefix = "override:"
	ruleHashDomain = "program-scheduler/rule/v1"
)

// SourceKey identifies the occurrence a rule generates on date. It is
// "<ruleID>:<YYYY-MM-DD>" and never depends on the time window.
func SourceKey(ruleID string, date Date) string {
	return ruleID + ":" + date.String()
}

// ParseSourceKey splits a rule source key into its rule id and date.
func ParseSourceKey(key string) (string, Date, error) {
	idx := strings.LastIndex(key, ":")
	if idx <= 0 || strings.HasPrefix(key, overridePrefix) {
		return "", Date{}, fmt.Errorf("recurrence: %q is not a rule source key", key)
	}
	date, err := ParseDate(key[idx+1:])
	if err != nil {
		return "", Date{}, fmt.Errorf("recurrence: %q is not a rule source key", key)
	}
	return key[:idx], date, nil
}

// OverrideSourceKey is the key of the occurrence that shadows original.
func OverrideSourceKey(original string) string {
	return overridePrefix + original
}

// OverriddenSourceKey returns the original key shadowed by an override key.
func OverriddenSourceKey(key string) (string, bool) {
	return strings.CutPrefix(key, overridePrefix)
}

type hashedRule struct {
	Mode           Mode            `json:"mode"`
	Timezone       string          `json:"timezone"`
	StartDate      Date            `json:"start_date"`
	EndDate        Date            `json:"end_date"`
	StartTime      string          `json:"start_time"`
	EndTime        string          `json:"end_time"`
	IntervalCount  int             `json:"interval_count"`
	IntervalUnit   IntervalUnit    `json:"interval_unit"`
	ByWeekday      []int           `json:"by_weekday"`
	ByMonthday     []int           `json:"by_monthday"`
	EndMode        EndMode         `json:"end_mode"`
	UntilDate      Date            `json:"until_date"`
	MaxOccurrences int             `json:"max_occurrences"`
	Config         json.RawMessage `json:"config"`
}

// Hash returns a content hash of the normalized rule. The rule id is not
// part of the hash, so two rules with the same shape share a hash.
func Hash(rule Rule) (string, error) {
	rule = rule.Normalize()
	shape := hashedRule{
		Mode:           rule.Mode,
		Timezone:       rule.Timezone,
		StartDate:      rule.StartDate,
		EndDate:        rule.EndDate,
		IntervalCount:  rule.IntervalCount,
		IntervalUnit:   rule.IntervalUnit,
		ByMonthday:     rule.ByMonthday,
		EndMode:        rule.EndMode,
		UntilDate:      rule.UntilDate,
		MaxOccurrences: rule.MaxOccurrences,
	}
	if rule.StartTime != nil {
		shape.StartTime = rule.StartTime.String()
	}
	if rule.EndTime != nil {
		shape.EndTime = rule.EndTime.String()
	}
	for _, wd := range rule.ByWeekday {
		shape.ByWeekday = append(shape.ByWeekday, int(wd))
	}
	config, err := canonicalConfig(rule.Config)
	if err != nil {
		return "", fmt.Errorf("recurrence: hash config: %w", err)
	}
	shape.Config = config

	canonical, err := json.Marshal(shape)
	if err != nil {
		return "", fmt.Errorf("recurrence: hash rule: %w", err)
	}
	h, _ := blake2b.New256(nil)
	h.Write([]byte(ruleHashDomain))
	h.Write([]byte{0x00})
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// canonicalConfig re-encodes the config through a generic value so object
// keys come out sorted.
func canonicalConfig(cfg ModeConfig) (json.RawMessage, error) {
	raw, err := EncodeConfig(cfg)
	if err != nil || len(raw) == 0 {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}
