// Package settings reads per-tenant governance settings with their defaults.
package settings

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	KeyVotingDuration           = "VotingDuration"
	KeyVotingFrequency          = "VotingFrequency"
	KeyRequiredAuthorityPercent = "AuthorityVotingRequiredUserPercentage"
	KeyLanguage                 = "Language"
	DefaultVotingDurationHours  = 24
	DefaultVotingFrequencyDays  = 90
	DefaultRequiredAuthorityPct = 50.0
	DefaultLanguage             = "en"
)

// Source is a tenant-scoped key/value lookup.
type Source interface {
	TenantSetting(ctx context.Context, tenantID, key string) (string, bool, error)
}

type Provider struct {
	source Source
}

func NewProvider(source Source) *Provider {
	return &Provider{source: source}
}

// VotingDuration is the voting window of a new poll, stored in hours.
func (p *Provider) VotingDuration(ctx context.Context, tenantID string) (time.Duration, error) {
	hours, err := p.number(ctx, tenantID, KeyVotingDuration, DefaultVotingDurationHours)
	if err != nil {
		return 0, err
	}
	return time.Duration(hours * float64(time.Hour)), nil
}

// VotingFrequency is the gap between authority polls, stored in days.
func (p *Provider) VotingFrequency(ctx context.Context, tenantID string) (time.Duration, error) {
	days, err := p.number(ctx, tenantID, KeyVotingFrequency, DefaultVotingFrequencyDays)
	if err != nil {
		return 0, err
	}
	return time.Duration(days * 24 * float64(time.Hour)), nil
}

func (p *Provider) RequiredAuthorityPercentage(ctx context.Context, tenantID string) (float64, error) {
	return p.number(ctx, tenantID, KeyRequiredAuthorityPercent, DefaultRequiredAuthorityPct)
}

func (p *Provider) Language(ctx context.Context, tenantID string) (string, error) {
	value, ok, err := p.source.TenantSetting(ctx, tenantID, KeyLanguage)
	if err != nil {
		return "", fmt.Errorf("read setting %s: %w", KeyLanguage, err)
	}
	value = strings.ToLower(strings.TrimSpace(value))
	if !ok || value == "" {
		return DefaultLanguage, nil
	}
	return value, nil
}

func (p *Provider) number(ctx context.Context, tenantID, key string, fallback float64) (float64, error) {
	value, ok, err := p.source.TenantSetting(ctx, tenantID, key)
	if err != nil {
		return 0, fmt.Errorf("read setting %s: %w", key, err)
	}
	value = strings.TrimSpace(value)
	if !ok || value == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil || parsed < 0 {
		return fallback, nil
	}
	return parsed, nil
}
