// Package domain contains core domain types for the campaign pipeline.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Platform identifies an external publishing platform.
type Platform string

const (
	// PlatformLinkedIn is the only platform currently supported.
	PlatformLinkedIn Platform = "linkedin"
)

// DisplayName returns the human-readable platform name used in event messages.
func (p Platform) DisplayName() string {
	switch p {
	case PlatformLinkedIn:
		return "LinkedIn"
	default:
		return string(p)
	}
}

// ParsePlatform converts a platform identifier into a supported Platform.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformLinkedIn:
		return PlatformLinkedIn, nil
	default:
		return "", fmt.Errorf("unsupported platform %q", s)
	}
}

// Request defaults applied by Normalize.
const (
	DefaultTone           = "professional"
	DefaultTargetAudience = "tech professionals"
)

var (
	// ErrTopicRequired is returned when a request has no topic.
	ErrTopicRequired = errors.New("topic is required")
	// ErrNoPlatforms is returned when a request names no platforms.
	ErrNoPlatforms = errors.New("at least one platform is required")
)

// CampaignRequest is the input to one pipeline run. It is treated as immutable
// once accepted.
type CampaignRequest struct {
	Topic          string     `json:"topic"`
	Platforms      []Platform `json:"platforms"`
	Tone           string     `json:"tone"`
	TargetAudience string     `json:"target_audience"`
	AutoPublish    bool       `json:"auto_publish"`
}

// Normalize fills in defaults and removes duplicate platforms.
func (r *CampaignRequest) Normalize() {
	r.Topic = strings.TrimSpace(r.Topic)
	if r.Platforms == nil {
		r.Platforms = []Platform{PlatformLinkedIn}
	}
	if strings.TrimSpace(r.Tone) == "" {
		r.Tone = DefaultTone
	}
	if strings.TrimSpace(r.TargetAudience) == "" {
		r.TargetAudience = DefaultTargetAudience
	}

	seen := make(map[Platform]struct{}, len(r.Platforms))
	unique := r.Platforms[:0]
	for _, p := range r.Platforms {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	r.Platforms = unique
}

// Validate checks the request against the supported platform set.
func (r *CampaignRequest) Validate() error {
	if strings.TrimSpace(r.Topic) == "" {
		return ErrTopicRequired
	}
	if len(r.Platforms) == 0 {
		return ErrNoPlatforms
	}
	for _, p := range r.Platforms {
		if _, err := ParsePlatform(string(p)); err != nil {
			return err
		}
	}
	return nil
}

// PlatformNames returns the request platforms as plain strings.
func (r *CampaignRequest) PlatformNames() []string {
	names := make([]string, len(r.Platforms))
	for i, p := range r.Platforms {
		names[i] = string(p)
	}
	return names
}

// CampaignID correlates events, results and storage for one campaign.
type CampaignID = string

// NewCampaignID returns a short opaque identifier.
func NewCampaignID() CampaignID {
	return uuid.NewString()[:8]
}

// ContentPiece is one platform-targeted unit of generated content.
type ContentPiece struct {
	Platform      Platform `json:"platform"`
	Content       string   `json:"content"`
	Hashtags      []string `json:"hashtags"`
	ScheduledTime *string  `json:"scheduled_time"`
	Published     bool     `json:"published"`
}

// CampaignStatus is the terminal status of a campaign.
type CampaignStatus string

const (
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// CampaignResult is produced once per campaign and handed to storage.
type CampaignResult struct {
	CampaignID    CampaignID     `json:"campaign_id"`
	Topic         string         `json:"topic"`
	Status        CampaignStatus `json:"status"`
	Content       []ContentPiece `json:"content"`
	TrendInsights *string        `json:"trend_insights"`
}

// Insights returns the brief or diagnostic text, or "" when absent.
func (r *CampaignResult) Insights() string {
	if r.TrendInsights == nil {
		return ""
	}
	return *r.TrendInsights
}
