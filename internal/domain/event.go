package domain

// AgentName identifies the pipeline stage that produced an event.
type AgentName string

const (
	AgentTrend     AgentName = "trend_agent"
	AgentWriter    AgentName = "writer_agent"
	AgentPublisher AgentName = "publisher_agent"
)

// AgentStatus is the lifecycle status carried by an event.
type AgentStatus string

const (
	StatusQueued    AgentStatus = "queued"
	StatusRunning   AgentStatus = "running"
	StatusCompleted AgentStatus = "completed"
	StatusFailed    AgentStatus = "failed"
)

// AgentEvent is a transient progress notification pushed to observers.
type AgentEvent struct {
	CampaignID CampaignID     `json:"campaign_id"`
	Agent      AgentName      `json:"agent"`
	Status     AgentStatus    `json:"status"`
	Platform   *Platform      `json:"platform"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data"`
}

// IsFinal reports whether the event is the campaign's terminal event.
func (e AgentEvent) IsFinal() bool {
	final, _ := e.Data["final"].(bool)
	return final
}

// PlatformRef returns a pointer suitable for AgentEvent.Platform.
func PlatformRef(p Platform) *Platform {
	return &p
}
