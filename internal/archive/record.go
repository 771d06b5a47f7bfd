package archive

// DatetimeLayout is the human readable timestamp stored next to the unix time
const DatetimeLayout = "2006-01-02 15:04:05"

// Record is one archived account action, stored as a single JSON file
type Record struct {
	Timestamp int64          `json:"timestamp"`
	Datetime  string         `json:"datetime"`
	UserID    int64          `json:"user_id"`
	Username  string         `json:"username"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data"`
	IPAddress string         `json:"ip_address"`
}

// Stats summarizes the archived activity of one account
type Stats struct {
	TotalActivities  int            `json:"total_activities"`
	FirstActivity    *Record        `json:"first_activity"`
	LastActivity     *Record        `json:"last_activity"`
	ActivitiesByType map[string]int `json:"activities_by_type"`
}

// EmptyStats returns zeroed stats for an account with no archived activity
func EmptyStats() Stats {
	return Stats{ActivitiesByType: map[string]int{}}
}
