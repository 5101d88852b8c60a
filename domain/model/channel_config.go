package model

import "strings"

// ChannelConfig holds the per-channel settings for ticket intake.
// Channels without a row fall back to process-level defaults.
type ChannelConfig struct {
	ChannelID         string `gorm:"primary_key;type:varchar(50)"`
	ChannelName       string `gorm:"type:varchar(100)"`
	AdminUserIDs      string `gorm:"type:text"` // CSV of Slack user IDs
	DefaultAssignee   string `gorm:"type:varchar(100)"`
	Priorities        string `gorm:"type:text"` // CSV, empty = all
	TemplateKey       string `gorm:"type:varchar(50)"`
	InternalChannelID string `gorm:"type:varchar(50)"`
}

func (c *ChannelConfig) AdminIDs() []string {
	return ParseCSV(c.AdminUserIDs)
}

func ParseCSV(csv string) []string {
	csv = strings.TrimSpace(csv)
	if csv == "" {
		return nil
	}
	var result []string
	for _, p := range strings.Split(csv, ",") {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}
