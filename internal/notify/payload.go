package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/admincore/admincore/internal/models"
)

// severityColors is shared by slack, teams and discord payloads. Downstream
// integrations key on these exact values.
var severityColors = map[models.Severity]string{
	models.SeverityLow:      "#36a64f",
	models.SeverityMedium:   "#ffaa00",
	models.SeverityHigh:     "#ff6600",
	models.SeverityCritical: "#ff0000",
}

func colorHex(s models.Severity) string {
	if c, ok := severityColors[s]; ok {
		return c
	}
	return severityColors[models.SeverityMedium]
}

func colorInt(s models.Severity) int64 {
	v, err := strconv.ParseInt(strings.TrimPrefix(colorHex(s), "#"), 16, 64)
	if err != nil {
		return 0
	}
	return v
}

func webhookPayload(alert *models.SystemAlert, kind models.AlertKind) any {
	return map[string]any{
		"alert_id":        alert.ID,
		"title":           alert.Title,
		"message":         alert.Message,
		"severity":        alert.Severity,
		"alert_type":      kind,
		"triggered_at":    alert.TriggeredAt.UTC().Format(time.RFC3339),
		"current_value":   alert.CurrentValue,
		"threshold_value": alert.ThresholdValue,
	}
}

func slackPayload(alert *models.SystemAlert, kind models.AlertKind) any {
	return map[string]any{
		"attachments": []map[string]any{{
			"color": colorHex(alert.Severity),
			"title": alert.Title,
			"text":  alert.Message,
			"fields": []map[string]any{
				{"title": "Severity", "value": string(alert.Severity), "short": true},
				{"title": "Type", "value": string(kind), "short": true},
				{"title": "Current value", "value": fmt.Sprintf("%.2f", alert.CurrentValue), "short": true},
				{"title": "Threshold", "value": fmt.Sprintf("%.2f", alert.ThresholdValue), "short": true},
			},
			"footer": "Admin API Alert System",
			"ts":     alert.TriggeredAt.Unix(),
		}},
	}
}

func teamsPayload(alert *models.SystemAlert, kind models.AlertKind) any {
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": strings.TrimPrefix(colorHex(alert.Severity), "#"),
		"summary":    alert.Title,
		"sections": []map[string]any{{
			"activityTitle":    alert.Title,
			"activitySubtitle": alert.Message,
			"facts": []map[string]string{
				{"name": "Type", "value": string(kind)},
				{"name": "Current value", "value": fmt.Sprintf("%.2f", alert.CurrentValue)},
				{"name": "Threshold", "value": fmt.Sprintf("%.2f", alert.ThresholdValue)},
				{"name": "Triggered at", "value": alert.TriggeredAt.UTC().Format("2006-01-02 15:04:05")},
			},
		}},
	}
}

func discordPayload(alert *models.SystemAlert, kind models.AlertKind) any {
	return map[string]any{
		"embeds": []map[string]any{{
			"title":       alert.Title,
			"description": alert.Message,
			"color":       colorInt(alert.Severity),
			"fields": []map[string]any{
				{"name": "Severity", "value": string(alert.Severity), "inline": true},
				{"name": "Type", "value": string(kind), "inline": true},
				{"name": "Current value", "value": fmt.Sprintf("%.2f", alert.CurrentValue), "inline": true},
				{"name": "Threshold", "value": fmt.Sprintf("%.2f", alert.ThresholdValue), "inline": true},
			},
			"timestamp": alert.TriggeredAt.UTC().Format(time.RFC3339),
		}},
	}
}
