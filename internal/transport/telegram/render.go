package telegram

import (
	"strconv"
	"strings"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/iamwavecut/tool"

	"github.com/iamwavecut/modbot/internal/db"
	"github.com/iamwavecut/modbot/internal/moderation"
)

const timeLayout = "2006-01-02 15:04 MST"

// Admin-facing texts are not translated.
const (
	decisionTemplate = `{{ .action }}: {{ .user_name }} ({{ .user_id }})
class: {{ .class }}{{ if .subtype }}/{{ .subtype }}{{ end }}{{ if .confidence }} confidence: {{ .confidence }}{{ end }}
reason: {{ .reason }}{{ if .until }}
until: {{ .until }}{{ end }}
trace: {{ .trace }}`

	userInfoTemplate = `user {{ .user_id }}{{ if .user_name }} ({{ .user_name }}){{ end }}
trust: {{ .trust }}{{ if .pinned }} (pinned){{ end }}
messages: {{ .messages }}
warnings: {{ .warnings }}, spam: {{ .spam }}, links: {{ .links }}
banned: {{ .banned }}{{ if .until }} until {{ .until }}{{ end }}
joined: {{ .joined }}{{ if .last }}
last message: {{ .last }}{{ end }}{{ range .violations }}
- {{ . }}{{ end }}`

	statsTemplate = `users: {{ .users }} (banned: {{ .banned }})
violations: {{ .violations }} (last 24h: {{ .recent }})
trust: new {{ .new }}, trusted {{ .trusted }}, suspicious {{ .suspicious }}{{ range .top }}
- {{ .Type }}: {{ .Count }}{{ end }}`

	appealFiledTemplate = `appeal #{{ .id }} from {{ .user_name }} ({{ .user_id }}):
{{ .text }}
/accept_appeal {{ .id }} or /reject_appeal {{ .id }} <reason>`
)

// renderDecision returns the admin notice for a decision, or "" when there
// is nothing to report.
func renderDecision(user *api.User, d moderation.Decision) string {
	if d.Action == db.ActionNone {
		return ""
	}
	data := map[string]any{
		"action":    strings.ToUpper(string(d.Action)),
		"user_name": displayName(user),
		"user_id":   user.ID,
		"class":     d.Class,
		"subtype":   d.Subtype,
		"reason":    d.AdminReason,
		"trace":     d.TraceID,
	}
	if d.Confidence != nil {
		data["confidence"] = *d.Confidence
	}
	if d.BanUntil != nil {
		data["until"] = d.BanUntil.UTC().Format(timeLayout)
	}
	return tool.ExecTemplate(decisionTemplate, data)
}

func renderUserInfo(info *moderation.UserInfo) string {
	u := info.User
	name := u.Username
	if name == "" {
		name = u.FirstName
	}
	data := map[string]any{
		"user_id":   u.ID,
		"user_name": name,
		"trust":     u.TrustLevel,
		"pinned":    u.TrustPinned,
		"messages":  u.MessageCount,
		"warnings":  u.Warnings,
		"spam":      u.SpamViolations,
		"links":     u.LinkViolations,
		"banned":    u.IsBanned,
		"joined":    "unknown",
	}
	if u.BanUntil != nil {
		data["until"] = u.BanUntil.UTC().Format(timeLayout)
	}
	if u.JoinedAt != nil {
		data["joined"] = u.JoinedAt.UTC().Format(timeLayout)
	}
	if last, ok := u.History.Last(); ok {
		data["last"] = last.At.UTC().Format(timeLayout) + " " + strconv.Quote(db.Excerpt(last.Text))
	}
	violations := make([]string, 0, len(info.Violations))
	for _, v := range info.Violations {
		line := v.CreatedAt.UTC().Format(timeLayout) + " " + string(v.Class)
		if v.Subtype != "" {
			line += "/" + v.Subtype
		}
		violations = append(violations, line+" → "+string(v.Action))
	}
	data["violations"] = violations
	return tool.ExecTemplate(userInfoTemplate, data)
}

func renderStats(stats *db.Stats) string {
	return tool.ExecTemplate(statsTemplate, map[string]any{
		"users":      stats.TotalUsers,
		"banned":     stats.BannedUsers,
		"violations": stats.TotalViolations,
		"recent":     stats.RecentViolations,
		"new":        stats.TrustLevels[db.TrustNew],
		"trusted":    stats.TrustLevels[db.TrustTrusted],
		"suspicious": stats.TrustLevels[db.TrustSuspicious],
		"top":        stats.TopViolationTypes,
	})
}

func renderAppeals(appeals []*db.Appeal) string {
	lines := make([]string, 0, len(appeals))
	for _, a := range appeals {
		lines = append(lines, tool.ExecTemplate(`#{{ .id }} user {{ .user_id }} at {{ .at }}: {{ .text }}`, map[string]any{
			"id":      a.ID,
			"user_id": a.UserID,
			"at":      a.CreatedAt.UTC().Format(timeLayout),
			"text":    a.Text,
		}))
	}
	return strings.Join(lines, "\n")
}

func renderAppealFiled(id int64, user *api.User, text string) string {
	return tool.ExecTemplate(appealFiledTemplate, map[string]any{
		"id":        id,
		"user_name": displayName(user),
		"user_id":   user.ID,
		"text":      strings.TrimSpace(text),
	})
}
