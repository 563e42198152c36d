package email

import (
	"fmt"
	"strconv"
	"strings"

	"hockey-notifier/pkg/notifier"
)

// Subject is the notification subject for a finished contest.
func Subject(rec notifier.ContestRecord) string {
	return fmt.Sprintf("Fin de match: %s vs %s", orUnknown(rec.Home), orUnknown(rec.Away))
}

// FinishedBody renders the end-of-match email: competition, teams, score and date.
func FinishedBody(rec notifier.ContestRecord, competition string) string {
	home := escapeHTML(orUnknown(rec.Home))
	away := escapeHTML(orUnknown(rec.Away))
	score := fmt.Sprintf("%s - %s", formatScore(rec.HomeScore), formatScore(rec.AwayScore))

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html lang=\"fr\">\n<head>\n")
	b.WriteString("<meta charset=\"utf-8\">\n")
	b.WriteString("<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">\n")
	b.WriteString("<style>\n")
	b.WriteString("body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; color: #333; background: #f4f4f8; margin: 0; padding: 20px; }\n")
	b.WriteString(".card { background: #fff; border-radius: 10px; padding: 30px; max-width: 600px; margin: 0 auto; }\n")
	b.WriteString(".competition { font-size: 14px; color: #666; }\n")
	b.WriteString(".scoreboard { background: #f5f5f5; padding: 20px; border-radius: 8px; margin: 20px 0; text-align: center; }\n")
	b.WriteString(".team { color: #667eea; font-weight: 600; }\n")
	b.WriteString(".score { color: #764ba2; font-size: 36px; margin: 0 15px; }\n")
	b.WriteString(".footer { margin-top: 30px; padding-top: 15px; border-top: 1px solid #ddd; font-size: 12px; color: #999; text-align: center; }\n")
	b.WriteString("@media (prefers-color-scheme: dark) {\n")
	b.WriteString("body { background: #1a1a1a; color: #e0e0e0; }\n")
	b.WriteString(".card { background: #262626; }\n")
	b.WriteString(".scoreboard { background: #333; }\n")
	b.WriteString("}\n")
	b.WriteString("</style>\n</head>\n<body>\n<div class=\"card\">\n")

	fmt.Fprintf(&b, "<p class=\"competition\"><strong>Compétition:</strong> %s</p>\n", escapeHTML(competition))
	b.WriteString("<div class=\"scoreboard\">\n")
	if rec.Date != "" {
		fmt.Fprintf(&b, "<p class=\"competition\">Date: %s</p>\n", escapeHTML(rec.Date))
	}
	fmt.Fprintf(&b, "<h1><span class=\"team\">%s</span><span class=\"score\">%s</span><span class=\"team\">%s</span></h1>\n", home, score, away)
	b.WriteString("</div>\n")

	fmt.Fprintf(&b, "<p>Le match entre <strong>%s</strong> et <strong>%s</strong> s'est terminé sur le score de <strong>%s</strong>.</p>\n", home, away, score)

	b.WriteString("<div class=\"footer\">\n")
	b.WriteString("Vous recevez cet email car vous êtes abonné aux notifications de fin de match.\n")
	b.WriteString("</div>\n")
	b.WriteString("</div>\n</body>\n</html>")

	return b.String()
}

func formatScore(v *int) string {
	if v == nil {
		return "?"
	}
	return strconv.Itoa(*v)
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "?"
	}
	return s
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&#39;")
	return s
}
