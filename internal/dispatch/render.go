package dispatch

import (
	"strings"

	"statuswatch/internal/status"
)

// Renderings holds the four presentation variants of one update, computed
// once per update and shared by every destination: rich (Telegram HTML) and
// plain text, each with either the full field history or only the new fields.
type Renderings struct {
	EmbedAll    string
	EmbedLatest string
	PlainAll    string
	PlainLatest string
}

// Render builds all four variants for an update of a service.
func Render(svc status.Service, up status.Update) Renderings {
	return Renderings{
		EmbedAll:    renderEmbed(svc, up.Incident, up.Incident.Fields),
		EmbedLatest: renderEmbed(svc, up.Incident, up.NewFields),
		PlainAll:    renderPlain(svc, up.Incident, up.Incident.Fields),
		PlainLatest: renderPlain(svc, up.Incident, up.NewFields),
	}
}

// ForMode picks the history variant: edit and all deliver the full history,
// latest delivers only the new fields.
func (r Renderings) ForMode(mode status.Mode, embed bool) string {
	latest := mode == status.ModeLatest
	switch {
	case embed && latest:
		return r.EmbedLatest
	case embed:
		return r.EmbedAll
	case latest:
		return r.PlainLatest
	default:
		return r.PlainAll
	}
}

func renderEmbed(svc status.Service, inc status.Incident, fields []status.UpdateField) string {
	var b strings.Builder
	b.WriteString("<b>")
	if inc.Link != "" {
		b.WriteString(`<a href="` + escapeHTML(inc.Link) + `">` + escapeHTML(inc.Title) + "</a>")
	} else {
		b.WriteString(escapeHTML(inc.Title))
	}
	b.WriteString("</b>")
	b.WriteString("\n<i>" + escapeHTML(svc.Name) + "</i>")
	if inc.Description != "" {
		b.WriteString("\n" + escapeHTML(inc.Description))
	}
	for _, f := range fields {
		b.WriteString("\n\n<b>" + escapeHTML(f.Name) + "</b>\n" + escapeHTML(f.Value))
	}
	return b.String()
}

func renderPlain(svc status.Service, inc status.Incident, fields []status.UpdateField) string {
	var b strings.Builder
	b.WriteString(svc.Name + ": " + inc.Title)
	if inc.Link != "" {
		b.WriteString(" (" + inc.Link + ")")
	}
	if inc.Description != "" {
		b.WriteString("\n" + inc.Description)
	}
	for _, f := range fields {
		b.WriteString("\n\n" + f.Name + "\n" + f.Value)
	}
	return b.String()
}

func escapeHTML(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
