package feed

import (
	"sort"

	"statuswatch/internal/status"
)

var allModes = []status.Mode{status.ModeAll, status.ModeLatest, status.ModeEdit}

// catalog is the set of status pages the watcher knows how to follow.
// All built-ins are statuspage-hosted; a service with a different upstream
// schema would carry its own Parser.
var catalog = []status.Service{
	statuspage("cloudflare", "Cloudflare", "https://www.cloudflarestatus.com"),
	statuspage("discord", "Discord", "https://discordstatus.com"),
	statuspage("github", "GitHub", "https://www.githubstatus.com"),
	statuspage("dropbox", "Dropbox", "https://status.dropbox.com"),
	statuspage("digitalocean", "DigitalOcean", "https://status.digitalocean.com"),
	statuspage("reddit", "Reddit", "https://www.redditstatus.com"),
	statuspage("fastly", "Fastly", "https://www.fastlystatus.com"),
	statuspage("twilio", "Twilio", "https://status.twilio.com"),
	statuspage("sentry", "Sentry", "https://status.sentry.io"),
	statuspage("statuspage", "Statuspage", "https://metastatuspage.com"),
}

func statuspage(id, name, base string) status.Service {
	return status.Service{
		ID:      id,
		Name:    name,
		BaseURL: base,
		IconURL: base + "/favicon.ico",
		Parser:  StatuspageParser{},
		Modes:   allModes,
	}
}

// Lookup finds a catalog service by ID.
func Lookup(id string) (status.Service, bool) {
	for _, s := range catalog {
		if s.ID == id {
			return s, true
		}
	}
	return status.Service{}, false
}

// Services returns the catalog sorted by ID.
func Services() []status.Service {
	out := append([]status.Service(nil), catalog...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
