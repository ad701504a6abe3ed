package api

import (
	"fmt"
	"html"
	"strings"

	"github.com/dgnsrekt/RemoteLoginCore/internal/relay"
)

type docLink struct {
	Label string
	Href  string
}

// gatewayLinks are pinned to the top of the rendered API reference.
var gatewayLinks = []docLink{
	{"Socket protocol", "/docs/protocol"},
	{"Browser viewer", "/viewer"},
	{"Transition feed", "/api/v1/events?feeds=" + relay.FeedTransitions},
}

const docsHead = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
<meta charset="utf-8" />
<meta name="referrer" content="same-origin" />
<meta name="viewport" content="width=device-width, initial-scale=1" />
<title>%s</title>
<link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
<script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
<style>
body { display: flex; flex-direction: column; height: 100vh; margin: 0; background: #0d1117; }
nav { display: flex; gap: 8px; align-items: center; padding: 8px 16px; border-bottom: 1px solid #30363d;
  font: 500 12px -apple-system, BlinkMacSystemFont, 'Segoe UI', sans-serif; }
nav strong { color: #c9d1d9; margin-right: auto; }
nav a { color: #58a6ff; text-decoration: none; border: 1px solid #30363d; border-radius: 6px; padding: 4px 10px; }
elements-api { flex: 1; min-height: 0; }
</style>
</head>
`

// docsPage renders the OpenAPI reference with a navigation bar for the
// pages huma does not describe.
func docsPage(title string, links []docLink) string {
	var b strings.Builder
	fmt.Fprintf(&b, docsHead, html.EscapeString(title))
	b.WriteString("<body>\n<nav><strong>" + html.EscapeString(title) + "</strong>")
	for _, l := range links {
		fmt.Fprintf(&b, `<a href="%s">%s</a>`, html.EscapeString(l.Href), html.EscapeString(l.Label))
	}
	b.WriteString("</nav>\n")
	b.WriteString(`<elements-api apiDescriptionUrl="/openapi.json" router="hash" layout="sidebar" tryItCredentialsPolicy="same-origin" hideSchemas darkMode />`)
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}
