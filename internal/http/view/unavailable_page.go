package view

import (
	"bytes"
	"html/template"
)

// UnavailablePageData provides the dynamic fields of the unavailable page.
type UnavailablePageData struct {
	Code string
	// Gone marks a link that exists but is inactive or expired.
	Gone bool
}

var unavailablePageTmpl = template.Must(template.New("unavailable_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex" />
	<title>{{if .Gone}}Link unavailable{{else}}Link not found{{end}}</title>
	<style>
		:root {
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #fca5a5;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(520px, 92vw);
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
		}
		h1 {
			font-size: 1.5rem;
			margin-bottom: 6px;
		}
		p {
			color: var(--muted);
			margin-top: 0;
		}
		code {
			color: var(--accent);
			word-break: break-all;
		}
	</style>
</head>
<body>
	<div class="card">
		{{if .Gone}}
		<h1>This link is no longer available</h1>
		<p>Short link <code>/{{.Code}}</code> has expired or was switched off by its owner.</p>
		{{else}}
		<h1>Link not found</h1>
		<p>There is no short link at <code>/{{.Code}}</code>. Check the address and try again.</p>
		{{end}}
	</div>
</body>
</html>
`))

// RenderUnavailablePage expands the unavailable page template.
func RenderUnavailablePage(data UnavailablePageData) (string, error) {
	var buf bytes.Buffer
	if err := unavailablePageTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
