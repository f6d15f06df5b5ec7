package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/k3a/html2text"
)

const (
	QuoteTemplate    = "quote_notification.html"
	TransferTemplate = "transfer_notification.html"
)

//go:embed templates/*.html
var templateFS embed.FS

// SAST is South African Standard Time. Template timestamps are shown in it.
var SAST = time.FixedZone("SAST", 2*60*60)

// Renderer turns a named template and a context map into an HTML body.
// Rendering never fails: a broken template yields a fallback body.
type Renderer struct {
	templates *template.Template
	now       func() time.Time
}

func NewRenderer() (*Renderer, error) {
	t, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse notification templates: %w", err)
	}
	return &Renderer{templates: t, now: time.Now}, nil
}

// Render injects "now" (in SAST) when the context lacks it.
func (r *Renderer) Render(name string, data map[string]any) (string, error) {
	ctx := make(map[string]any, len(data)+1)
	for k, v := range data {
		ctx[k] = v
	}
	if _, ok := ctx["now"]; !ok {
		ctx["now"] = r.now().In(SAST)
	}

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, ctx); err != nil {
		return fallbackBody(name, err, ctx), err
	}
	return buf.String(), nil
}

func fallbackBody(name string, cause error, ctx map[string]any) string {
	keys := make([]string, 0, len(ctx))
	for k := range ctx {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return fmt.Sprintf(`<html>
<body>
  <h2>Email Notification</h2>
  <p>An error occurred while rendering the email template '%s'.</p>
  <p>Error details: %s</p>
  <p>Please contact support if this issue persists.</p>
  <hr>
  <p><small>Context available: %s</small></p>
</body>
</html>`,
		html.EscapeString(name),
		html.EscapeString(cause.Error()),
		html.EscapeString(strings.Join(keys, ", ")),
	)
}

// PlainText derives the text/plain alternative from an HTML body. Block
// breaks become newlines, runs of blank lines collapse to one.
func PlainText(body string) string {
	text := strings.ReplaceAll(html2text.HTML2Text(body), "\r\n", "\n")

	var lines []string
	blank := false
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(lines) > 0 {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		blank = false
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
