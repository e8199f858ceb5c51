package content

import (
	"fmt"
	"html"
	"strings"
)

// assembleDocument wraps the rewritten body in a minimal HTML document. The
// injected <base> makes local image filenames resolve inside the entry
// directory without rewriting every path to absolute.
func assembleDocument(body, entryDir string, h Header) string {
	var b strings.Builder

	title := h.FeedTitle
	if title == "" {
		title = "Saved entry"
	}

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	b.WriteString(`<meta charset="utf-8"/>` + "\n")
	if entryDir != "" {
		b.WriteString(fmt.Sprintf("<base href=%q/>\n", "file://"+entryDir+"/"))
	}
	b.WriteString("<title>" + html.EscapeString(title) + "</title>\n")
	b.WriteString("</head>\n<body>\n")

	b.WriteString(`<div class="entry-header">` + "\n")
	b.WriteString("<b>" + html.EscapeString(h.FeedTitle) + "</b>")
	if !h.Published.IsZero() {
		b.WriteString(" &mdash; " + html.EscapeString(h.Published.Format("January 2, 2006 15:04")))
	}
	b.WriteString("<br/>\n")
	if h.URL != "" {
		escaped := html.EscapeString(h.URL)
		b.WriteString(fmt.Sprintf(`<a href="%s">%s</a>`+"\n", escaped, escaped))
	}
	b.WriteString("</div>\n<hr/>\n")

	b.WriteString(body)
	b.WriteString("\n</body>\n</html>\n")
	return b.String()
}
