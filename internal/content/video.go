package content

import (
	"fmt"
	"html"
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

var (
	youtubeEmbedRe = regexp.MustCompile(`(?:youtube(?:-nocookie)?\.com/embed/|youtu\.be/)([\w-]{6,})`)
	vimeoEmbedRe   = regexp.MustCompile(`player\.vimeo\.com/video/(\d+)`)
)

// normalizeVideoEmbeds replaces embedded players with a static thumbnail plus
// link. Offline documents cannot play video; the thumbnail itself joins the
// regular image discovery pass that runs afterwards.
func normalizeVideoEmbeds(doc *goquery.Document) {
	doc.Find("iframe, embed").Each(func(_ int, sel *goquery.Selection) {
		src, ok := sel.Attr("src")
		if !ok {
			return
		}

		if m := youtubeEmbedRe.FindStringSubmatch(src); m != nil {
			watch := "https://www.youtube.com/watch?v=" + m[1]
			thumb := "https://img.youtube.com/vi/" + m[1] + "/hqdefault.jpg"
			sel.ReplaceWithHtml(fmt.Sprintf(
				`<p class="video-link"><a href="%s"><img src="%s" alt="video thumbnail"/><br/>&#9654; Watch video</a></p>`,
				html.EscapeString(watch), html.EscapeString(thumb)))
			return
		}

		if m := vimeoEmbedRe.FindStringSubmatch(src); m != nil {
			watch := "https://vimeo.com/" + m[1]
			sel.ReplaceWithHtml(fmt.Sprintf(
				`<p class="video-link"><a href="%s">&#9654; Watch video</a></p>`,
				html.EscapeString(watch)))
			return
		}
		// Unknown embeds are left alone; the strip pass removes them later.
	})
}
