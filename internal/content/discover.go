package content

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".webp": {},
	".svg":  {},
	".bmp":  {},
}

// discoverImages walks every <img> tag, resolves its source against the
// document base and deduplicates by normalized absolute URL. Two tags
// pointing at the same resource share one descriptor and one filename.
func discoverImages(d *Document) {
	d.doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		resolved := resolveImageURL(d.base, src)
		if resolved == "" {
			return
		}

		img, seen := d.byURL[resolved]
		if !seen {
			img = &Image{
				SourceURL: resolved,
				Filename:  localFilename(len(d.Images)+1, resolved),
			}
			d.Images = append(d.Images, img)
			d.byURL[resolved] = img
		}

		if hi := hiResFromSrcset(d.base, sel.AttrOr("srcset", "")); hi != "" && hi != resolved {
			img.HiResURL = hi
		}
		if w, err := strconv.Atoi(sel.AttrOr("width", "")); err == nil && img.Width == 0 {
			img.Width = w
		}
		if h, err := strconv.Atoi(sel.AttrOr("height", "")); err == nil && img.Height == 0 {
			img.Height = h
		}
	})
}

// rewriteImages points every discovered <img> tag at its local filename.
// Failed downloads are rewritten too: a broken local reference is acceptable
// because the persisted image map allows recovery later.
func rewriteImages(d *Document) {
	d.doc.Find("img").Each(func(_ int, sel *goquery.Selection) {
		src, _ := sel.Attr("src")
		resolved := resolveImageURL(d.base, src)
		img, ok := d.byURL[resolved]
		if !ok {
			return
		}
		sel.SetAttr("src", img.Filename)
		sel.RemoveAttr("srcset")
		sel.RemoveAttr("sizes")
	})
}

// stripOfflineHostile removes elements that cannot work in a saved document.
// Comment nodes and inline event handlers are not addressable through
// selectors, so those are stripped with a direct node walk.
func stripOfflineHostile(doc *goquery.Document) {
	doc.Find("script, iframe, video, object, embed, form, style").Remove()
	for _, root := range doc.Nodes {
		stripScriptingArtifacts(root)
	}
}

func stripScriptingArtifacts(n *html.Node) {
	if n.Type == html.ElementNode && len(n.Attr) > 0 {
		kept := n.Attr[:0]
		for _, attr := range n.Attr {
			if strings.HasPrefix(strings.ToLower(attr.Key), "on") {
				continue
			}
			kept = append(kept, attr)
		}
		n.Attr = kept
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			stripScriptingArtifacts(c)
		}
		c = next
	}
}

// resolveImageURL normalizes a tag source (relative, root-relative or
// protocol-relative) into an absolute http(s) URL, or "" when unusable.
func resolveImageURL(base *url.URL, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(u)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}
	resolved.Fragment = ""
	return resolved.String()
}

// localFilename generates the sequential, zero-padded name for the n-th
// discovered image, keeping a recognizable extension when the URL has one.
func localFilename(n int, resolved string) string {
	ext := ".img"
	if u, err := url.Parse(resolved); err == nil {
		if e := strings.ToLower(path.Ext(u.Path)); e != "" {
			if _, ok := imageExtensions[e]; ok {
				ext = e
			}
		}
	}
	return fmt.Sprintf("img_%03d%s", n, ext)
}

// hiResFromSrcset picks the largest candidate from a responsive-image
// attribute, resolved against the document base.
func hiResFromSrcset(base *url.URL, srcset string) string {
	if strings.TrimSpace(srcset) == "" {
		return ""
	}

	bestURL := ""
	bestScore := -1.0
	for _, candidate := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(candidate))
		if len(fields) == 0 {
			continue
		}
		score := 1.0
		if len(fields) > 1 {
			desc := fields[1]
			switch {
			case strings.HasSuffix(desc, "w"):
				if w, err := strconv.ParseFloat(strings.TrimSuffix(desc, "w"), 64); err == nil {
					score = w
				}
			case strings.HasSuffix(desc, "x"):
				if x, err := strconv.ParseFloat(strings.TrimSuffix(desc, "x"), 64); err == nil {
					score = x
				}
			}
		}
		if resolved := resolveImageURL(base, fields[0]); resolved != "" && score > bestScore {
			bestScore = score
			bestURL = resolved
		}
	}
	return bestURL
}
