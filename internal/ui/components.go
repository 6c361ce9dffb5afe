// Package ui renders the Coffer browser pages.
package ui

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/a-h/templ"
)

// Bucket represents a single bucket for display.
type Bucket struct {
	Name         string
	CreationDate string
}

// Object represents a single object within a bucket for display.
type Object struct {
	Key          string
	Size         int64
	LastModified string
	ETag         string
}

// Health is the consistency checker's status for display.
type Health struct {
	State      string
	Interval   string
	Checked    bool
	Consistent bool
	Finished   string
	Error      string
}

// pageWriter remembers the first write error so markup can be emitted
// without checking every call.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) raw(s string) {
	if p.err == nil {
		_, p.err = io.WriteString(p.w, s)
	}
}

func (p *pageWriter) text(s string) {
	p.raw(templ.EscapeString(s))
}

func (p *pageWriter) rawf(format string, args ...any) {
	p.raw(fmt.Sprintf(format, args...))
}

func (p *pageWriter) render(ctx context.Context, c templ.Component) {
	if p.err == nil {
		p.err = c.Render(ctx, p.w)
	}
}

// Layout renders a full HTML page with a title and body component.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}

		p.raw(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		p.raw(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		p.raw("<title>")
		p.text(title)
		p.raw("</title>")
		p.raw(`<link rel="stylesheet" href="https://unpkg.com/@picocss/pico@2/css/pico.min.css">`)
		p.raw(`<script src="https://unpkg.com/htmx.org@1.9.12" integrity="sha384-srD8tA5lZgUlAXb/DvBy1UG775H8sG8vyXK3w63U1zrtRXkuTDIaTzGvX2UksI0M" crossorigin="anonymous"></script>`)
		p.raw("</head>")

		p.raw(`<body hx-boost="true"><main class="container">`)
		p.raw(`<nav><ul><li><strong>Coffer</strong></li></ul><ul><li><a href="/">Buckets</a></li><li><a href="/health">Health</a></li></ul></nav>`)
		p.render(ctx, body)
		p.raw("</main></body></html>")

		return p.err
	})
}

// BucketsPage renders the list of buckets and a form to create one.
func BucketsPage(buckets []Bucket) templ.Component {
	return Layout("Coffer - Buckets", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}

		p.raw("<section><header><h1>Buckets</h1></header>")
		p.raw(`<form method="post" action="/buckets" hx-target="#create-error"><fieldset role="group">`)
		p.raw(`<input name="name" placeholder="new-bucket" required><button type="submit">Create</button>`)
		p.raw(`</fieldset><div id="create-error"></div></form>`)

		if len(buckets) == 0 {
			p.raw("<p>No buckets found.</p></section>")
			return p.err
		}

		p.raw("<table><thead><tr><th>Name</th><th>Created</th></tr></thead><tbody>")
		for _, b := range buckets {
			p.rawf(`<tr><td><a href="%s">`, bucketHref(b.Name, ""))
			p.text(b.Name)
			p.raw("</a></td><td>")
			p.text(b.CreationDate)
			p.raw("</td></tr>")
		}
		p.raw("</tbody></table></section>")

		return p.err
	}))
}

// ObjectsPage renders one level of a bucket: the common prefixes below
// prefix as folders, followed by the objects directly under it.
func ObjectsPage(bucket string, prefix string, prefixes []string, objects []Object) templ.Component {
	return Layout("Coffer - "+bucket, templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}

		p.raw("<section><header><h1>")
		p.text(bucket)
		p.raw("</h1>")
		renderBreadcrumbs(p, bucket, prefix)
		p.raw("</header>")

		if len(prefixes) == 0 && len(objects) == 0 {
			p.raw("<p>No objects here.</p></section>")
			return p.err
		}

		p.raw("<table><thead><tr><th>Key</th><th>Size (bytes)</th><th>Last Modified</th><th>ETag</th></tr></thead><tbody>")
		for _, cp := range prefixes {
			p.rawf(`<tr><td><a href="%s">`, bucketHref(bucket, cp))
			p.text(strings.TrimPrefix(cp, prefix))
			p.raw("</a></td><td></td><td></td><td></td></tr>")
		}
		for _, o := range objects {
			p.raw("<tr><td>")
			p.text(strings.TrimPrefix(o.Key, prefix))
			p.rawf("</td><td>%d</td><td>", o.Size)
			p.text(o.LastModified)
			p.raw("</td><td><code>")
			p.text(o.ETag)
			p.raw("</code></td></tr>")
		}
		p.raw("</tbody></table></section>")

		return p.err
	}))
}

// HealthPage renders the consistency checker's last report.
func HealthPage(h Health) templ.Component {
	return Layout("Coffer - Health", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}

		p.raw("<section><header><h1>Consistency</h1></header>")
		p.raw("<table><tbody><tr><th>Checker</th><td>")
		p.text(h.State)
		p.raw("</td></tr><tr><th>Interval</th><td>")
		p.text(h.Interval)
		p.raw("</td></tr><tr><th>Result</th><td>")

		switch {
		case !h.Checked:
			p.raw("No scan has finished yet.")
		case h.Consistent:
			p.raw(`<mark>Consistent</mark>`)
		default:
			p.raw(`<strong>Inconsistent</strong>`)
		}

		p.raw("</td></tr>")
		if h.Finished != "" {
			p.raw("<tr><th>Last scan</th><td>")
			p.text(h.Finished)
			p.raw("</td></tr>")
		}
		if h.Error != "" {
			p.raw("<tr><th>Error</th><td><code>")
			p.text(h.Error)
			p.raw("</code></td></tr>")
		}
		p.raw("</tbody></table>")

		p.raw(`<form method="post" action="/health"><button type="submit">Scan now</button></form></section>`)
		return p.err
	}))
}

func renderBreadcrumbs(p *pageWriter, bucket string, prefix string) {
	p.raw(`<nav aria-label="breadcrumb"><ul><li><a href="/">Buckets</a></li>`)
	p.rawf(`<li><a href="%s">`, bucketHref(bucket, ""))
	p.text(bucket)
	p.raw("</a></li>")

	var walked string
	for _, part := range strings.Split(strings.TrimSuffix(prefix, "/"), "/") {
		if part == "" {
			continue
		}
		walked += part + "/"
		p.rawf(`<li><a href="%s">`, bucketHref(bucket, walked))
		p.text(part)
		p.raw("</a></li>")
	}
	p.raw("</ul></nav>")
}

// bucketHref links to the listing of prefix within bucket.
func bucketHref(bucket string, prefix string) string {
	u := url.URL{Path: "/bucket/" + bucket + "/" + prefix}
	return templ.EscapeString(u.EscapedPath())
}
