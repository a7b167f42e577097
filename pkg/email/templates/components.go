package templates

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// Row is a label/value pair shown by Details.
type Row struct {
	Label string
	Value string
}

// Layout wraps the content in a minimal, inline-styled email document.
func Layout(title string, content ...templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, `<!DOCTYPE html><html><head><meta charset="utf-8"><title>`+
			templ.EscapeString(title)+
			`</title></head><body style="margin:0;padding:24px;background:#f4f4f5;font-family:Helvetica,Arial,sans-serif;">`+
			`<table role="presentation" width="100%" style="max-width:600px;margin:0 auto;background:#ffffff;border-radius:6px;padding:24px;"><tr><td>`); err != nil {
			return err
		}
		for _, c := range content {
			if c == nil {
				continue
			}
			if err := c.Render(ctx, w); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</td></tr></table></body></html>`)
		return err
	})
}

// Heading renders a section title.
func Heading(text string) templ.Component {
	return raw(`<h1 style="font-size:20px;color:#18181b;margin:0 0 16px;">` + templ.EscapeString(text) + `</h1>`)
}

// Text renders a paragraph.
func Text(text string) templ.Component {
	return raw(`<p style="font-size:14px;line-height:22px;color:#3f3f46;margin:0 0 16px;">` + templ.EscapeString(text) + `</p>`)
}

// Button renders a call-to-action link. Unsafe URLs are replaced.
func Button(label, url string) templ.Component {
	href := string(templ.URL(url))
	return raw(`<p style="margin:24px 0;"><a href="` + templ.EscapeString(href) +
		`" style="background:#2563eb;color:#ffffff;padding:12px 20px;border-radius:4px;text-decoration:none;font-size:14px;">` +
		templ.EscapeString(label) + `</a></p>`)
}

// Details renders label/value rows as a table.
func Details(rows ...Row) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		if len(rows) == 0 {
			return nil
		}
		if _, err := io.WriteString(w, `<table role="presentation" style="width:100%;font-size:14px;color:#3f3f46;margin:0 0 16px;">`); err != nil {
			return err
		}
		for _, r := range rows {
			if _, err := io.WriteString(w, `<tr><td style="padding:4px 0;color:#71717a;">`+templ.EscapeString(r.Label)+
				`</td><td style="padding:4px 0;text-align:right;">`+templ.EscapeString(r.Value)+`</td></tr>`); err != nil {
				return err
			}
		}
		_, err := io.WriteString(w, `</table>`)
		return err
	})
}

func raw(html string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, html)
		return err
	})
}
