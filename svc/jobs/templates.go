package jobs

import (
	"maps"
	"slices"

	"github.com/a-h/templ"

	"github.com/dmitrymomot/jobkit/pkg/email/templates"
)

// Template builds an email body from SendEmail.Data.
type Template func(subject string, data map[string]string) templ.Component

var emailTemplates = map[string]Template{
	"welcome": func(subject string, data map[string]string) templ.Component {
		return templates.Layout(subject,
			templates.Heading("Welcome, "+fallback(data["name"], "there")),
			templates.Text("Your account is ready."),
			optionalButton("Open dashboard", data["url"]),
		)
	},
	"invoice": func(subject string, data map[string]string) templ.Component {
		return templates.Layout(subject,
			templates.Heading("Invoice "+data["invoice_id"]),
			templates.Details(
				templates.Row{Label: "Amount", Value: data["amount"]},
				templates.Row{Label: "Customer", Value: data["customer_id"]},
			),
			optionalButton("View invoice", data["url"]),
		)
	},
	"invoice_reminders": func(subject string, data map[string]string) templ.Component {
		return templates.Layout(subject,
			templates.Heading("Invoice reminders"),
			templates.Text("Reminder run for "+fallback(data["date"], "today")+". Review unpaid invoices in the billing dashboard."),
			optionalButton("Open billing", data["url"]),
		)
	},
	"backup_report": func(subject string, data map[string]string) templ.Component {
		return templates.Layout(subject,
			templates.Heading("Database backup"),
			templates.Details(
				templates.Row{Label: "Object", Value: data["key"]},
				templates.Row{Label: "Size", Value: data["size"]},
			),
		)
	},
}

// TemplateNames lists the registered email templates in sorted order.
func TemplateNames() []string {
	return slices.Sorted(maps.Keys(emailTemplates))
}

func lookupTemplate(name string) (Template, bool) {
	t, ok := emailTemplates[name]
	return t, ok
}

func optionalButton(label, url string) templ.Component {
	if url == "" {
		return nil
	}
	return templates.Button(label, url)
}

func fallback(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
