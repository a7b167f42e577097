// Package email sends transactional emails through Postmark, or writes them
// to disk during local development.
//
// Both senders implement EmailSender and validate SendEmailParams before doing
// any work:
//
//	sender, err := email.NewSender(cfg) // Postmark when tokens are set, DevSender otherwise
//	if err != nil {
//		return err
//	}
//
//	body, err := templates.Render(ctx, templates.Layout("Welcome",
//		templates.Heading("Welcome aboard"),
//		templates.Text("Your workspace is ready."),
//	))
//	if err != nil {
//		return err
//	}
//
//	err = sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   "user@example.com",
//		Subject:  "Welcome!",
//		BodyHTML: body,
//		Tag:      "welcome",
//		Ref:      jobID,
//	})
//
// Errors wrap ErrInvalidConfig, ErrInvalidParams or ErrFailedToSendEmail.
// A message Postmark refused carries a *DeliveryError; Rejected reports
// whether resending it is pointless.
package email
