// Package validator builds declarative validation rules and aggregates their
// failures into ValidationErrors.
//
// Every helper returns a Rule (a Check func plus the field, code and message
// reported on failure); Apply evaluates rules and returns ValidationErrors when any fail:
//
//	err := validator.Apply(
//		validator.Required("invoice_id", p.InvoiceID),
//		validator.PositiveAmount("amount", p.Amount),
//		validator.ValidCurrencyCode("currency", p.Currency),
//		validator.When(!p.Since.IsZero(), validator.NotFuture("since", p.Since, time.Now())),
//	)
//	if errors.Is(err, validator.ErrValidationFailed) {
//		fields := validator.ExtractValidationErrors(err).Fields()
//		...
//	}
//
// Rules hold no global state and are safe for concurrent use.
package validator
