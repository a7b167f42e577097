// Package environment names the deployment stage and carries it through
// contexts.
//
// The daemon parses APP_ENV once and uses the result to pick the log format
// and the email sender:
//
//	env := environment.Parse(cfg.Env)
//	ctx = environment.WithContext(ctx, env)
//
// LoggerExtractor plugs into logger.WithContextExtractors so every record
// logged with such a context carries an env attribute.
package environment
