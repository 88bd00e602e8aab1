// Package logging wraps zap with context-aware methods for repochat.
//
// Every method takes a context first so trace and request correlation
// fields are attached automatically:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRepository(ctx, url)
//	logger.Info(ctx, "repository fetched", zap.Duration("took", d))
//
// Credentials are redacted at two layers: config.Secret values logged via
// Secret render as [REDACTED:n], and the encoder blanks fields whose names
// look sensitive (token, password, api_key and so on).
//
// Logs go to stderr by default so that commands writing JSON to stdout, and
// the MCP stdio transport, keep a clean stream.
package logging
