// Package logging provides structured logging with OpenTelemetry integration.
//
// # Overview
//
// The package wraps Zap with:
//   - A Trace level (-2, below Debug)
//   - Dual output (stdout + OpenTelemetry log bridge)
//   - Context field injection (trace_id, run.id, stage, request.id)
//   - Field-name and pattern based secret redaction
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, tel.LoggerProvider())
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, run.ID)
//	ctx = logging.WithStage(ctx, "translation")
//	logger.Warn(ctx, "stage attempt failed", zap.Int("attempt", 1))
//
// Output includes the correlation fields:
//
//	{"level":"warn","msg":"stage attempt failed","run.id":"5f0c...","stage":"translation","attempt":1}
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "outcome recorded")
//	tl.AssertLogged(t, zapcore.InfoLevel, "outcome recorded")
//
// Logger is safe for concurrent use. Child loggers (With, Named) do not
// affect their parent.
package logging
