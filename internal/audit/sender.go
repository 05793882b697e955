package audit

import (
	"context"

	"github.com/proctorlabs/rvlink-bridge/internal/logger"
	"github.com/proctorlabs/rvlink-bridge/internal/mux"
	"github.com/proctorlabs/rvlink-bridge/internal/protocol"
)

// AuditingSender wraps a *mux.Mux, recording every send() call's outcome to
// the audit log without changing the multiplexer's own correlation or
// timeout behavior — it is a side observer, nothing more.
type AuditingSender struct {
	mux *mux.Mux
	log *Log
}

// NewAuditingSender constructs an AuditingSender delegating to m and
// recording to log.
func NewAuditingSender(m *mux.Mux, log *Log) *AuditingSender {
	return &AuditingSender{mux: m, log: log}
}

// Send implements registry.CommandSender / router.CommandSender.
func (a *AuditingSender) Send(ctx context.Context, cmd protocol.Command) ([]protocol.CommandResponse, error) {
	responses, err := a.mux.Send(ctx, cmd)

	outcome := OutcomeSuccess
	detail := ""
	switch {
	case err == mux.ErrTimeout:
		outcome = OutcomeTimeout
	case err != nil:
		outcome = OutcomeError
		detail = err.Error()
	}
	if recErr := a.log.Record(cmd.ClientCommandID(), cmd.Type().String(), outcome, detail); recErr != nil {
		// Audit failures never fail the underlying command: a non-fatal
		// observational write logs and yields, same as the MQTT publish path.
		logger.Global().Warn("audit record failed", "ccid", cmd.ClientCommandID(), "error", recErr)
	}
	return responses, err
}
