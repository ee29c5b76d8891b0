// Package logging provides structured JSON logging for foreman.
//
// It wraps log/slog with a small set of context helpers so that every log
// line emitted by the coordinator, lock layer, and progress monitor can be
// filtered by project, worker, and work order after the fact.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger(".foreman", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	log := logger.WithProject("proj-1").WithComponent("workpool")
//	log.Info("work assigned", "worker_id", "worker-1", "order_id", "WO-001")
//
// Use [NopLogger] in tests or when logging is disabled.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package logging
