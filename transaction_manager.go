package strata

import (
	"context"
	"fmt"
)

// RollbackOutcome summarizes what happened to the completed prefix of a
// failed transaction.
type RollbackOutcome struct {
	// Completed is how many operations had succeeded before the failure.
	Completed int `json:"completed"`
	// RolledBack is how many of those were successfully reversed.
	RolledBack int `json:"rolled_back"`
	// Failed lists operations whose reversal itself failed; the resources
	// need manual cleanup.
	Failed []Operation `json:"failed,omitempty"`
	// Skipped lists operations with no automated rollback path (deletes and
	// modifies); their resources remain in the post-operation state.
	Skipped []Operation `json:"skipped,omitempty"`
}

// String renders the operator-facing summary.
func (o RollbackOutcome) String() string {
	s := fmt.Sprintf("rolled back %d of %d completed operations", o.RolledBack, o.Completed)
	if len(o.Skipped) > 0 {
		s += fmt.Sprintf("; %d had no automated rollback path", len(o.Skipped))
	}
	if len(o.Failed) > 0 {
		s += fmt.Sprintf("; rollback failed for %d operations, manual cleanup required", len(o.Failed))
	}
	return s
}

// CommitError reports the operation that broke a transaction together with
// the rollback outcome. The wrapped cause is always the original operation
// failure; rollback problems are reflected in Rollback, never as the cause.
type CommitError struct {
	Index    int
	Op       Operation
	Cause    error
	Rollback RollbackOutcome
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("strata: transaction failed at operation %d (%s %q): %v; %s",
		e.Index, e.Op.Kind, e.Op.Name, e.Cause, e.Rollback)
}

// Unwrap returns the original operation failure.
func (e *CommitError) Unwrap() error { return e.Cause }

// TransactionManagerOption configures a TransactionManager.
type TransactionManagerOption func(*TransactionManager)

// WithTransactionLogger sets the manager's logger.
func WithTransactionLogger(logger Logger) TransactionManagerOption {
	return func(m *TransactionManager) {
		m.logger = logger
	}
}

// WithTransactionMetrics sets the manager's metrics collector.
func WithTransactionMetrics(collector *MetricsCollector) TransactionManagerOption {
	return func(m *TransactionManager) {
		m.metrics = collector
	}
}

// TransactionManager sequences a transaction's operations against the remote
// API: validate locally, journal to disk, commit strictly in order, and roll
// the completed prefix back in reverse when an operation fails.
type TransactionManager struct {
	exec    OperationExecutor
	store   *TransactionStore
	metrics *MetricsCollector
	logger  Logger
}

// NewTransactionManager creates a manager executing operations through exec
// and journaling under logDir. When exec is a *Client the manager inherits
// its logger and metrics unless options override them.
func NewTransactionManager(exec OperationExecutor, logDir string, options ...TransactionManagerOption) *TransactionManager {
	m := &TransactionManager{
		exec:  exec,
		store: NewTransactionStore(logDir),
	}
	if c, ok := exec.(*Client); ok {
		m.logger = c.logger
		m.metrics = c.metrics
	}
	for _, option := range options {
		option(m)
	}
	return m
}

// Begin starts an empty transaction.
func (m *TransactionManager) Begin() *Transaction {
	return NewTransaction()
}

// Store exposes the underlying journal, mainly so a supervising process can
// call LoadPending on startup.
func (m *TransactionManager) Store() *TransactionStore {
	return m.store
}

// LoadPending returns a transaction whose commit was interrupted (by a crash
// or cancellation), or ErrPendingNotFound. The manager never resumes or
// aborts it automatically; that is an operator decision.
func (m *TransactionManager) LoadPending() (*Transaction, error) {
	return m.store.LoadPending()
}

// Validate checks the transaction locally without touching the network.
func (m *TransactionManager) Validate(txn *Transaction) error {
	return txn.Validate()
}

// Commit executes the transaction's operations strictly in order, one at a
// time. Before the first operation the transaction is journaled to the
// pending file. On any operation failure no further operations run, the
// completed prefix is rolled back in reverse order, and the returned
// *CommitError carries the original failure plus the rollback outcome. On
// completion (either way) the journal is archived and removed.
//
// Cancellation through ctx stops the commit but does not roll back
// already-completed operations; the journal is left in place so the state
// is discoverable, mirroring a crash.
func (m *TransactionManager) Commit(ctx context.Context, txn *Transaction) error {
	if err := txn.Validate(); err != nil {
		return err
	}

	if err := m.store.SavePending(txn); err != nil {
		return fmt.Errorf("strata: journaling transaction: %w", err)
	}

	completed := make([]Operation, 0, len(txn.Operations))
	for i, op := range txn.Operations {
		if err := ctx.Err(); err != nil {
			return m.cancelled(txn, i, op, err, len(completed))
		}

		if m.logger != nil {
			m.logger.Debug("executing transaction operation",
				"transaction", txn.ID, "index", i, "kind", op.Kind, "name", op.Name)
		}

		if err := m.exec.ExecuteOperation(ctx, op); err != nil {
			if ctx.Err() != nil {
				return m.cancelled(txn, i, op, err, len(completed))
			}

			outcome := m.rollback(ctx, completed)
			m.archive(txn, StatusRolledBack)
			m.metrics.RecordTransaction(string(StatusRolledBack))
			if m.logger != nil {
				m.logger.Error("transaction failed",
					"transaction", txn.ID, "index", i, "kind", op.Kind, "name", op.Name,
					"error", err.Error(), "rollback", outcome.String())
			}
			return &CommitError{Index: i, Op: op, Cause: err, Rollback: outcome}
		}

		completed = append(completed, op)
	}

	m.archive(txn, StatusCommitted)
	m.metrics.RecordTransaction(string(StatusCommitted))
	if m.logger != nil {
		m.logger.Info("transaction committed", "transaction", txn.ID, "operations", len(completed))
	}
	return nil
}

// cancelled handles a caller-cancelled commit: no automatic rollback, journal
// retained for supervision.
func (m *TransactionManager) cancelled(txn *Transaction, index int, op Operation, cause error, completed int) error {
	if m.logger != nil {
		m.logger.Warn("transaction cancelled mid-commit; journal retained",
			"transaction", txn.ID, "index", index, "completed", completed)
	}
	return &CommitError{
		Index:    index,
		Op:       op,
		Cause:    cause,
		Rollback: RollbackOutcome{Completed: completed},
	}
}

// rollback reverses the completed operations in reverse order of completion.
// Each reversal is best effort: its own failure is recorded and logged but
// never propagated, so the caller always sees the original failure.
func (m *TransactionManager) rollback(ctx context.Context, completed []Operation) RollbackOutcome {
	outcome := RollbackOutcome{Completed: len(completed)}

	for i := len(completed) - 1; i >= 0; i-- {
		op := completed[i]
		inverse, ok := op.Inverse()
		if !ok {
			outcome.Skipped = append(outcome.Skipped, op)
			m.metrics.RecordRollbackOperation(string(op.Kind), "skipped")
			if m.logger != nil {
				m.logger.Warn("no automated rollback path; resource left in post-operation state",
					"kind", op.Kind, "name", op.Name)
			}
			continue
		}

		if err := m.exec.ExecuteOperation(ctx, inverse); err != nil {
			outcome.Failed = append(outcome.Failed, op)
			m.metrics.RecordRollbackOperation(string(op.Kind), "failed")
			if m.logger != nil {
				m.logger.Warn("rollback operation failed; manual cleanup required",
					"kind", inverse.Kind, "name", inverse.Name, "error", err.Error())
			}
			continue
		}

		outcome.RolledBack++
		m.metrics.RecordRollbackOperation(string(op.Kind), "reversed")
	}

	return outcome
}

// archive writes the terminal record and clears the journal. Archive
// failures are logged only: the commit outcome is already decided and a
// bookkeeping problem must not change it.
func (m *TransactionManager) archive(txn *Transaction, status TransactionStatus) {
	if err := m.store.Archive(txn, status); err != nil {
		if m.logger != nil {
			m.logger.Warn("archiving transaction failed",
				"transaction", txn.ID, "status", status, "error", err.Error())
		}
	}
}
