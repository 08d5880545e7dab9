package strata

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OperationKind enumerates the closed set of reversible actions a
// transaction may contain. Execution, reversal and resource-path dispatch
// are exhaustive switches over this set; adding a kind means updating all of
// them, which the default-case errors make hard to miss.
type OperationKind string

const (
	OpCreateIndex OperationKind = "create_index"
	OpDeleteIndex OperationKind = "delete_index"
	OpModifyIndex OperationKind = "modify_index"

	OpCreateUser OperationKind = "create_user"
	OpDeleteUser OperationKind = "delete_user"
	OpModifyUser OperationKind = "modify_user"

	OpCreateRole OperationKind = "create_role"
	OpDeleteRole OperationKind = "delete_role"
	OpModifyRole OperationKind = "modify_role"

	OpCreateMacro OperationKind = "create_macro"
	OpDeleteMacro OperationKind = "delete_macro"
	OpUpdateMacro OperationKind = "update_macro"

	OpCreateSavedSearch OperationKind = "create_saved_search"
	OpDeleteSavedSearch OperationKind = "delete_saved_search"
	OpUpdateSavedSearch OperationKind = "update_saved_search"
)

// Operation is one reversible action against the management API: a kind, the
// identifying name of the resource it touches, and the parameters needed to
// perform it. Creates carry enough to reverse themselves (delete by name);
// deletes and modifies do not, since reversing them would require the prior
// resource state, which the client does not retain.
type Operation struct {
	Kind   OperationKind     `json:"kind"`
	Name   string            `json:"name"`
	Params map[string]string `json:"params,omitempty"`
}

// Operation constructors, one per kind.

func CreateIndex(name string, params map[string]string) Operation {
	return Operation{Kind: OpCreateIndex, Name: name, Params: params}
}
func DeleteIndex(name string) Operation { return Operation{Kind: OpDeleteIndex, Name: name} }
func ModifyIndex(name string, params map[string]string) Operation {
	return Operation{Kind: OpModifyIndex, Name: name, Params: params}
}

func CreateUser(name string, params map[string]string) Operation {
	return Operation{Kind: OpCreateUser, Name: name, Params: params}
}
func DeleteUser(name string) Operation { return Operation{Kind: OpDeleteUser, Name: name} }
func ModifyUser(name string, params map[string]string) Operation {
	return Operation{Kind: OpModifyUser, Name: name, Params: params}
}

func CreateRole(name string, params map[string]string) Operation {
	return Operation{Kind: OpCreateRole, Name: name, Params: params}
}
func DeleteRole(name string) Operation { return Operation{Kind: OpDeleteRole, Name: name} }
func ModifyRole(name string, params map[string]string) Operation {
	return Operation{Kind: OpModifyRole, Name: name, Params: params}
}

func CreateMacro(name string, params map[string]string) Operation {
	return Operation{Kind: OpCreateMacro, Name: name, Params: params}
}
func DeleteMacro(name string) Operation { return Operation{Kind: OpDeleteMacro, Name: name} }
func UpdateMacro(name string, params map[string]string) Operation {
	return Operation{Kind: OpUpdateMacro, Name: name, Params: params}
}

func CreateSavedSearch(name string, params map[string]string) Operation {
	return Operation{Kind: OpCreateSavedSearch, Name: name, Params: params}
}
func DeleteSavedSearch(name string) Operation {
	return Operation{Kind: OpDeleteSavedSearch, Name: name}
}
func UpdateSavedSearch(name string, params map[string]string) Operation {
	return Operation{Kind: OpUpdateSavedSearch, Name: name, Params: params}
}

// Inverse returns the operation that undoes this one, if an automatic
// inverse exists. Only creates are reversible: deleting the just-created
// resource needs nothing but its name. Reversing a delete needs the prior
// full resource state and reversing a modify needs the prior parameter
// values, neither of which is retained, so those return ok=false.
func (op Operation) Inverse() (Operation, bool) {
	switch op.Kind {
	case OpCreateIndex:
		return DeleteIndex(op.Name), true
	case OpCreateUser:
		return DeleteUser(op.Name), true
	case OpCreateRole:
		return DeleteRole(op.Name), true
	case OpCreateMacro:
		return DeleteMacro(op.Name), true
	case OpCreateSavedSearch:
		return DeleteSavedSearch(op.Name), true
	case OpDeleteIndex, OpModifyIndex,
		OpDeleteUser, OpModifyUser,
		OpDeleteRole, OpModifyRole,
		OpDeleteMacro, OpUpdateMacro,
		OpDeleteSavedSearch, OpUpdateSavedSearch:
		return Operation{}, false
	default:
		return Operation{}, false
	}
}

// ValidationError signals a transaction rejected before any network call.
type ValidationError struct {
	Index  int
	Kind   OperationKind
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("strata: invalid transaction: operation %d (%s): %s", e.Index, e.Kind, e.Reason)
}

// Transaction is an ordered list of operations committed atomically: they
// execute strictly in order, and on mid-sequence failure the completed
// prefix is rolled back in reverse. While being built it supports named
// savepoints that later operations can be rolled back to locally.
type Transaction struct {
	ID         string         `json:"id"`
	Operations []Operation    `json:"operations"`
	Savepoints map[string]int `json:"savepoints,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewTransaction creates an empty transaction with a fresh unique id.
func NewTransaction() *Transaction {
	return &Transaction{
		ID:         uuid.NewString(),
		Savepoints: make(map[string]int),
		CreatedAt:  time.Now().UTC(),
	}
}

// AddOperation appends an operation. Purely local; nothing is sent until
// Commit.
func (t *Transaction) AddOperation(op Operation) {
	t.Operations = append(t.Operations, op)
}

// SetSavepoint records the current position under name. Setting an existing
// name moves it.
func (t *Transaction) SetSavepoint(name string) error {
	if name == "" {
		return fmt.Errorf("strata: savepoint name must not be empty")
	}
	if t.Savepoints == nil {
		t.Savepoints = make(map[string]int)
	}
	t.Savepoints[name] = len(t.Operations)
	return nil
}

// RollbackToSavepoint removes every operation appended after the named
// savepoint, along with any savepoints that now point past the end.
func (t *Transaction) RollbackToSavepoint(name string) error {
	pos, ok := t.Savepoints[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrSavepointNotFound, name)
	}
	if pos > len(t.Operations) {
		pos = len(t.Operations)
	}
	t.Operations = t.Operations[:pos]
	for n, p := range t.Savepoints {
		if p > pos {
			delete(t.Savepoints, n)
		}
	}
	return nil
}

// Validate checks the transaction locally: every operation must carry a
// non-empty identifying name. No network calls are made, and validating an
// unmodified transaction is deterministic and side-effect free.
func (t *Transaction) Validate() error {
	for i, op := range t.Operations {
		if op.Name == "" {
			return &ValidationError{Index: i, Kind: op.Kind, Reason: "identifying name must not be empty"}
		}
	}
	return nil
}
