package strata

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// TransactionStatus is a transaction's terminal state.
type TransactionStatus string

const (
	StatusCommitted  TransactionStatus = "committed"
	StatusRolledBack TransactionStatus = "rolled_back"
)

const (
	pendingFileName = "pending.json"
	historyDirName  = "history"
	archiveTimeFmt  = "20060102T150405Z"
)

// ArchivedTransaction is the document written to the history directory when
// a transaction reaches a terminal state.
type ArchivedTransaction struct {
	Transaction *Transaction      `json:"transaction"`
	Status      TransactionStatus `json:"status"`
	FinishedAt  time.Time         `json:"finished_at"`
}

// TransactionStore persists in-flight transactions so they survive process
// crashes: a single pending JSON file written before commit begins, and a
// history directory of archived documents named
// {created_at}_{id}_{status}.json. A store owns its directory exclusively;
// pointing two stores at the same directory is undefined behavior.
type TransactionStore struct {
	dir string
	now func() time.Time
}

// NewTransactionStore creates a store rooted at dir. The directory is
// created lazily on first write.
func NewTransactionStore(dir string) *TransactionStore {
	return &TransactionStore{dir: dir, now: time.Now}
}

func (s *TransactionStore) pendingPath() string {
	return filepath.Join(s.dir, pendingFileName)
}

func (s *TransactionStore) historyPath() string {
	return filepath.Join(s.dir, historyDirName)
}

// SavePending journals the transaction before its commit begins. The write
// goes through a temp file and rename so a crash never leaves a truncated
// journal behind.
func (s *TransactionStore) SavePending(txn *Transaction) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating transaction log dir: %w", err)
	}

	data, err := json.MarshalIndent(txn, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding transaction: %w", err)
	}
	return atomicWrite(s.pendingPath(), data)
}

// LoadPending returns the journaled transaction left behind by an
// interrupted commit, or ErrPendingNotFound. What to do with it is an
// operator decision; the store never resumes or aborts on its own.
func (s *TransactionStore) LoadPending() (*Transaction, error) {
	data, err := os.ReadFile(s.pendingPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrPendingNotFound
		}
		return nil, fmt.Errorf("reading pending transaction: %w", err)
	}

	var txn Transaction
	if err := json.Unmarshal(data, &txn); err != nil {
		return nil, fmt.Errorf("decoding pending transaction: %w", err)
	}
	return &txn, nil
}

// Archive writes the terminal record under the history directory and then
// removes the pending journal. The journal is only removed once the archive
// write succeeded, so an interrupted transaction is always discoverable.
func (s *TransactionStore) Archive(txn *Transaction, status TransactionStatus) error {
	if err := os.MkdirAll(s.historyPath(), 0o755); err != nil {
		return fmt.Errorf("creating history dir: %w", err)
	}

	record := ArchivedTransaction{
		Transaction: txn,
		Status:      status,
		FinishedAt:  s.now().UTC(),
	}
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding archived transaction: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.json", txn.CreatedAt.UTC().Format(archiveTimeFmt), txn.ID, status)
	if err := atomicWrite(filepath.Join(s.historyPath(), name), data); err != nil {
		return err
	}

	if err := os.Remove(s.pendingPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing pending transaction: %w", err)
	}
	return nil
}

// History returns the archived transaction file names, sorted, which orders
// them by creation time thanks to the timestamp prefix.
func (s *TransactionStore) History() ([]string, error) {
	entries, err := os.ReadDir(s.historyPath())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading history dir: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LoadArchived reads one archived transaction record by file name.
func (s *TransactionStore) LoadArchived(name string) (*ArchivedTransaction, error) {
	data, err := os.ReadFile(filepath.Join(s.historyPath(), name))
	if err != nil {
		return nil, fmt.Errorf("reading archived transaction: %w", err)
	}
	var record ArchivedTransaction
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding archived transaction: %w", err)
	}
	return &record, nil
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", filepath.Base(path), err)
	}
	return nil
}
