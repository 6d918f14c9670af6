package ledger

import (
	"context"
	"sync"

	"meetbook/internal/model"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpRead    Op = "read"
	OpAppend  Op = "append"
	OpReplace Op = "replace"
	OpProbe   Op = "probe"
)

// MemoryStore keeps tables in process memory. It is used for tests and for
// ephemeral deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	tables map[Table][]Row
	faults map[Op]error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables: make(map[Table][]Row),
		faults: make(map[Op]error),
	}
}

// Fail makes every following call of op return err. A nil err clears it.
func (m *MemoryStore) Fail(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.faults, op)
		return
	}
	m.faults[op] = err
}

func (m *MemoryStore) fault(op Op) error {
	if err, ok := m.faults[op]; ok {
		return model.Unavailable(string(op), err)
	}
	return nil
}

func (m *MemoryStore) ReadAll(ctx context.Context, table Table) ([]Row, error) {
	if err := CheckTable(table); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, model.Unavailable("read", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.fault(OpRead); err != nil {
		return nil, err
	}
	return cloneRows(m.tables[table]), nil
}

func (m *MemoryStore) Append(ctx context.Context, table Table, rows ...Row) error {
	if err := CheckTable(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return model.Unavailable("append", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpAppend); err != nil {
		return err
	}
	m.tables[table] = append(m.tables[table], cloneRows(rows)...)
	return nil
}

func (m *MemoryStore) ReplaceAll(ctx context.Context, table Table, rows []Row) error {
	if err := CheckTable(table); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return model.Unavailable("replace", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpReplace); err != nil {
		return err
	}
	m.tables[table] = cloneRows(rows)
	return nil
}

func (m *MemoryStore) Probe(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return model.Unavailable("probe", err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fault(OpProbe)
}

func (m *MemoryStore) Close() error {
	return nil
}
