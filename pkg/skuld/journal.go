package skuld

import (
	"sync"

	"github.com/skuldgraph/skuld/pkg/storage"
)

// DecisionJournal is the append-ordered store of agent decision
// records. Records are immutable once appended; the order of
// appearance equals log order.
type DecisionJournal struct {
	mu      sync.RWMutex
	records []*storage.DecisionRecord
}

// NewDecisionJournal creates an empty journal.
func NewDecisionJournal() *DecisionJournal {
	return &DecisionJournal{}
}

// Seed installs replayed records in log order, taking ownership.
func (j *DecisionJournal) Seed(records []*storage.DecisionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = records
}

// Append adds a record at the end of the journal.
func (j *DecisionJournal) Append(record *storage.DecisionRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, record)
}

// ListAll returns every record in insertion order.
func (j *DecisionJournal) ListAll() []*storage.DecisionRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return append([]*storage.DecisionRecord(nil), j.records...)
}

// ListForAgent returns the records created by agentID, preserving
// insertion order.
func (j *DecisionJournal) ListForAgent(agentID uint64) []*storage.DecisionRecord {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*storage.DecisionRecord
	for _, record := range j.records {
		if record.AgentID == agentID {
			out = append(out, record)
		}
	}
	return out
}

// GetByID returns the record with the given id, or false.
func (j *DecisionJournal) GetByID(id uint64) (*storage.DecisionRecord, bool) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	for _, record := range j.records {
		if record.ID == id {
			return record, true
		}
	}
	return nil, false
}

// Count returns the number of records.
func (j *DecisionJournal) Count() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.records)
}
