package job

import "fmt"

// Detail describes a stored job: which registered type to instantiate, how it
// behaves around execution, and its initial data map.
type Detail struct {
	Key         Key     `json:"key"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
	Data        DataMap `json:"data,omitempty"`

	// Durable keeps the job stored after its last trigger is removed.
	Durable bool `json:"durable"`
	// ConcurrentExecutionDisallowed serialises executions of this job
	// cluster-wide; sibling triggers block while one fires.
	ConcurrentExecutionDisallowed bool `json:"concurrent_execution_disallowed"`
	// PersistDataAfterExecution writes the (possibly mutated) data map back
	// to the store when an execution completes.
	PersistDataAfterExecution bool `json:"persist_data_after_execution"`
	// RequestsRecovery re-fires the job after a cluster instance dies while
	// executing it.
	RequestsRecovery bool `json:"requests_recovery"`
}

// Clone returns a deep copy; the store hands out clones so callers never
// mutate the canonical record.
func (d *Detail) Clone() *Detail {
	if d == nil {
		return nil
	}
	out := *d
	out.Data = d.Data.Clone()
	return &out
}

// Validate rejects details that cannot be stored or instantiated.
func (d *Detail) Validate() error {
	if err := d.Key.Validate(); err != nil {
		return err
	}
	if d.Type == "" {
		return fmt.Errorf("job %s: job type is required", d.Key)
	}
	return nil
}
