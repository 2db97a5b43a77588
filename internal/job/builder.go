package job

// Builder assembles a Detail fluently:
//
//	detail := job.NewBuilder().
//		OfType("report.daily").
//		WithIdentity("nightly", "reports").
//		StoreDurably().
//		RequestRecovery().
//		UsingJobData("recipient", "oncall").
//		Build()
type Builder struct {
	detail Detail
}

// NewBuilder starts a builder with an empty data map and default-group key.
func NewBuilder() *Builder {
	return &Builder{detail: Detail{Data: NewDataMap()}}
}

// OfType names the registered job type to instantiate on fire.
func (b *Builder) OfType(jobType string) *Builder {
	b.detail.Type = jobType
	return b
}

// WithIdentity sets the (name, group) key; empty group means DEFAULT.
func (b *Builder) WithIdentity(name, group string) *Builder {
	b.detail.Key = NewKeyWithGroup(name, group)
	return b
}

// WithDescription attaches a human-readable description.
func (b *Builder) WithDescription(desc string) *Builder {
	b.detail.Description = desc
	return b
}

// StoreDurably keeps the job stored even with no referencing triggers.
func (b *Builder) StoreDurably() *Builder {
	b.detail.Durable = true
	return b
}

// RequestRecovery re-fires the job if its instance dies mid-execution.
func (b *Builder) RequestRecovery() *Builder {
	b.detail.RequestsRecovery = true
	return b
}

// DisallowConcurrentExecution serialises executions of this job cluster-wide.
func (b *Builder) DisallowConcurrentExecution() *Builder {
	b.detail.ConcurrentExecutionDisallowed = true
	return b
}

// PersistJobDataAfterExecution writes data-map mutations back on completion.
func (b *Builder) PersistJobDataAfterExecution() *Builder {
	b.detail.PersistDataAfterExecution = true
	return b
}

// UsingJobData adds one entry to the job's data map.
func (b *Builder) UsingJobData(key string, value any) *Builder {
	b.detail.Data.Put(key, value)
	return b
}

// UsingJobDataMap merges a whole map into the job's data map.
func (b *Builder) UsingJobDataMap(m DataMap) *Builder {
	b.detail.Data = b.detail.Data.Merge(m)
	return b
}

// Build returns an independent Detail; the builder may be reused.
func (b *Builder) Build() *Detail {
	return b.detail.Clone()
}
