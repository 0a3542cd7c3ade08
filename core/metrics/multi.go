package metrics

// MultiSink fans out records to multiple sinks. Optional recorders are only
// forwarded to the sinks implementing them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSolveResult forwards the result to all sinks, returning the first error encountered.
func (m *MultiSink) RecordSolveResult(res SolveResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordSolveResult(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordRound forwards round progress.
func (m *MultiSink) RecordRound(ev RoundEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(RoundRecorder); ok {
			if err := rec.RecordRound(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordAudit forwards audit runs.
func (m *MultiSink) RecordAudit(ev AuditEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(AuditRecorder); ok {
			if err := rec.RecordAudit(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordOverride forwards overrides.
func (m *MultiSink) RecordOverride(ev OverrideEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(OverrideRecorder); ok {
			if err := rec.RecordOverride(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordRepair forwards repairs.
func (m *MultiSink) RecordRepair(ev RepairEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(RepairRecorder); ok {
			if err := rec.RecordRepair(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordLock forwards locks.
func (m *MultiSink) RecordLock(ev LockEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(LockRecorder); ok {
			if err := rec.RecordLock(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
