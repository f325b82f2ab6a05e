package kernel

// Reduce applies ev to s. Events not permitted from the current phase return s unchanged.
func Reduce(s State, ev Event) State {
	next, _ := reduce(s, ev)
	return next
}

// reduce also reports whether the transition was permitted.
func reduce(s State, ev Event) (State, bool) {
	switch ev.Type {
	case QueueHasItems:
		if s.Phase != PhaseIdle {
			return s, false
		}
		s.Phase = PhaseRunning
		s.Run = runFrom(ev)
		return s, true

	case QueueEmpty:
		if s.Phase != PhaseRunning {
			return s, false
		}
		s.Phase = PhaseIdle
		s.Run = nil
		return s, true

	case RunStarted:
		if s.Phase != PhaseIdle {
			return s, false
		}
		s.Phase = PhaseRunning
		s.Run = runFrom(ev)
		return s, true

	case RunProgress:
		if s.Phase != PhaseRunning || s.Run == nil {
			return s, false
		}
		run := *s.Run
		run.Current = ev.Current
		run.Total = ev.Total
		run.SourceCount = ev.SourceCount
		run.BlockCount = ev.BlockCount
		if ev.LastItemKey != "" {
			run.LastItemKey = ev.LastItemKey
		}
		s.Run = &run
		return s, true

	case RunFinished:
		s.Phase = PhaseIdle
		s.Run = nil
		return s, true

	case RunFailed:
		if s.Phase != PhaseRunning {
			return s, false
		}
		s.Phase = PhaseError
		s.Run = nil
		s.LastError = &KernelError{Code: CodeRunFailed, Message: ev.Message, At: ev.At}
		return s, true

	case FatalError:
		if s.Phase != PhaseRunning {
			return s, false
		}
		s.Phase = PhaseError
		s.Run = nil
		s.LastError = &KernelError{Code: ev.Code, Message: ev.Message, At: ev.At}
		return s, true

	case ModelSwitchRequested:
		if s.Phase != PhaseIdle && s.Phase != PhaseRunning {
			return s, false
		}
		s.LastError = nil
		return s, true

	case ModelSwitchSucceeded:
		s.Phase = PhaseIdle
		s.Model = ev.Model
		s.Run = nil
		s.LastError = nil
		return s, true

	case ModelSwitchFailed:
		s.Phase = PhaseError
		s.Run = nil
		s.LastError = &KernelError{Code: CodeModelSwitchFailed, Message: ev.Message, At: ev.At}
		return s, true

	case RetrySuccess, ManualRetry:
		if s.Phase != PhaseError {
			return s, false
		}
		s.Phase = PhaseRunning
		s.Run = runFrom(ev)
		s.LastError = nil
		return s, true

	case QueueSnapshotUpdated:
		s.Queue = ev.Queue
		return s, true

	case ResetError:
		s.LastError = nil
		return s, true

	case InitCoreFailed:
		if s.Phase != PhaseIdle {
			return s, false
		}
		s.Phase = PhaseError
		s.LastError = &KernelError{Code: CodeInitCoreFailed, Message: ev.Message, At: ev.At}
		return s, true
	}

	return s, false
}

// runFrom returns the run snapshot attached to ev, or a fresh one.
func runFrom(ev Event) *RunContext {
	if ev.Run != nil {
		run := *ev.Run
		return &run
	}
	return &RunContext{StartedAt: ev.At}
}
