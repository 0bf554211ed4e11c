package backfill

import "time"

// ProgressSink receives phase progress from the orchestrator.
type ProgressSink interface {
	OnProgress(percent int, phase string)
}

// ProgressFunc adapts a function to ProgressSink.
type ProgressFunc func(percent int, phase string)

// OnProgress implements ProgressSink.
func (f ProgressFunc) OnProgress(percent int, phase string) {
	if f != nil {
		f(percent, phase)
	}
}

// Progress is one progress update.
type Progress struct {
	Percent int    `json:"percent"`
	Phase   string `json:"phase"`
}

// ChannelSink forwards updates to a channel. Intermediate updates are dropped
// when it is full; the final 100% update blocks until it is received, so the
// reader must drain the channel until the run returns.
type ChannelSink chan<- Progress

// OnProgress implements ProgressSink.
func (c ChannelSink) OnProgress(percent int, phase string) {
	p := Progress{Percent: percent, Phase: phase}
	if percent >= 100 {
		c <- p
		return
	}
	select {
	case c <- p:
	default:
	}
}

// MultiSink fans an update out to several sinks.
type MultiSink []ProgressSink

// OnProgress implements ProgressSink.
func (m MultiSink) OnProgress(percent int, phase string) {
	for _, sink := range m {
		if sink != nil {
			sink.OnProgress(percent, phase)
		}
	}
}

// PhaseRecorder receives per-phase instrumentation.
type PhaseRecorder interface {
	ObservePhase(phase string, elapsed time.Duration, err error)
	AddRecords(kind string, count int)
	DocumentFailed(documentType string)
}

// monotonicSink never reports a percentage lower than the previous one.
type monotonicSink struct {
	next ProgressSink
	last int
}

func (m *monotonicSink) report(percent int, phase string) {
	if percent < m.last {
		percent = m.last
	}
	if percent > 100 {
		percent = 100
	}
	m.last = percent
	if m.next != nil {
		m.next.OnProgress(percent, phase)
	}
}
