package acs

// ResultSink receives every completed selection. Deliver is called with the
// interface's lock held, so results for one interface arrive in order; it
// must not call back into the engine for the same interface.
type ResultSink interface {
	Deliver(res *Result)
}

// SinkFunc adapts a function to ResultSink
type SinkFunc func(res *Result)

func (f SinkFunc) Deliver(res *Result) { f(res) }

// MultiSink fans a result out to several sinks
type MultiSink []ResultSink

func (m MultiSink) Deliver(res *Result) {
	for _, s := range m {
		if s != nil {
			s.Deliver(res)
		}
	}
}
