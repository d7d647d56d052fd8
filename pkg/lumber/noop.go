package lumber

type noopLogger struct{}

// NewNoop returns a Logger that discards everything. Used by tests and tooling.
func NewNoop() Logger {
	return noopLogger{}
}

func (noopLogger) Debugf(string, ...interface{}) {}

func (noopLogger) Infof(string, ...interface{}) {}

func (noopLogger) Warnf(string, ...interface{}) {}

func (noopLogger) Errorf(string, ...interface{}) {}

func (noopLogger) Fatalf(string, ...interface{}) {}

func (noopLogger) Panicf(string, ...interface{}) {}

func (n noopLogger) WithFields(Fields) Logger { return n }
