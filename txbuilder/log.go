package txbuilder

import (
	"github.com/btcsuite/btclog/v2"
	"github.com/davecgh/go-spew/spew"
)

const Subsystem = "TXBD"

// log is a logger that is initialized with no output filters. This means the
// package will not perform any logging by default until the caller requests
// it.
var log = btclog.Disabled

// DisableLog disables all library log output. Logging output is disabled by
// default until UseLogger is called.
func DisableLog() {
	UseLogger(btclog.Disabled)
}

// UseLogger uses a specified Logger to output package logging info.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// logClosure is used to defer expensive dumps until the log level actually
// asks for them.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

func spewClosure(a any) logClosure {
	return func() string {
		return spew.Sdump(a)
	}
}
