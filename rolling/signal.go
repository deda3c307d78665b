package rolling

import (
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals binds Shutdown to the given OS signals (SIGINT and SIGTERM
// when none are given). It is a thin process-boundary adapter around the
// explicit Shutdown entry point; hosts that manage their own lifecycle should
// call Shutdown directly instead.
func (a *Appender) HandleSignals(signals ...os.Signal) {
	if len(signals) == 0 {
		signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, signals...)
	go func() {
		<-ch
		signal.Stop(ch)
		a.Shutdown()
	}()
}
