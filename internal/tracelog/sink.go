// Package tracelog adapts the core's optional logging callback to logrus,
// the structured logger the rest of this stack uses. The core itself never
// imports logrus directly: indexer and reader accept a Sink interface so
// logging stays an external collaborator, per the core's design.
package tracelog

import (
	"github.com/sirupsen/logrus"
)

// Sink receives structured events from the indexer and reader. A nil Sink
// is valid everywhere one is accepted; callers that don't care about
// logging simply don't set one.
type Sink interface {
	Checkpoint(source string, checkpointIdx int, ucOffset uint64)
	Rebuild(source string, reason string)
	Error(source string, err error)
}

// Logrus adapts a *logrus.Logger (or the package-level default if nil is
// passed to New) into a Sink, emitting one structured line per event.
type Logrus struct {
	log *logrus.Logger
}

// New returns a Logrus sink. Passing nil uses logrus.StandardLogger().
func New(log *logrus.Logger) *Logrus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logrus{log: log}
}

func (l *Logrus) Checkpoint(source string, checkpointIdx int, ucOffset uint64) {
	l.log.WithFields(logrus.Fields{
		"source":         source,
		"checkpoint_idx": checkpointIdx,
		"uc_offset":      ucOffset,
	}).Debug("emitted checkpoint")
}

func (l *Logrus) Rebuild(source string, reason string) {
	l.log.WithFields(logrus.Fields{
		"source": source,
		"reason": reason,
	}).Info("rebuilding index")
}

func (l *Logrus) Error(source string, err error) {
	l.log.WithFields(logrus.Fields{
		"source": source,
	}).WithError(err).Error("dftidx error")
}

// Noop discards every event. Useful for tests and for callers that truly
// want silence rather than the standard logger's default output.
type Noop struct{}

func (Noop) Checkpoint(string, int, uint64) {}
func (Noop) Rebuild(string, string)         {}
func (Noop) Error(string, error)            {}
