// Package recording captures presenter lifecycle events.
//
// A [Recorder] receives an [Event] for every submission, latch, commit,
// completion, buffer release and presented frame. [Memory] keeps events
// for inspection in tests, and [Journal] appends them to a write-ahead
// log on disk so a run can be traced afterwards:
//
//	j, err := recording.OpenJournal("trace")
//	if err != nil {
//	    return err
//	}
//	defer j.Close()
//	p, err := present.NewPresenter(present.WithRecorder(j))
//
// Sinks are also available by name through [Open], which the presentctl
// command uses for its --recorder flag.
package recording
