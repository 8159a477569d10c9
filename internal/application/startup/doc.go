// Package startup sequences process startup around persisted data.
//
// The HTTP listener is only started once the relay has answered one read of
// a well-known key, or once a fixed timeout has elapsed, whichever happens
// first. Both triggers share one continuation guarded by a one-shot Gate, so
// the listener is started at most once regardless of ordering:
//
//	seq := startup.NewSequencer(&startup.Config{
//	    Loader:   relay,
//	    Listener: httpServer,
//	    Key:      "overlap",
//	    Timeout:  10 * time.Second,
//	})
//	outcome, err := seq.Run(ctx)
package startup
