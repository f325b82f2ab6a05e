// Package watcher turns file system changes under a project root into
// ingest and remove calls on the index.
//
// fsnotify is the primary source of events. When it cannot be initialized,
// or when polling is forced for network mounts and container volumes, the
// tree is rescanned on an interval instead. Raw events are debounced per
// path and filtered with the same include and exclude rules as a full scan,
// so the index sees the same file set either way.
//
//	w, err := watcher.New(opts)
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx)
//
//	s := watcher.NewSyncer(coordinator, logger)
//	return s.Run(ctx, w)
package watcher
