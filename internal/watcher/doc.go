// Package watcher turns a directory into an ingestion inbox.
//
// Files created in the inbox are debounced until writes settle and then
// submitted to the background queue with the inbox's routing:
//
//	inbox, err := watcher.NewInbox(queue, watcher.Options{
//	    Dir:      "/srv/inbox",
//	    Space:    "documents",
//	    TenantID: "acme",
//	})
//	if err != nil {
//	    return err
//	}
//	go inbox.Run(ctx)
//
// The inbox is flat: subdirectories are not watched. Dropping the same
// file twice ingests it twice.
package watcher
