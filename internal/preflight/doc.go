// Package preflight checks that the host can run jarvis-rag before the
// stores are opened.
//
// Host checks cover free disk space and write access in the data
// directory and the open file limit. Service checks probe the embedding
// server, the reranker and a remote vector store through caller-supplied
// ping functions.
//
//	checker := preflight.New(preflight.WithServices(services...))
//	results := checker.RunAll(ctx, cfg.DataDir)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
