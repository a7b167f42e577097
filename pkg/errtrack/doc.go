// Package errtrack delivers queue error reports (terminal job failures,
// stalls and trigger errors) to logs and to OpenSearch.
//
// Every reporter implements queue.ErrorReporter. The daemon combines them:
//
//	reporters := []queue.ErrorReporter{errtrack.NewLogReporter(log)}
//	if cfg.OpenSearch.Enabled() {
//		client, err := opensearch.New(ctx, cfg.OpenSearch)
//		...
//		indexer, _ := opensearch.NewIndexer(client, cfg.OpenSearch.IndexPrefix)
//		idx, _ := errtrack.NewIndexReporter(indexer)
//		reporters = append(reporters, idx)
//	}
//	engine, err := queue.NewEngine(broker,
//		queue.WithErrorReporter(errtrack.NewMultiReporter(reporters)))
//
// The engine already delivers reports asynchronously with a timeout, so the
// reporters here are plain synchronous calls.
package errtrack
