// Package opensearch connects to an OpenSearch cluster and indexes documents
// into daily indices. The error tracker uses it to keep a searchable history
// of failed jobs and trigger errors.
//
//	client, err := opensearch.New(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	indexer, _ := opensearch.NewIndexer(client, cfg.IndexPrefix)
//	err = indexer.Index(ctx, time.Now(), report.JobID, report)
//
// Healthcheck returns a probe for readiness endpoints. Failures are joined
// with ErrConnectionFailed, ErrHealthcheckFailed or ErrIndexFailed.
package opensearch
