// Package file stores job artifacts (rendered invoices, database dumps) in
// Amazon S3 or on the local filesystem behind one Storage interface.
//
//	store, err := file.NewStorage(ctx, cfg.Files) // S3 when S3_BUCKET is set
//	if err != nil {
//		return err
//	}
//	obj, err := store.Put(ctx, "invoices/inv-42.pdf", bytes.NewReader(pdf), "application/pdf")
//	link := store.URL(obj.Key)
//
// Keys are slash separated and relative; CleanKey rejects keys that would
// escape the storage root. S3 errors are classified into package sentinels
// such as ErrFileNotFound, ErrAccessDenied and ErrServiceUnavailable.
package file
