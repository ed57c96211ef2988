// Package downloader runs catalog retrievals and tracks their progress.
//
// A Manager starts one goroutine per retrieval. Each retrieval is an Item in
// the manager's active set and moves through
//
//	pending -> downloading -> completed
//	pending -> downloading -> error
//	pending -> error
//
// and never backwards. The active set is replaced as a whole on every update,
// so snapshots returned by Downloads are safe to keep.
//
// # Usage
//
//	m := downloader.New(client, &materialize.Materializer{
//	    Primary:  materialize.NewBucketTrigger(bucket, ""),
//	}, notify.NewQueue(notify.DefaultTTL), downloader.DefaultOptions())
//
//	id := m.StartDownload(ctx, "item-id", "Castle Pack")
//	m.Wait()
//	item, _ := m.Get(id)
//
// # Lifecycle
//
// While pending the item shows ServerStatusFetching, and ServerStatusProcessing
// once StatusEscalation has passed without response headers. Headers switch the
// item to downloading and every received chunk updates its size, percent and
// speed. When the stream ends the chunks are assembled and saved through the
// Materializer.
//
// Completed items leave the active set after CompletedLinger, failed ones
// after ErrorLinger. A retrieval refused for missing decryption keys is
// removed at once and reported by a single notification.
package downloader
