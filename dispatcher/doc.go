// Package dispatcher is the front door of the engine. It owns the document
// handle table, orders operations by priority class, collapses duplicate
// render requests and hands work to an embedpdf.Executor one admission
// slot at a time.
//
// Every operation returns a *task.Task. Validation failures come back as
// already-rejected tasks that never reach the queue:
//
//	d, err := dispatcher.New(exec, dispatcher.WithLogger(logger))
//	doc, err := d.OpenDocumentBuffer(embedpdf.OpenBufferOptions{Content: pdf}).Await(ctx)
//	img, err := d.RenderPage(doc.ID, 0, embedpdf.RenderOptions{Scale: 2}).Await(ctx)
//
// # Scheduling
//
// Operations fall into three classes (see package queue): open, close and
// visible renders are Interactive; thumbnails and Background renders are
// Prefetch; metadata, outline, attachment, text and export operations are
// Bulk. The dispatcher serves the highest class with an admissible entry
// first and keeps FIFO order within a class. Per-class limits come from
// Config.PrefetchRateLimit, Config.PrefetchBurst and
// Config.BulkMaxConcurrency; Config.MaxInFlight caps the total.
//
// Render requests carry a dedup key. A newer request with the same key
// aborts the older one with embedpdf.CodeCancelled, whether it is still
// queued or already running on the executor.
//
// # Documents
//
// Each document moves through Opening, Open, Closing and Closed. Only Open
// documents accept operations. CloseDocument aborts the document's queued
// and running operations before the close reaches the executor.
package dispatcher
