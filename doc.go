// Package embedpdf is the dispatch core of a document engine built on a
// native, non-reentrant PDF library. It lets many independent callers
// request document operations without blocking and without corrupting the
// library's internal state.
//
// Every operation returns a [task.Task]: a terminal-once, cancellable,
// progress-reporting result. The [dispatcher.Dispatcher] owns the document
// handle table, applies priority and supersession, and forwards accepted
// operations to an [Executor].
//
// # Quick Start
//
//	mod, err := native.LoadWazero(ctx, wasm)
//	d, err := dispatcher.New(native.New(mod), dispatcher.WithLogger(logger))
//	defer d.Close(ctx)
//
//	doc, err := d.OpenDocumentBuffer(embedpdf.OpenBufferOptions{Content: data}).Await(ctx)
//	img, err := d.RenderPage(doc.ID, 0, embedpdf.RenderOptions{Scale: 2}).Await(ctx)
//
// # Architecture
//
//	Dispatcher → (transport.Client → Conn → transport.Host) → native.Executor → Module
//
// The executor runs either in-process (direct mode) or behind the
// transport (worker goroutine via transport.Pipe, or a remote process over
// WebSocket). The Task contract is identical in every mode.
//
// All failures are [*Reason] values carrying a [Code] and a message.
package embedpdf
