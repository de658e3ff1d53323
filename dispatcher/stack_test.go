package dispatcher_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/embedpdf/pdfdispatch"
	"github.com/embedpdf/pdfdispatch/dispatcher"
	"github.com/embedpdf/pdfdispatch/native"
	"github.com/embedpdf/pdfdispatch/native/nativetest"
	"github.com/embedpdf/pdfdispatch/stream"
	"github.com/embedpdf/pdfdispatch/transport"
)

// The full worker-goroutine stack: Dispatcher -> transport Client -> Pipe
// -> Host -> native Executor -> fake library.
func TestDispatcher_WorkerGoroutineStack(t *testing.T) {
	mod := nativetest.New()
	exec := native.New(mod)
	client := transport.InProcess(exec)
	t.Cleanup(func() { _ = client.Close() })

	d, err := dispatcher.New(client)
	if err != nil {
		t.Fatal(err)
	}

	spec := nativetest.Letter(2)
	spec.Metadata = map[string]string{"Title": "Quarterly"}
	doc := mustAwait(t, d.OpenDocumentBuffer(embedpdf.OpenBufferOptions{Content: nativetest.BuildDocument(spec)}))
	if !strings.HasPrefix(doc.ID, "doc_") || doc.PageCount != 2 {
		t.Fatalf("doc = %+v, want generated id with 2 pages", doc)
	}

	img := mustAwait(t, d.RenderPage(doc.ID, 1, embedpdf.RenderOptions{Scale: 0.5}))
	if img.Width != 306 || img.Height != 396 || len(img.Data) != 306*396*4 {
		t.Fatalf("image = %dx%d (%d bytes), want 306x396", img.Width, img.Height, len(img.Data))
	}

	thumb := mustAwait(t, d.RenderThumbnail(doc.ID, 0, dispatcher.ThumbnailOptions{MaxSize: 99}))
	if thumb.Height != 99 {
		t.Errorf("thumbnail height = %d, want 99", thumb.Height)
	}

	if text := mustAwait(t, d.ExtractText(doc.ID, nil)); text != "page 1\npage 2" {
		t.Errorf("text = %q, want %q", text, "page 1\npage 2")
	}
	if meta := mustAwait(t, d.GetMetadata(doc.ID)); meta.Title != "Quarterly" {
		t.Errorf("title = %q, want Quarterly", meta.Title)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if n := mod.OpenDocuments(); n != 0 {
		t.Errorf("open native documents = %d, want 0", n)
	}
	if !mod.Closed() {
		t.Error("native module was not closed")
	}
	if got := mod.MaxConcurrent(); got != 1 {
		t.Errorf("max concurrent native calls = %d, want 1", got)
	}
}

func TestDispatcher_StreamsDocumentEvents(t *testing.T) {
	broker := stream.NewBroker(nil)
	sub := broker.Subscribe("viewer", stream.DocumentTopic("doc_s"))

	d, err := dispatcher.New(native.New(nativetest.New()), dispatcher.WithExtension(broker))
	if err != nil {
		t.Fatal(err)
	}
	mustAwait(t, d.OpenDocumentBuffer(embedpdf.OpenBufferOptions{
		ID:      "doc_s",
		Content: nativetest.BuildDocument(nativetest.Letter(1)),
	}))
	mustAwait(t, d.RenderPage("doc_s", 0, embedpdf.RenderOptions{}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Shutdown closes the channel, so this drains everything published.
	seen := map[stream.EventType]int{}
	var last stream.EventType
	for evt := range sub.C() {
		seen[evt.Type]++
		last = evt.Type
	}
	if seen[stream.EventDocumentOpened] != 1 {
		t.Errorf("document.opened = %d, want 1", seen[stream.EventDocumentOpened])
	}
	if seen[stream.EventOperationCompleted] != 2 {
		t.Errorf("operation.completed = %d, want 2 (open, render)", seen[stream.EventOperationCompleted])
	}
	if last != stream.EventDocumentClosed {
		t.Errorf("last event = %q, want %q", last, stream.EventDocumentClosed)
	}
}
