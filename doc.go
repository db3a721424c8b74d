// Package devbundle is the composition root for fetching development bundles.
//
// It wires the fetch orchestrator to an HTTP transport, an on-disk artifact
// index and optional Prometheus metrics.
//
// A fetch requests the bundle from the development server, decodes the
// response (a plain body or a multipart/mixed stream with build progress),
// applies delta patches when the server speaks the delta protocol, and
// publishes the artifact with a temp-then-rename commit. Additional bundles
// the server announces are fetched concurrently into the split directory.
//
// Usage:
//
//	o, err := devbundle.New(
//		devbundle.WithCacheDir(".devbundle"),
//		devbundle.WithLogger(logger),
//	)
//
//	md, err := o.Fetch(ctx, devbundle.Request{
//		URL:         "http://localhost:8081/index.bundle?platform=android&dev=true",
//		Destination: ".devbundle/index.bundle",
//	}, func(p devbundle.Progress) { log.Println(p.Status) })
package devbundle
