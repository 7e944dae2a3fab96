// Package graph implements the Microsoft Graph API client used for audit
// record extraction. It issues token-authenticated GET requests with
// per-request correlation IDs, builds OData filter expressions for
// time-domain queries, and absorbs API throttling (HTTP 429 + Retry-After)
// with a bounded local retry loop.
//
// Time-domain queries align their filter bounds with the 7-digit sub-second
// precision of Graph timestamps: the lower bound is truncated to whole
// seconds and suffixed with .0000000Z, the upper bound with .9999999Z, so
// consecutive windows neither miss nor duplicate records.
//
// Example usage:
//
//	client, err := graph.New(graph.Config{Tokens: tokens})
//	cursor, err := client.GetSignIns(ctx, graph.SignInsQuery{
//		Start:    &sliceStart,
//		End:      &sliceEnd,
//		PageSize: 50,
//	})
//	for {
//		page, ok, err := cursor.Advance(ctx)
//		if !ok || err != nil {
//			break
//		}
//		// process page
//	}
package graph
