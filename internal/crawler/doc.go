// Package crawler holds the shared vocabulary of the fetcher: fetch requests and responses, search
// results, batch records, and the small interfaces (Fetcher, Searcher, BlobStore, BatchStore,
// Publisher) that the concrete adapters implement. It also normalizes user-supplied URLs and applies
// the host blocklist.
package crawler
