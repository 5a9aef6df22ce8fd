// Package notifier delivers operator notifications asynchronously.
//
// Messages go through a bounded queue served by a small worker pool. Each
// send is rate limited with a token bucket, retried with exponential backoff
// and suppressed when an identical message was sent inside the dedup window.
//
// # Transport
//
// Delivery is delegated to a transport.Sender (Telegram or the log sink), so
// formatting and throttling stay here while the platform stays swappable.
//
// # History
//
// The service keeps a small in-memory history of delivered messages for
// /healthz.
package notifier
