// Package notifier delivers terminal notices for retry chains.
//
// A notice tells the requester how a chain ended: the URL answered with
// success, with a client error, in an unexpected way, or every try was
// spent. Notices are queued without blocking the caller and delivered by a
// small set of supervised workers with a rate limit, bounded retries and
// dedup by job id.
//
// # Routing
//
// The requester identity picks the channel:
//
//	tg:<chat id>[/<thread id>]   Telegram
//	anything with an "@"         email over SMTP
//	anything else                the webhook send API, when configured
//
// # History
//
// For operator visibility the service keeps a small in-memory history of
// delivered notices.
package notifier
