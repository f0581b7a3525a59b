// Package notifier delivers chat messages on behalf of the contest watcher
// and the command handlers.
//
// Delivery is synchronous: Deliver returns once the platform accepted the
// message or every retry failed. Callers that post several messages in a row
// therefore see them arrive in the order they were sent.
//
// # Throttling
//
// A token bucket (golang.org/x/time/rate) shared by every caller keeps the bot
// under the platform's flood limits. Failed sends are retried with jittered
// exponential backoff.
//
// # History
//
// For debugging and operator visibility, the service keeps a small in-memory
// history of recently delivered messages.
package notifier
