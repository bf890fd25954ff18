// Package watch turns raw filesystem notifications into a rate-limited
// stream of rebuild triggers. Events are narrowed to modifications of
// interesting files by a Filter and rate-limited by a Limiter; the trigger
// callback runs on the watch goroutine so rebuilds never overlap.
package watch
