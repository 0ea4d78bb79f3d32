// Package scheduler triggers periodic maintenance and broadcast jobs.
//
// It wraps robfig/cron with named, upsertable schedules, a per-schedule
// overlap guard and per-run timeouts. Jobs run on cron's goroutines and
// receive a context canceled by Stop.
package scheduler
