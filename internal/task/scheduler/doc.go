// Package scheduler fires news dispatches at fixed times of day.
//
// One cron entry exists per distinct time across all subscribers plus the
// default schedule. All entries share a single job so a dispatch that is still
// running causes later triggers to be skipped.
package scheduler
