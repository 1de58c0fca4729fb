// Package audit queues security events (logins, refreshes, evictions,
// revocations) and hands them to a pluggable Sink off the request path.
//
// Sinks: [ChannelSink] for tests, [JSONWriterSink] for line-delimited JSON
// and [LogSink] for zerolog. Event ids are ULIDs so they sort by time.
//
// The engine decides which events exist; this package only buffers and
// delivers them, and never imports the root package.
package audit
