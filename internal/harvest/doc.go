// Package harvest implements the resumable crawl core: session bootstrap,
// cursor navigation, session-expiry recovery, field extraction and the crawl
// loop that ties them to a record sink and a checkpoint store.
//
// The package never talks to a browser or a database directly. Everything that
// renders pages goes through PageAgent and everything that persists goes
// through RecordSink, CheckpointStore and PageArchive.
package harvest
