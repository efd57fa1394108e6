// Package audit records security-relevant events: authentication outcomes,
// denied access, issued embed tokens, and cache invalidations.
//
// Events flow through a Recorder. The LogRecorder writes structured JSON
// lines for shipping to a log pipeline; the MemoryStore keeps a bounded
// recent history for the admin query endpoint. MultiRecorder fans out to
// both. Recording never fails the request being audited.
package audit
