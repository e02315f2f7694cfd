package consts

// SourceEmlx tags rows ingested from Apple Mail .emlx archives. It is the
// first half of the (source, source_uid) dedup key.
const SourceEmlx = "emlx"

// EmlxExtension is the file extension of a mailbox unit file.
const EmlxExtension = ".emlx"

// IngestBatchSize is the number of files written between transaction
// commits. Bounds both WAL growth and the work lost on a hard kill.
const IngestBatchSize = 500

// SnippetLength is the maximum number of runes kept in a message snippet.
const SnippetLength = 200
