package types

// Version is the canonical project version.
// The CLI, the status envelope, and job completion events share this version.
const Version = "0.4.0"

// HistorySchemaVersion is written into every persisted metrics history document.
// Bump when the document shape changes incompatibly.
const HistorySchemaVersion = 1
