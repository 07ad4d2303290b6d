package mcp

// clampLimit ensures limit is within bounds.
func clampLimit(limit, defaultVal, min, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit < min {
		return min
	}
	if limit > max {
		return max
	}
	return limit
}

// maxIndexStatusSample bounds how many memories/files index_status samples
// to report approximate counts without an unbounded full-table scan.
const maxIndexStatusSample = 100000

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// IndexStatusOutput defines the output schema for the index_status tool.
type IndexStatusOutput struct {
	Project    ProjectInfo       `json:"project"`
	Stats      IndexStats        `json:"stats"`
	Embeddings EmbeddingInfo     `json:"embeddings"`
	Indexing   *IndexingProgress `json:"indexing,omitempty"` // Present during background indexing
}

// IndexingProgress contains information about ongoing background indexing.
type IndexingProgress struct {
	Status         string  `json:"status"`                     // "indexing", "ready", or "error"
	Stage          string  `json:"stage,omitempty"`            // "scanning", "chunking", "embedding", "indexing"
	FilesTotal     int     `json:"files_total"`                // Total files to process
	FilesProcessed int     `json:"files_processed"`            // Files processed so far
	ChunksIndexed  int     `json:"chunks_indexed"`             // Chunks indexed so far
	ProgressPct    float64 `json:"progress_pct"`               // Progress percentage (0-100)
	ElapsedSeconds int     `json:"elapsed_seconds"`            // Time since indexing started
	ErrorMessage   string  `json:"error_message,omitempty"`    // Error message if status is "error"
}

// ProjectInfo contains information about the indexed project.
type ProjectInfo struct {
	Name     string `json:"name"`
	RootPath string `json:"root_path"`
	Type     string `json:"type"`
}

// IndexStats contains statistics about the index.
type IndexStats struct {
	FileCount      int    `json:"file_count"`
	MemoryCount    int    `json:"memory_count"`
	IndexSizeBytes int64  `json:"index_size_bytes"`
	LastIndexed    string `json:"last_indexed"`
}

// SyncStatusInput defines the input schema for the sync_status tool (no parameters).
type SyncStatusInput struct{}

// SyncStatusOutput defines the output schema for the sync_status tool,
// reporting C13's disk-vs-store drift comparison.
type SyncStatusOutput struct {
	SyncScore        float64 `json:"sync_score"`        // fraction of files in agreement, 0-1
	DriftPercentage  float64 `json:"drift_percentage"`  // percent of files out of sync, 0-100
	TotalFiles       int     `json:"total_files"`
	UpToDate         int     `json:"up_to_date"`
	MissingFromStore int     `json:"missing_from_store"` // on disk, absent from the index
	MissingFromDisk  int     `json:"missing_from_disk"`  // indexed, no longer on disk
	ContentMismatch  int     `json:"content_mismatch"`   // indexed under a stale content hash
	Truncated        bool    `json:"truncated"`          // a scan cap was hit before covering the full tree
	GeneratedAt      string  `json:"generated_at"`
}

// EmbeddingInfo contains information about the embedding configuration.
type EmbeddingInfo struct {
	// Config values
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Status   string `json:"status"`

	// Runtime state - allows AI clients to adjust search strategy
	ActualProvider   string `json:"actual_provider"`    // "hugot" or "static"
	ActualModel      string `json:"actual_model"`       // e.g., "embeddinggemma-300m" or "static"
	Dimensions       int    `json:"dimensions"`         // 768 (hugot) or 256 (static)
	IsFallbackActive bool   `json:"is_fallback_active"` // true if using static fallback
	SemanticQuality  string `json:"semantic_quality"`   // "high" (hugot) or "low" (static)
}
