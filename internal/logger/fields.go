package logger

// Standard field keys for structured logging.
// Use these keys consistently across all log statements so logs can be
// aggregated and queried by field.
const (
	// Request identification
	KeyRequestID = "request_id" // HTTP request ID
	KeyClientIP  = "client_ip"  // Client IP address

	// Principals and tenancy
	KeyUserID = "user_id" // Owning or acting user ID
	KeyRole   = "role"    // User role: free, premium, admin

	// Files and folders
	KeyFileID     = "file_id"     // File record ID
	KeyFolderID   = "folder_id"   // Folder record ID
	KeyStorageKey = "storage_key" // Opaque blob key
	KeyTier       = "tier"        // Storage tier: hot, cold
	KeyPath       = "path"        // Folder path
	KeyFilename   = "filename"    // Original file name
	KeySize       = "size"        // Size in bytes

	// Upload sessions
	KeySessionID  = "session_id"  // Upload session ID
	KeyChunkIndex = "chunk_index" // Chunk index within a session
	KeyStatus     = "status"      // Session status

	// Workers
	KeyWorker    = "worker"    // Worker name: expiry, migration, cleanup
	KeyProcessed = "processed" // Items processed in a sweep
	KeyFailed    = "failed"    // Items failed in a sweep
	KeyDuration  = "duration"  // Operation duration

	// Errors
	KeyError = "error" // Error message
	KeyCode  = "code"  // Taxonomy error code
)
