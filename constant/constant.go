package constant

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCompleted  JobStatus = "completed"
)

type ErrorCode string

const (
	ErrorCodeInvalidURL        ErrorCode = "INVALID_URL"
	ErrorCodeInvalidDuration   ErrorCode = "INVALID_DURATION"
	ErrorCodeVideoNotFound     ErrorCode = "VIDEO_NOT_FOUND"
	ErrorCodeVideoTooLong      ErrorCode = "VIDEO_TOO_LONG"
	ErrorCodeDownloadFailed    ErrorCode = "DOWNLOAD_FAILED"
	ErrorCodeProcessingFailed  ErrorCode = "PROCESSING_FAILED"
	ErrorCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrorCodeNotFound          ErrorCode = "NOT_FOUND"
	ErrorCodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Progress checkpoints reported by the split pipeline.
const (
	ProgressDownloadStarted = 10
	ProgressDownloaded      = 40
	ProgressSplit           = 90
	ProgressCached          = 95
	ProgressDone            = 100
)

const ClipExtension = "mp4"

var DefaultSupportedDurations = []int{30, 45, 60}

type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentStaging    Environment = "staging"
	EnvironmentDevelop    Environment = "develop"
)

func (e Environment) String() string {
	return string(e)
}
