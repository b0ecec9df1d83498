package adapter

var (
	WithGeminiModels   = withGeminiModels
	WithOpenAIAPI      = withOpenAIAPI
	WithClaudeMessages = withClaudeMessages
	Backoff            = backoff
	WithRetry          = withRetry
)
