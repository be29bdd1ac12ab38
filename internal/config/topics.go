package config

const (
	// TopicPolicyIngest carries external requests to (re-)ingest a file-backed policy document.
	TopicPolicyIngest = "policy.ingest"

	// TopicPolicyStatus carries terminal status transitions of ingestion jobs.
	TopicPolicyStatus = "policy.status"

	// ChannelBackend is the NSQ channel the backend consumes on.
	ChannelBackend = "backend"
)
