package core

import "time"

// BlockType classifies a ContentBlock.
type BlockType string

const (
	BlockText BlockType = "text"
	BlockCode BlockType = "code"
)

// ContentBlock is a contiguous span of a message classified as prose or fenced
// code. Blocks are owned by their parent Message and never shared.
type ContentBlock struct {
	Type     BlockType `json:"type" yaml:"type"`
	Content  string    `json:"content" yaml:"content"`
	Language string    `json:"language,omitempty" yaml:"language,omitempty"`
	Index    int       `json:"index" yaml:"index"`
}

// ResultType classifies a ResultItem.
type ResultType string

const (
	ResultText ResultType = "text"
	ResultCode ResultType = "code"
	ResultLink ResultType = "link"
)

// ResultItem is a renderable unit produced from decoded backend output or a
// team export.
type ResultItem struct {
	Type      ResultType `json:"type" yaml:"type"`
	Content   string     `json:"content" yaml:"content"`
	Language  string     `json:"language,omitempty" yaml:"language,omitempty"`
	URL       string     `json:"url,omitempty" yaml:"url,omitempty"`
	Title     string     `json:"title,omitempty" yaml:"title,omitempty"`
	Header    string     `json:"header,omitempty" yaml:"header,omitempty"`
	AgentName string     `json:"agent_name,omitempty" yaml:"agent_name,omitempty"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp"`
}

// ContentType describes how ExchangePayload.Content should be interpreted.
type ContentType string

const (
	ContentText     ContentType = "text"
	ContentMarkdown ContentType = "markdown"
	ContentCode     ContentType = "code"
)

// ExchangeMetadata summarises what an ExchangePayload was built from.
// ResultTypes and Roles are distinct and sorted.
type ExchangeMetadata struct {
	Source         string       `json:"source" yaml:"source"`
	ResultCount    int          `json:"result_count,omitempty" yaml:"result_count,omitempty"`
	MessageCount   int          `json:"message_count,omitempty" yaml:"message_count,omitempty"`
	ResultTypes    []ResultType `json:"result_types,omitempty" yaml:"result_types,omitempty"`
	Roles          []Role       `json:"roles,omitempty" yaml:"roles,omitempty"`
	CreatedAt      time.Time    `json:"created_at" yaml:"created_at"`
	FirstTimestamp time.Time    `json:"first_timestamp,omitempty" yaml:"first_timestamp,omitempty"`
	LastTimestamp  time.Time    `json:"last_timestamp,omitempty" yaml:"last_timestamp,omitempty"`
}

// ExchangePayload is the canonical envelope used to move content between this
// core and any backend's wire format.
type ExchangePayload struct {
	Content     string           `json:"content" yaml:"content"`
	ContentType ContentType      `json:"content_type" yaml:"content_type"`
	Metadata    ExchangeMetadata `json:"metadata" yaml:"metadata"`
}

// TeamContribution is the ordered set of messages one agent contributed to a
// team session.
type TeamContribution struct {
	AgentName    string    `json:"agent_name" yaml:"agent_name"`
	Messages     []Message `json:"messages" yaml:"messages"`
	LastActiveAt time.Time `json:"last_active_at" yaml:"last_active_at"`
}

// MetricRecord is one observed backend call.
type MetricRecord struct {
	AgentID    string    `json:"agent_id"`
	SessionID  string    `json:"session_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`
}
