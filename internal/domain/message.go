package domain

const (
	// DefaultLanguage applies when a payload omits a language field.
	DefaultLanguage = "en"
	// BotLanguageSource is the sentinel that mirrors the sender's language.
	BotLanguageSource = "source"
)

// ChatPayload is the inbound chat frame. Empty language fields default to
// English during normalization; BotLanguage may be "source" to answer in the
// sender's own language.
type ChatPayload struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language,omitempty"`
	BotLanguage    string `json:"bot_language,omitempty"`
}

// Reply is the outbound chat frame for a successfully relayed message.
// ReplyEN always carries the English form so clients can show both.
type Reply struct {
	Reply          string `json:"reply"`
	ReplyEN        string `json:"reply_en"`
	DetectedSource string `json:"detected_source"`
}

// ErrorReply is the outbound chat frame for a failed message. The connection
// stays open after one is sent.
type ErrorReply struct {
	Error string `json:"error"`
}
