package dispatch

import "strings"

// ParseMarkdown is the Telegram parse mode used for every relayed message.
const ParseMarkdown = "Markdown"

// Fields are the user-supplied parts of a notification. Notification is
// nil when the caller did not pass the flag at all.
type Fields struct {
	Title        string
	Body         string
	URL          string
	Code         string
	Notification *string
}

// SendOptions are delivery options passed through to the transport.
type SendOptions struct {
	DisableNotification bool
	ParseMode           string
}

// Payload is built once per request and shared by every recipient.
type Payload struct {
	Text    string
	Options SendOptions
}

// BuildMessage renders f into the relayed text. silentByDefault decides
// DisableNotification when the flag is absent; "true" always enables the
// notification and any other value disables it.
func BuildMessage(f Fields, silentByDefault bool) Payload {
	parts := make([]string, 0, 4)
	if f.Title != "" {
		parts = append(parts, "*"+f.Title+"*")
	}
	if f.Body != "" {
		parts = append(parts, f.Body)
	}
	if f.URL != "" {
		parts = append(parts, f.URL)
	}
	if f.Code != "" {
		parts = append(parts, "```\n"+unescapeCode(f.Code)+"\n```")
	}

	disable := silentByDefault
	if f.Notification != nil {
		disable = *f.Notification != "true"
	}

	return Payload{
		Text: strings.Join(parts, "\n"),
		Options: SendOptions{
			DisableNotification: disable,
			ParseMode:           ParseMarkdown,
		},
	}
}

// unescapeCode turns literal backslash-n sequences into newlines.
func unescapeCode(code string) string {
	return strings.ReplaceAll(code, `\n`, "\n")
}
