package services

import (
	"strconv"
	"strings"
)

// ReplyFields are the values available to a reply template.
type ReplyFields struct {
	Mention             string
	Filename            string
	Identifier          string
	Distance            int
	OriginalUserMention string
	Emoji               string
	OriginalUserInfo    string
	JumpLink            string
}

func (f ReplyFields) lookup(name string) string {
	switch name {
	case "mention":
		return f.Mention
	case "filename":
		return f.Filename
	case "identifier":
		return f.Identifier
	case "distance":
		return strconv.Itoa(f.Distance)
	case "original_user_mention":
		return f.OriginalUserMention
	case "emoji":
		return f.Emoji
	case "original_user_info":
		return f.OriginalUserInfo
	case "jump_link":
		return f.JumpLink
	}
	return ""
}

// RenderReply expands {name} placeholders. Unknown names render empty, "{{"
// and "}}" produce literal braces, and an unclosed "{" is kept as text.
func RenderReply(tmpl string, f ReplyFields) string {
	var b strings.Builder
	b.Grow(len(tmpl) + 64)
	for i := 0; i < len(tmpl); i++ {
		c := tmpl[i]
		switch {
		case c == '{' && i+1 < len(tmpl) && tmpl[i+1] == '{':
			b.WriteByte('{')
			i++
		case c == '}' && i+1 < len(tmpl) && tmpl[i+1] == '}':
			b.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(tmpl[i+1:], '}')
			if end < 0 {
				b.WriteString(tmpl[i:])
				return b.String()
			}
			name := tmpl[i+1 : i+1+end]
			if k := strings.IndexAny(name, ":!"); k >= 0 {
				name = name[:k]
			}
			b.WriteString(f.lookup(strings.TrimSpace(name)))
			i += end + 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
