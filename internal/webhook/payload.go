package webhook

// Payload is the body WhatsApp posts to the webhook.
type Payload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Value Value  `json:"value"`
	Field string `json:"field"`
}

type Value struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
		WaID string `json:"wa_id"`
	} `json:"contacts,omitempty"`
	Messages []InboundMessage `json:"messages,omitempty"`
	Statuses []struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		Timestamp   string `json:"timestamp"`
		RecipientID string `json:"recipient_id"`
	} `json:"statuses,omitempty"`
}

type InboundMessage struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text,omitempty"`
	Image       *Media       `json:"image,omitempty"`
	Video       *Media       `json:"video,omitempty"`
	Audio       *Media       `json:"audio,omitempty"`
	Document    *Media       `json:"document,omitempty"`
	Interactive *Interactive `json:"interactive,omitempty"`
}

// Media is an attachment reference; the file itself stays with the provider.
type Media struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

// Interactive is a button or list reply.
type Interactive struct {
	Type        string `json:"type"`
	ButtonReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"button_reply,omitempty"`
	ListReply *struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	} `json:"list_reply,omitempty"`
}

// content flattens a message into transcript text. The second result is
// false for messages that carry no words a keyword rule could match.
func (m InboundMessage) content() (string, bool) {
	switch m.Type {
	case "text":
		return m.Text.Body, true
	case "interactive":
		if m.Interactive != nil {
			if m.Interactive.ButtonReply != nil {
				return m.Interactive.ButtonReply.Title, true
			}
			if m.Interactive.ListReply != nil {
				return m.Interactive.ListReply.Title, true
			}
		}
		return "[interactive]", false
	case "image", "video":
		media := m.Image
		if m.Type == "video" {
			media = m.Video
		}
		if media == nil {
			return "[" + m.Type + "]", false
		}
		content := "[" + m.Type + "]:" + media.ID
		if media.Caption != "" {
			content += ":" + media.Caption
		}
		return content, false
	case "audio":
		if m.Audio != nil {
			return "[audio]:" + m.Audio.ID, false
		}
		return "[audio]", false
	case "document":
		if m.Document == nil {
			return "[document]", false
		}
		content := "[document]:" + m.Document.ID
		if m.Document.Filename != "" {
			content += ":" + m.Document.Filename
		}
		return content, false
	default:
		return "[" + m.Type + "]", false
	}
}
