package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Credentials identify the tenant's sending number.
type Credentials struct {
	AccessToken   string
	PhoneNumberID string
}

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// --- Message Structures ---

type GenericMessage struct {
	MessagingProduct string       `json:"messaging_product"`
	To               string       `json:"to"`
	Type             string       `json:"type"`
	RecipientType    string       `json:"recipient_type,omitempty"`
	Text             *TextObj     `json:"text,omitempty"`
	Template         *TemplateObj `json:"template,omitempty"`
}

type TextObj struct {
	Body       string `json:"body"`
	PreviewUrl bool   `json:"preview_url,omitempty"`
}

type TemplateObj struct {
	Name       string         `json:"name"`
	Language   LanguageObj    `json:"language"`
	Components []ComponentObj `json:"components,omitempty"`
}

// ComponentObj fills the variables of one template section, in order.
type ComponentObj struct {
	Type       string         `json:"type"`
	Parameters []ParameterObj `json:"parameters"`
}

type ParameterObj struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type LanguageObj struct {
	Code string `json:"code"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Error is a failure reported by the Graph API, or a transport failure when
// Status is 0.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return "whatsapp unreachable: " + e.Message
	}
	return fmt.Sprintf("whatsapp api error %d (%s): %s", e.Status, e.Code, e.Message)
}

type apiErrorBody struct {
	Error struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

func parseAPIError(status int, body []byte) *Error {
	e := &Error{Status: status, Message: http.StatusText(status)}
	var parsed apiErrorBody
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		e.Message = parsed.Error.Message
		e.Code = strings.Trim(string(parsed.Error.Code), `"`)
		if e.Code == "" {
			e.Code = parsed.Error.Type
		}
	} else if len(body) > 0 {
		e.Message = strings.TrimSpace(string(body))
	}
	return e
}

// --- Helper Functions ---

func (c *Client) sendRequest(ctx context.Context, creds Credentials, method, url string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &Error{Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Status: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, respBody)
	}
	return respBody, nil
}

// --- Messaging Methods ---

// SendRawMessage posts msg from the number in creds and returns the provider
// message id.
func (c *Client) SendRawMessage(ctx context.Context, creds Credentials, msg GenericMessage) (string, error) {
	url := fmt.Sprintf("%s/%s/messages", c.BaseURL, creds.PhoneNumberID)
	respBody, err := c.sendRequest(ctx, creds, http.MethodPost, url, msg)
	if err != nil {
		return "", err
	}

	var parsed sendResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &Error{Status: http.StatusOK, Code: "invalid_response", Message: err.Error()}
	}
	if len(parsed.Messages) == 0 {
		return "", nil
	}
	return parsed.Messages[0].ID, nil
}

func (c *Client) SendMessage(ctx context.Context, creds Credentials, to, body string) (string, error) {
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               NormalizePhone(to),
		Type:             "text",
		Text: &TextObj{
			Body: body,
		},
	}
	return c.SendRawMessage(ctx, creds, msg)
}

// SendTemplateMessage sends an approved template. params fill the body
// variables {{1}}, {{2}}... in order.
func (c *Client) SendTemplateMessage(ctx context.Context, creds Credentials, to, templateName, languageCode string, params ...string) (string, error) {
	tpl := &TemplateObj{
		Name: templateName,
		Language: LanguageObj{
			Code: languageCode,
		},
	}
	if len(params) > 0 {
		body := ComponentObj{Type: "body"}
		for _, p := range params {
			body.Parameters = append(body.Parameters, ParameterObj{Type: "text", Text: p})
		}
		tpl.Components = []ComponentObj{body}
	}
	msg := GenericMessage{
		MessagingProduct: "whatsapp",
		To:               NormalizePhone(to),
		Type:             "template",
		Template:         tpl,
	}
	return c.SendRawMessage(ctx, creds, msg)
}

// Ping checks that creds can read the phone number object.
func (c *Client) Ping(ctx context.Context, creds Credentials) error {
	url := fmt.Sprintf("%s/%s", c.BaseURL, creds.PhoneNumberID)
	_, err := c.sendRequest(ctx, creds, http.MethodGet, url, nil)
	return err
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
