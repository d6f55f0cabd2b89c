// Package ai talks to the chat model that answers contacts while a
// conversation is in bot mode.
package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// TransferMarker in a model answer asks for a human agent.
const TransferMarker = "[TRANSFERIR_HUMANO]"

const defaultPrompt = `Você é um assistente de atendimento via WhatsApp. Responda de forma breve e cordial.
Quando não souber responder, ou o cliente pedir para falar com uma pessoa, inclua ` + TransferMarker + ` na resposta.`

type Role string

const (
	RoleContact   Role = "contact"
	RoleAssistant Role = "assistant"
)

// Turn is one message of the conversation so far.
type Turn struct {
	Role Role
	Text string
}

type Reply struct {
	Text       string
	NeedsHuman bool
}

type Client struct {
	client *openai.Client
	model  string
}

func NewClient(apiKey, baseURL, model string) *Client {
	if model == "" {
		model = openai.GPT4oMini
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Reply asks the model for the next assistant message. tenantPrompt replaces
// the default system prompt when set.
func (c *Client) Reply(ctx context.Context, history []Turn, tenantPrompt string) (Reply, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	system := defaultPrompt
	if tenantPrompt != "" {
		system = tenantPrompt + "\n\nSe precisar de um atendente humano, inclua " + TransferMarker + " na resposta."
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, t := range history {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: 0.3,
		MaxTokens:   400,
	})
	if err != nil {
		return Reply{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, errors.New("no response choices")
	}
	return ParseReply(resp.Choices[0].Message.Content), nil
}

// ParseReply strips the transfer marker from text and reports whether it was
// present.
func ParseReply(text string) Reply {
	needsHuman := strings.Contains(text, TransferMarker)
	text = strings.ReplaceAll(text, TransferMarker, "")
	return Reply{Text: strings.TrimSpace(text), NeedsHuman: needsHuman}
}
