package infra

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/fixkar/hubble/domain/model"
)

type OpenAI struct {
	client *openai.Client
}

// NewOpenAI returns (nil, nil) when no API key is configured; the
// digest feature is optional.
func NewOpenAI() (*OpenAI, error) {
	if os.Getenv("OPENAI_API_KEY") == "" && os.Getenv("AZURE_OPENAI_KEY") == "" {
		return nil, nil
	}
	client, err := newOpenAIClient()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenAI client: %w", err)
	}
	return &OpenAI{
		client: client,
	}, nil
}

func newOpenAIClient() (*openai.Client, error) {
	if os.Getenv("AZURE_OPENAI_ENDPOINT") != "" {
		return newAzureClient()
	}

	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	options := []option.RequestOption{
		option.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
	}

	c := openai.NewClient(options...)
	return &c, nil
}

func newAzureClient() (*openai.Client, error) {
	key := os.Getenv("AZURE_OPENAI_KEY")
	if key == "" {
		return nil, fmt.Errorf("AZURE_OPENAI_KEY is not set")
	}
	var azureOpenAIEndpoint = os.Getenv("AZURE_OPENAI_ENDPOINT")

	var azureOpenAIAPIVersion = "2025-01-01-preview"

	if os.Getenv("AZURE_OPENAI_API_VERSION") != "" {
		azureOpenAIAPIVersion = os.Getenv("AZURE_OPENAI_API_VERSION")
	}

	c := openai.NewClient(
		azure.WithEndpoint(azureOpenAIEndpoint, azureOpenAIAPIVersion),
		azure.WithAPIKey(key),
	)
	return &c, nil
}

// GenerateTicketDigest summarizes the open tickets for the team.
func (h *OpenAI) GenerateTicketDigest(tickets []model.Ticket) (string, error) {
	var lines []string
	for _, t := range tickets {
		lines = append(lines, fmt.Sprintf("id:%s status:%s priority:%s assignee:%s created:%s description:%s",
			t.TicketID, t.Status, t.Priority, t.Assignee, t.CreatedAt, t.Description))
	}

	prompt := fmt.Sprintf(`## Task
The content below is our helpdesk's current ticket backlog.
Each line has the ticket id, status, priority, assignee, creation time and description.
Write a short digest for the team.

## What to cover
- Tickets that have stayed open a long time (more than 3 days since creation)
- Whether the workload is skewed toward particular assignees
- Tickets that look hard to resolve

## Format
*Long-running tickets*
> {list them, with a comment where useful}

*Assignee workload*
> {describe any imbalance}

*Potentially difficult tickets*
> {list them}

## Current time
%s
## Tickets
%s
`,
		FormatTime(timeNow()),
		strings.Join(lines, "\n"),
	)

	response, err := h.client.Chat.Completions.New(context.TODO(), openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model: os.Getenv("OPENAI_MODEL"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to call OpenAI API: %w", err)
	}

	return response.Choices[0].Message.Content, nil
}
