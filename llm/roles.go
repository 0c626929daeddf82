package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/lexmap/lexmap/pipeline"
)

// Divider implements pipeline.Divider on a chat client.
type Divider struct {
	client *Client
}

// NewDivider wraps a client as the division collaborator.
func NewDivider(client *Client) *Divider { return &Divider{client: client} }

// Divide asks the model to propose a logical division of the body and
// validates the structured response before handing it to the splitter.
func (d *Divider) Divide(ctx context.Context, domain, subject, body string) (*pipeline.Division, error) {
	user := dividerUserPrompt(domain, subject, body) +
		"\n\nJSON Schema:\n" + mustJSON(divisionSchema())

	content, err := d.client.Chat(ctx, dividerSystemPrompt, user, true)
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(divisionSchema(), raw); err != nil {
		return nil, fmt.Errorf("division: %w", err)
	}

	var payload struct {
		NumParts  int    `json:"num_parts"`
		Rationale string `json:"rationale"`
		Parts     []struct {
			Number       int    `json:"number"`
			Title        string `json:"title"`
			ContentStart string `json:"content_start"`
			ContentEnd   string `json:"content_end"`
		} `json:"parts"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("division: decode: %w", err)
	}

	div := &pipeline.Division{
		DeclaredCount: payload.NumParts,
		Rationale:     payload.Rationale,
	}
	for _, p := range payload.Parts {
		div.Parts = append(div.Parts, pipeline.DividedPart{
			Number:       p.Number,
			Title:        p.Title,
			ContentStart: p.ContentStart,
			ContentEnd:   p.ContentEnd,
		})
	}
	return div, nil
}

// Generator implements pipeline.Generator on a chat client.
type Generator struct {
	client *Client
}

// NewGenerator wraps a client as the generation collaborator.
func NewGenerator(client *Client) *Generator { return &Generator{client: client} }

// Generate produces the Mermaid source for one part. Reasoning-block
// stripping happens here; fence stripping is the pipeline's concern.
func (g *Generator) Generate(ctx context.Context, req pipeline.GenerateRequest) (string, error) {
	content, err := g.client.Chat(ctx, generatorSystemPrompt,
		generatorUserPrompt(req.Domain, req.Subject, req.PartTitle, req.Content), false)
	if err != nil {
		return "", err
	}
	return StripThink(content), nil
}

// Reviewer implements pipeline.Reviewer on a chat client.
type Reviewer struct {
	client *Client
}

// NewReviewer wraps a client as the evaluation collaborator.
func NewReviewer(client *Client) *Reviewer { return &Reviewer{client: client} }

// Review evaluates one artifact. A response that fails schema validation is
// an error — the retry policy upstream treats it like any evaluation failure.
func (r *Reviewer) Review(ctx context.Context, req pipeline.ReviewRequest) (*pipeline.Verdict, error) {
	user := reviewerUserPrompt(req.Domain, req.Subject, req.PartTitle,
		req.Content, req.Artifact, req.Attempt, req.MaxAttempts) +
		"\n\nJSON Schema:\n" + mustJSON(verdictSchema())

	content, err := r.client.Chat(ctx, reviewerSystemPrompt, user, true)
	if err != nil {
		return nil, err
	}

	raw, err := ExtractJSON(content)
	if err != nil {
		return nil, err
	}
	if err := validateAgainstSchema(verdictSchema(), raw); err != nil {
		return nil, fmt.Errorf("verdict: %w", err)
	}

	var verdict pipeline.Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return nil, fmt.Errorf("verdict: decode: %w", err)
	}
	return &verdict, nil
}
