package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"policyrag/internal/generation"
	"policyrag/internal/retrieval"
)

type SearchInput struct {
	Query  string   `json:"query" jsonschema:"the question or keywords to search policy documents for"`
	States []string `json:"states,omitempty" jsonschema:"restrict results to these state names, e.g. [\"Ohio\"]"`
	Limit  int      `json:"limit,omitempty" jsonschema:"maximum number of results (default from server settings)"`
}

type SearchOutput struct {
	Results []retrieval.SearchResult `json:"results"`
	Count   int                      `json:"count"`
}

type AskInput struct {
	Question string               `json:"question" jsonschema:"the natural-language question to answer"`
	States   []string             `json:"states,omitempty" jsonschema:"restrict the answer to these state names"`
	History  []generation.Message `json:"history,omitempty" jsonschema:"earlier conversation turns, oldest first"`
}

type ListPoliciesInput struct{}

type PolicySummary struct {
	ID     string `json:"id"`
	State  string `json:"state"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

type ListPoliciesOutput struct {
	Policies []PolicySummary `json:"policies"`
	Count    int             `json:"count"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name: "search_policies",
		Description: `Semantic search over indexed policy documents. Returns the best matching passages with state, policy title, page and similarity.

Use this to locate the exact wording of a rule. Use ask_policies instead when you want a synthesized, cited answer.

USAGE EXAMPLES:
- search_policies(query="timely filing limit for claims")
- search_policies(query="orthodontic coverage age limit", states=["Ohio","Texas"], limit=5)`,
	}, s.handleSearch)

	mcp.AddTool(s.server, &mcp.Tool{
		Name: "ask_policies",
		Description: `Answers a question from the policy documents only, citing passages as [n]. Confidence is 0 when nothing relevant was found.

USAGE EXAMPLE:
ask_policies(question="How long do members have to appeal a denied claim?", states=["Ohio"])`,
	}, s.handleAsk)

	if s.policies != nil {
		mcp.AddTool(s.server, &mcp.Tool{
			Name:        "list_policies",
			Description: "Lists every known policy document with its state and ingestion status. Use this to discover which states are covered.",
		}, s.handleListPolicies)
	}
}

func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return nil, SearchOutput{}, fmt.Errorf("query is required")
	}

	results, err := s.retriever.Search(ctx, in.Query, in.States, in.Limit)
	if err != nil {
		return nil, SearchOutput{}, err
	}

	out := SearchOutput{Results: results, Count: len(results)}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: formatResults(results)}},
	}, out, nil
}

func (s *Server) handleAsk(ctx context.Context, _ *mcp.CallToolRequest, in AskInput) (*mcp.CallToolResult, retrieval.RAGResponse, error) {
	if strings.TrimSpace(in.Question) == "" {
		return nil, retrieval.RAGResponse{}, fmt.Errorf("question is required")
	}

	resp, err := s.retriever.RAGQuery(ctx, in.Question, in.States, in.History)
	if err != nil {
		return nil, retrieval.RAGResponse{}, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: formatAnswer(resp)}},
	}, *resp, nil
}

func (s *Server) handleListPolicies(ctx context.Context, _ *mcp.CallToolRequest, _ ListPoliciesInput) (*mcp.CallToolResult, ListPoliciesOutput, error) {
	list, err := s.policies.List(ctx)
	if err != nil {
		return nil, ListPoliciesOutput{}, err
	}

	out := ListPoliciesOutput{Policies: make([]PolicySummary, len(list)), Count: len(list)}
	for i, p := range list {
		out.Policies[i] = PolicySummary{ID: p.ID, State: p.StateName, Title: p.Title, Status: string(p.Status)}
	}
	return nil, out, nil
}

func formatResults(results []retrieval.SearchResult) string {
	if len(results) == 0 {
		return "No matching policy passages found."
	}
	var sb strings.Builder
	for i, r := range results {
		fmt.Fprintf(&sb, "Result %d (similarity %.2f)\nState: %s\nPolicy: %s\nPage: %d\n---\n%s\n\n",
			i+1, r.Similarity, r.StateName, r.PolicyTitle, r.PageNumber, r.Content)
	}
	return strings.TrimSpace(sb.String())
}

func formatAnswer(resp *retrieval.RAGResponse) string {
	var sb strings.Builder
	sb.WriteString(resp.Answer)
	fmt.Fprintf(&sb, "\n\nConfidence: %.2f", resp.Confidence)
	if len(resp.Citations) > 0 {
		sb.WriteString("\n\nSources:")
		for _, c := range resp.Citations {
			fmt.Fprintf(&sb, "\n[%d] %s, %s (Page %d)", c.Number, c.StateName, c.PolicyTitle, c.PageNumber)
		}
	}
	if len(resp.SuggestedQueries) > 0 {
		sb.WriteString("\n\nTry asking:")
		for _, q := range resp.SuggestedQueries {
			sb.WriteString("\n- " + q)
		}
	}
	return sb.String()
}
