// Package mcp exposes policy search and question answering as Model Context
// Protocol tools, over streamable HTTP (mounted at /mcp) or stdio.
package mcp

import (
	"context"
	"errors"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"policyrag/features/policy"
	"policyrag/internal/generation"
	"policyrag/internal/retrieval"
)

const Version = "1.0.0"

var ErrMissingRetriever = errors.New("mcp: retriever is required")

type Retriever interface {
	Search(ctx context.Context, query string, stateFilter []string, topK int) ([]retrieval.SearchResult, error)
	RAGQuery(ctx context.Context, query string, stateFilter []string, history []generation.Message) (*retrieval.RAGResponse, error)
}

type PolicyLister interface {
	List(ctx context.Context) ([]policy.Policy, error)
}

type Server struct {
	retriever Retriever
	policies  PolicyLister
	server    *mcp.Server
}

// NewServer registers the tools. policies may be nil, in which case the
// listing tool is not offered.
func NewServer(r Retriever, p PolicyLister) (*Server, error) {
	if r == nil {
		return nil, ErrMissingRetriever
	}

	s := &Server{
		retriever: r,
		policies:  p,
		server:    mcp.NewServer(&mcp.Implementation{Name: "policyrag", Version: Version}, nil),
	}
	s.registerTools()
	return s, nil
}

// Run serves over stdio until ctx is cancelled or the client disconnects.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(_ *http.Request) *mcp.Server {
		return s.server
	}, nil)
}
