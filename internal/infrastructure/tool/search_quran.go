package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	domaintool "github.com/llmcompare/core/internal/domain/tool"
	"go.uber.org/zap"
)

// SearchQuranTool is the one illustrative tool wired into the registry. Its
// backend is injectable (an http.Client pointed at a stub or a real search
// service) because the real Quran/Hadith/Mawsuah search backends are an
// external collaborator, out of scope for this service.
type SearchQuranTool struct {
	client  *http.Client
	baseURL string
	logger  *zap.Logger
}

func NewSearchQuranTool(client *http.Client, baseURL string, logger *zap.Logger) *SearchQuranTool {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SearchQuranTool{client: client, baseURL: baseURL, logger: logger}
}

func (t *SearchQuranTool) Name() string        { return "search_quran" }
func (t *SearchQuranTool) Description() string { return "Search the Quran for verses matching a query." }
func (t *SearchQuranTool) Kind() domaintool.Kind { return domaintool.KindSearch }

func (t *SearchQuranTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "search terms",
			},
		},
		"required": []string{"query"},
	}
}

type quranSearchResponse struct {
	Results []struct {
		Reference string `json:"reference"`
		Text      string `json:"text"`
	} `json:"results"`
}

func (t *SearchQuranTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return &domaintool.Result{Success: false, Error: "query is required"}, nil
	}

	url := fmt.Sprintf("%s/search?q=%s", t.baseURL, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("search_quran backend unreachable", zap.Error(err))
		return &domaintool.Result{Success: false, Error: err.Error()}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &domaintool.Result{Success: false, Error: fmt.Sprintf("backend returned %d", resp.StatusCode)}, nil
	}

	var parsed quranSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return &domaintool.Result{Success: false, Error: "malformed backend response"}, nil
	}

	docs := make([]domaintool.Document, 0, len(parsed.Results))
	for _, r := range parsed.Results {
		docs = append(docs, domaintool.Document{
			ID:      r.Reference,
			Title:   r.Reference,
			Content: r.Text,
			Source:  "quran",
		})
	}

	return &domaintool.Result{Documents: docs, Success: true}, nil
}
