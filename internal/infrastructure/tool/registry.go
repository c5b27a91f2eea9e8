package tool

import (
	"net/http"

	domaintool "github.com/llmcompare/core/internal/domain/tool"
	"go.uber.org/zap"
)

// Deps aggregates the external dependencies the tool layer needs to wire its
// (currently single) tool.
type Deps struct {
	Registry        domaintool.Registry
	Logger          *zap.Logger
	HTTPClient      *http.Client
	SearchQuranBase string
}

// RegisterAll is the single tool-registration entry point; adding a new tool
// means adding it here.
func RegisterAll(deps Deps) int {
	tools := []domaintool.Tool{
		NewSearchQuranTool(deps.HTTPClient, deps.SearchQuranBase, deps.Logger),
	}

	registered := 0
	for _, t := range tools {
		if err := deps.Registry.Register(t); err != nil {
			deps.Logger.Warn("failed to register tool", zap.String("tool", t.Name()), zap.Error(err))
			continue
		}
		registered++
	}

	deps.Logger.Info("tool layer initialized", zap.Int("registered", registered))
	return registered
}
