package weather

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/txn2/mcp-weather/pkg/metrics"
)

// ToolName is the MCP name of the current weather tool.
const ToolName = "getCurrentWeather"

const errorPrefix = "Error retrieving data. "

// Lookup fetches current weather for a city.
type Lookup interface {
	CurrentWeather(ctx context.Context, city string) (*Current, error)
}

// CurrentWeatherInput is the tool's argument object.
type CurrentWeatherInput struct {
	City string `json:"city" jsonschema:"The name of the city to get the current weather for"`
}

// RegisterTools adds the weather tools to server.
func RegisterTools(server *mcp.Server, lookup Lookup) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        ToolName,
		Description: "Get the current weather for a specified city",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in CurrentWeatherInput) (*mcp.CallToolResult, any, error) {
		return handleCurrentWeather(ctx, lookup, in), nil, nil
	})
}

// handleCurrentWeather returns the lookup result as indented JSON text.
// Upstream failures are reported as text content, not protocol errors.
func handleCurrentWeather(ctx context.Context, lookup Lookup, in CurrentWeatherInput) *mcp.CallToolResult {
	cur, err := lookup.CurrentWeather(ctx, in.City)
	if err != nil {
		metrics.ToolCalls.WithLabelValues(ToolName, "error").Inc()
		return textResult(errorPrefix+err.Error(), true)
	}

	out, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		metrics.ToolCalls.WithLabelValues(ToolName, "error").Inc()
		return textResult(errorPrefix+err.Error(), true)
	}

	metrics.ToolCalls.WithLabelValues(ToolName, "success").Inc()
	return textResult(string(out), false)
}

func textResult(text string, isError bool) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: isError,
	}
}
