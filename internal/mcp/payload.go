package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vantor/msfbridge/internal/engine"
)

type payloadParams struct {
	Payload        string            `json:"payload" jsonschema:"payload module path, e.g. windows/meterpreter/reverse_tcp"`
	Options        map[string]string `json:"options,omitempty" jsonschema:"datastore settings, e.g. {\"LHOST\": \"10.0.0.5\", \"LPORT\": \"4444\"}"`
	Format         string            `json:"format,omitempty" jsonschema:"output format (exe, elf, raw, ...); default exe"`
	OutputPath     string            `json:"output_path,omitempty" jsonschema:"where to write the artifact; defaults to a temp file"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" jsonschema:"replace the default generation timeout"`
}

func (h *handler) payloadHandler(ctx context.Context, req *sdkmcp.CallToolRequest, params payloadParams) (*sdkmcp.CallToolResult, any, error) {
	if params.Payload == "" {
		return errorResult("payload is required")
	}

	res := h.engine.GeneratePayload(ctx, engine.PayloadRequest{
		Payload:         params.Payload,
		Options:         params.Options,
		Format:          params.Format,
		OutputPath:      params.OutputPath,
		TimeoutOverride: time.Duration(params.TimeoutSeconds) * time.Second,
	})

	var b strings.Builder
	if res.Success {
		fmt.Fprintln(&b, "Status: OK")
	} else {
		fmt.Fprintf(&b, "Status: FAIL (%s)\n", res.ErrorKind)
	}
	fmt.Fprintf(&b, "Run: %s\n", res.RunID)
	if res.ErrorMessage != "" {
		fmt.Fprintf(&b, "Error: %s\n", res.ErrorMessage)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	if res.Success {
		fmt.Fprintf(&b, "Artifact: %s (%d bytes)\n", res.OutputPath, res.Size)
	}

	if !res.Success {
		return errorResult(b.String())
	}
	return textResult(b.String())
}
