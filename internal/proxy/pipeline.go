// Request body transformations applied before forwarding to the Anthropic API.
//
// DESIGN: The relay pipeline operates directly on raw JSON via gjson/sjson
// so unknown fields pass through untouched:
//  1. resolveModel:         expand model nicknames to full model IDs
//  2. ensureThinkingBudget:  guarantee max_tokens headroom above the thinking budget
//  3. sanitizeRequest:      drop or clamp parameters the API rejects
//  4. injectSystemPrompt:   prepend the Claude Code identity block
package proxy

import (
	"encoding/json"
	"math"
	"slices"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/automa016/maximize/internal/config"
)

const (
	// defaultThinkingBudget applies when thinking is enabled without a budget.
	defaultThinkingBudget = 16000

	// thinkingHeadroom is the minimum gap between max_tokens and the
	// thinking budget required by the API.
	thinkingHeadroom = 1024
)

// claudeCodeSystemBlock is injected as the first system block on every relay.
// OAuth tokens are only accepted by the API when the request identifies
// itself as Claude Code.
const claudeCodeSystemBlock = `{"type":"text","text":"You are Claude Code, Anthropic's official CLI for Claude.","cache_control":{"type":"ephemeral"}}`

// resolveModel replaces a model nickname with its full model ID.
// Unknown names pass through unchanged.
func resolveModel(body []byte, cfg *config.Config) ([]byte, string, string) {
	requested := gjson.GetBytes(body, "model").String()
	resolved := cfg.ResolveModel(requested)
	if resolved == requested {
		return body, requested, resolved
	}
	out, err := sjson.SetBytes(body, "model", resolved)
	if err != nil {
		return body, requested, requested
	}
	return out, requested, resolved
}

// ensureThinkingBudget bumps max_tokens when extended thinking is enabled
// and the requested max_tokens leaves no room for the final response.
func ensureThinkingBudget(body []byte) []byte {
	if gjson.GetBytes(body, "thinking.type").String() != "enabled" {
		return body
	}

	budget := gjson.GetBytes(body, "thinking.budget_tokens").Int()
	if budget <= 0 {
		budget = defaultThinkingBudget
		out, err := sjson.SetBytes(body, "thinking.budget_tokens", budget)
		if err == nil {
			body = out
		}
	}

	required := budget + thinkingHeadroom
	if gjson.GetBytes(body, "max_tokens").Int() < required {
		out, err := sjson.SetBytes(body, "max_tokens", required)
		if err == nil {
			body = out
		}
	}
	return body
}

// sanitizeRequest removes or clamps parameters the API rejects.
func sanitizeRequest(body []byte) []byte {
	// Out-of-range sampling parameters are dropped rather than erroring.
	if v := gjson.GetBytes(body, "top_p"); v.Exists() {
		f := v.Float()
		if math.IsNaN(f) || f < 0 || f > 1 {
			body, _ = sjson.DeleteBytes(body, "top_p")
		}
	}
	if v := gjson.GetBytes(body, "temperature"); v.Exists() && math.IsNaN(v.Float()) {
		body, _ = sjson.DeleteBytes(body, "temperature")
	}
	if v := gjson.GetBytes(body, "top_k"); v.Exists() && v.Int() <= 0 {
		body, _ = sjson.DeleteBytes(body, "top_k")
	}

	// Empty tools arrays are rejected upstream.
	if v := gjson.GetBytes(body, "tools"); v.IsArray() && len(v.Array()) == 0 {
		body, _ = sjson.DeleteBytes(body, "tools")
	}

	// With thinking enabled the API constrains sampling: temperature must
	// be 1.0, top_p within [0.95, 1], and top_k is not allowed.
	if gjson.GetBytes(body, "thinking.type").String() == "enabled" {
		if v := gjson.GetBytes(body, "temperature"); v.Exists() && v.Float() != 1.0 {
			body, _ = sjson.SetBytes(body, "temperature", 1.0)
		}
		if v := gjson.GetBytes(body, "top_p"); v.Exists() {
			f := v.Float()
			if f < 0.95 {
				body, _ = sjson.SetBytes(body, "top_p", 0.95)
			} else if f > 1 {
				body, _ = sjson.SetBytes(body, "top_p", 1.0)
			}
		}
		if gjson.GetBytes(body, "top_k").Exists() {
			body, _ = sjson.DeleteBytes(body, "top_k")
		}
	}

	return body
}

// injectSystemPrompt prepends the Claude Code identity block to the system
// prompt. A string system prompt is converted to block form; an existing
// block array keeps its blocks after the injected one.
func injectSystemPrompt(body []byte) []byte {
	sys := gjson.GetBytes(body, "system")

	var combined string
	switch {
	case !sys.Exists():
		combined = "[" + claudeCodeSystemBlock + "]"
	case sys.IsArray():
		raw := strings.TrimSpace(sys.Raw)
		inner := strings.TrimSpace(raw[1 : len(raw)-1])
		if inner == "" {
			combined = "[" + claudeCodeSystemBlock + "]"
		} else {
			combined = "[" + claudeCodeSystemBlock + "," + inner + "]"
		}
	case sys.Type == gjson.String:
		block, err := json.Marshal(map[string]interface{}{
			"type":          "text",
			"text":          sys.String(),
			"cache_control": map[string]string{"type": "ephemeral"},
		})
		if err != nil {
			return body
		}
		combined = "[" + claudeCodeSystemBlock + "," + string(block) + "]"
	default:
		// Unexpected shape, pass through unchanged.
		return body
	}

	out, err := sjson.SetRawBytes(body, "system", []byte(combined))
	if err != nil {
		return body
	}
	return out
}

// mergeBetas combines the always-required beta flags with any the client
// sent, deduplicated and sorted.
func mergeBetas(clientHeader string) string {
	betas := slices.Clone(config.RequiredBetas)
	for _, b := range strings.Split(clientHeader, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			betas = append(betas, b)
		}
	}
	slices.Sort(betas)
	return strings.Join(slices.Compact(betas), ",")
}
