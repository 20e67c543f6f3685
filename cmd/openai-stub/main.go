// openai-stub is a development backend: a tiny OpenAI-compatible server
// that answers each research role with canned output, so the full loop
// can run end to end without a real model.
package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strings"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func main() {
	model := os.Getenv("MODEL_ID")
	if strings.TrimSpace(model) == "" {
		model = "deep_researcher"
	}
	addr := os.Getenv("ADDR")
	if strings.TrimSpace(addr) == "" {
		addr = ":8081"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"id": model, "object": "model"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		var req chatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		sys := ""
		for _, m := range req.Messages {
			if m.Role == "system" {
				sys = strings.TrimSpace(m.Content)
				break
			}
		}

		var content string
		switch {
		case strings.Contains(sys, "guides a following search agent"):
			content = "<think>One pass over primary sources should do.</think>\n" +
				"1. Identify authoritative sources on the topic.\n" +
				"2. Search for recent overviews and primary documentation.\n" +
				"3. Collect definitions, key figures, and caveats."
		case strings.Contains(sys, "systematic research planner"):
			content = "['topic overview', 'topic reference documentation']"
		case strings.Contains(sys, "evaluator of research relevance"):
			content = "Yes"
		case strings.Contains(sys, "extracting and summarizing"):
			content = "The page explains the topic, its terminology, and its main trade-offs."
		case strings.Contains(sys, "refining search strategies"):
			content = "<think>Coverage looks sufficient.</think>\n<done>"
		case strings.Contains(sys, "skilled report writer"):
			content = "# Report\n\nThe topic is well documented [1]. Key properties and " +
				"trade-offs are described in the gathered material, and the available " +
				"evidence is consistent across sources [1]. The terminology, figures, " +
				"and caveats collected during the research phase agree with the cited " +
				"material, and no conflicting accounts were found.\n\n" +
				"## Bibliography\n1. https://example.com/source\n"
		default:
			http.Error(w, "unexpected system prompt", http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-stub",
			"object": "chat.completion",
			"model":  model,
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
	})

	log.Printf("openai-stub listening on %s (model=%s)", addr, model)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}
