/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"go.uber.org/zap"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
	awserrors "github.com/mannylee/cloudops-command-center/pkg/errors"
	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
)

const anthropicVersion = "bedrock-2023-05-31"

// Analyzer produces a risk assessment for one event. Implementations never fail outright: when
// the model is unreachable they degrade to the deterministic fallback.
type Analyzer interface {
	Analyze(ctx context.Context, details health.EventDetails) (Analysis, error)
}

// Config carries the model invocation parameters.
type Config struct {
	ModelID     string
	Temperature float64
	TopP        float64
	MaxTokens   int
	// InstanceID identifies this worker for stagger and jitter derivation.
	InstanceID string
}

type BedrockAnalyzer struct {
	bedrockAPI sdk.BedrockRuntimeAPI
	config     Config
	log        *zap.SugaredLogger

	// Sleep is swapped out in tests to observe delays without waiting them out.
	Sleep func(ctx context.Context, d time.Duration) error

	consecutiveThrottles int
}

func NewBedrockAnalyzer(bedrockAPI sdk.BedrockRuntimeAPI, config Config, log *zap.SugaredLogger) *BedrockAnalyzer {
	return &BedrockAnalyzer{
		bedrockAPI: bedrockAPI,
		config:     config,
		log:        log.Named("analysis"),
		Sleep:      sleepContext,
	}
}

// Analyze invokes the model once per call, retrying only on throttling with staggered
// exponential backoff. Any other failure, malformed output included, degrades to the fallback
// assessment. The returned error is non-nil only when the context expires mid-wait.
func (b *BedrockAnalyzer) Analyze(ctx context.Context, details health.EventDetails) (Analysis, error) {
	body, err := json.Marshal(claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        b.config.MaxTokens,
		Temperature:      b.config.Temperature,
		TopP:             b.config.TopP,
		Messages: []claudeMessage{{
			Role:    "user",
			Content: []claudeContent{{Type: "text", Text: buildPrompt(details)}},
		}},
	})
	if err != nil {
		return Analysis{}, fmt.Errorf("marshaling model request, %w", err)
	}
	if stagger := Stagger(b.config.InstanceID, body); stagger > 0 {
		if err := b.Sleep(ctx, stagger); err != nil {
			return Analysis{}, err
		}
	}
	seed := Seed(b.config.InstanceID, body)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := b.bedrockAPI.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
			ModelId:     aws.String(b.config.ModelID),
			ContentType: aws.String("application/json"),
			Accept:      aws.String("application/json"),
			Body:        body,
		})
		if err != nil {
			if !awserrors.IsThrottling(err) {
				invocationsTotal.WithLabelValues(resultError).Inc()
				b.log.Errorw("invoking model", "event-arn", details.Event.ARN, "error", err)
				return b.fallback(details), nil
			}
			b.consecutiveThrottles++
			invocationsTotal.WithLabelValues(resultThrottled).Inc()
			delay := Backoff(attempt, b.consecutiveThrottles, seed)
			b.log.Debugw("model throttled, backing off",
				"event-arn", details.Event.ARN, "attempt", attempt, "delay", delay)
			if err := b.Sleep(ctx, delay); err != nil {
				return Analysis{}, err
			}
			continue
		}
		b.consecutiveThrottles = 0
		analysis, err := parseResponse(out.Body)
		if err != nil {
			invocationsTotal.WithLabelValues(resultError).Inc()
			b.log.Errorw("parsing model response", "event-arn", details.Event.ARN, "error", err)
			return b.fallback(details), nil
		}
		invocationsTotal.WithLabelValues(resultSuccess).Inc()
		return analysis, nil
	}
	b.log.Warnw("model retries exhausted", "event-arn", details.Event.ARN, "attempts", maxAttempts)
	return b.fallback(details), nil
}

func (b *BedrockAnalyzer) fallback(details health.EventDetails) Analysis {
	fallbacksTotal.Inc()
	return Fallback(details.Event.EventTypeCode)
}

func parseResponse(body []byte) (Analysis, error) {
	var resp claudeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Analysis{}, fmt.Errorf("unmarshaling model response, %w", err)
	}
	var texts []string
	for _, c := range resp.Content {
		texts = append(texts, c.Text)
	}
	return Parse(strings.Join(texts, "\n"))
}

func buildPrompt(details health.EventDetails) string {
	var sb strings.Builder
	sb.WriteString("You are a cloud operations analyst. Assess the following AWS Health event and respond with a single JSON object only, using exactly these keys: ")
	sb.WriteString(`critical ("YES" or "NO"), risk_level ("CRITICAL", "HIGH", "MEDIUM" or "LOW"), time_sensitivity ("IMMEDIATE", "URGENT" or "ROUTINE"), risk_category, impact_analysis, required_actions, consequences_if_ignored, event_impact_type ("ACCOUNT_SPECIFIC" or "SERVICE_WIDE").`)
	sb.WriteString("\n\nEvent:\n")
	fmt.Fprintf(&sb, "  Service: %s\n", details.Event.Service)
	fmt.Fprintf(&sb, "  Event type: %s\n", details.Event.EventTypeCode)
	fmt.Fprintf(&sb, "  Category: %s\n", details.Event.EventTypeCategory)
	fmt.Fprintf(&sb, "  Region: %s\n", details.Event.Region)
	fmt.Fprintf(&sb, "  Status: %s\n", details.Event.StatusCode)
	if !details.Event.StartTime.IsZero() {
		fmt.Fprintf(&sb, "  Start time: %s\n", details.Event.StartTime.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "\nDescription:\n%s\n", details.LatestDescription)
	return sb.String()
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	Temperature      float64         `json:"temperature"`
	TopP             float64         `json:"top_p"`
	Messages         []claudeMessage `json:"messages"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Content []claudeContent `json:"content"`
}

type claudeContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type claudeResponse struct {
	Content []claudeContent `json:"content"`
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
