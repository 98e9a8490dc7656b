// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockProvider implements Provider against AWS Bedrock's InvokeModel API
// using the Anthropic-on-Bedrock request/response envelope, authenticated
// via the process's IAM role rather than a bearer API key.
type BedrockProvider struct {
	client      *bedrockruntime.Client
	modelID     string
	maxTokens   int
	temperature float64
}

// NewBedrockProvider wires a BedrockProvider against an existing
// bedrockruntime client and a fully-qualified model id
// (e.g. "anthropic.claude-3-5-sonnet-20241022-v2:0").
func NewBedrockProvider(client *bedrockruntime.Client, modelID string, maxTokens int, temperature float64) *BedrockProvider {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &BedrockProvider{client: client, modelID: modelID, maxTokens: maxTokens, temperature: temperature}
}

// Name implements Provider.
func (p *BedrockProvider) Name() string { return "bedrock:" + p.modelID }

type bedrockAnthropicRequest struct {
	AnthropicVersion string                   `json:"anthropic_version"`
	MaxTokens        int                      `json:"max_tokens"`
	Temperature      float64                  `json:"temperature"`
	Messages         []map[string]string      `json:"messages"`
	Tools            []map[string]interface{} `json:"tools,omitempty"`
}

type bedrockAnthropicResponse struct {
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text,omitempty"`
		Name  string          `json:"name,omitempty"`
		Input json.RawMessage `json:"input,omitempty"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// Complete implements Provider by invoking the configured Bedrock model and
// translating its tool_use content blocks into Completion.ToolCalls.
func (p *BedrockProvider) Complete(ctx context.Context, prompt string, reqCtx map[string]interface{}) (Completion, error) {
	reqBody := bedrockAnthropicRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        p.maxTokens,
		Temperature:      p.temperature,
		Messages:         []map[string]string{{"role": "user", "content": prompt}},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Completion{}, fmt.Errorf("marshal bedrock request: %w", err)
	}

	out, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(p.modelID),
		Body:        payload,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return Completion{}, fmt.Errorf("bedrock invoke: %w", err)
	}

	var resp bedrockAnthropicResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return Completion{}, fmt.Errorf("unmarshal bedrock response: %w", err)
	}

	completion := Completion{
		TokensUsed:   resp.Usage.InputTokens + resp.Usage.OutputTokens,
		FinishReason: resp.StopReason,
	}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			completion.Content += block.Text
		case "tool_use":
			var params map[string]interface{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &params); err != nil {
					return Completion{}, fmt.Errorf("unmarshal tool_use input for %q: %w", block.Name, err)
				}
			}
			completion.ToolCalls = append(completion.ToolCalls, ToolCall{ToolName: block.Name, Parameters: params})
		}
	}
	return completion, nil
}
