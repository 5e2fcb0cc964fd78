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

package fake

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
)

type BedrockRuntimeAPI struct {
	sdk.BedrockRuntimeAPI

	InvokeModelBehavior MockedFunction[bedrockruntime.InvokeModelInput, bedrockruntime.InvokeModelOutput]
}

// Reset must be called between tests otherwise tests will pollute each other.
func (b *BedrockRuntimeAPI) Reset() {
	b.InvokeModelBehavior.Reset()
}

func (b *BedrockRuntimeAPI) InvokeModel(_ context.Context, input *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	return b.InvokeModelBehavior.Invoke(input, func(*bedrockruntime.InvokeModelInput) (*bedrockruntime.InvokeModelOutput, error) {
		return &bedrockruntime.InvokeModelOutput{Body: ClaudeTextResponse(`{"critical": "NO", "risk_level": "LOW"}`)}, nil
	})
}

// ClaudeTextResponse wraps text in the model response envelope.
func ClaudeTextResponse(text string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"content": []map[string]string{{"type": "text", "text": text}},
	})
	return body
}
