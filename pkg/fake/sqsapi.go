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

	"github.com/aws/aws-sdk-go-v2/aws"
	servicesqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
)

type SQSAPI struct {
	sdk.SQSAPI

	GetQueueUrlBehavior    MockedFunction[servicesqs.GetQueueUrlInput, servicesqs.GetQueueUrlOutput]
	SendMessageBehavior    MockedFunction[servicesqs.SendMessageInput, servicesqs.SendMessageOutput]
	ReceiveMessageBehavior MockedFunction[servicesqs.ReceiveMessageInput, servicesqs.ReceiveMessageOutput]
	DeleteMessageBehavior  MockedFunction[servicesqs.DeleteMessageInput, servicesqs.DeleteMessageOutput]
}

// Reset must be called between tests otherwise tests will pollute each other.
func (s *SQSAPI) Reset() {
	s.GetQueueUrlBehavior.Reset()
	s.SendMessageBehavior.Reset()
	s.ReceiveMessageBehavior.Reset()
	s.DeleteMessageBehavior.Reset()
}

func (s *SQSAPI) GetQueueUrl(_ context.Context, input *servicesqs.GetQueueUrlInput, _ ...func(*servicesqs.Options)) (*servicesqs.GetQueueUrlOutput, error) {
	return s.GetQueueUrlBehavior.Invoke(input, func(*servicesqs.GetQueueUrlInput) (*servicesqs.GetQueueUrlOutput, error) {
		return &servicesqs.GetQueueUrlOutput{QueueUrl: aws.String("https://sqs.us-east-1.amazonaws.com/000000000000/fake-queue")}, nil
	})
}

func (s *SQSAPI) SendMessage(_ context.Context, input *servicesqs.SendMessageInput, _ ...func(*servicesqs.Options)) (*servicesqs.SendMessageOutput, error) {
	return s.SendMessageBehavior.Invoke(input, func(*servicesqs.SendMessageInput) (*servicesqs.SendMessageOutput, error) {
		return &servicesqs.SendMessageOutput{MessageId: aws.String(uuid.NewString())}, nil
	})
}

func (s *SQSAPI) ReceiveMessage(_ context.Context, input *servicesqs.ReceiveMessageInput, _ ...func(*servicesqs.Options)) (*servicesqs.ReceiveMessageOutput, error) {
	return s.ReceiveMessageBehavior.Invoke(input, func(*servicesqs.ReceiveMessageInput) (*servicesqs.ReceiveMessageOutput, error) {
		return &servicesqs.ReceiveMessageOutput{}, nil
	})
}

func (s *SQSAPI) DeleteMessage(_ context.Context, input *servicesqs.DeleteMessageInput, _ ...func(*servicesqs.Options)) (*servicesqs.DeleteMessageOutput, error) {
	return s.DeleteMessageBehavior.Invoke(input, func(*servicesqs.DeleteMessageInput) (*servicesqs.DeleteMessageOutput, error) {
		return &servicesqs.DeleteMessageOutput{}, nil
	})
}
