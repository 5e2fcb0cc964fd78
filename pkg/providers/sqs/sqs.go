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

package sqs

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	servicesqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
)

// maxMessageBytes is a guard below the hard 256KiB queue limit; payloads above it are sent in
// deferred form instead.
const maxMessageBytes = 250 * 1024

type Provider struct {
	client sdk.SQSAPI

	mu        sync.Mutex
	queueName string
	queueURL  string
}

func NewProvider(client sdk.SQSAPI, queueName string) *Provider {
	return &Provider{
		client:    client,
		queueName: queueName,
	}
}

// NewProviderWithURL skips queue discovery when the URL is already configured.
func NewProviderWithURL(client sdk.SQSAPI, queueURL string) *Provider {
	return &Provider{
		client:   client,
		queueURL: queueURL,
	}
}

func (p *Provider) QueueURL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queueURL != "" {
		return p.queueURL, nil
	}
	out, err := p.client.GetQueueUrl(ctx, &servicesqs.GetQueueUrlInput{QueueName: aws.String(p.queueName)})
	if err != nil {
		return "", fmt.Errorf("discovering queue url for %q, %w", p.queueName, err)
	}
	p.queueURL = aws.ToString(out.QueueUrl)
	return p.queueURL, nil
}

// SendMessage enqueues the payload and returns the message id.
func (p *Provider) SendMessage(ctx context.Context, body string) (string, error) {
	if len(body) > maxMessageBytes {
		return "", fmt.Errorf("message of %d bytes exceeds queue size guard", len(body))
	}
	queueURL, err := p.QueueURL(ctx)
	if err != nil {
		return "", err
	}
	out, err := p.client.SendMessage(ctx, &servicesqs.SendMessageInput{
		MessageBody: aws.String(body),
		QueueUrl:    aws.String(queueURL),
	})
	if err != nil {
		return "", fmt.Errorf("sending message, %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// Fits reports whether the payload is under the queue size guard.
func (p *Provider) Fits(body string) bool {
	return len(body) <= maxMessageBytes
}

// GetMessages long-polls the queue for a batch of messages.
func (p *Provider) GetMessages(ctx context.Context) ([]sqstypes.Message, error) {
	queueURL, err := p.QueueURL(ctx)
	if err != nil {
		return nil, err
	}
	out, err := p.client.ReceiveMessage(ctx, &servicesqs.ReceiveMessageInput{
		MaxNumberOfMessages: 10,
		VisibilityTimeout:   300,
		WaitTimeSeconds:     20,
		QueueUrl:            aws.String(queueURL),
	})
	if err != nil {
		return nil, fmt.Errorf("receiving messages, %w", err)
	}
	return out.Messages, nil
}

func (p *Provider) DeleteMessage(ctx context.Context, receiptHandle *string) error {
	queueURL, err := p.QueueURL(ctx)
	if err != nil {
		return err
	}
	if _, err := p.client.DeleteMessage(ctx, &servicesqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: receiptHandle,
	}); err != nil {
		return fmt.Errorf("deleting message, %w", err)
	}
	return nil
}
