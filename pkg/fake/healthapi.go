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

	"github.com/aws/aws-sdk-go-v2/service/health"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
)

type HealthAPI struct {
	sdk.HealthAPI

	DescribeEventsForOrganizationBehavior           MockedFunction[health.DescribeEventsForOrganizationInput, health.DescribeEventsForOrganizationOutput]
	DescribeEventDetailsForOrganizationBehavior     MockedFunction[health.DescribeEventDetailsForOrganizationInput, health.DescribeEventDetailsForOrganizationOutput]
	DescribeAffectedAccountsForOrganizationBehavior MockedFunction[health.DescribeAffectedAccountsForOrganizationInput, health.DescribeAffectedAccountsForOrganizationOutput]
	DescribeAffectedEntitiesForOrganizationBehavior MockedFunction[health.DescribeAffectedEntitiesForOrganizationInput, health.DescribeAffectedEntitiesForOrganizationOutput]
	DescribeEventDetailsBehavior                    MockedFunction[health.DescribeEventDetailsInput, health.DescribeEventDetailsOutput]
	DescribeAffectedEntitiesBehavior                MockedFunction[health.DescribeAffectedEntitiesInput, health.DescribeAffectedEntitiesOutput]
}

// Reset must be called between tests otherwise tests will pollute each other.
func (h *HealthAPI) Reset() {
	h.DescribeEventsForOrganizationBehavior.Reset()
	h.DescribeEventDetailsForOrganizationBehavior.Reset()
	h.DescribeAffectedAccountsForOrganizationBehavior.Reset()
	h.DescribeAffectedEntitiesForOrganizationBehavior.Reset()
	h.DescribeEventDetailsBehavior.Reset()
	h.DescribeAffectedEntitiesBehavior.Reset()
}

func (h *HealthAPI) DescribeEventsForOrganization(_ context.Context, input *health.DescribeEventsForOrganizationInput, _ ...func(*health.Options)) (*health.DescribeEventsForOrganizationOutput, error) {
	return h.DescribeEventsForOrganizationBehavior.Invoke(input, func(*health.DescribeEventsForOrganizationInput) (*health.DescribeEventsForOrganizationOutput, error) {
		return &health.DescribeEventsForOrganizationOutput{}, nil
	})
}

func (h *HealthAPI) DescribeEventDetailsForOrganization(_ context.Context, input *health.DescribeEventDetailsForOrganizationInput, _ ...func(*health.Options)) (*health.DescribeEventDetailsForOrganizationOutput, error) {
	return h.DescribeEventDetailsForOrganizationBehavior.Invoke(input, func(*health.DescribeEventDetailsForOrganizationInput) (*health.DescribeEventDetailsForOrganizationOutput, error) {
		return &health.DescribeEventDetailsForOrganizationOutput{}, nil
	})
}

func (h *HealthAPI) DescribeAffectedAccountsForOrganization(_ context.Context, input *health.DescribeAffectedAccountsForOrganizationInput, _ ...func(*health.Options)) (*health.DescribeAffectedAccountsForOrganizationOutput, error) {
	return h.DescribeAffectedAccountsForOrganizationBehavior.Invoke(input, func(*health.DescribeAffectedAccountsForOrganizationInput) (*health.DescribeAffectedAccountsForOrganizationOutput, error) {
		return &health.DescribeAffectedAccountsForOrganizationOutput{}, nil
	})
}

func (h *HealthAPI) DescribeAffectedEntitiesForOrganization(_ context.Context, input *health.DescribeAffectedEntitiesForOrganizationInput, _ ...func(*health.Options)) (*health.DescribeAffectedEntitiesForOrganizationOutput, error) {
	return h.DescribeAffectedEntitiesForOrganizationBehavior.Invoke(input, func(*health.DescribeAffectedEntitiesForOrganizationInput) (*health.DescribeAffectedEntitiesForOrganizationOutput, error) {
		return &health.DescribeAffectedEntitiesForOrganizationOutput{}, nil
	})
}

func (h *HealthAPI) DescribeEventDetails(_ context.Context, input *health.DescribeEventDetailsInput, _ ...func(*health.Options)) (*health.DescribeEventDetailsOutput, error) {
	return h.DescribeEventDetailsBehavior.Invoke(input, func(*health.DescribeEventDetailsInput) (*health.DescribeEventDetailsOutput, error) {
		return &health.DescribeEventDetailsOutput{}, nil
	})
}

func (h *HealthAPI) DescribeAffectedEntities(_ context.Context, input *health.DescribeAffectedEntitiesInput, _ ...func(*health.Options)) (*health.DescribeAffectedEntitiesOutput, error) {
	return h.DescribeAffectedEntitiesBehavior.Invoke(input, func(*health.DescribeAffectedEntitiesInput) (*health.DescribeAffectedEntitiesOutput, error) {
		return &health.DescribeAffectedEntitiesOutput{}, nil
	})
}
