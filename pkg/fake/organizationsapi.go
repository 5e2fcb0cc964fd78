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
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
)

type OrganizationsAPI struct {
	sdk.OrganizationsAPI

	DescribeAccountBehavior MockedFunction[organizations.DescribeAccountInput, organizations.DescribeAccountOutput]
}

// Reset must be called between tests otherwise tests will pollute each other.
func (o *OrganizationsAPI) Reset() {
	o.DescribeAccountBehavior.Reset()
}

func (o *OrganizationsAPI) DescribeAccount(_ context.Context, input *organizations.DescribeAccountInput, _ ...func(*organizations.Options)) (*organizations.DescribeAccountOutput, error) {
	return o.DescribeAccountBehavior.Invoke(input, func(input *organizations.DescribeAccountInput) (*organizations.DescribeAccountOutput, error) {
		return &organizations.DescribeAccountOutput{
			Account: &types.Account{
				Id:   input.AccountId,
				Name: aws.String(fmt.Sprintf("account-%s", aws.ToString(input.AccountId))),
			},
		}, nil
	})
}
