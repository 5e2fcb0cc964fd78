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

package account_test

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/smithy-go"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/mannylee/cloudops-command-center/pkg/fake"
	"github.com/mannylee/cloudops-command-center/pkg/providers/account"
)

var ctx context.Context
var organizationsAPI *fake.OrganizationsAPI
var nameCache *cache.Cache
var provider *account.DefaultProvider

func TestAccount(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Providers/Account")
}

var _ = BeforeEach(func() {
	ctx = context.Background()
	organizationsAPI = &fake.OrganizationsAPI{}
	nameCache = cache.New(time.Minute, time.Minute)
	provider = account.NewDefaultProvider(organizationsAPI, nameCache, zap.NewNop().Sugar())
})

var _ = Describe("Name", func() {
	It("should resolve and cache account names", func() {
		organizationsAPI.DescribeAccountBehavior.Output.Set(&organizations.DescribeAccountOutput{
			Account: &types.Account{Id: aws.String("111111111111"), Name: aws.String("payments-prod")},
		})

		Expect(provider.Name(ctx, "111111111111")).To(Equal("payments-prod"))
		Expect(provider.Name(ctx, "111111111111")).To(Equal("payments-prod"))
		Expect(organizationsAPI.DescribeAccountBehavior.Calls()).To(Equal(1))
	})

	It("should fall back to the account id on access denied", func() {
		organizationsAPI.DescribeAccountBehavior.Error.Set(&smithy.GenericAPIError{Code: "AccessDeniedException"})
		Expect(provider.Name(ctx, "222222222222")).To(Equal("222222222222"))
	})

	It("should not cache failures", func() {
		organizationsAPI.DescribeAccountBehavior.Error.Set(&smithy.GenericAPIError{Code: "AccessDeniedException"})
		Expect(provider.Name(ctx, "333333333333")).To(Equal("333333333333"))

		organizationsAPI.DescribeAccountBehavior.Output.Set(&organizations.DescribeAccountOutput{
			Account: &types.Account{Id: aws.String("333333333333"), Name: aws.String("sandbox")},
		})
		Expect(provider.Name(ctx, "333333333333")).To(Equal("sandbox"))
	})

	It("should return empty for an empty id", func() {
		Expect(provider.Name(ctx, "")).To(Equal(""))
		Expect(organizationsAPI.DescribeAccountBehavior.Calls()).To(Equal(0))
	})
})
