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

package account

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	sdk "github.com/mannylee/cloudops-command-center/pkg/aws/sdk"
	awserrors "github.com/mannylee/cloudops-command-center/pkg/errors"
)

// Provider resolves account IDs to their display names.
type Provider interface {
	Name(ctx context.Context, accountID string) string
}

// DefaultProvider caches name lookups. Resolution is best effort: any lookup failure falls
// back to the raw account ID so a record is never blocked on a naming call.
type DefaultProvider struct {
	sync.Mutex
	organizationsAPI sdk.OrganizationsAPI
	cache            *cache.Cache
	log              *zap.SugaredLogger
}

func NewDefaultProvider(organizationsAPI sdk.OrganizationsAPI, nameCache *cache.Cache, log *zap.SugaredLogger) *DefaultProvider {
	return &DefaultProvider{
		organizationsAPI: organizationsAPI,
		cache:            nameCache,
		log:              log.Named("account"),
	}
}

func (p *DefaultProvider) Name(ctx context.Context, accountID string) string {
	if accountID == "" {
		return ""
	}
	if name, ok := p.cache.Get(accountID); ok {
		return name.(string)
	}
	p.Lock()
	defer p.Unlock()
	// A racing caller may have filled the cache while we waited on the lock.
	if name, ok := p.cache.Get(accountID); ok {
		return name.(string)
	}
	out, err := p.organizationsAPI.DescribeAccount(ctx, &organizations.DescribeAccountInput{
		AccountId: aws.String(accountID),
	})
	if err != nil {
		if awserrors.IsAccessDenied(err) || awserrors.IsNotFound(err) {
			p.log.Debugw("account name unavailable, using id", "account-id", accountID, "error", err)
		} else {
			p.log.Warnw("describing account", "account-id", accountID, "error", err)
		}
		// Failures are not cached, so transient errors heal on the next lookup.
		return accountID
	}
	name := aws.ToString(out.Account.Name)
	if name == "" {
		name = accountID
	}
	p.cache.SetDefault(accountID, name)
	return name
}
