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

package worker

import (
	"context"

	"github.com/samber/lo"

	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
	"github.com/mannylee/cloudops-command-center/pkg/store"
)

// entityStatus maps an upstream entity status onto a row status. Statuses the upstream has
// not documented resolve to unknown rather than guessing either way.
func entityStatus(code string) string {
	switch code {
	case "IMPAIRED", "PENDING":
		return store.StatusOpen
	case "UNIMPAIRED", "RESOLVED":
		return store.StatusClosed
	default:
		return store.StatusUnknown
	}
}

// resolution is the per-account outcome of one status pass.
type resolution struct {
	// Statuses holds one row status per requested account.
	Statuses map[string]string
	// Entities holds the affected entities observed per account.
	Entities map[string][]health.Entity
}

// resolveStatuses derives a row status for every account from the event's affected entities.
// A closed event short-circuits: every account is closed without touching the entity API.
// Otherwise entities are paged lazily, each account taking the worst status across its
// entities, and paging stops early once every account is already open. Accounts with no
// entities at all inherit the event-level status.
func resolveStatuses(ctx context.Context, provider health.Provider, event health.Event, accounts []string) (resolution, error) {
	res := resolution{
		Statuses: map[string]string{},
		Entities: map[string][]health.Entity{},
	}
	if event.StatusCode == store.StatusClosed {
		for _, account := range accounts {
			res.Statuses[account] = store.StatusClosed
		}
		return res, nil
	}
	pager := provider.EntityPager(event.ARN, accounts)
	for {
		entities, ok, err := pager.Next(ctx)
		if err != nil {
			return resolution{}, err
		}
		if !ok {
			break
		}
		for _, entity := range entities {
			res.Entities[entity.AccountID] = append(res.Entities[entity.AccountID], entity)
			status := entityStatus(entity.StatusCode)
			// Once set, only the closed-to-open transition revises an account's status, so an
			// undocumented upstream status never demotes an account already resolved as closed.
			if current, seen := res.Statuses[entity.AccountID]; !seen {
				res.Statuses[entity.AccountID] = status
			} else if current == store.StatusClosed && status == store.StatusOpen {
				res.Statuses[entity.AccountID] = store.StatusOpen
			}
		}
		// Nothing left to learn once every account is already at the worst status.
		if lo.EveryBy(accounts, func(a string) bool { return res.Statuses[a] == store.StatusOpen }) {
			break
		}
	}
	fallback := eventLevelStatus(event.StatusCode)
	for _, account := range accounts {
		if _, seen := res.Statuses[account]; !seen {
			res.Statuses[account] = fallback
		}
	}
	return res, nil
}

// eventLevelStatus is the fallback for accounts that report no entities.
func eventLevelStatus(eventStatus string) string {
	switch eventStatus {
	case store.StatusOpen, store.StatusUpcoming:
		return eventStatus
	case store.StatusClosed:
		return store.StatusClosed
	default:
		return store.StatusUnknown
	}
}
