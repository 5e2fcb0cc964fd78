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

// Package stream reacts to the events table change feed, keeping the dashboard counters in
// step with row inserts, status flips and expiries.
package stream

import (
	"context"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/mannylee/cloudops-command-center/pkg/counter"
	"github.com/mannylee/cloudops-command-center/pkg/store"
)

type Reactor struct {
	materializer *counter.Materializer
	clk          clock.Clock
	log          *zap.SugaredLogger
}

func NewReactor(materializer *counter.Materializer, clk clock.Clock, log *zap.SugaredLogger) *Reactor {
	return &Reactor{
		materializer: materializer,
		clk:          clk,
		log:          log.Named("stream"),
	}
}

// HandleChanges filters a change batch down to the records that can move a counter and folds
// them into the counts. The summary always reports the full batch size, filtered or not.
func (r *Reactor) HandleChanges(ctx context.Context, changes []store.ChangeRecord) (counter.Summary, error) {
	relevant := lo.Filter(changes, func(c store.ChangeRecord, _ int) bool { return Relevant(c) })
	changesTotal.Add(float64(len(changes)))
	changesRelevantTotal.Add(float64(len(relevant)))
	summary, err := r.materializer.ApplyChanges(ctx, relevant, r.clk.Now())
	summary.Processed = len(changes)
	if err != nil {
		return summary, err
	}
	r.log.Infow("change batch processed",
		"processed", summary.Processed, "count-updates", summary.CounterUpdates, "events-updated", summary.EventsUpdated)
	return summary, nil
}

// Relevant reports whether a change record can affect the counters: inserts, status-flipping
// modifications and expiry removals. Application deletes and other modifications are noise.
func Relevant(c store.ChangeRecord) bool {
	switch c.EventName {
	case store.ChangeInsert:
		return true
	case store.ChangeModify:
		return c.StatusChanged()
	case store.ChangeRemove:
		return c.IsTTLRemoval()
	}
	return false
}
