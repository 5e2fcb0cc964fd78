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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mannylee/cloudops-command-center/pkg/metrics"
	"github.com/mannylee/cloudops-command-center/pkg/operator"
	"github.com/mannylee/cloudops-command-center/pkg/operator/options"
	"github.com/mannylee/cloudops-command-center/pkg/router"
)

// pollBackoff paces queue polling after an empty receive or a receive error.
const pollBackoff = 5 * time.Second

func main() {
	opts := options.New().MustParse()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	op := operator.NewOperator(ctx, opts)
	log := op.Logger.Named("processor")
	defer func() { _ = op.Logger.Sync() }()
	log.Infow("starting",
		"queue-url", opts.QueueURL,
		"events-table", opts.EventsTableName,
		"counts-table", opts.CountsTableName,
		"per-account-fanout", opts.EnablePerAccountFanout,
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return serveMetrics(ctx, opts.MetricsPort, log) })
	group.Go(func() error { return pollQueue(ctx, op, log) })
	group.Go(func() error {
		return runOnTicker(ctx, op, log, opts.SyncInterval, router.Trigger{Mode: router.ModeScheduledSync})
	})
	group.Go(func() error {
		return runOnTicker(ctx, op, log, opts.RecalculateInterval, router.Trigger{Mode: router.ModeRecalculateCounts})
	})
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalw("exiting", "error", err)
	}
}

// pollQueue long-polls the work queue and routes each batch. Only messages the router did not
// report as failed are deleted; the rest reappear after the visibility timeout.
func pollQueue(ctx context.Context, op *operator.Operator, log *zap.SugaredLogger) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		messages, err := op.Queue.GetMessages(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Errorw("receiving messages", "error", err)
			if err := sleepContext(ctx, pollBackoff); err != nil {
				return err
			}
			continue
		}
		if len(messages) == 0 {
			continue
		}
		result, err := op.Router.Route(ctx, router.Trigger{
			Records: lo.Map(messages, func(m sqstypes.Message, _ int) router.TriggerRecord {
				return router.TriggerRecord{
					Source:    router.SourceQueue,
					MessageID: lo.FromPtr(m.MessageId),
					Body:      lo.FromPtr(m.Body),
				}
			}),
		})
		if err != nil {
			log.Errorw("routing queue batch", "error", err)
			continue
		}
		failed := lo.SliceToMap(result.FailedMessageIDs, func(id string) (string, struct{}) { return id, struct{}{} })
		for _, message := range messages {
			if _, ok := failed[lo.FromPtr(message.MessageId)]; ok {
				continue
			}
			if err := op.Queue.DeleteMessage(ctx, message.ReceiptHandle); err != nil {
				log.Errorw("deleting message", "message-id", lo.FromPtr(message.MessageId), "error", err)
			}
		}
	}
}

// runOnTicker routes the trigger immediately and then on every tick. Trigger failures are
// logged and retried on the next tick rather than taking the process down.
func runOnTicker(ctx context.Context, op *operator.Operator, log *zap.SugaredLogger, interval time.Duration, trigger router.Trigger) error {
	route := func() {
		result, err := op.Router.Route(ctx, trigger)
		if err != nil {
			log.Errorw("running scheduled trigger", "mode", trigger.Mode, "error", err)
			return
		}
		log.Infow("scheduled trigger complete", "mode", trigger.Mode, "result", result)
	}
	route()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			route()
		}
	}
}

func serveMetrics(ctx context.Context, port int, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Errorw("shutting down metrics server", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("serving metrics, %w", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
