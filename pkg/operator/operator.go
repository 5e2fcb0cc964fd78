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

// Package operator wires configuration, AWS clients, and the pipeline components into one
// runnable processor.
package operator

import (
	"context"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsretry "github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/health"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	servicesqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/mannylee/cloudops-command-center/pkg/analysis"
	"github.com/mannylee/cloudops-command-center/pkg/counter"
	"github.com/mannylee/cloudops-command-center/pkg/dispatch"
	"github.com/mannylee/cloudops-command-center/pkg/operator/options"
	accountp "github.com/mannylee/cloudops-command-center/pkg/providers/account"
	healthp "github.com/mannylee/cloudops-command-center/pkg/providers/health"
	sqsp "github.com/mannylee/cloudops-command-center/pkg/providers/sqs"
	"github.com/mannylee/cloudops-command-center/pkg/query"
	"github.com/mannylee/cloudops-command-center/pkg/router"
	"github.com/mannylee/cloudops-command-center/pkg/store"
	"github.com/mannylee/cloudops-command-center/pkg/stream"
	"github.com/mannylee/cloudops-command-center/pkg/utils/env"
	"github.com/mannylee/cloudops-command-center/pkg/worker"
)

const (
	// accountNameTTL bounds staleness of cached account display names.
	accountNameTTL          = 12 * time.Hour
	cacheCleanupInterval    = 10 * time.Minute
	clientSideRetryAttempts = 5
)

// Operator holds everything the processor binary runs with.
type Operator struct {
	Config  aws.Config
	Options *options.Options
	Clock   clock.Clock
	Logger  *zap.SugaredLogger

	HealthProvider  healthp.Provider
	AccountProvider accountp.Provider
	Analyzer        *analysis.BedrockAnalyzer
	EventStore      *store.Store
	CounterStore    *store.CounterStore
	Queue           *sqsp.Provider
	Worker          *worker.Worker
	Dispatcher      *dispatch.Dispatcher
	Materializer    *counter.Materializer
	Reactor         *stream.Reactor
	QueryService    *query.Service
	Router          *router.Router
}

func NewOperator(ctx context.Context, opts *options.Options) *Operator {
	logger := NewLogger()
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRetryer(func() aws.Retryer {
			return awsretry.NewStandard(func(o *awsretry.StandardOptions) {
				o.MaxAttempts = clientSideRetryAttempts
			})
		}),
	)
	if err != nil {
		logger.Fatalf("unable to load SDK config, %v", err)
	}

	clk := clock.RealClock{}
	healthProvider := healthp.NewDefaultProvider(health.NewFromConfig(cfg), clk, logger)
	accountProvider := accountp.NewDefaultProvider(
		organizations.NewFromConfig(cfg),
		cache.New(accountNameTTL, cacheCleanupInterval),
		logger,
	)
	analyzer := analysis.NewBedrockAnalyzer(bedrockruntime.NewFromConfig(cfg), analysis.Config{
		ModelID:     opts.BedrockModelID,
		Temperature: opts.BedrockTemperature,
		TopP:        opts.BedrockTopP,
		MaxTokens:   opts.BedrockMaxTokens,
		// Each process gets its own identity so concurrent workers stagger and jitter
		// differently on the same payload.
		InstanceID: uuid.NewString(),
	}, logger)

	dynamodbClient := dynamodb.NewFromConfig(cfg)
	eventStore := store.NewStore(dynamodbClient, opts.EventsTableName, logger)
	counterStore := store.NewCounterStore(dynamodbClient, opts.CountsTableName, logger)
	queue := sqsp.NewProviderWithURL(servicesqs.NewFromConfig(cfg), opts.QueueURL)

	work := worker.NewWorker(healthProvider, accountProvider, analyzer, eventStore, worker.Options{
		RetentionDays: opts.RetentionWindowDays,
	}, clk, logger)
	dispatcher := dispatch.NewDispatcher(healthProvider, analyzer, eventStore, queue, work, dispatch.Options{
		AnalysisWindowDays: opts.AnalysisWindowDays,
		ExcludedServices:   opts.ExcludedServiceList(),
		EventCategories:    opts.EventCategoryList(),
		RetentionDays:      opts.RetentionWindowDays,
	}, clk, logger)
	materializer := counter.NewMaterializer(eventStore, counterStore, logger)
	reactor := stream.NewReactor(materializer, clk, logger)
	queryService := query.NewService(eventStore, counterStore, query.Options{
		WindowDays: opts.RetentionWindowDays,
	}, clk, logger)

	return &Operator{
		Config:          cfg,
		Options:         opts,
		Clock:           clk,
		Logger:          logger,
		HealthProvider:  healthProvider,
		AccountProvider: accountProvider,
		Analyzer:        analyzer,
		EventStore:      eventStore,
		CounterStore:    counterStore,
		Queue:           queue,
		Worker:          work,
		Dispatcher:      dispatcher,
		Materializer:    materializer,
		Reactor:         reactor,
		QueryService:    queryService,
		Router:          router.NewRouter(work, reactor, dispatcher, materializer, healthProvider, clk, logger),
	}
}

// NewLogger builds the process logger. Debug logging is opted into with LOG_LEVEL=debug.
func NewLogger() *zap.SugaredLogger {
	cfg := zap.NewProductionConfig()
	cfg.DisableStacktrace = true
	if level, err := zap.ParseAtomicLevel(env.WithDefaultString("LOG_LEVEL", "info")); err == nil {
		cfg.Level = level
	}
	logger, err := cfg.Build()
	if err != nil {
		log.Fatalf("building logger, %v", err)
	}
	return logger.Sugar()
}
