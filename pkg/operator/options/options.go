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

package options

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/mannylee/cloudops-command-center/pkg/utils/env"
)

// Options for running this binary
type Options struct {
	*flag.FlagSet
	// Pipeline
	RetentionWindowDays    int
	AnalysisWindowDays     int
	ExcludedServices       string
	EventCategories        string
	SyncInterval           time.Duration
	RecalculateInterval    time.Duration
	EnablePerAccountFanout bool
	// Bedrock
	BedrockModelID     string
	BedrockTemperature float64
	BedrockTopP        float64
	BedrockMaxTokens   int
	// Infrastructure
	QueueURL        string
	EventsTableName string
	CountsTableName string
	MetricsPort     int
}

// New creates an Options struct and registers CLI flags and environment variables to fill-in
// the Options struct fields
func New() *Options {
	opts := &Options{}
	f := flag.NewFlagSet("health-pipeline", flag.ContinueOnError)
	opts.FlagSet = f

	// Pipeline
	f.IntVar(&opts.RetentionWindowDays, "retention-window-days", env.WithDefaultInt("RETENTION_WINDOW_DAYS", 180), "Days an event row is retained and served before its TTL expires it")
	f.IntVar(&opts.AnalysisWindowDays, "analysis-window-days", env.WithDefaultInt("ANALYSIS_WINDOW_DAYS", 7), "Days of feed history fetched by a scheduled synchronization pass")
	f.StringVar(&opts.ExcludedServices, "excluded-services", env.WithDefaultString("EXCLUDED_SERVICES", ""), "Comma-separated service codes whose events are skipped")
	f.StringVar(&opts.EventCategories, "event-categories", env.WithDefaultString("EVENT_CATEGORIES", ""), "Comma-separated event categories to fetch; empty fetches all")
	f.DurationVar(&opts.SyncInterval, "sync-interval", env.WithDefaultDuration("SYNC_INTERVAL", 6*time.Hour), "Interval between scheduled synchronization passes")
	f.DurationVar(&opts.RecalculateInterval, "recalculate-interval", env.WithDefaultDuration("RECALCULATE_INTERVAL", time.Hour), "Interval between full counter recomputations")
	f.BoolVar(&opts.EnablePerAccountFanout, "enable-per-account-fanout", env.WithDefaultBool("ENABLE_PER_ACCOUNT_FANOUT", false), "If true then processed events are also handed off per affected account")

	// Bedrock
	f.StringVar(&opts.BedrockModelID, "bedrock-model-id", env.WithDefaultString("BEDROCK_MODEL_ID", "us.anthropic.claude-sonnet-4-20250514-v1:0"), "The Bedrock model invoked for event assessments")
	f.Float64Var(&opts.BedrockTemperature, "bedrock-temperature", env.WithDefaultFloat64("BEDROCK_TEMPERATURE", 0.1), "Sampling temperature for assessments")
	f.Float64Var(&opts.BedrockTopP, "bedrock-top-p", env.WithDefaultFloat64("BEDROCK_TOP_P", 0.9), "Nucleus sampling parameter for assessments")
	f.IntVar(&opts.BedrockMaxTokens, "bedrock-max-tokens", env.WithDefaultInt("BEDROCK_MAX_TOKENS", 4000), "Token cap per assessment response")

	// Infrastructure
	f.StringVar(&opts.QueueURL, "queue-url", env.WithDefaultString("QUEUE_URL", ""), "URL of the work queue for fanned-out units")
	f.StringVar(&opts.EventsTableName, "events-table-name", env.WithDefaultString("EVENTS_TABLE_NAME", ""), "DynamoDB table holding event records")
	f.StringVar(&opts.CountsTableName, "counts-table-name", env.WithDefaultString("COUNTS_TABLE_NAME", ""), "DynamoDB table holding per-account counters")
	f.IntVar(&opts.MetricsPort, "metrics-port", env.WithDefaultInt("METRICS_PORT", 8080), "The port the metric endpoint binds to")
	return opts
}

// MustParse reads the user passed flags, environment variables, and default values.
// Options are validated and panics if an error is returned
func (o *Options) MustParse() *Options {
	err := o.Parse(os.Args[1:])

	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		panic(err)
	}
	if err := o.Validate(); err != nil {
		panic(err)
	}
	return o
}

func (o Options) Validate() (err error) {
	if o.QueueURL == "" {
		err = multierr.Append(err, fmt.Errorf("QUEUE_URL is required"))
	}
	if o.EventsTableName == "" {
		err = multierr.Append(err, fmt.Errorf("EVENTS_TABLE_NAME is required"))
	}
	if o.CountsTableName == "" {
		err = multierr.Append(err, fmt.Errorf("COUNTS_TABLE_NAME is required"))
	}
	if o.RetentionWindowDays <= 0 {
		err = multierr.Append(err, fmt.Errorf("retention-window-days must be positive"))
	}
	if o.AnalysisWindowDays <= 0 {
		err = multierr.Append(err, fmt.Errorf("analysis-window-days must be positive"))
	}
	if o.BedrockTemperature < 0 || o.BedrockTemperature > 1 {
		err = multierr.Append(err, fmt.Errorf("bedrock-temperature must be within [0, 1]"))
	}
	if o.BedrockTopP <= 0 || o.BedrockTopP > 1 {
		err = multierr.Append(err, fmt.Errorf("bedrock-top-p must be within (0, 1]"))
	}
	if o.BedrockMaxTokens <= 0 {
		err = multierr.Append(err, fmt.Errorf("bedrock-max-tokens must be positive"))
	}
	return err
}

// ExcludedServiceList splits the comma-separated exclusion list, dropping empty entries.
func (o Options) ExcludedServiceList() []string {
	return splitList(o.ExcludedServices)
}

// EventCategoryList splits the comma-separated category list, dropping empty entries.
func (o Options) EventCategoryList() []string {
	return splitList(o.EventCategories)
}

func splitList(raw string) []string {
	return lo.FilterMap(strings.Split(raw, ","), func(s string, _ int) (string, bool) {
		trimmed := strings.TrimSpace(s)
		return trimmed, trimmed != ""
	})
}
