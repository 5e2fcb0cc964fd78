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

package store

import (
	"time"

	"github.com/mannylee/cloudops-command-center/pkg/analysis"
	"github.com/mannylee/cloudops-command-center/pkg/providers/health"
)

const (
	StatusOpen     = "open"
	StatusClosed   = "closed"
	StatusUpcoming = "upcoming"
	StatusUnknown  = "unknown"

	// AnalysisVersion stamps the assessment schema carried on each record.
	AnalysisVersion = "1.0"

	// DateLayout renders startTime; DateTimeLayout renders lastUpdateTime and the analysis
	// timestamp. Both are fixed wire formats consumed downstream.
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// Record is one (event, account) row in the events table. eventArn is the partition key and
// accountId the sort key.
type Record struct {
	EventARN              string `dynamodbav:"eventArn" json:"eventArn"`
	AccountID             string `dynamodbav:"accountId" json:"accountId"`
	AccountName           string `dynamodbav:"accountName" json:"accountName"`
	EventType             string `dynamodbav:"eventType" json:"eventType"`
	EventTypeCategory     string `dynamodbav:"eventTypeCategory" json:"eventTypeCategory"`
	Service               string `dynamodbav:"service" json:"service"`
	Region                string `dynamodbav:"region" json:"region"`
	StartTime             string `dynamodbav:"startTime" json:"startTime"`
	LastUpdateTime        string `dynamodbav:"lastUpdateTime" json:"lastUpdateTime"`
	StatusCode            string `dynamodbav:"statusCode" json:"statusCode"`
	Description           string `dynamodbav:"description" json:"description"`
	SimplifiedDescription string `dynamodbav:"simplifiedDescription" json:"simplifiedDescription"`
	AffectedResources     string `dynamodbav:"affectedResources" json:"affectedResources"`

	Critical              string `dynamodbav:"critical" json:"critical"`
	RiskLevel             string `dynamodbav:"riskLevel" json:"riskLevel"`
	TimeSensitivity       string `dynamodbav:"timeSensitivity" json:"timeSensitivity"`
	RiskCategory          string `dynamodbav:"riskCategory" json:"riskCategory"`
	ImpactAnalysis        string `dynamodbav:"impactAnalysis" json:"impactAnalysis"`
	RequiredActions       string `dynamodbav:"requiredActions" json:"requiredActions"`
	ConsequencesIfIgnored string `dynamodbav:"consequencesIfIgnored" json:"consequencesIfIgnored"`
	EventImpactType       string `dynamodbav:"eventImpactType" json:"eventImpactType"`
	AnalysisText          string `dynamodbav:"analysisText" json:"analysisText"`
	AnalysisTimestamp     string `dynamodbav:"analysisTimestamp" json:"analysisTimestamp"`
	AnalysisVersion       string `dynamodbav:"analysisVersion" json:"analysisVersion"`

	TTL int64 `dynamodbav:"ttl" json:"ttl"`
}

// Active reports whether this row still contributes to dashboard counts.
func (r Record) Active() bool {
	return r.StatusCode != StatusClosed
}

// RecordInput collects everything needed to compose one row.
type RecordInput struct {
	Event         health.Event
	AccountID     string
	AccountName   string
	StatusCode    string
	Description   string
	Entities      []health.Entity
	Assessment    analysis.Analysis
	AnalyzedAt    time.Time
	RetentionDays int
}

// NewRecord composes a row from the event, its per-account status and the assessment. The TTL
// anchors on whichever of lastUpdateTime and startTime is later, so a freshly updated event is
// never expired by an old start time.
func NewRecord(in RecordInput) Record {
	return Record{
		EventARN:              in.Event.ARN,
		AccountID:             in.AccountID,
		AccountName:           in.AccountName,
		EventType:             in.Event.EventTypeCode,
		EventTypeCategory:     in.Event.EventTypeCategory,
		Service:               in.Event.Service,
		Region:                in.Event.Region,
		StartTime:             formatTime(in.Event.StartTime, DateLayout),
		LastUpdateTime:        formatTime(in.Event.LastUpdatedTime, DateTimeLayout),
		StatusCode:            in.StatusCode,
		Description:           in.Description,
		SimplifiedDescription: health.SimplifiedDescription(in.Event.Service, in.Event.EventTypeCode),
		AffectedResources:     health.ExtractAffectedResources(in.Entities),
		Critical:              in.Assessment.Critical,
		RiskLevel:             in.Assessment.RiskLevel,
		TimeSensitivity:       in.Assessment.TimeSensitivity,
		RiskCategory:          in.Assessment.RiskCategory,
		ImpactAnalysis:        in.Assessment.ImpactAnalysis,
		RequiredActions:       in.Assessment.RequiredActions,
		ConsequencesIfIgnored: in.Assessment.ConsequencesIfIgnored,
		EventImpactType:       in.Assessment.EventImpactType,
		AnalysisText:          in.Assessment.Raw,
		AnalysisTimestamp:     in.AnalyzedAt.UTC().Format(DateTimeLayout),
		AnalysisVersion:       AnalysisVersion,
		TTL:                   ExpiryEpoch(in.Event.StartTime, in.Event.LastUpdatedTime, in.AnalyzedAt, in.RetentionDays),
	}
}

// ExpiryEpoch computes the row TTL: retention days past the later of start and last update,
// falling back to now when the event carries no usable times.
func ExpiryEpoch(startTime, lastUpdateTime, now time.Time, retentionDays int) int64 {
	anchor := lastUpdateTime
	if startTime.After(anchor) {
		anchor = startTime
	}
	if anchor.IsZero() {
		anchor = now
	}
	return anchor.Add(time.Duration(retentionDays) * 24 * time.Hour).Unix()
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}
