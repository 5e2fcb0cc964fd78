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
	"strconv"
)

const (
	ChangeInsert = "INSERT"
	ChangeModify = "MODIFY"
	ChangeRemove = "REMOVE"

	// ttlPrincipalID identifies expiry-driven removals in the change feed.
	ttlPrincipalID = "dynamodb.amazonaws.com"
)

// StreamAttribute is one attribute value in a change-feed image, in the stream's JSON form.
type StreamAttribute struct {
	S    *string                    `json:"S,omitempty"`
	N    *string                    `json:"N,omitempty"`
	Bool *bool                      `json:"BOOL,omitempty"`
	Null *bool                      `json:"NULL,omitempty"`
	L    []StreamAttribute          `json:"L,omitempty"`
	M    map[string]StreamAttribute `json:"M,omitempty"`
}

func (a StreamAttribute) StringValue() string {
	if a.S != nil {
		return *a.S
	}
	if a.N != nil {
		return *a.N
	}
	return ""
}

func (a StreamAttribute) Int64Value() int64 {
	if a.N == nil {
		return 0
	}
	n, err := strconv.ParseInt(*a.N, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ChangeRecord is one record from the events table change feed.
type ChangeRecord struct {
	EventName string `json:"eventName"`
	Change    struct {
		Keys     map[string]StreamAttribute `json:"Keys"`
		NewImage map[string]StreamAttribute `json:"NewImage"`
		OldImage map[string]StreamAttribute `json:"OldImage"`
	} `json:"dynamodb"`
	UserIdentity *StreamUserIdentity `json:"userIdentity,omitempty"`
}

type StreamUserIdentity struct {
	Type        string `json:"type"`
	PrincipalID string `json:"principalId"`
}

// IsTTLRemoval reports whether the record is a removal performed by the table's expiry
// process rather than an application delete.
func (r ChangeRecord) IsTTLRemoval() bool {
	return r.EventName == ChangeRemove &&
		r.UserIdentity != nil &&
		r.UserIdentity.PrincipalID == ttlPrincipalID
}

// EventARN resolves the partition key from the keys or whichever image is present.
func (r ChangeRecord) EventARN() string {
	for _, image := range []map[string]StreamAttribute{r.Change.Keys, r.Change.NewImage, r.Change.OldImage} {
		if v := image["eventArn"].StringValue(); v != "" {
			return v
		}
	}
	return ""
}

// AccountID resolves the sort key from the keys or whichever image is present.
func (r ChangeRecord) AccountID() string {
	for _, image := range []map[string]StreamAttribute{r.Change.Keys, r.Change.NewImage, r.Change.OldImage} {
		if v := image["accountId"].StringValue(); v != "" {
			return v
		}
	}
	return ""
}

func (r ChangeRecord) NewStatus() string {
	return r.Change.NewImage["statusCode"].StringValue()
}

func (r ChangeRecord) OldStatus() string {
	return r.Change.OldImage["statusCode"].StringValue()
}

// StatusChanged reports whether a MODIFY flipped the row's status.
func (r ChangeRecord) StatusChanged() bool {
	return r.EventName == ChangeModify && r.NewStatus() != r.OldStatus()
}

// RecordFields extracts the categorization fields from the freshest image available.
func (r ChangeRecord) RecordFields() (service string, eventTypeCategory string) {
	image := r.Change.NewImage
	if len(image) == 0 {
		image = r.Change.OldImage
	}
	return image["service"].StringValue(), image["eventTypeCategory"].StringValue()
}
