// Package dataset builds the immutable benchmark payload.
package dataset

import (
	"fmt"
	"time"

	"github.com/payloadbench/apiserver/types"
)

// DefaultSize is the number of records served when no size is configured.
const DefaultSize = 5000

const (
	defaultTheme = "dark"
	bioTemplate  = "This is a bio for user %d. It contains some random text to increase the payload size. Lorem ipsum dolor sit amet."
)

var defaultRoles = []string{"user", "editor", "viewer"}

// Clock returns the time used to stamp lastLogin.
type Clock func() time.Time

// Generate returns count records with ids 0..count-1. Every field is a pure
// function of the id except Metadata.LastLogin, which is taken from clock
// once for the whole collection. A nil clock uses time.Now.
func Generate(count int, clock Clock) []types.Record {
	if count < 0 {
		count = 0
	}
	if clock == nil {
		clock = time.Now
	}
	lastLogin := clock().UTC().Format(time.RFC3339)

	records := make([]types.Record, 0, count)
	for i := 0; i < count; i++ {
		records = append(records, types.Record{
			ID:     i,
			Name:   fmt.Sprintf("User %d", i),
			Email:  fmt.Sprintf("user%d@example.com", i),
			Bio:    fmt.Sprintf(bioTemplate, i),
			Active: i%2 == 0,
			Roles:  append([]string(nil), defaultRoles...),
			Metadata: types.Metadata{
				LastLogin: lastLogin,
				Preferences: types.Preferences{
					Theme:         defaultTheme,
					Notifications: true,
				},
			},
		})
	}
	return records
}

// Dataset is the read-only record collection shared by every request handler.
// It is built once at startup and never mutated.
type Dataset struct {
	records     []types.Record
	generatedAt time.Time
}

// New generates a Dataset of count records.
func New(count int, clock Clock) *Dataset {
	if clock == nil {
		clock = time.Now
	}
	now := clock()
	return &Dataset{
		records:     Generate(count, func() time.Time { return now }),
		generatedAt: now,
	}
}

// Len returns the number of records.
func (d *Dataset) Len() int {
	return len(d.records)
}

// GeneratedAt returns the generation timestamp.
func (d *Dataset) GeneratedAt() time.Time {
	return d.generatedAt
}

// View returns the backing slice for read-only encoding paths. Callers must
// not modify the returned records.
func (d *Dataset) View() []types.Record {
	return d.records[:len(d.records):len(d.records)]
}
