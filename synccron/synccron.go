// Copyright 2025-2026
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package synccron

import (
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/wallet-pulse/wp-api/common"
)

const (
	AtHourly  = "@hourly"
	AtDaily   = "@daily"
	AtWeekly  = "@weekly"
	AtMonthly = "@monthly"
	AtEvery   = "@every"
)

var (
	ErrMalformedTimeSpec    = errors.New("malformed time spec")
	ErrFieldOutOfBounds     = errors.New("time spec field is out of bounds")
	ErrConflictingModifiers = errors.New("schedule has more than one @ modifier")
	ErrUnknownModifier      = errors.New("unknown @ modifier")
	ErrDurationParseError   = errors.New("could not parse duration string")
)

type SyncCron struct {
	Schedule       cron.Schedule
	ScheduleString string
	TimeSpec       string
	Descriptor     string
}

// SyncCron schedules portfolio reconciliation. Chains settle around the clock
// so there is no market calendar to consult; schedules use the standard CRON
// format of: Minutes(Min) Hours(H) DayOfMonth(DoM) Month(M) DayOfWeek(DoW)
// evaluated in UTC. Fields omitted from the end of a spec default to '*'.
// See: https://en.wikipedia.org/wiki/Cron
//
// Descriptor modifiers are supported:
//
//	@hourly  - Run once an hour; the Minute field offsets within the hour
//	@daily   - Run once a day at midnight UTC; the Minute and Hour fields
//	           offset from midnight
//	@weekly  - Run once a week on Sunday at midnight UTC
//	@monthly - Run once a month on the first at midnight UTC
//	@every   - Run at a fixed interval given as a Go duration
//
// Examples:
//   - every 5 minutes: */5 * * * *
//   - daily at 06:30 UTC: @daily 30 6
//   - mondays at midnight: 0 0 * * 1
//   - every 4 hours: @every 4h
func New(cronSpec string) (*SyncCron, error) {
	specParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	scheduleStr := strings.TrimSpace(cronSpec)
	if scheduleStr == "" {
		return nil, ErrMalformedTimeSpec
	}

	// @every takes a duration instead of cron fields
	if tokens := strings.Fields(scheduleStr); tokens[0] == AtEvery {
		if len(tokens) != 2 {
			return nil, ErrMalformedTimeSpec
		}
		dur, err := time.ParseDuration(tokens[1])
		if err != nil {
			log.Error().Str("DurationToken", tokens[1]).Msg("could not parse @every duration")
			return nil, ErrDurationParseError
		}
		return &SyncCron{
			Schedule:       cron.Every(dur),
			ScheduleString: cronSpec,
			TimeSpec:       strings.Join(tokens, " "),
			Descriptor:     AtEvery,
		}, nil
	}

	scheduleStr = expandBriefFormat(scheduleStr)

	// separate the descriptor token from the timespec
	tokens := strings.Split(scheduleStr, " ")
	timeSpecTokens := make([]string, 0, 5)
	var descriptor string
	for _, token := range tokens {
		if token[0] == '@' {
			if descriptor != "" {
				return nil, ErrConflictingModifiers
			}
			descriptor = token
		} else {
			timeSpecTokens = append(timeSpecTokens, token)
		}
	}

	if descriptor != "" && len(timeSpecTokens) != 5 {
		return nil, ErrMalformedTimeSpec
	}

	var timeSpec string
	var err error
	switch descriptor {
	case "":
		timeSpec = strings.Join(timeSpecTokens, " ")
	case AtHourly:
		minute := timeSpecTokens[0]
		if minute == "*" {
			minute = "0"
		}
		timeSpec = strings.Join([]string{minute, "*", "*", "*", "*"}, " ")
	case AtDaily:
		if timeSpec, err = parseTimeRelativeTo(timeSpecTokens, 0, 0); err != nil {
			return nil, err
		}
	case AtWeekly:
		if timeSpecTokens[4] == "*" {
			timeSpecTokens[4] = "0"
		}
		if timeSpec, err = parseTimeRelativeTo(timeSpecTokens, 0, 0); err != nil {
			return nil, err
		}
	case AtMonthly:
		if timeSpecTokens[2] == "*" {
			timeSpecTokens[2] = "1"
		}
		if timeSpec, err = parseTimeRelativeTo(timeSpecTokens, 0, 0); err != nil {
			return nil, err
		}
	default:
		return nil, ErrUnknownModifier
	}

	schedule, err := specParser.Parse(timeSpec)
	if err != nil {
		log.Error().Err(err).Str("TimeSpec", timeSpec).Str("SyncCronSpec", cronSpec).Msg("robfig/cron could not parse timespec")
		return nil, err
	}

	sc := &SyncCron{
		Schedule:       schedule,
		ScheduleString: cronSpec,
		TimeSpec:       timeSpec,
		Descriptor:     descriptor,
	}

	return sc, nil
}

// Next returns the next time the schedule fires after forDate
func (sc *SyncCron) Next(forDate time.Time) time.Time {
	return sc.Schedule.Next(forDate.In(common.GetTimezone()))
}

// IsSyncDay evaluates the given date against the schedule and returns true if
// the schedule fires at some point during that UTC day. The time portion of
// the schedule is ignored when evaluating this function
func (sc *SyncCron) IsSyncDay(forDate time.Time) bool {
	day := forDate.In(common.GetTimezone())
	t1 := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, common.GetTimezone())
	t0 := t1.Add(-time.Nanosecond)
	next := sc.Next(t0)
	nextDate := time.Date(next.Year(), next.Month(), next.Day(), 0, 0, 0, 0, common.GetTimezone())
	return nextDate.Equal(t1)
}

// Due returns true if the schedule has fired between lastRun and now. A zero
// lastRun means the schedule has never run and is always due
func (sc *SyncCron) Due(lastRun time.Time, now time.Time) bool {
	if lastRun.IsZero() {
		return true
	}
	return !sc.Next(lastRun).After(now.In(common.GetTimezone()))
}
