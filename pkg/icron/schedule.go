package icron

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Parser accepts standard five-field expressions, an optional leading seconds
// field and descriptors such as @hourly.
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour |
	cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type TriggerInfo struct {
	Next       time.Time
	Last       time.Time
	Expression string

	TimeSinceLast time.Duration
	TimeUntilNext time.Duration
}

func Parse(cronExpr string) (cron.Schedule, error) {
	if strings.TrimSpace(cronExpr) == "" {
		return nil, fmt.Errorf("cron expression is empty")
	}
	schedule, err := Parser.Parse(cronExpr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func Validate(cronExpr string) error {
	_, err := Parse(cronExpr)
	return err
}

func GetTriggerInfo(cronExpr string, refTime time.Time) (*TriggerInfo, error) {
	schedule, err := Parse(cronExpr)
	if err != nil {
		return nil, err
	}

	info := &TriggerInfo{
		Expression: cronExpr,
		Next:       schedule.Next(refTime),
		Last:       Previous(schedule, refTime),
	}
	if !info.Last.IsZero() {
		info.TimeSinceLast = refTime.Sub(info.Last)
	}
	info.TimeUntilNext = info.Next.Sub(refTime)
	return info, nil
}

// Previous returns the latest activation at or before refTime within the past
// year, or the zero time when there is none.
func Previous(schedule cron.Schedule, refTime time.Time) time.Time {
	var found time.Time
	// Step back an hour at a time until some activation falls before refTime,
	// then walk forward to the last one that does.
	for i := range 366 * 24 {
		checkTime := refTime.Add(-time.Minute - time.Duration(i)*time.Hour)
		candidate := schedule.Next(checkTime)
		if candidate.IsZero() {
			return found
		}
		if candidate.After(refTime) {
			continue
		}
		for !candidate.IsZero() && !candidate.After(refTime) {
			found = candidate
			candidate = schedule.Next(candidate)
		}
		break
	}
	return found
}
