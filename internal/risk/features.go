package risk

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"time"
)

const (
	// BurstWindow 失败登录突发的统计窗口（以最新事件为锚点向前）
	BurstWindow = 5 * time.Minute

	nightStartHour = 0
	nightEndHour   = 5
)

// 支持的 ISO-8601 格式；小数秒在解析时自动接受，偏移可写作 +09:00、+0900 或 +09
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05Z07",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

var errUnsupportedTimestamp = errors.New("不支持的 ISO-8601 格式")

// ParseTimestamp 将 ISO-8601 时间戳解析为 UTC 时间。
// 结尾的 Z 表示 UTC，不带时区偏移的时间按 UTC 处理。
func ParseTimestamp(ts string) (time.Time, error) {
	value := strings.TrimSpace(ts)
	if strings.HasSuffix(value, "z") {
		value = value[:len(value)-1] + "Z"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &ParseError{Value: ts, Err: errUnsupportedTimestamp}
}

type timedEvent struct {
	at    time.Time
	event *LogEvent
}

// ExtractFeatures 从一批日志中计算风险特征。
// 空日志返回零值特征；任一时间戳无法解析时整体返回 *ParseError。
func ExtractFeatures(logs []LogEvent, baseline *Baseline) (Features, error) {
	if len(logs) == 0 {
		return Features{}, nil
	}

	events := make([]timedEvent, 0, len(logs))
	for i := range logs {
		at, err := ParseTimestamp(logs[i].TS)
		if err != nil {
			var pe *ParseError
			if errors.As(err, &pe) {
				pe.EventID = logs[i].EventID
			}
			return Features{}, err
		}
		events = append(events, timedEvent{at: at, event: &logs[i]})
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].at.Before(events[j].at)
	})

	anchor := events[len(events)-1]

	return Features{
		FailedLoginBurstCount: failedLoginBurst(events, anchor.at),
		NightAccess:           isNight(anchor.at),
		NewCountry:            isNewCountry(anchor.event, baseline),
	}, nil
}

// failedLoginBurst 从锚点向前扫描，超出窗口即停止
func failedLoginBurst(events []timedEvent, anchor time.Time) int {
	count := 0
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if anchor.Sub(e.at) > BurstWindow {
			break
		}
		if strings.ToUpper(e.event.Action) == "LOGIN" && e.event.Result == ResultFail {
			count++
		}
	}
	return count
}

func isNight(at time.Time) bool {
	hour := at.UTC().Hour()
	return hour >= nightStartHour && hour <= nightEndHour
}

func isNewCountry(latest *LogEvent, baseline *Baseline) bool {
	if baseline == nil || latest.Source.Country == "" {
		return false
	}
	return !slices.Contains(baseline.KnownCountries, latest.Source.Country)
}
