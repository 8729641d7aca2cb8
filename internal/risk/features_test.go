package risk

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loginEvent(id, ts string, result Result) LogEvent {
	return LogEvent{
		EventID: id,
		TS:      ts,
		Actor:   Actor{UserID: "u-1"},
		Action:  "LOGIN",
		Result:  result,
		Source:  Source{IP: "10.0.0.1", Country: "KR"},
		Target:  Target{Resource: "console"},
	}
}

func TestExtractFeatures_Empty(t *testing.T) {
	f, err := ExtractFeatures(nil, &Baseline{KnownCountries: []string{"KR"}})
	require.NoError(t, err)
	assert.Equal(t, Features{}, f)
}

func TestExtractFeatures_BurstWindow(t *testing.T) {
	t.Run("窗口内全部失败计数", func(t *testing.T) {
		logs := make([]LogEvent, 0, 6)
		for i := 0; i < 6; i++ {
			logs = append(logs, loginEvent(fmt.Sprintf("e%d", i), fmt.Sprintf("2024-03-01T10:0%d:00Z", i), ResultFail))
		}
		f, err := ExtractFeatures(logs, nil)
		require.NoError(t, err)
		assert.Equal(t, 6, f.FailedLoginBurstCount)
	})

	t.Run("超出 300 秒的事件不计入", func(t *testing.T) {
		logs := []LogEvent{
			loginEvent("old", "2024-03-01T09:54:59Z", ResultFail),
			loginEvent("edge", "2024-03-01T09:55:00Z", ResultFail),
			loginEvent("latest", "2024-03-01T10:00:00Z", ResultFail),
		}
		f, err := ExtractFeatures(logs, nil)
		require.NoError(t, err)
		assert.Equal(t, 2, f.FailedLoginBurstCount)
	})

	t.Run("只统计 LOGIN 且 FAIL，动作大小写不敏感", func(t *testing.T) {
		read := loginEvent("r", "2024-03-01T10:00:01Z", ResultFail)
		read.Action = "READ"
		lower := loginEvent("l", "2024-03-01T10:00:02Z", ResultFail)
		lower.Action = "login"
		ok := loginEvent("s", "2024-03-01T10:00:03Z", ResultSuccess)
		f, err := ExtractFeatures([]LogEvent{read, lower, ok}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, f.FailedLoginBurstCount)
	})

	t.Run("输入顺序不影响结果", func(t *testing.T) {
		ordered := []LogEvent{
			loginEvent("a", "2024-03-01T09:50:00Z", ResultFail),
			loginEvent("b", "2024-03-01T09:58:00Z", ResultFail),
			loginEvent("c", "2024-03-01T09:59:00Z", ResultFail),
			loginEvent("d", "2024-03-01T10:00:00Z", ResultFail),
		}
		reversed := []LogEvent{ordered[3], ordered[1], ordered[0], ordered[2]}

		f1, err := ExtractFeatures(ordered, nil)
		require.NoError(t, err)
		f2, err := ExtractFeatures(reversed, nil)
		require.NoError(t, err)
		assert.Equal(t, f1, f2)
		assert.Equal(t, 3, f1.FailedLoginBurstCount)
	})
}

func TestExtractFeatures_NightAccess(t *testing.T) {
	cases := []struct {
		ts    string
		night bool
	}{
		{"2024-03-01T00:00:00Z", true},
		{"2024-03-01T05:59:59Z", true},
		{"2024-03-01T06:00:00Z", false},
		{"2024-03-01T23:59:59Z", false},
		// 09:00+09:00 即 00:00 UTC
		{"2024-03-01T09:00:00+09:00", true},
		{"2024-03-01T03:00:00", true},
	}
	for _, tc := range cases {
		t.Run(tc.ts, func(t *testing.T) {
			f, err := ExtractFeatures([]LogEvent{loginEvent("e", tc.ts, ResultSuccess)}, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.night, f.NightAccess)
		})
	}
}

func TestExtractFeatures_NewCountry(t *testing.T) {
	ev := loginEvent("e", "2024-03-01T12:00:00Z", ResultSuccess)
	ev.Source.Country = "US"

	t.Run("无基线", func(t *testing.T) {
		f, err := ExtractFeatures([]LogEvent{ev}, nil)
		require.NoError(t, err)
		assert.False(t, f.NewCountry)
	})

	t.Run("国家不在基线内", func(t *testing.T) {
		f, err := ExtractFeatures([]LogEvent{ev}, &Baseline{KnownCountries: []string{"KR"}})
		require.NoError(t, err)
		assert.True(t, f.NewCountry)
	})

	t.Run("国家在基线内", func(t *testing.T) {
		f, err := ExtractFeatures([]LogEvent{ev}, &Baseline{KnownCountries: []string{"KR", "US"}})
		require.NoError(t, err)
		assert.False(t, f.NewCountry)
	})

	t.Run("锚点事件缺少国家", func(t *testing.T) {
		noCountry := ev
		noCountry.Source.Country = ""
		f, err := ExtractFeatures([]LogEvent{noCountry}, &Baseline{KnownCountries: []string{"KR"}})
		require.NoError(t, err)
		assert.False(t, f.NewCountry)
	})

	t.Run("只看最新事件", func(t *testing.T) {
		earlier := ev
		earlier.TS = "2024-03-01T11:00:00Z"
		latest := ev
		latest.Source.Country = "KR"
		f, err := ExtractFeatures([]LogEvent{latest, earlier}, &Baseline{KnownCountries: []string{"KR"}})
		require.NoError(t, err)
		assert.False(t, f.NewCountry)
	})
}

func TestExtractFeatures_NeverSetsNewDevice(t *testing.T) {
	ev := loginEvent("e", "2024-03-01T12:00:00Z", ResultSuccess)
	ev.Source.DeviceID = "unknown-device"
	f, err := ExtractFeatures([]LogEvent{ev}, &Baseline{KnownDevices: []string{"laptop-1"}})
	require.NoError(t, err)
	assert.False(t, f.NewDevice)
}

func TestExtractFeatures_ParseError(t *testing.T) {
	logs := []LogEvent{
		loginEvent("ok", "2024-03-01T12:00:00Z", ResultFail),
		loginEvent("bad", "yesterday at noon", ResultFail),
	}
	_, err := ExtractFeatures(logs, nil)
	require.Error(t, err)

	var pe *ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "bad", pe.EventID)
	assert.Equal(t, "yesterday at noon", pe.Value)
}

func TestParseTimestamp(t *testing.T) {
	t.Run("Z 与显式偏移等价", func(t *testing.T) {
		a, err := ParseTimestamp("2024-03-01T10:00:00Z")
		require.NoError(t, err)
		b, err := ParseTimestamp("2024-03-01T19:00:00+09:00")
		require.NoError(t, err)
		assert.True(t, a.Equal(b))
		assert.Equal(t, "UTC", b.Location().String())
	})

	t.Run("基本格式偏移", func(t *testing.T) {
		want, err := ParseTimestamp("2024-05-01T05:00:00Z")
		require.NoError(t, err)
		for _, ts := range []string{
			"2024-05-01T14:00:00+0900",
			"2024-05-01T14:00:00+09",
			"2024-05-01 14:00:00+0900",
			"2024-05-01T14:00:00.250+0900",
		} {
			got, err := ParseTimestamp(ts)
			require.NoError(t, err, ts)
			assert.True(t, want.Equal(got.Truncate(time.Second)), ts)
		}
	})

	t.Run("小数秒与空格分隔", func(t *testing.T) {
		a, err := ParseTimestamp("2024-03-01 10:00:00.123456")
		require.NoError(t, err)
		assert.Equal(t, 123456000, a.Nanosecond())
	})

	t.Run("非法格式", func(t *testing.T) {
		_, err := ParseTimestamp("2024/03/01 10:00")
		assert.Error(t, err)
	})
}
