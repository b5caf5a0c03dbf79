package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mustEastern(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	assert.NoError(t, err)
	return loc
}

func TestIsOpen_RegularHours(t *testing.T) {
	c, err := New(Config{})
	assert.NoError(t, err)
	loc := mustEastern(t)

	// 2025-12-03 是周三。
	assert.True(t, c.IsOpen(time.Date(2025, 12, 3, 9, 30, 0, 0, loc)))
	assert.True(t, c.IsOpen(time.Date(2025, 12, 3, 12, 0, 0, 0, loc)))
	assert.True(t, c.IsOpen(time.Date(2025, 12, 3, 15, 59, 0, 0, loc)))

	// 收盘整点不含在内。
	assert.False(t, c.IsOpen(time.Date(2025, 12, 3, 16, 0, 0, 0, loc)))
	assert.False(t, c.IsOpen(time.Date(2025, 12, 3, 9, 29, 0, 0, loc)))
}

func TestIsOpen_Weekend(t *testing.T) {
	c, _ := New(Config{})
	loc := mustEastern(t)

	assert.False(t, c.IsOpen(time.Date(2025, 12, 6, 12, 0, 0, 0, loc))) // 周六
	assert.False(t, c.IsOpen(time.Date(2025, 12, 7, 12, 0, 0, 0, loc))) // 周日
}

func TestIsOpen_Holiday(t *testing.T) {
	c, err := New(Config{Holidays: []string{"2025-12-25"}})
	assert.NoError(t, err)
	loc := mustEastern(t)

	assert.False(t, c.IsOpen(time.Date(2025, 12, 25, 12, 0, 0, 0, loc)))
	assert.True(t, c.IsOpen(time.Date(2025, 12, 24, 12, 0, 0, 0, loc)))
}

func TestIsOpen_ConvertsCallerTimezone(t *testing.T) {
	c, _ := New(Config{})

	// UTC 14:30 = 美东 9:30（12 月为 EST）。
	assert.True(t, c.IsOpen(time.Date(2025, 12, 3, 14, 30, 0, 0, time.UTC)))
	assert.False(t, c.IsOpen(time.Date(2025, 12, 3, 14, 29, 0, 0, time.UTC)))
}

func TestIsOpen_CustomHours(t *testing.T) {
	c, err := New(Config{OpenTime: "08:00", CloseTime: "14:00"})
	assert.NoError(t, err)
	loc := mustEastern(t)

	assert.True(t, c.IsOpen(time.Date(2025, 12, 3, 8, 0, 0, 0, loc)))
	assert.False(t, c.IsOpen(time.Date(2025, 12, 3, 14, 0, 0, 0, loc)))
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := New(Config{Timezone: "Mars/Olympus"})
	assert.Error(t, err)

	_, err = New(Config{OpenTime: "9am"})
	assert.Error(t, err)

	_, err = New(Config{Holidays: []string{"25/12/2025"}})
	assert.Error(t, err)
}

func TestNextOpen_SkipsWeekendAndHoliday(t *testing.T) {
	c, err := New(Config{Holidays: []string{"2025-12-08"}}) // 下周一休市
	assert.NoError(t, err)
	loc := mustEastern(t)

	// 周五收盘后：跳过周末和周一假日，落到周二开盘。
	after := time.Date(2025, 12, 5, 17, 0, 0, 0, loc)
	next := c.NextOpen(after)
	assert.Equal(t, time.Date(2025, 12, 9, 9, 30, 0, 0, loc), next)
}

func TestNextOpen_SameDayBeforeOpen(t *testing.T) {
	c, _ := New(Config{})
	loc := mustEastern(t)

	after := time.Date(2025, 12, 3, 7, 0, 0, 0, loc)
	next := c.NextOpen(after)
	assert.Equal(t, time.Date(2025, 12, 3, 9, 30, 0, 0, loc), next)
}
