// Package calendar 判断交易所是否处于常规交易时段。
package calendar

import (
	"fmt"
	"time"
)

// Calendar 按交易所时区判断市场开闭。假日表按 YYYY-MM-DD 维护。
type Calendar struct {
	loc       *time.Location
	openHour  int
	openMin   int
	closeHour int
	closeMin  int
	holidays  map[string]struct{}
}

// Config 允许覆盖时区、时段与假日表。
type Config struct {
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	OpenTime  string   `mapstructure:"open_time" yaml:"open_time"`
	CloseTime string   `mapstructure:"close_time" yaml:"close_time"`
	Holidays  []string `mapstructure:"holidays" yaml:"holidays"`
}

// New 构造交易日历，默认美东 9:30–16:00。
func New(cfg Config) (*Calendar, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "America/New_York"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("calendar: 加载时区 %s 失败: %w", tz, err)
	}
	c := &Calendar{
		loc:       loc,
		openHour:  9,
		openMin:   30,
		closeHour: 16,
		closeMin:  0,
		holidays:  make(map[string]struct{}, len(cfg.Holidays)),
	}
	if cfg.OpenTime != "" {
		if c.openHour, c.openMin, err = parseClock(cfg.OpenTime); err != nil {
			return nil, err
		}
	}
	if cfg.CloseTime != "" {
		if c.closeHour, c.closeMin, err = parseClock(cfg.CloseTime); err != nil {
			return nil, err
		}
	}
	for _, h := range cfg.Holidays {
		if _, err := time.ParseInLocation("2006-01-02", h, loc); err != nil {
			return nil, fmt.Errorf("calendar: 假日 %q 格式非法: %w", h, err)
		}
		c.holidays[h] = struct{}{}
	}
	return c, nil
}

// IsOpen 判断给定时刻市场是否开放。
func (c *Calendar) IsOpen(at time.Time) bool {
	local := at.In(c.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	if _, ok := c.holidays[local.Format("2006-01-02")]; ok {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	open := c.openHour*60 + c.openMin
	close := c.closeHour*60 + c.closeMin
	return minutes >= open && minutes < close
}

// NextOpen 返回给定时刻之后最近的开盘时间（启动日志用）。
func (c *Calendar) NextOpen(after time.Time) time.Time {
	local := after.In(c.loc)
	for i := 0; i < 14; i++ {
		day := local.AddDate(0, 0, i)
		open := time.Date(day.Year(), day.Month(), day.Day(), c.openHour, c.openMin, 0, 0, c.loc)
		if open.Before(local) {
			continue
		}
		switch open.Weekday() {
		case time.Saturday, time.Sunday:
			continue
		}
		if _, ok := c.holidays[open.Format("2006-01-02")]; ok {
			continue
		}
		return open
	}
	return time.Time{}
}

func parseClock(raw string) (int, int, error) {
	t, err := time.Parse("15:04", raw)
	if err != nil {
		return 0, 0, fmt.Errorf("calendar: 时刻 %q 格式非法: %w", raw, err)
	}
	return t.Hour(), t.Minute(), nil
}
