// Package timeutil 提供本机时间戳工具。
// 时延统计用纳秒，交易所事件时间用毫秒。
package timeutil

import (
	"time"
)

var (
	// baseTime 进程启动时刻（包含单调时钟读数）
	baseTime = time.Now()
	// baseUnixNs 启动时刻的 Unix 纳秒时间戳
	baseUnixNs = baseTime.UnixNano()
)

// NowNano 当前 Unix 纳秒时间戳
// 由启动时的墙上时间加单调时钟流逝得到，系统时间跳变不会让相邻两次读数倒退，
// feed lag 与 apply 时延因此不会出现跳变造成的负值。
func NowNano() int64 {
	return baseUnixNs + time.Since(baseTime).Nanoseconds()
}

// NowMs 当前 Unix 毫秒时间戳
func NowMs() int64 {
	return NowNano() / 1_000_000
}

// MsToNano 毫秒转纳秒
func MsToNano(ms int64) int64 {
	return ms * 1_000_000
}
