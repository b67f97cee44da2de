package ingest

import "math"

// minRange 空/满距离配置相同时的分母下限
const minRange = 0.0001

// Calibration 液位换算标定：传感器到液面的距离（cm）
type Calibration struct {
	EmptyDistanceCm float64 // 空罐读数
	FullDistanceCm  float64 // 满罐读数（必然更小）
}

// DefaultCalibration 默认标定（70cm 空 / 6cm 满）
func DefaultCalibration() Calibration {
	return Calibration{EmptyDistanceCm: 70, FullDistanceCm: 6}
}

// FillPercentage 距离换算满罐百分比，保留一位小数，结果在 [0, 100]
func (c Calibration) FillPercentage(distanceCm float64) float64 {
	d := math.Max(c.FullDistanceCm, math.Min(c.EmptyDistanceCm, distanceCm))
	span := math.Max(minRange, c.EmptyDistanceCm-c.FullDistanceCm)

	pct := (c.EmptyDistanceCm - d) / span * 100.0
	pct = math.Round(pct*10) / 10

	return math.Max(0, math.Min(100, pct))
}
