package alert

import (
	"fmt"
	"strconv"
	"strings"
)

// BuildMessage 生成报警邮件主题和正文
func BuildMessage(sensorID string, level float64, ts string, threshold float64) (string, string) {
	thr := strconv.FormatFloat(threshold, 'f', -1, 64)
	subject := fmt.Sprintf("[Salt Alert] %s below %s%% (%.1f%%)", sensorID, thr, level)

	var b strings.Builder
	b.WriteString("Brine tank level is low.\n\n")
	fmt.Fprintf(&b, "Sensor:    %s\n", sensorID)
	fmt.Fprintf(&b, "Level:     %.1f%%\n", level)
	fmt.Fprintf(&b, "Time:      %s\n", ts)
	fmt.Fprintf(&b, "Threshold: %s%%\n\n", thr)
	b.WriteString("Action: Schedule a refill.")

	return subject, b.String()
}
