package history

const millisPerHour = 3_600_000

// PurgeBoundary returns the oldest epoch-seconds timestamp still inside a
// window of hoursToShow hours ending at nowMillis.
func PurgeBoundary(nowMillis int64, hoursToShow float64) float64 {
	return (float64(nowMillis) - hoursToShow*millisPerHour) / 1000
}
