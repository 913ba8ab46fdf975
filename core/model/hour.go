package model

// HoursPerDay is the number of hour-of-day slots in a typical day.
const HoursPerDay = 24

// ValidHour reports whether h is an hour-of-day slot.
func ValidHour(h int) bool { return h >= 0 && h < HoursPerDay }

// AllHours returns the full hour set {0,...,23}.
func AllHours() []int {
	hours := make([]int, HoursPerDay)
	for i := range hours {
		hours[i] = i
	}
	return hours
}
