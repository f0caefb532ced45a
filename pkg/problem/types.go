package problem

import (
	"time"
)

// Laboratory is a network snapshot record for one facility.
type Laboratory struct {
	ID           string                `json:"laboratory_id"`
	Name         string                `json:"name"`
	Latitude     float64               `json:"latitude"`
	Longitude    float64               `json:"longitude"`
	Capacities   Capacities            `json:"capacities"`
	Capabilities map[string]Capability `json:"capabilities"` // keyed by test type ID
	Hours        WeeklyHours           `json:"operational_hours"`
	Overhead     float64               `json:"monthly_overhead"`
}

// Capacities describes a laboratory's throughput envelope.
type Capacities struct {
	MaxTestsPerDay    int     `json:"max_tests_per_day"`
	MaxTestsPerMonth  int     `json:"max_tests_per_month"`
	StaffCount        int     `json:"staff_count"`
	EquipmentCount    int     `json:"equipment_count"`
	UtilizationFactor float64 `json:"utilization_factor"`
}

// Capability describes how a laboratory performs one test type.
type Capability struct {
	Available            bool    `json:"available"`
	TimePerTestMinutes   float64 `json:"time_per_test_minutes"`
	StaffRequired        int     `json:"staff_required"`
	EquipmentUtilization float64 `json:"equipment_utilization"`
	CostPerTest          float64 `json:"cost_per_test"`
	QualityScore         float64 `json:"quality_score"`
}

// DayHours is an open/close interval for one weekday, "15:04" clock format.
// A zero value means closed.
type DayHours struct {
	Open  string `json:"open"`
	Close string `json:"close"`
}

// OpenMinutes returns the open interval length in minutes, 0 if closed
// or malformed.
func (d DayHours) OpenMinutes() float64 {
	if d.Open == "" || d.Close == "" {
		return 0
	}
	open, err := time.Parse("15:04", d.Open)
	if err != nil {
		return 0
	}
	closing, err := time.Parse("15:04", d.Close)
	if err != nil {
		return 0
	}
	minutes := closing.Sub(open).Minutes()
	if minutes < 0 {
		return 0
	}
	return minutes
}

// WeeklyHours maps weekdays to operating intervals.
type WeeklyHours map[time.Weekday]DayHours

// WeeklyOpenMinutes sums the open minutes across the week.
func (w WeeklyHours) WeeklyOpenMinutes() float64 {
	var total float64
	for _, d := range w {
		total += d.OpenMinutes()
	}
	return total
}

// DefaultWeeklyHours is a Monday-to-Friday 08:00-17:00 schedule used
// when a laboratory record carries no hours.
func DefaultWeeklyHours() WeeklyHours {
	hours := WeeklyHours{}
	for day := time.Monday; day <= time.Friday; day++ {
		hours[day] = DayHours{Open: "08:00", Close: "17:00"}
	}
	return hours
}

// ServiceArea is a network snapshot record for one demand-generating
// geographic unit.
type ServiceArea struct {
	ID            string  `json:"area_id"`
	Name          string  `json:"name"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Population    int     `json:"population"`
	PriorityLevel int     `json:"priority_level"`
}

// TestType is a network snapshot record for one diagnostic test.
type TestType struct {
	ID                      string `json:"test_type_id"`
	Name                    string `json:"name"`
	StandardDurationMinutes int    `json:"standard_duration_minutes"`
	ComplexityLevel         int    `json:"complexity_level"`
}

// TestDemand is one demand record: tests of one type needed by one area
// in one period.
type TestDemand struct {
	AreaID         string    `json:"area_id"`
	TestTypeID     string    `json:"test_type_id"`
	Count          int       `json:"test_count"`
	PeriodDate     time.Time `json:"period_date"`
	PriorityLevel  int       `json:"priority_level"`
	SeasonalFactor float64   `json:"seasonal_factor"`
}

// Network is the snapshot the builder consumes.
type Network struct {
	Laboratories []Laboratory  `json:"laboratories"`
	Areas        []ServiceArea `json:"service_areas"`
	TestTypes    []TestType    `json:"test_types"`
	Demands      []TestDemand  `json:"demands"`
}
