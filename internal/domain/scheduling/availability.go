package scheduling

import (
	"fmt"
	"iter"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Occupancy policies. PolicyClinic treats the whole clinic as one chair per
// slot; PolicyUnit allows as many bookings per slot as there are active
// units.
const (
	PolicyClinic = "clinic"
	PolicyUnit   = "unit"
)

// BusinessHours is the weekly opening policy. It is validated at startup
// and trusted here.
type BusinessHours struct {
	OpenHour            int
	CloseHour           int
	SlotIntervalMinutes int
	ClosedWeekdays      []time.Weekday
	Location            *time.Location
}

func (b BusinessHours) loc() *time.Location {
	if b.Location == nil {
		return time.UTC
	}
	return b.Location
}

// SlotCount is the number of slot starts in one business day.
func (b BusinessHours) SlotCount() int {
	return (b.CloseHour - b.OpenHour) * 60 / b.SlotIntervalMinutes
}

// SlotTimes lists the slot start times as HH:MM, ascending.
func (b BusinessHours) SlotTimes() []string {
	times := make([]string, 0, b.SlotCount())
	for m := b.OpenHour * 60; m < b.CloseHour*60; m += b.SlotIntervalMinutes {
		times = append(times, fmt.Sprintf("%02d:%02d", m/60, m%60))
	}
	return times
}

func (b BusinessHours) IsClosed(day time.Time) bool {
	return slices.Contains(b.ClosedWeekdays, day.Weekday())
}

// ParseDate reads YYYY-MM-DD as midnight in the clinic time zone.
func (b BusinessHours) ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, b.loc())
}

// Slot is one candidate start time.
type Slot struct {
	Date      string `json:"date"`
	Time      string `json:"time"`
	Available bool   `json:"available"`
}

// DaySlots is one column of the booking grid.
type DaySlots struct {
	Date    string `json:"date"`
	Weekday int    `json:"weekday"`
	Closed  bool   `json:"closed"`
	Slots   []Slot `json:"slots"`
}

// Occupancy counts live reservations per date and start time.
type Occupancy map[string]map[string]int

// BuildOccupancy indexes reservations, skipping cancelled ones.
func BuildOccupancy(reservations []*Reservation) Occupancy {
	occ := make(Occupancy)
	for _, r := range reservations {
		if r.Status == StatusCancelled {
			continue
		}
		byTime, ok := occ[r.Date]
		if !ok {
			byTime = make(map[string]int)
			occ[r.Date] = byTime
		}
		byTime[r.StartTime]++
	}
	return occ
}

func (o Occupancy) Count(date, hhmm string) int { return o[date][hhmm] }

// Calculator turns business hours and existing reservations into slot
// availability. It performs no I/O.
type Calculator struct {
	hours    BusinessHours
	policy   string
	capacity int
}

// NewCalculator builds a calculator. capacity is the active unit count and
// only matters under PolicyUnit.
func NewCalculator(hours BusinessHours, policy string, capacity int) *Calculator {
	if capacity < 1 {
		capacity = 1
	}
	if policy != PolicyUnit {
		policy = PolicyClinic
	}
	return &Calculator{hours: hours, policy: policy, capacity: capacity}
}

func (c *Calculator) Hours() BusinessHours { return c.hours }

// Capacity is how many live reservations a slot holds before it is taken.
func (c *Calculator) Capacity() int {
	if c.policy == PolicyUnit {
		return c.capacity
	}
	return 1
}

// Slots yields every candidate slot of day in ascending order, marked
// available or not. The sequence can be ranged over repeatedly.
func (c *Calculator) Slots(day time.Time, occ Occupancy, now time.Time) iter.Seq[Slot] {
	loc := c.hours.loc()
	y, m, d := day.In(loc).Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, loc).Format(DateLayout)
	closed := c.hours.IsClosed(time.Date(y, m, d, 12, 0, 0, 0, loc))
	capacity := c.Capacity()

	return func(yield func(Slot) bool) {
		for mins := c.hours.OpenHour * 60; mins < c.hours.CloseHour*60; mins += c.hours.SlotIntervalMinutes {
			start := time.Date(y, m, d, mins/60, mins%60, 0, 0, loc)
			hhmm := start.Format(TimeLayout)
			available := !closed && !start.Before(now) && occ.Count(date, hhmm) < capacity
			if !yield(Slot{Date: date, Time: hhmm, Available: available}) {
				return
			}
		}
	}
}

// Available yields only the bookable slots of day.
func (c *Calculator) Available(day time.Time, occ Occupancy, now time.Time) iter.Seq[Slot] {
	return func(yield func(Slot) bool) {
		for s := range c.Slots(day, occ, now) {
			if s.Available && !yield(s) {
				return
			}
		}
	}
}

// IsAvailable reports whether date+hhmm is a bookable slot.
func (c *Calculator) IsAvailable(date, hhmm string, occ Occupancy, now time.Time) bool {
	day, err := c.hours.ParseDate(date)
	if err != nil {
		return false
	}
	for s := range c.Slots(day, occ, now) {
		if s.Time == hhmm {
			return s.Available
		}
	}
	return false
}

// Days yields one DaySlots per calendar day from..to inclusive.
func (c *Calculator) Days(from, to time.Time, reservations []*Reservation, now time.Time) iter.Seq[DaySlots] {
	occ := BuildOccupancy(reservations)
	loc := c.hours.loc()
	fy, fm, fd := from.In(loc).Date()
	ty, tm, td := to.In(loc).Date()
	first := time.Date(fy, fm, fd, 0, 0, 0, 0, loc)
	last := time.Date(ty, tm, td, 0, 0, 0, 0, loc)

	return func(yield func(DaySlots) bool) {
		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			ds := DaySlots{
				Date:    day.Format(DateLayout),
				Weekday: int(day.Weekday()),
				Closed:  c.hours.IsClosed(day),
				Slots:   slices.Collect(c.Slots(day, occ, now)),
			}
			if !yield(ds) {
				return
			}
		}
	}
}

// WeekStart returns the Sunday on or before day, the first column of the
// booking grid.
func WeekStart(day time.Time) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d-int(day.Weekday()), 0, 0, 0, 0, day.Location())
}

// CalendarCell is one unit's column at one time.
type CalendarCell struct {
	UnitID      uuid.UUID    `json:"unit_id"`
	Reservation *Reservation `json:"reservation,omitempty"`
}

type CalendarRow struct {
	Time       string         `json:"time"`
	Cells      []CalendarCell `json:"cells"`
	Unassigned []*Reservation `json:"unassigned,omitempty"`
}

// Calendar is the admin day view, partitioned by unit.
type Calendar struct {
	Date    string         `json:"date"`
	Units   []*Unit        `json:"units"`
	Rows    []CalendarRow  `json:"rows"`
	OffGrid []*Reservation `json:"off_grid,omitempty"`
}

// Calendar lays out one day's live reservations by unit and time.
// Reservations without a unit go to the row's Unassigned list; those whose
// start time is not a slot boundary go to OffGrid.
func (c *Calculator) Calendar(date string, units []*Unit, reservations []*Reservation) *Calendar {
	cal := &Calendar{Date: date, Units: units}
	rowIdx := make(map[string]int)
	for i, t := range c.hours.SlotTimes() {
		row := CalendarRow{Time: t, Cells: make([]CalendarCell, len(units))}
		for j, u := range units {
			row.Cells[j].UnitID = u.ID
		}
		cal.Rows = append(cal.Rows, row)
		rowIdx[t] = i
	}

	unitIdx := make(map[uuid.UUID]int, len(units))
	for j, u := range units {
		unitIdx[u.ID] = j
	}

	for _, r := range reservations {
		if r.Status == StatusCancelled || r.Date != date {
			continue
		}
		i, onGrid := rowIdx[r.StartTime]
		if !onGrid {
			cal.OffGrid = append(cal.OffGrid, r)
			continue
		}
		row := &cal.Rows[i]
		j, known := -1, false
		if r.UnitID != nil {
			j, known = unitIdx[*r.UnitID]
		}
		if !known || row.Cells[j].Reservation != nil {
			row.Unassigned = append(row.Unassigned, r)
			continue
		}
		row.Cells[j].Reservation = r
	}
	return cal
}
