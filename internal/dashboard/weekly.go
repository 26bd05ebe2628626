package dashboard

import (
	"context"
	"fmt"
	"math"
	"time"

	"livmore-rook-sync/internal/database"
)

const weekDays = 7

// Goals are the targets a week is measured against
type Goals struct {
	DailySteps    int     `json:"daily_steps"`
	DailyCalories int     `json:"daily_calories"`
	SleepHours    float64 `json:"sleep_hours"`
}

// WeekDay is one date of a Week. Days without a stored row have HasData
// false and zero values.
type WeekDay struct {
	Date        string   `json:"date"`
	HasData     bool     `json:"has_data"`
	Steps       int      `json:"steps"`
	Calories    int      `json:"calories"`
	SleepHours  *float64 `json:"sleep_hours"`
	StepsMet    bool     `json:"steps_goal_met"`
	CaloriesMet bool     `json:"calories_goal_met"`
	SleepMet    bool     `json:"sleep_goal_met"`
}

// Week is seven stored days ending at EndDate
type Week struct {
	User         int64     `json:"user"`
	StartDate    string    `json:"start_date"`
	EndDate      string    `json:"end_date"`
	Goals        *Goals    `json:"goals"`
	Days         []WeekDay `json:"days"`
	DaysWithData int       `json:"days_with_data"`
	TotalSteps   int       `json:"total_steps"`
	AvgSleep     float64   `json:"average_sleep_hours"`
}

// GetWeek returns the seven stored days ending at endDate. It never calls
// the aggregator; missing days are reported as empty.
func (s *Service) GetWeek(ctx context.Context, userID int64, endDate string) (*Week, error) {
	end, err := time.Parse(database.DateLayout, endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}
	start := end.AddDate(0, 0, -(weekDays - 1))

	rows, err := s.store.ListDailyActivities(ctx, userID, start.Format(database.DateLayout), endDate)
	if err != nil {
		return nil, fmt.Errorf("failed to list week: %w", err)
	}
	stored, err := s.store.GetGoals(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get goals: %w", err)
	}

	week := &Week{
		User:      userID,
		StartDate: start.Format(database.DateLayout),
		EndDate:   endDate,
		Days:      make([]WeekDay, 0, weekDays),
	}
	if stored != nil {
		week.Goals = &Goals{
			DailySteps:    stored.DailySteps,
			DailyCalories: stored.DailyCalories,
			SleepHours:    stored.SleepHours,
		}
	}

	byDate := make(map[string]*database.DailyActivity, len(rows))
	for _, r := range rows {
		byDate[r.ActivityDate] = r
	}

	var sleepTotal float64
	var sleepDays int
	for i := 0; i < weekDays; i++ {
		date := start.AddDate(0, 0, i).Format(database.DateLayout)
		day := WeekDay{Date: date}

		if r, ok := byDate[date]; ok {
			day.HasData = true
			day.Steps = r.Steps
			day.Calories = r.Calories
			day.SleepHours = r.SleepHours

			week.DaysWithData++
			week.TotalSteps += r.Steps
			if r.SleepHours != nil {
				sleepTotal += *r.SleepHours
				sleepDays++
			}

			if g := week.Goals; g != nil {
				day.StepsMet = g.DailySteps > 0 && r.Steps >= g.DailySteps
				day.CaloriesMet = g.DailyCalories > 0 && r.Calories >= g.DailyCalories
				day.SleepMet = g.SleepHours > 0 && r.SleepHours != nil && *r.SleepHours >= g.SleepHours
			}
		}

		week.Days = append(week.Days, day)
	}

	if sleepDays > 0 {
		week.AvgSleep = math.Round(sleepTotal/float64(sleepDays)*10) / 10
	}

	return week, nil
}
