package main

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lifeplan/planner/factory"
	"github.com/lifeplan/planner/planner"
)

// seedFile is a YAML list of tasks with inline schedule documents:
//
//	tasks:
//	  - id: standup
//	    title: Team standup
//	    schedule: {freq: weekly, by_week_day: [MO, WE], start_date: "2025-01-06", start_time: "09:30"}
type seedFile struct {
	Tasks []seedTask `yaml:"tasks"`
}

type seedTask struct {
	ID          string               `yaml:"id"`
	Title       string               `yaml:"title"`
	Description string               `yaml:"description"`
	Location    string               `yaml:"location"`
	Timezone    string               `yaml:"timezone"`
	Importance  int                  `yaml:"importance"`
	Schedule    factory.ScheduleJSON `yaml:"schedule"`
}

type taskSaver interface {
	SaveTask(ctx context.Context, t planner.Task) error
}

// parseSeed validates every task before anything is saved.
func parseSeed(data []byte) ([]planner.Task, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	schedules := factory.NewScheduleFactory()
	tasks := make([]planner.Task, 0, len(f.Tasks))
	seen := make(map[string]bool)
	for i, st := range f.Tasks {
		if st.ID == "" || st.Title == "" {
			return nil, fmt.Errorf("task %d: id and title are required", i)
		}
		if seen[st.ID] {
			return nil, fmt.Errorf("task %s: duplicate id", st.ID)
		}
		seen[st.ID] = true

		spec, err := schedules.FromJSON(st.Schedule)
		if err != nil {
			return nil, fmt.Errorf("task %s: %w", st.ID, err)
		}
		tasks = append(tasks, planner.Task{
			ID:          planner.TaskID(st.ID),
			Title:       st.Title,
			Description: st.Description,
			Location:    st.Location,
			Timezone:    st.Timezone,
			Importance:  st.Importance,
			Schedule:    spec,
		})
	}
	return tasks, nil
}

func seedTasks(ctx context.Context, store taskSaver, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	tasks, err := parseSeed(data)
	if err != nil {
		return 0, err
	}
	for _, t := range tasks {
		if err := store.SaveTask(ctx, t); err != nil {
			return 0, fmt.Errorf("save task %s: %w", t.ID, err)
		}
	}
	return len(tasks), nil
}
