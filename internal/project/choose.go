package project

import "errors"

var (
	// ErrNoTasks is returned when there is no task to register time on.
	ErrNoTasks = errors.New("no tasks available")
	// ErrChoiceRequired is returned when the caller has to name a task.
	ErrChoiceRequired = errors.New("task choice required")
)

// ChooseTask picks the task to start when none was named. A single task is
// used directly unless askIfOnlyOne is set.
func ChooseTask(tasks []*Task, askIfOnlyOne bool) (*Task, error) {
	switch {
	case len(tasks) == 0:
		return nil, ErrNoTasks
	case len(tasks) == 1 && !askIfOnlyOne:
		return tasks[0], nil
	default:
		return nil, ErrChoiceRequired
	}
}
