package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/watzon/worktime/internal/project"
)

var (
	projectComment  string
	projectAll      bool
	taskProjectName string
	taskAll         bool
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
	Long: `Manage projects.

Examples:
  worktime project add acme -m "client work"
  worktime project list
  worktime project select acme`,
}

var projectAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a project",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectAdd,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

var projectSelectCmd = &cobra.Command{
	Use:   "select <name>",
	Short: "Select the project new registrations use",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectSelect,
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage tasks of the selected project",
	Long: `Manage tasks. Commands act on the selected project unless --project is given.

Examples:
  worktime task add design
  worktime task list --all
  worktime task finish design`,
}

var taskAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskAdd,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tasks",
	Args:  cobra.NoArgs,
	RunE:  runTaskList,
}

var taskFinishCmd = &cobra.Command{
	Use:   "finish <name>",
	Short: "Mark a task as finished",
	Args:  cobra.ExactArgs(1),
	RunE:  runTaskFinish,
}

func init() {
	projectAddCmd.Flags().StringVarP(&projectComment, "comment", "m", "", "project comment")
	projectListCmd.Flags().BoolVar(&projectAll, "all", false, "include finished projects")

	taskCmd.PersistentFlags().StringVarP(&taskProjectName, "project", "p", "", "project name (default is the selected project)")
	taskListCmd.Flags().BoolVar(&taskAll, "all", false, "include finished tasks")

	projectCmd.AddCommand(projectAddCmd)
	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectSelectCmd)

	taskCmd.AddCommand(taskAddCmd)
	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskFinishCmd)

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(taskCmd)
}

func runProjectAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.projects.CreateProject(cmd.Context(), args[0], projectComment)
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, p); ok {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created project %s\n", p.Name)
	return nil
}

func runProjectList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	projects, err := a.projects.ListProjects(ctx, projectAll)
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, projects); ok {
		return err
	}

	out := cmd.OutOrStdout()
	if len(projects) == 0 {
		fmt.Fprintln(out, "No projects. Create one with 'worktime project add <name>'.")
		return nil
	}

	var selectedID string
	if selected, err := a.projects.SelectedProject(ctx); err == nil {
		selectedID = selected.ID
	}

	for _, p := range projects {
		marker := " "
		if p.ID == selectedID {
			marker = "*"
		}
		fmt.Fprintf(out, "%s %s", marker, p.Name)
		if p.Comment != "" {
			fmt.Fprintf(out, " - %s", p.Comment)
		}
		if p.Finished {
			fmt.Fprint(out, " (finished)")
		}
		fmt.Fprintln(out)
	}
	return nil
}

func runProjectSelect(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	p, err := a.projects.GetProjectByName(ctx, args[0])
	if err != nil {
		return fmt.Errorf("project %q: %w", args[0], err)
	}
	if err := a.projects.SelectProject(ctx, p.ID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Selected project %s\n", p.Name)
	return nil
}

func (a *app) taskProject(cmd *cobra.Command) (*project.Project, error) {
	if taskProjectName != "" {
		p, err := a.projects.GetProjectByName(cmd.Context(), taskProjectName)
		if err != nil {
			return nil, fmt.Errorf("project %q: %w", taskProjectName, err)
		}
		return p, nil
	}
	return a.projects.SelectedProject(cmd.Context())
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.taskProject(cmd)
	if err != nil {
		return err
	}

	task, err := a.projects.CreateTask(cmd.Context(), p.ID, args[0])
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, task); ok {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created task %s in %s\n", task.Name, p.Name)
	return nil
}

func runTaskList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	p, err := a.taskProject(cmd)
	if err != nil {
		return err
	}

	hide := a.cfg.Registration.HideFinishedTasks && !taskAll
	tasks, err := a.projects.ListTasks(cmd.Context(), p.ID, hide)
	if err != nil {
		return err
	}

	if ok, err := printStructured(cmd.OutOrStdout(), outputFormat, tasks); ok {
		return err
	}

	out := cmd.OutOrStdout()
	if len(tasks) == 0 {
		fmt.Fprintf(out, "No tasks in %s.\n", p.Name)
		return nil
	}
	for _, task := range tasks {
		if task.Finished {
			fmt.Fprintf(out, "  %s (finished)\n", task.Name)
		} else {
			fmt.Fprintf(out, "  %s\n", task.Name)
		}
	}
	return nil
}

func runTaskFinish(cmd *cobra.Command, args []string) error {
	a, err := openApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()

	p, err := a.taskProject(cmd)
	if err != nil {
		return err
	}

	task, err := a.projects.FindTask(ctx, p.ID, args[0])
	if err != nil {
		return fmt.Errorf("task %q: %w", args[0], err)
	}
	if err := a.projects.FinishTask(ctx, task.ID); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Finished task %s\n", task.Name)
	return nil
}
