package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	ishell "github.com/abiosoft/ishell"
	"github.com/ameyrk/momentum/cli/client"
	"github.com/ameyrk/momentum/lib/utils"
	"github.com/ameyrk/momentum/models"
	"github.com/common-nighthawk/go-figure"
	"github.com/zalando/go-keyring"
)

// guestCommands holds the commands available before signing in.
var guestCommands []Command

// userCommands holds the commands available only to signed-in users.
var userCommands []Command

// commonCommands holds the commands available regardless of login state.
var commonCommands []Command

// loggedIn indicates whether a user is currently signed in.
var loggedIn bool

// shell is the interactive shell instance for this application.
var shell *ishell.Shell

// The Command struct defines a user command in the system. Each command has a
// Name, a Desc (short description), and a Func (the function to execute when
// the command is called).
type Command struct {
	Name string
	Desc string
	Func func(c *ishell.Context)
}

// printHabits renders the habit list with one-based indexes so the other
// commands can refer to habits by number instead of raw ids.
func printHabits(c *ishell.Context, habits []models.Habit) {
	if len(habits) == 0 {
		c.Println("No habits yet. Use 'add' to create one.")
		return
	}
	for i, habit := range habits {
		check := " "
		if habit.CompletedToday {
			check = "x"
		}
		c.Printf("%3d. [%s] %-30s streak: %d\n", i+1, check, habit.Name, habit.Streak)
	}
}

// pickHabit resolves a one-based habit index typed by the user into a habit.
func pickHabit(c *ishell.Context, prompt string) (*models.Habit, error) {
	habits, err := client.ListHabits()
	if err != nil {
		return nil, err
	}
	if len(habits) == 0 {
		return nil, fmt.Errorf("no habits to choose from")
	}

	printHabits(c, habits)
	c.Print(prompt)
	raw := strings.TrimSpace(c.ReadLine())
	index, err := strconv.Atoi(raw)
	if err != nil || index < 1 || index > len(habits) {
		return nil, fmt.Errorf("invalid habit number: %q", raw)
	}
	return &habits[index-1], nil
}

// switchToUserCommands replaces the guest command set with the user set.
func switchToUserCommands() {
	loggedIn = true
	for _, command := range guestCommands {
		shell.DeleteCmd(command.Name)
	}
	addCommands(shell, userCommands)
}

// switchToGuestCommands replaces the user command set with the guest set.
func switchToGuestCommands() {
	loggedIn = false
	for _, command := range userCommands {
		shell.DeleteCmd(command.Name)
	}
	addCommands(shell, guestCommands)
}

// InitCommands initializes the shell and sets up the commands for guest and
// user scenarios.
func InitCommands() {

	// Initialize shell
	shell = ishell.New()

	// Define the commands available to a guest user (not signed in)
	guestCommands = []Command{
		{
			Name: "signin",
			Desc: "Sign in to your account",
			Func: func(c *ishell.Context) {
				var username, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()

					if len(username) > 1 {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if len(password) > 0 {
						break
					}
					c.Println("Password cannot be empty.")
				}

				if err := client.SignIn(username, password); err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Welcome, you are now signed in.")
				switchToUserCommands()
			},
		},
		{
			Name: "signup",
			Desc: "Sign up for a new account",
			Func: func(c *ishell.Context) {
				var username, email, password string
				for {
					c.Print("Enter Username: ")
					username = c.ReadLine()

					if len(username) > 1 {
						break
					}
					c.Println("Username must be longer than 1 character.")
				}

				for {
					c.Print("Enter Email: ")
					email = c.ReadLine()

					if utils.ValidateEmail(email) {
						break
					}
					c.Println("Email is not valid.")
				}

				for {
					c.Print("Enter Password: ")
					password = c.ReadPassword()

					if utils.ValidatePassword(password) {
						c.Print("Confirm Password: ")
						confirmPassword := c.ReadPassword()

						if password == confirmPassword {
							break
						}
						c.Println()
						c.Println("Passwords do not match. Please try again.")
						c.Println()
					} else {
						c.Println()
						c.Println("Password must be at least 8 characters and contain both letters and numbers.")
						c.Println()
					}
				}

				if err := client.SignUp(username, email, password); err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Account created successfully. You are now signed in.")
				switchToUserCommands()
			},
		},
	}

	// Define the commands available to a signed in user
	userCommands = []Command{
		{
			Name: "habits",
			Desc: "List your habits and today's completion state",
			Func: func(c *ishell.Context) {
				habits, err := client.ListHabits()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				printHabits(c, habits)
			},
		},
		{
			Name: "add",
			Desc: "Create a new habit",
			Func: func(c *ishell.Context) {
				var name string
				for {
					c.Print("Habit name: ")
					name = strings.TrimSpace(c.ReadLine())
					if name != "" {
						break
					}
					c.Println("Habit name cannot be empty.")
				}
				c.Print("Color (optional): ")
				color := strings.TrimSpace(c.ReadLine())

				habit, err := client.AddHabit(name, color)
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Created habit %q.\n", habit.Name)
			},
		},
		{
			Name: "toggle",
			Desc: "Toggle today's completion for a habit",
			Func: func(c *ishell.Context) {
				habit, err := pickHabit(c, "Habit number to toggle: ")
				if err != nil {
					utils.PrintError(err.Error())
					return
				}

				updated, err := client.ToggleHabit(habit.ID.Hex())
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if updated.CompletedToday {
					c.Printf("Marked %q complete for today. Current streak: %d.\n", updated.Name, updated.Streak)
				} else {
					c.Printf("Undid today's completion for %q. Current streak: %d.\n", updated.Name, updated.Streak)
				}
			},
		},
		{
			Name: "remove",
			Desc: "Delete a habit and its history",
			Func: func(c *ishell.Context) {
				habit, err := pickHabit(c, "Habit number to delete: ")
				if err != nil {
					utils.PrintError(err.Error())
					return
				}

				c.Printf("Delete %q and its completion history? (yes/no): ", habit.Name)
				if strings.ToLower(strings.TrimSpace(c.ReadLine())) != "yes" {
					return
				}

				if err := client.DeleteHabit(habit.ID.Hex()); err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("Habit deleted.")
			},
		},
		{
			Name: "stats",
			Desc: "Show your streak summary",
			Func: func(c *ishell.Context) {
				stats, err := client.GetStreakStats()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Printf("Total habits:          %d\n", stats.TotalHabits)
				c.Printf("Active streaks:        %d\n", stats.ActiveStreaks)
				c.Printf("Total streak days:     %d\n", stats.TotalStreakDays)
				c.Printf("Longest current streak: %d\n", stats.LongestCurrentStreak)
				c.Printf("Average streak:        %.1f\n", stats.AverageStreak)
			},
		},
		{
			Name: "weekly",
			Desc: "Show completions over the last seven days",
			Func: func(c *ishell.Context) {
				days, err := client.GetWeeklyStats()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				for _, day := range days {
					c.Printf("%s  %s (%d)\n", day.Day, strings.Repeat("#", day.Count), day.Count)
				}
			},
		},
		{
			Name: "leaderboard",
			Desc: "Show the streak leaderboard",
			Func: func(c *ishell.Context) {
				entries, err := client.GetLeaderboard()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				for _, entry := range entries {
					c.Printf("%-20s best: %-4d current total: %-4d active: %d/%d\n",
						entry.Name, entry.BestStreak, entry.CurrentStreak, entry.ActiveHabits, entry.TotalHabits)
				}
			},
		},
		{
			Name: "validate",
			Desc: "Check your stored streaks against completion history",
			Func: func(c *ishell.Context) {
				result, err := client.ValidateStreaks()
				if err != nil {
					utils.PrintError(err.Error())
					return
				}
				if result.Inconsistencies == 0 {
					c.Println("All streaks are consistent.")
					return
				}
				c.Printf("Found %d inconsistencies, applied %d corrections:\n", result.Inconsistencies, result.Updates)
				for _, correction := range result.Corrections {
					c.Printf("  %-30s %d -> %d\n", correction.HabitName, correction.OldStreak, correction.NewStreak)
				}
			},
		},
		{
			Name: "scheduler",
			Desc: "Inspect or control the maintenance scheduler (status/start/stop/validate-all/catch-up)",
			Func: func(c *ishell.Context) {
				action := "status"
				if len(c.Args) > 0 {
					action = strings.ToLower(c.Args[0])
				}

				if action == "status" {
					status, err := client.SchedulerStatus()
					if err != nil {
						utils.PrintError(err.Error())
						return
					}
					c.Printf("State:        %s\n", status.State)
					c.Printf("Timers:       %s\n", strings.Join(status.ActiveTimers, ", "))
					if status.LastMaintenanceRun != nil {
						c.Printf("Last run:     %s\n", status.LastMaintenanceRun.Format("2006-01-02 15:04:05"))
					} else {
						c.Println("Last run:     never")
					}
					c.Printf("Next reset:   %s\n", status.NextScheduledReset.Format("2006-01-02 15:04:05"))
					return
				}

				switch action {
				case "start", "stop", "validate-all", "catch-up":
					message, err := client.SchedulerCommand(action)
					if err != nil {
						utils.PrintError(err.Error())
						return
					}
					c.Println(message)
				default:
					c.Println("Usage: scheduler [status|start|stop|validate-all|catch-up]")
				}
			},
		},
		{
			Name: "signout",
			Desc: "Sign out from your account",
			Func: func(c *ishell.Context) {
				if err := client.SignOut(); err != nil {
					utils.PrintError(err.Error())
					return
				}
				c.Println("You are now signed out.")
				switchToGuestCommands()
			},
		},
	}

	// Define common commands that are always available, regardless of login state
	commonCommands = []Command{
		{
			Name: "exit",
			Desc: "Exit the application",
			Func: func(c *ishell.Context) {
				fmt.Println("Goodbye!")
				os.Exit(0)
			},
		},
	}

	// The help command is created separately to avoid the cyclic dependency
	commonCommands = append(commonCommands, Command{
		Name: "help",
		Desc: "List available commands",
		Func: func(c *ishell.Context) {
			c.Println("Available commands:")
			if loggedIn {
				for _, command := range userCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			} else {
				for _, command := range guestCommands {
					c.Println("  |-- '" + command.Name + "' : " + command.Desc)
				}
			}
			for _, command := range commonCommands {
				c.Println("  |-- '" + command.Name + "' : " + command.Desc)
			}
			c.Println()
		},
	})
}

// addCommands adds the given commands to the shell.
func addCommands(shell *ishell.Shell, commands []Command) {
	for _, command := range commands {
		shell.AddCmd(&ishell.Cmd{
			Name: command.Name,
			Help: "Command: " + command.Name,
			Func: command.Func,
		})
	}
}

// Execute welcomes the user, adds the common and guest commands to the
// shell, and runs the shell.
func Execute() {
	shell.Println()
	figure.NewFigure("Momentum", "basic", true).Print()
	shell.Println("Welcome to Momentum -- the habit streak CLI. Type 'help' to see a list of commands.")

	addCommands(shell, commonCommands)
	addCommands(shell, guestCommands)

	shell.Run()
}

// RunShell wires the client against the configured server and starts the
// interactive shell. Stale tokens from a previous run are dropped from the
// keyring first.
func RunShell(serverURL, signingKey, authToken, authTokenRefresh string) {
	keyring.Delete(client.KeyringService, authToken)
	keyring.Delete(client.KeyringService, authTokenRefresh)
	client.InitClient(serverURL, signingKey, authToken, authTokenRefresh)
	InitCommands()
	Execute()
}
