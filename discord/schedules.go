package discord

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// Schedule defines the interface for scheduled tasks in the bot
type Schedule interface {
	// GetName returns the name of the schedule
	GetName() string
	// GetCronExpression returns the cron expression (with seconds) for when this schedule should run
	GetCronExpression() string
	// Execute runs the scheduled task and returns an embed to send (or nil if no notification needed)
	Execute() (*discordgo.MessageEmbed, error)
}

// GenericSchedule is a generic implementation of Schedule
type GenericSchedule struct {
	Name           string
	CronExpression string
	Handler        func() (*discordgo.MessageEmbed, error)
}

// GetName returns the schedule's name
func (bs *GenericSchedule) GetName() string {
	return bs.Name
}

// GetCronExpression returns the schedule's cron expression
func (bs *GenericSchedule) GetCronExpression() string {
	return bs.CronExpression
}

// Execute runs the scheduled task
func (bs *GenericSchedule) Execute() (*discordgo.MessageEmbed, error) {
	return bs.Handler()
}

// NewSchedule creates a new scheduled task with the given name, cron expression, and handler
func NewSchedule(name string, cronExpr string, handler func() (*discordgo.MessageEmbed, error)) Schedule {
	return &GenericSchedule{
		Name:           name,
		CronExpression: cronExpr,
		Handler:        handler,
	}
}

// scheduleManager handles scheduling and executing tasks
type scheduleManager struct {
	bot  *Bot
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool
}

func newScheduleManager(bot *Bot) *scheduleManager {
	return &scheduleManager{
		bot:   bot,
		cron:  cron.New(cron.WithSeconds()),
		entries: make(map[string]cron.EntryID),
	}
}

// add registers a schedule. Schedules may be added before or after start.
func (sm *scheduleManager) add(schedule Schedule) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if _, ok := sm.entries[schedule.GetName()]; ok {
		return fmt.Errorf("schedule %s is already registered", schedule.GetName())
	}

	sched := schedule
	id, err := sm.cron.AddFunc(sched.GetCronExpression(), func() {
		sm.executeSchedule(sched)
	})
	if err != nil {
		return fmt.Errorf("failed to add schedule %s: %w", sched.GetName(), err)
	}
	sm.entries[sched.GetName()] = id

	sm.bot.logger.Info("registered schedule", "name", sched.GetName(), "cron", sched.GetCronExpression())
	return nil
}

// remove unregisters the named schedule. It reports whether one was found.
func (sm *scheduleManager) remove(name string) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	id, ok := sm.entries[name]
	if !ok {
		return false
	}
	sm.cron.Remove(id)
	delete(sm.entries, name)
	sm.bot.logger.Info("removed schedule", "name", name)
	return true
}

func (sm *scheduleManager) start() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.started {
		return
	}
	sm.started = true
	sm.cron.Start()
	sm.bot.logger.Info("schedule manager started", "schedules", len(sm.entries))
}

// executeSchedule runs a scheduled task and sends notifications if needed
func (sm *scheduleManager) executeSchedule(schedule Schedule) {
	defer func() {
		if r := recover(); r != nil {
			sm.bot.ReportError(errors.Errorf("panic in schedule %s: %v", schedule.GetName(), r))
		}
	}()

	sm.bot.logger.Debug("executing schedule", "name", schedule.GetName(), "cron", schedule.GetCronExpression())

	embed, err := schedule.Execute()
	if err != nil {
		sm.bot.logger.Error("failed to execute schedule",
			"name", schedule.GetName(),
			"error", err)
		return
	}

	// If the embed is nil, no notification is needed
	if embed == nil {
		return
	}

	sm.bot.SendEmbed(embed)
}

// stop cleanly shuts down the scheduler and waits for running jobs.
func (sm *scheduleManager) stop() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if !sm.started {
		return
	}
	sm.started = false
	<-sm.cron.Stop().Done()
	sm.bot.logger.Info("schedule manager stopped")
}
