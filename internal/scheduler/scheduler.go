// Package scheduler fires stored lighting commands on cron schedules. Each
// entry pairs a cron spec with a raw command envelope; fired commands enter
// the orchestrator as a trusted local source.
package scheduler

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"lumen-agent/internal/core"
)

// Entry is one persisted schedule.
type Entry struct {
	Spec    string `json:"spec"`
	Command string `json:"command"` // JSON command envelope
}

// Scheduler manages cron-driven command submission.
type Scheduler struct {
	cron     *cron.Cron
	mu       sync.RWMutex
	store    map[cron.EntryID]Entry
	commands core.CommandChannel
	file     string
}

// New creates a scheduler and loads any persisted schedules.
func New(cmds core.CommandChannel, file string) *Scheduler {
	s := &Scheduler{
		cron:     cron.New(),
		store:    make(map[cron.EntryID]Entry),
		commands: cmds,
		file:     file,
	}
	s.load()
	return s
}

// Start begins firing schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Int("schedules", len(s.store)).Msg("scheduler started")
}

// Stop halts the cron ticker.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// Add registers a new schedule and persists it.
func (s *Scheduler) Add(spec, command string) error {
	if _, err := core.ParseCommand([]byte(command), core.SourceScheduler); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(spec, func() { s.fire(command) })
	if err != nil {
		return err
	}
	s.store[id] = Entry{Spec: spec, Command: command}
	s.save()
	return nil
}

// Remove deletes a schedule by id and persists the change.
func (s *Scheduler) Remove(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID := cron.EntryID(id)
	if _, ok := s.store[entryID]; !ok {
		return
	}
	s.cron.Remove(entryID)
	delete(s.store, entryID)
	s.save()
}

// All returns the registered schedules keyed by entry id.
func (s *Scheduler) All() map[cron.EntryID]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[cron.EntryID]Entry, len(s.store))
	for id, e := range s.store {
		out[id] = e
	}
	return out
}

func (s *Scheduler) fire(command string) {
	cmd, err := core.ParseCommand([]byte(command), core.SourceScheduler)
	if err != nil {
		log.Error().Err(err).Str("command", command).Msg("stored schedule no longer parses")
		return
	}
	select {
	case s.commands <- cmd:
	default:
		log.Warn().Msg("command queue full, dropping scheduled command")
	}
}

// load reads persisted schedules from the configured file, if present.
func (s *Scheduler) load() {
	raw, err := os.ReadFile(s.file)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("file", s.file).Msg("could not read schedules file")
		}
		return
	}

	var entries []Entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		log.Warn().Err(err).Str("file", s.file).Msg("could not parse schedules file")
		return
	}

	for _, e := range entries {
		command := e.Command
		id, err := s.cron.AddFunc(e.Spec, func() { s.fire(command) })
		if err != nil {
			log.Warn().Err(err).Str("spec", e.Spec).Msg("skipping invalid persisted schedule")
			continue
		}
		s.store[id] = e
	}
}

// save writes the schedule list back to disk. Caller holds the lock.
func (s *Scheduler) save() {
	if s.file == "" {
		return
	}
	entries := make([]Entry, 0, len(s.store))
	for _, e := range s.store {
		entries = append(entries, e)
	}
	raw, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("could not marshal schedules")
		return
	}
	if err := os.WriteFile(s.file, raw, 0644); err != nil {
		log.Error().Err(err).Str("file", s.file).Msg("could not write schedules file")
	}
}
