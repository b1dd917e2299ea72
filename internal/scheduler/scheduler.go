package scheduler

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// DefaultSpec is how often the in-process trigger fires.
const DefaultSpec = "@every 5m"

// Scheduler fires delivery passes on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	runner *Runner
	spec   string
}

// NewScheduler creates a Scheduler. Overlapping ticks are skipped, never queued.
func NewScheduler(runner *Runner, spec string) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DefaultLogger),
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	return &Scheduler{cron: c, runner: runner, spec: spec}
}

// Start
func (s *Scheduler) Start() error {
	log.Info("[INFO] -----------------------------------------")
	log.Infof("[INFO] Briefing scheduler starting (%s)...", s.spec)
	if _, err := s.cron.AddFunc(s.spec, s.runPass); err != nil {
		return err
	}
	s.cron.Start()
	log.Info("[INFO] -----------------------------------------")
	return nil
}

// Stop waits for a running pass to finish.
func (s *Scheduler) Stop() {
	log.Info("[INFO] Briefing scheduler stopping...")
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runPass() {
	log.Debug("[Scheduler] checking due briefings...")
	if _, err := s.runner.Run(context.Background()); err != nil {
		if errors.Is(err, ErrRunInProgress) {
			log.Info("[Scheduler] previous pass still running, tick skipped")
			return
		}
		log.Errorf("[ERROR] [Scheduler] pass failed: %v", err)
	}
}
