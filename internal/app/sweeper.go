/**
 * @description
 * Cron wiring for the proactive escrow sweep. The sweep itself lives on the
 * Service and is also reachable over HTTP; this runner just invokes it on a
 * schedule and recovers from panics so one bad run cannot kill the process.
 */
package app

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"
)

// Sweeper runs SweepExpiredEscrows periodically.
type Sweeper struct {
	cron    *cron.Cron
	service *Service
}

// NewSweeper creates a sweeper around the given service.
func NewSweeper(service *Service) *Sweeper {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	return &Sweeper{cron: c, service: service}
}

// Start registers the sweep at the given cron schedule and starts the runner.
func (s *Sweeper) Start(schedule string) error {
	_, err := s.cron.AddFunc(schedule, func() {
		expired, err := s.service.SweepExpiredEscrows(context.Background())
		if err != nil {
			log.Printf("level=error component=sweeper msg=\"sweep failed\" err=%v", err)
			return
		}
		if expired > 0 {
			log.Printf("level=info component=sweeper msg=\"sweep finished\" expired=%d", expired)
		}
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("level=info component=sweeper msg=\"escrow sweep scheduled\" schedule=%q", schedule)
	return nil
}

// Stop stops the runner and returns a context that completes when any
// in-flight sweep has finished.
func (s *Sweeper) Stop() context.Context {
	return s.cron.Stop()
}
