package worker

import (
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog"
)

// Maintenance runs periodic housekeeping jobs such as the session sweep and
// the exam cache refresh. A job never overlaps with its own previous run.
type Maintenance struct {
	cron *gocron.Scheduler
	log  zerolog.Logger
}

func NewMaintenance(log zerolog.Logger) *Maintenance {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Maintenance{
		cron: s,
		log:  log.With().Str("component", "maintenance").Logger(),
	}
}

// Every registers fn under name. The first run happens as soon as Start is called.
func (m *Maintenance) Every(name string, interval time.Duration, fn func() error) error {
	_, err := m.cron.Every(interval).Tag(name).Do(func() {
		start := time.Now()
		if err := fn(); err != nil {
			m.log.Error().Err(err).Str("job", name).Msg("Maintenance job failed")
			return
		}
		m.log.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("Maintenance job done")
	})
	return err
}

// Start runs the scheduler in the background.
func (m *Maintenance) Start() {
	m.cron.StartAsync()
	m.log.Info().Int("jobs", m.cron.Len()).Msg("Maintenance started")
}

// Stop halts the scheduler.
func (m *Maintenance) Stop() {
	m.cron.Stop()
	m.log.Info().Msg("Maintenance stopped")
}
