// internal/host/cronalarms.go - alarm capability on robfig/cron
package host

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronAlarms implements Alarms with an in-process cron runner. cron.Every
// fires the first time one period after registration, which matches the
// delay==period contract every alarm in this system uses.
type CronAlarms struct {
	cron    *cron.Cron
	mu      sync.Mutex
	entries map[string]cronEntry
	fire    func(name string)
}

type cronEntry struct {
	id     cron.EntryID
	period time.Duration
}

func NewCronAlarms() *CronAlarms {
	return &CronAlarms{
		cron:    cron.New(),
		entries: make(map[string]cronEntry),
	}
}

func (a *CronAlarms) Start() {
	a.cron.Start()
}

func (a *CronAlarms) Stop() {
	a.cron.Stop()
}

func (a *CronAlarms) OnFire(fn func(name string)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fire = fn
}

func (a *CronAlarms) Create(name string, delay, period time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.entries[name]; ok {
		a.cron.Remove(existing.id)
	}

	alarmName := name
	id := a.cron.Schedule(cron.Every(period), cron.FuncJob(func() {
		a.mu.Lock()
		fn := a.fire
		a.mu.Unlock()
		if fn != nil {
			fn(alarmName)
		}
	}))
	a.entries[name] = cronEntry{id: id, period: period}

	logrus.WithFields(logrus.Fields{
		"alarm":  name,
		"period": period,
	}).Debug("Registered alarm")
	return nil
}

func (a *CronAlarms) Exists(name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.entries[name]
	return ok, nil
}

func (a *CronAlarms) List() ([]AlarmInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	infos := make([]AlarmInfo, 0, len(a.entries))
	for name, e := range a.entries {
		infos = append(infos, AlarmInfo{Name: name, Period: e.period})
	}
	return infos, nil
}

func (a *CronAlarms) Clear(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	e, ok := a.entries[name]
	if !ok {
		return nil
	}
	a.cron.Remove(e.id)
	delete(a.entries, name)

	logrus.WithField("alarm", name).Debug("Cleared alarm")
	return nil
}
