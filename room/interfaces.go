package room

import "time"

// Scheduler arms close-out timers. timer.TimerManager implements it.
type Scheduler interface {
	AddTimer(delay time.Duration, interval time.Duration, callback func()) int64
	RemoveTimer(timerID int64)
}

// FinishedListener receives the one-shot event raised when an auction closes.
type FinishedListener func(Finished)
