package room

import "time"

// Config holds per-room timing. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	TickHz            int
	BroadcastEvery    int
	MaxScore          int
	HeartbeatTimeout  time.Duration
	GraceWindow       time.Duration
	LivenessInterval  time.Duration
	PauseOnDisconnect bool
	StaleRoomTTL      time.Duration
	SweepInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickHz:            60,
		BroadcastEvery:    1,
		MaxScore:          5,
		HeartbeatTimeout:  3 * time.Second,
		GraceWindow:       10 * time.Second,
		LivenessInterval:  250 * time.Millisecond,
		PauseOnDisconnect: true,
		StaleRoomTTL:      2 * time.Minute,
		SweepInterval:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickHz <= 0 {
		c.TickHz = d.TickHz
	}
	if c.BroadcastEvery <= 0 {
		c.BroadcastEvery = d.BroadcastEvery
	}
	if c.MaxScore <= 0 {
		c.MaxScore = d.MaxScore
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.GraceWindow <= 0 {
		c.GraceWindow = d.GraceWindow
	}
	if c.LivenessInterval <= 0 {
		c.LivenessInterval = d.LivenessInterval
	}
	return c
}
