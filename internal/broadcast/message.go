package broadcast

import "time"

// Message is the egress broadcast payload emitted once per phase of a
// cycle. Data phases carry the values the microcontroller returned;
// pre/post phases set Dummy so subscribers can tell a settle phase from
// an actual reading.
type Message struct {
	Data      map[string][]string
	Config    []string
	IP        string
	Timestamp time.Time
	Tag       string
	Dummy     bool
}
