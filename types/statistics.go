package types

import (
	"sync/atomic"
)

type StatisticsItem struct {
	Count uint64 `json:",omitempty"`
	Bytes uint64 `json:",omitempty"`
}

type StatisticsPort struct {
	Submitted StatisticsItem `json:",omitempty"`
	Returned  StatisticsItem `json:",omitempty"`
	Flushed   StatisticsItem `json:",omitempty"`
	Dropped   StatisticsItem `json:",omitempty"`
	Rejected  StatisticsItem `json:",omitempty"`
}

type Statistics struct {
	Input  StatisticsPort
	Output StatisticsPort
	Events StatisticsItem `json:",omitempty"`
	Errors StatisticsItem `json:",omitempty"`
}

type CountersItem struct {
	Count atomic.Uint64
	Bytes atomic.Uint64
}

func (c *CountersItem) Increment(msgSize uint64) {
	c.Count.Add(1)
	c.Bytes.Add(msgSize)
}

func (c *CountersItem) ToStats() StatisticsItem {
	return StatisticsItem{
		Count: c.Count.Load(),
		Bytes: c.Bytes.Load(),
	}
}

type CountersPort struct {
	Submitted CountersItem
	Returned  CountersItem
	Flushed   CountersItem
	Dropped   CountersItem
	Rejected  CountersItem
}

func (c *CountersPort) ToStats() StatisticsPort {
	return StatisticsPort{
		Submitted: c.Submitted.ToStats(),
		Returned:  c.Returned.ToStats(),
		Flushed:   c.Flushed.ToStats(),
		Dropped:   c.Dropped.ToStats(),
		Rejected:  c.Rejected.ToStats(),
	}
}

type Counters struct {
	Ports  [NumPorts]CountersPort
	Events CountersItem
	Errors CountersItem
}

func NewCounters() *Counters {
	return &Counters{}
}

func (c *Counters) Port(idx PortIndex) *CountersPort {
	if !idx.IsValid() {
		return nil
	}
	return &c.Ports[idx]
}

func (c *Counters) ToStats() Statistics {
	return Statistics{
		Input:  c.Ports[PortIndexInput].ToStats(),
		Output: c.Ports[PortIndexOutput].ToStats(),
		Events: c.Events.ToStats(),
		Errors: c.Errors.ToStats(),
	}
}
